package vault

import (
	"context"
	"math/big"

	"pegvault/crypto"
)

// HealthFactorEngine derives solvency ratios from the two ledgers.
type HealthFactorEngine struct {
	collateral *CollateralLedger
	debt       *DebtLedger
}

// AccountInformation returns the user's debt and total collateral value.
func (h *HealthFactorEngine) AccountInformation(ctx context.Context, user crypto.Address) (debt, collateralValue *big.Int, err error) {
	debt, err = h.debt.Of(user)
	if err != nil {
		return nil, nil, err
	}
	collateralValue, err = h.collateral.ValuationOf(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return debt, collateralValue, nil
}

// HealthFactor returns the user's current solvency ratio. Collateral is not
// priced for a position without debt.
func (h *HealthFactorEngine) HealthFactor(ctx context.Context, user crypto.Address) (*big.Int, error) {
	debt, err := h.debt.Of(user)
	if err != nil {
		return nil, err
	}
	if debt.Sign() == 0 {
		return new(big.Int).Set(maxHealthFactor), nil
	}
	collateralValue, err := h.collateral.ValuationOf(ctx, user)
	if err != nil {
		return nil, err
	}
	return CalculateHealthFactor(debt, collateralValue), nil
}

// AssertSolvent fails with *HealthFactorBrokenError when the user's ratio is
// below the minimum.
func (h *HealthFactorEngine) AssertSolvent(ctx context.Context, user crypto.Address) error {
	hf, err := h.HealthFactor(ctx, user)
	if err != nil {
		return err
	}
	if hf.Cmp(minHealthFactor) < 0 {
		return &HealthFactorBrokenError{HealthFactor: hf}
	}
	return nil
}

// CalculateHealthFactor computes the ratio for a hypothetical position. A
// position without debt reports MaxHealthFactor.
func CalculateHealthFactor(debt, collateralValue *big.Int) *big.Int {
	if debt == nil || debt.Sign() == 0 {
		return new(big.Int).Set(maxHealthFactor)
	}
	adjusted := mulDiv(cloneBig(collateralValue), bigThreshold, bigPrecision)
	return mulDiv(adjusted, precision, debt)
}
