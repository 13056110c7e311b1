package vault

import (
	"context"
	"math/big"

	"pegvault/core/events"
	"pegvault/crypto"
)

// LiquidationResult summarises a settled liquidation. CollateralSeized
// includes Bonus.
type LiquidationResult struct {
	DebtCovered        *big.Int
	CollateralSeized   *big.Int
	Bonus              *big.Int
	HealthFactorBefore *big.Int
	HealthFactorAfter  *big.Int
}

// liquidate seizes collateral from an insolvent user and repays part of
// their debt with the liquidator's pegged units.
func (tx *txn) liquidate(ctx context.Context, liquidator, asset, user crypto.Address, debtToCover *big.Int) (*LiquidationResult, error) {
	if !positive(debtToCover) {
		return nil, ErrZeroAmount
	}
	if liquidator.IsZero() || user.IsZero() {
		return nil, ErrInvalidAddress
	}
	if _, err := tx.collateral.registry.Lookup(asset); err != nil {
		return nil, err
	}
	before, err := tx.health.HealthFactor(ctx, user)
	if err != nil {
		return nil, err
	}
	if before.Cmp(minHealthFactor) >= 0 {
		return nil, ErrHealthFactorOk
	}

	seizedBase, err := tx.oracle.AmountFor(ctx, asset, debtToCover)
	if err != nil {
		return nil, err
	}
	bonus := mulDiv(seizedBase, bigBonus, bigPrecision)
	totalSeized := new(big.Int).Add(seizedBase, bonus)

	if err := tx.redeem(ctx, asset, totalSeized, user, liquidator); err != nil {
		return nil, err
	}
	if err := tx.burnPegged(ctx, debtToCover, user, liquidator); err != nil {
		return nil, err
	}

	after, err := tx.health.HealthFactor(ctx, user)
	if err != nil {
		return nil, err
	}
	if after.Cmp(before) <= 0 {
		return nil, ErrHealthFactorNotImproved
	}
	if err := tx.health.AssertSolvent(ctx, liquidator); err != nil {
		return nil, err
	}

	result := &LiquidationResult{
		DebtCovered:        cloneBig(debtToCover),
		CollateralSeized:   totalSeized,
		Bonus:              bonus,
		HealthFactorBefore: before,
		HealthFactorAfter:  after,
	}
	tx.emit(events.PositionLiquidated{
		Liquidator:         toArray(liquidator),
		User:               toArray(user),
		Asset:              toArray(asset),
		DebtCovered:        cloneBig(debtToCover),
		CollateralSeized:   cloneBig(totalSeized),
		Bonus:              cloneBig(bonus),
		HealthFactorBefore: cloneBig(before),
		HealthFactorAfter:  cloneBig(after),
	})
	return result, nil
}
