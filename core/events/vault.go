package events

import (
	"math/big"

	"pegvault/core/types"
	"pegvault/crypto"
)

const (
	// TypeCollateralDeposited is emitted when collateral is credited to a user.
	TypeCollateralDeposited = "vault.collateral.deposited"
	// TypeCollateralRedeemed is emitted when collateral leaves a user's
	// balance, either back to the user or to a liquidator.
	TypeCollateralRedeemed = "vault.collateral.redeemed"
	// TypePeggedMinted is emitted when debt is opened and the pegged asset minted.
	TypePeggedMinted = "vault.pegged.minted"
	// TypePeggedBurned is emitted when debt is repaid and the pegged asset destroyed.
	TypePeggedBurned = "vault.pegged.burned"
	// TypePositionLiquidated is emitted once per successful liquidation.
	TypePositionLiquidated = "vault.position.liquidated"
)

type CollateralDeposited struct {
	User   [20]byte
	Asset  [20]byte
	Amount *big.Int
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

func (e CollateralDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralDeposited,
		Attributes: map[string]string{
			"user":   accountString(e.User),
			"asset":  assetString(e.Asset),
			"amount": formatAmount(e.Amount),
		},
	}
}

// CollateralRedeemed records a debit keyed by both the owner and the
// recipient; they differ when a liquidator seizes collateral.
type CollateralRedeemed struct {
	From   [20]byte
	To     [20]byte
	Asset  [20]byte
	Amount *big.Int
}

func (CollateralRedeemed) EventType() string { return TypeCollateralRedeemed }

func (e CollateralRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralRedeemed,
		Attributes: map[string]string{
			"from":   accountString(e.From),
			"to":     accountString(e.To),
			"asset":  assetString(e.Asset),
			"amount": formatAmount(e.Amount),
		},
	}
}

type PeggedMinted struct {
	User   [20]byte
	Amount *big.Int
}

func (PeggedMinted) EventType() string { return TypePeggedMinted }

func (e PeggedMinted) Event() *types.Event {
	return &types.Event{
		Type: TypePeggedMinted,
		Attributes: map[string]string{
			"user":   accountString(e.User),
			"amount": formatAmount(e.Amount),
		},
	}
}

// PeggedBurned records debt repaid for OnBehalfOf using tokens drawn from From.
type PeggedBurned struct {
	OnBehalfOf [20]byte
	From       [20]byte
	Amount     *big.Int
}

func (PeggedBurned) EventType() string { return TypePeggedBurned }

func (e PeggedBurned) Event() *types.Event {
	return &types.Event{
		Type: TypePeggedBurned,
		Attributes: map[string]string{
			"onBehalfOf": accountString(e.OnBehalfOf),
			"from":       accountString(e.From),
			"amount":     formatAmount(e.Amount),
		},
	}
}

type PositionLiquidated struct {
	Liquidator         [20]byte
	User               [20]byte
	Asset              [20]byte
	DebtCovered        *big.Int
	CollateralSeized   *big.Int
	Bonus              *big.Int
	HealthFactorBefore *big.Int
	HealthFactorAfter  *big.Int
}

func (PositionLiquidated) EventType() string { return TypePositionLiquidated }

func (e PositionLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypePositionLiquidated,
		Attributes: map[string]string{
			"liquidator":         accountString(e.Liquidator),
			"user":               accountString(e.User),
			"asset":              assetString(e.Asset),
			"debtCovered":        formatAmount(e.DebtCovered),
			"collateralSeized":   formatAmount(e.CollateralSeized),
			"bonus":              formatAmount(e.Bonus),
			"healthFactorBefore": formatAmount(e.HealthFactorBefore),
			"healthFactorAfter":  formatAmount(e.HealthFactorAfter),
		},
	}
}

func accountString(b [20]byte) string {
	return crypto.MustNewAddress(crypto.AccountPrefix, b[:]).String()
}

func assetString(b [20]byte) string {
	return crypto.MustNewAddress(crypto.AssetPrefix, b[:]).String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
