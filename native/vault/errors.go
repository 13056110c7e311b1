package vault

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrZeroAmount               = errors.New("vault: amount must be more than zero")
	ErrUnregisteredAsset        = errors.New("vault: asset not allowed as collateral")
	ErrCollateralTransferFailed = errors.New("vault: collateral transfer failed")
	ErrDebtTransferFailed       = errors.New("vault: pegged asset transfer failed")
	ErrMintFailed               = errors.New("vault: pegged asset mint failed")
	ErrHealthFactorBroken       = errors.New("vault: health factor below minimum")
	ErrHealthFactorOk           = errors.New("vault: health factor ok")
	ErrHealthFactorNotImproved  = errors.New("vault: health factor not improved")
	ErrConfigMismatch           = errors.New("vault: asset and price feed lists differ in length")
	ErrInsufficientCollateral   = errors.New("vault: insufficient collateral balance")
	ErrInsufficientDebt         = errors.New("vault: burn exceeds outstanding debt")
	ErrPriceUnavailable         = errors.New("vault: price unavailable")
	ErrReentrantCall            = errors.New("vault: reentrant call")
	ErrInvalidAddress           = errors.New("vault: address required")
)

// HealthFactorBrokenError reports the ratio that failed the solvency check.
// It matches ErrHealthFactorBroken under errors.Is.
type HealthFactorBrokenError struct {
	HealthFactor *big.Int
}

func (e *HealthFactorBrokenError) Error() string {
	return fmt.Sprintf("%s: %s", ErrHealthFactorBroken, e.HealthFactor)
}

// Is reports whether target is ErrHealthFactorBroken.
func (e *HealthFactorBrokenError) Is(target error) bool {
	return target == ErrHealthFactorBroken
}

// reasonOf maps an engine error onto a stable metric label.
func reasonOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ErrUnregisteredAsset):
		return "unregistered_asset"
	case errors.Is(err, ErrCollateralTransferFailed):
		return "collateral_transfer_failed"
	case errors.Is(err, ErrDebtTransferFailed):
		return "debt_transfer_failed"
	case errors.Is(err, ErrMintFailed):
		return "mint_failed"
	case errors.Is(err, ErrHealthFactorBroken):
		return "health_factor_broken"
	case errors.Is(err, ErrHealthFactorOk):
		return "health_factor_ok"
	case errors.Is(err, ErrHealthFactorNotImproved):
		return "health_factor_not_improved"
	case errors.Is(err, ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ErrInsufficientDebt):
		return "insufficient_debt"
	case errors.Is(err, ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, ErrInvalidAddress):
		return "invalid_address"
	default:
		return "internal"
	}
}
