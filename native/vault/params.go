package vault

import "math/big"

const moduleName = "vault"

// Risk constants. Ratios are expressed over liquidationPrecision and amounts
// in 18-decimal fixed point.
const (
	liquidationThreshold = 50
	liquidationBonus     = 10
	liquidationPrecision = 100
	ledgerDecimals       = 18
)

var (
	precision               = new(big.Int).Exp(big.NewInt(10), big.NewInt(ledgerDecimals), nil)
	additionalFeedPrecision = big.NewInt(1e10)
	minHealthFactor         = new(big.Int).Set(precision)
	// maxHealthFactor is reported for positions without debt.
	maxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	bigThreshold = big.NewInt(liquidationThreshold)
	bigBonus     = big.NewInt(liquidationBonus)
	bigPrecision = big.NewInt(liquidationPrecision)
)

// Precision is the fixed-point scale of ledger amounts and health factors.
func Precision() *big.Int { return new(big.Int).Set(precision) }

// AdditionalFeedPrecision widens an 8-decimal feed answer to ledger precision.
func AdditionalFeedPrecision() *big.Int { return new(big.Int).Set(additionalFeedPrecision) }

// LiquidationThreshold is the share of collateral value counted toward solvency.
func LiquidationThreshold() *big.Int { return big.NewInt(liquidationThreshold) }

// LiquidationBonus is the extra collateral awarded to liquidators.
func LiquidationBonus() *big.Int { return big.NewInt(liquidationBonus) }

// LiquidationPrecision is the denominator of LiquidationThreshold and
// LiquidationBonus.
func LiquidationPrecision() *big.Int { return big.NewInt(liquidationPrecision) }

// MinHealthFactor is the solvency boundary, 1.0 in fixed point.
func MinHealthFactor() *big.Int { return new(big.Int).Set(minHealthFactor) }

// MaxHealthFactor is the sentinel reported for a position with no debt.
func MaxHealthFactor() *big.Int { return new(big.Int).Set(maxHealthFactor) }
