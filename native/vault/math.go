package vault

import "math/big"

// mulDiv returns floor(a*b/c). c must be positive.
func mulDiv(a, b, c *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, c)
}

func positive(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// feedScale is the multiplier that lifts a feed answer with the given
// decimals to ledger precision. Feeds finer than the ledger are rejected by
// the registry.
func feedScale(decimals uint8) *big.Int {
	if decimals == 8 {
		return additionalFeedPrecision
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(ledgerDecimals-int(decimals))), nil)
}
