package config

import (
	"fmt"
	"math/big"
	"strings"

	"pegvault/crypto"
)

// Feed kinds accepted in a Collateral entry.
const (
	FeedStatic     = "static"
	FeedAggregator = "aggregator"
)

// Oracle configures how aggregator feeds are reached and how old a round may
// be.
type Oracle struct {
	RPCURL string `toml:"RPCURL"`
	// MaxPriceAgeSeconds defaults to three hours when omitted; 0 disables
	// the staleness check.
	MaxPriceAgeSeconds *int64 `toml:"MaxPriceAgeSeconds"`
}

// Collateral declares one accepted collateral asset and its feed. Entries
// are registered in file order.
type Collateral struct {
	Asset        string `toml:"Asset"`
	Symbol       string `toml:"Symbol"`
	Decimals     uint8  `toml:"Decimals"`
	Feed         string `toml:"Feed"`
	FeedAddress  string `toml:"FeedAddress,omitempty"`
	Price        string `toml:"Price,omitempty"`
	FeedDecimals uint8  `toml:"FeedDecimals"`
}

// Balance seeds a wallet balance on a fresh ledger.
type Balance struct {
	Account string `toml:"Account"`
	Asset   string `toml:"Asset"`
	Amount  string `toml:"Amount"`
}

// Pauses lists modules that start paused.
type Pauses struct {
	Vault bool `toml:"Vault"`
}

// AssetAddress parses the collateral identity.
func (c Collateral) AssetAddress() (crypto.Address, error) {
	return crypto.ParseAddress(c.Asset, crypto.AssetPrefix)
}

// StaticPrice parses the configured answer of a static feed, expressed in
// FeedDecimals precision.
func (c Collateral) StaticPrice() (*big.Int, error) {
	return parseUintAmount(c.Price)
}

// Parse returns the typed form of the seed entry.
func (b Balance) Parse() (account, asset crypto.Address, amount *big.Int, err error) {
	account, err = crypto.ParseAddress(b.Account, crypto.AccountPrefix)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, nil, fmt.Errorf("account: %w", err)
	}
	asset, err = crypto.ParseAddress(b.Asset, crypto.AssetPrefix)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, nil, fmt.Errorf("asset: %w", err)
	}
	amount, err = parseUintAmount(b.Amount)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, nil, err
	}
	return account, asset, amount, nil
}

func parseUintAmount(raw string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %s", v)
	}
	return v, nil
}
