package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// MaxFeedDecimals bounds feed precision to ledger precision.
const MaxFeedDecimals = 18

// ValidateConfig rejects registries the engine could not serve.
func ValidateConfig(c *Config) error {
	pegged, err := c.PeggedAddress()
	if err != nil {
		return fmt.Errorf("pegged asset: %w", err)
	}
	if len(c.Collateral) == 0 {
		return fmt.Errorf("collateral: at least one entry required")
	}
	seen := make(map[string]struct{}, len(c.Collateral))
	for i, entry := range c.Collateral {
		asset, err := entry.AssetAddress()
		if err != nil {
			return fmt.Errorf("collateral[%d]: asset: %w", i, err)
		}
		if asset.Equal(pegged) {
			return fmt.Errorf("collateral[%d]: pegged asset cannot be collateral", i)
		}
		key := string(asset.Bytes())
		if _, dup := seen[key]; dup {
			return fmt.Errorf("collateral[%d]: duplicate asset %s", i, entry.Asset)
		}
		seen[key] = struct{}{}
		if entry.FeedDecimals > MaxFeedDecimals {
			return fmt.Errorf("collateral[%d]: feed decimals %d > %d", i, entry.FeedDecimals, MaxFeedDecimals)
		}
		switch entry.Feed {
		case FeedStatic:
			if _, err := entry.StaticPrice(); err != nil {
				return fmt.Errorf("collateral[%d]: price: %w", i, err)
			}
		case FeedAggregator:
			if !common.IsHexAddress(strings.TrimSpace(entry.FeedAddress)) {
				return fmt.Errorf("collateral[%d]: invalid feed address %q", i, entry.FeedAddress)
			}
			if strings.TrimSpace(c.Oracle.RPCURL) == "" {
				return fmt.Errorf("collateral[%d]: aggregator feed requires Oracle.RPCURL", i)
			}
		default:
			return fmt.Errorf("collateral[%d]: unknown feed kind %q", i, entry.Feed)
		}
	}
	if c.Oracle.MaxPriceAgeSeconds != nil && *c.Oracle.MaxPriceAgeSeconds < 0 {
		return fmt.Errorf("oracle: MaxPriceAgeSeconds must not be negative")
	}
	for i, seed := range c.Genesis {
		if _, _, _, err := seed.Parse(); err != nil {
			return fmt.Errorf("genesis[%d]: %w", i, err)
		}
	}
	return nil
}
