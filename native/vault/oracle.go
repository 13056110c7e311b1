package vault

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"pegvault/crypto"
)

// DefaultMaxPriceAge rejects feed rounds older than three hours.
const DefaultMaxPriceAge = 3 * time.Hour

// PriceOracle converts between collateral units and pegged units using the
// latest answer of each asset's feed. Prices are never cached.
type PriceOracle struct {
	registry *Registry
	maxAge   time.Duration
	now      func() time.Time
}

func newPriceOracle(registry *Registry, maxAge time.Duration, now func() time.Time) *PriceOracle {
	if now == nil {
		now = time.Now
	}
	return &PriceOracle{registry: registry, maxAge: maxAge, now: now}
}

// price returns the feed answer widened to ledger precision.
func (p *PriceOracle) price(ctx context.Context, asset crypto.Address) (*big.Int, error) {
	entry, err := p.registry.Lookup(asset)
	if err != nil {
		return nil, err
	}
	round, err := entry.Feed.LatestRoundData(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, asset, err)
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s: non-positive answer", ErrPriceUnavailable, asset)
	}
	if p.maxAge > 0 {
		if round.UpdatedAt.IsZero() {
			return nil, fmt.Errorf("%w: %s: incomplete round", ErrPriceUnavailable, asset)
		}
		if age := p.now().Sub(round.UpdatedAt); age > p.maxAge {
			return nil, fmt.Errorf("%w: %s: stale by %s", ErrPriceUnavailable, asset, age-p.maxAge)
		}
	}
	return new(big.Int).Mul(round.Answer, feedScale(entry.Feed.Decimals())), nil
}

// ValueOf returns the pegged-unit value of amount units of asset.
func (p *PriceOracle) ValueOf(ctx context.Context, asset crypto.Address, amount *big.Int) (*big.Int, error) {
	price, err := p.price(ctx, asset)
	if err != nil {
		return nil, err
	}
	return mulDiv(price, cloneBig(amount), precision), nil
}

// AmountFor returns how many units of asset are worth value pegged units.
func (p *PriceOracle) AmountFor(ctx context.Context, asset crypto.Address, value *big.Int) (*big.Int, error) {
	price, err := p.price(ctx, asset)
	if err != nil {
		return nil, err
	}
	return mulDiv(cloneBig(value), precision, price), nil
}
