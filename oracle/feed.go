// Package oracle provides price sources consumed by the vault engine. A feed
// only answers "latest price"; aggregation happens upstream.
package oracle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"
)

// DefaultDecimals is the answer precision of USD-quoted aggregator feeds.
const DefaultDecimals uint8 = 8

var errNoPrice = errors.New("oracle: no price reported")

// RoundData is the latest answer reported by a feed.
type RoundData struct {
	RoundID   *big.Int
	Answer    *big.Int
	UpdatedAt time.Time
}

// Feed reports the latest price of one collateral asset.
type Feed interface {
	LatestRoundData(ctx context.Context) (RoundData, error)
	// Decimals is the fixed-point precision of Answer.
	Decimals() uint8
}

// StaticFeed serves an operator-provided price. Tests and local deployments
// move the price with Set.
type StaticFeed struct {
	mu       sync.RWMutex
	answer   *big.Int
	decimals uint8
	round    uint64
	updated  time.Time
	now      func() time.Time
}

// NewStaticFeed creates a feed reporting answer at the given precision.
func NewStaticFeed(answer *big.Int, decimals uint8) *StaticFeed {
	f := &StaticFeed{decimals: decimals, now: time.Now}
	f.Set(answer)
	return f
}

// SetClock overrides the time source used to stamp rounds.
func (f *StaticFeed) SetClock(now func() time.Time) {
	if f == nil || now == nil {
		return
	}
	f.mu.Lock()
	f.now = now
	f.updated = now()
	f.mu.Unlock()
}

// Set publishes a new round with the supplied answer.
func (f *StaticFeed) Set(answer *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if answer != nil {
		f.answer = new(big.Int).Set(answer)
	} else {
		f.answer = nil
	}
	f.round++
	f.updated = f.now()
}

// LatestRoundData implements Feed.
func (f *StaticFeed) LatestRoundData(ctx context.Context) (RoundData, error) {
	if err := ctx.Err(); err != nil {
		return RoundData{}, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.answer == nil {
		return RoundData{}, errNoPrice
	}
	return RoundData{
		RoundID:   new(big.Int).SetUint64(f.round),
		Answer:    new(big.Int).Set(f.answer),
		UpdatedAt: f.updated,
	}, nil
}

// Decimals implements Feed.
func (f *StaticFeed) Decimals() uint8 { return f.decimals }
