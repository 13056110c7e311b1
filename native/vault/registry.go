package vault

import (
	"fmt"

	"pegvault/crypto"
	"pegvault/oracle"
)

// CollateralAsset pairs an accepted asset with its price source.
type CollateralAsset struct {
	ID   crypto.Address
	Feed oracle.Feed
}

// Registry is the ordered set of accepted collateral assets. It is built once
// and never mutated.
type Registry struct {
	order  []CollateralAsset
	byAddr map[string]int
}

// NewRegistry pairs assets[i] with feeds[i]. Iteration order follows the
// input order.
func NewRegistry(assets []crypto.Address, feeds []oracle.Feed) (*Registry, error) {
	if len(assets) != len(feeds) {
		return nil, fmt.Errorf("%w: %d assets, %d feeds", ErrConfigMismatch, len(assets), len(feeds))
	}
	r := &Registry{
		order:  make([]CollateralAsset, 0, len(assets)),
		byAddr: make(map[string]int, len(assets)),
	}
	for i, asset := range assets {
		if asset.IsZero() {
			return nil, fmt.Errorf("collateral %d: %w", i, ErrInvalidAddress)
		}
		if feeds[i] == nil {
			return nil, fmt.Errorf("collateral %s: price feed required", asset)
		}
		if feeds[i].Decimals() > ledgerDecimals {
			return nil, fmt.Errorf("collateral %s: feed decimals %d exceed %d", asset, feeds[i].Decimals(), ledgerDecimals)
		}
		key := string(asset.Bytes())
		if _, dup := r.byAddr[key]; dup {
			return nil, fmt.Errorf("collateral %s registered twice", asset)
		}
		r.byAddr[key] = len(r.order)
		r.order = append(r.order, CollateralAsset{ID: asset, Feed: feeds[i]})
	}
	return r, nil
}

// Lookup returns the registered entry for asset.
func (r *Registry) Lookup(asset crypto.Address) (CollateralAsset, error) {
	idx, ok := r.byAddr[string(asset.Bytes())]
	if !ok {
		return CollateralAsset{}, fmt.Errorf("%w: %s", ErrUnregisteredAsset, asset)
	}
	return r.order[idx], nil
}

// Contains reports whether asset is accepted as collateral.
func (r *Registry) Contains(asset crypto.Address) bool {
	_, ok := r.byAddr[string(asset.Bytes())]
	return ok
}

// Assets returns the accepted assets in registration order.
func (r *Registry) Assets() []crypto.Address {
	out := make([]crypto.Address, len(r.order))
	for i, entry := range r.order {
		out[i] = entry.ID
	}
	return out
}

// Len reports the number of accepted assets.
func (r *Registry) Len() int { return len(r.order) }
