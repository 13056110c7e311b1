package vault

import (
	"context"
	"fmt"
	"math/big"

	"pegvault/core/events"
	"pegvault/core/state"
	"pegvault/crypto"
)

// CollateralLedger tracks deposited balances per user and asset.
type CollateralLedger struct {
	state    *state.Manager
	registry *Registry
	oracle   *PriceOracle
	emitter  events.Emitter
}

// Balance returns the deposited amount of asset held for user.
func (l *CollateralLedger) Balance(user, asset crypto.Address) (*big.Int, error) {
	return l.state.Collateral(user.Bytes(), asset.Bytes())
}

// Credit adds amount to the user's balance of asset.
func (l *CollateralLedger) Credit(user, asset crypto.Address, amount *big.Int) error {
	if !positive(amount) {
		return ErrZeroAmount
	}
	if !l.registry.Contains(asset) {
		return fmt.Errorf("%w: %s", ErrUnregisteredAsset, asset)
	}
	balance, err := l.Balance(user, asset)
	if err != nil {
		return err
	}
	if err := l.state.SetCollateral(user.Bytes(), asset.Bytes(), balance.Add(balance, amount)); err != nil {
		return err
	}
	l.emitter.Emit(events.CollateralDeposited{User: toArray(user), Asset: toArray(asset), Amount: cloneBig(amount)})
	return nil
}

// Debit removes amount of asset from from's balance on behalf of recipient to.
func (l *CollateralLedger) Debit(from, to, asset crypto.Address, amount *big.Int) error {
	if !positive(amount) {
		return ErrZeroAmount
	}
	balance, err := l.Balance(from, asset)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientCollateral, balance, amount)
	}
	if err := l.state.SetCollateral(from.Bytes(), asset.Bytes(), balance.Sub(balance, amount)); err != nil {
		return err
	}
	l.emitter.Emit(events.CollateralRedeemed{From: toArray(from), To: toArray(to), Asset: toArray(asset), Amount: cloneBig(amount)})
	return nil
}

// ValuationOf sums the pegged-unit value of every deposited asset in
// registry order.
func (l *CollateralLedger) ValuationOf(ctx context.Context, user crypto.Address) (*big.Int, error) {
	total := big.NewInt(0)
	for _, asset := range l.registry.Assets() {
		balance, err := l.Balance(user, asset)
		if err != nil {
			return nil, err
		}
		if balance.Sign() == 0 {
			continue
		}
		value, err := l.oracle.ValueOf(ctx, asset, balance)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

func toArray(addr crypto.Address) [20]byte {
	var out [20]byte
	copy(out[:], addr.Bytes())
	return out
}
