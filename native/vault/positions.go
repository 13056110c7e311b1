package vault

import (
	"context"
	"math/big"

	"pegvault/core/state"
	"pegvault/crypto"
)

// Position is a snapshot of one borrower.
type Position struct {
	User            crypto.Address
	Debt            *big.Int
	CollateralValue *big.Int
	HealthFactor    *big.Int
}

// LiquidatablePositions scans committed debt and returns borrowers whose
// health factor is below the minimum, ordered by address. A non-positive
// limit returns every match.
func (e *Engine) LiquidatablePositions(ctx context.Context, limit int) ([]Position, error) {
	view := e.view()
	var (
		out     []Position
		scanErr error
	)
	err := state.Debtors(e.db, func(entry state.DebtEntry) bool {
		if len(entry.User) != crypto.AddressLength {
			return true
		}
		user := crypto.MustNewAddress(crypto.AccountPrefix, entry.User)
		value, err := view.collateral.ValuationOf(ctx, user)
		if err != nil {
			scanErr = err
			return false
		}
		hf := CalculateHealthFactor(entry.Amount, value)
		if hf.Cmp(minHealthFactor) < 0 {
			out = append(out, Position{User: user, Debt: entry.Amount, CollateralValue: value, HealthFactor: hf})
		}
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return out, nil
}
