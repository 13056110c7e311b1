package vault

import (
	"fmt"
	"math/big"

	"pegvault/core/state"
	"pegvault/crypto"
)

// DebtLedger tracks minted pegged units owed per user.
type DebtLedger struct {
	state *state.Manager
}

// Of returns the outstanding debt of user.
func (l *DebtLedger) Of(user crypto.Address) (*big.Int, error) {
	return l.state.Debt(user.Bytes())
}

// Increase adds amount to the user's debt.
func (l *DebtLedger) Increase(user crypto.Address, amount *big.Int) error {
	if !positive(amount) {
		return ErrZeroAmount
	}
	debt, err := l.Of(user)
	if err != nil {
		return err
	}
	return l.state.SetDebt(user.Bytes(), debt.Add(debt, amount))
}

// Decrease subtracts amount from the user's debt.
func (l *DebtLedger) Decrease(user crypto.Address, amount *big.Int) error {
	if !positive(amount) {
		return ErrZeroAmount
	}
	debt, err := l.Of(user)
	if err != nil {
		return err
	}
	if debt.Cmp(amount) < 0 {
		return fmt.Errorf("%w: owes %s, repaying %s", ErrInsufficientDebt, debt, amount)
	}
	return l.state.SetDebt(user.Bytes(), debt.Sub(debt, amount))
}
