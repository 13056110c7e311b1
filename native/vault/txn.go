package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"pegvault/core/events"
	"pegvault/core/state"
	"pegvault/crypto"
	"pegvault/storage"
)

// compensation reverses one asset movement that already succeeded.
type compensation struct {
	desc string
	fn   func(ctx context.Context) error
}

// txn is the context of one guarded operation. Ledger writes land in an
// overlay, events in a buffer, and asset movements register their inverse.
// Either commit publishes all three or rollback undoes all three.
type txn struct {
	op       string
	overlay  *storage.Overlay
	buffered *events.Recorder
	bank     AssetBank
	pegged   crypto.Address
	custody  crypto.Address
	undo     []compensation

	oracle     *PriceOracle
	collateral *CollateralLedger
	debt       *DebtLedger
	health     *HealthFactorEngine
}

func (e *Engine) begin(op string) *txn {
	overlay := storage.NewOverlay(e.db)
	buffered := &events.Recorder{}
	st := state.NewManager(overlay)
	collateral := &CollateralLedger{state: st, registry: e.registry, oracle: e.oracle, emitter: buffered}
	debt := &DebtLedger{state: st}
	return &txn{
		op:         op,
		overlay:    overlay,
		buffered:   buffered,
		bank:       e.bank,
		pegged:     e.pegged,
		custody:    e.custody,
		oracle:     e.oracle,
		collateral: collateral,
		debt:       debt,
		health:     &HealthFactorEngine{collateral: collateral, debt: debt},
	}
}

func (tx *txn) emit(ev events.Event) { tx.buffered.Emit(ev) }

func (tx *txn) transferIn(ctx context.Context, asset, from crypto.Address, amount *big.Int) error {
	if err := tx.bank.TransferIn(ctx, asset, from, amount); err != nil {
		return err
	}
	amt := cloneBig(amount)
	tx.undo = append(tx.undo, compensation{
		desc: fmt.Sprintf("return %s of %s to %s", amt, asset, from),
		fn: func(ctx context.Context) error {
			return tx.bank.TransferOut(ctx, asset, from, amt)
		},
	})
	return nil
}

func (tx *txn) transferOut(ctx context.Context, asset, to crypto.Address, amount *big.Int) error {
	if err := tx.bank.TransferOut(ctx, asset, to, amount); err != nil {
		return err
	}
	amt := cloneBig(amount)
	tx.undo = append(tx.undo, compensation{
		desc: fmt.Sprintf("reclaim %s of %s from %s", amt, asset, to),
		fn: func(ctx context.Context) error {
			return tx.bank.TransferIn(ctx, asset, to, amt)
		},
	})
	return nil
}

func (tx *txn) mint(ctx context.Context, to crypto.Address, amount *big.Int) error {
	if err := tx.bank.Mint(ctx, to, amount); err != nil {
		return err
	}
	amt := cloneBig(amount)
	tx.undo = append(tx.undo, compensation{
		desc: fmt.Sprintf("unmint %s from %s", amt, to),
		fn: func(ctx context.Context) error {
			if err := tx.bank.TransferIn(ctx, tx.pegged, to, amt); err != nil {
				return err
			}
			return tx.bank.Burn(ctx, amt)
		},
	})
	return nil
}

func (tx *txn) burn(ctx context.Context, amount *big.Int) error {
	if err := tx.bank.Burn(ctx, amount); err != nil {
		return err
	}
	amt := cloneBig(amount)
	tx.undo = append(tx.undo, compensation{
		desc: fmt.Sprintf("restore %s burned from custody", amt),
		fn: func(ctx context.Context) error {
			return tx.bank.Mint(ctx, tx.custody, amt)
		},
	})
	return nil
}

// commit writes the ledger changes as one batch and returns the buffered
// events for publication.
func (tx *txn) commit() ([]events.Event, error) {
	if err := tx.overlay.Commit(); err != nil {
		return nil, err
	}
	tx.undo = nil
	return tx.buffered.Events(), nil
}

// rollback discards ledger changes and reverses asset movements newest
// first. It returns the number of movements that could not be reversed.
func (tx *txn) rollback(ctx context.Context, logger *slog.Logger) int {
	tx.overlay.Discard()
	tx.buffered.Reset()
	if len(tx.undo) == 0 {
		return 0
	}
	ctx = context.WithoutCancel(ctx)
	failed := 0
	for i := len(tx.undo) - 1; i >= 0; i-- {
		step := tx.undo[i]
		if err := step.fn(ctx); err != nil {
			failed++
			logger.Error("vault: compensation failed",
				slog.String("op", tx.op),
				slog.String("step", step.desc),
				slog.Any("error", err))
		}
	}
	tx.undo = nil
	return failed
}
