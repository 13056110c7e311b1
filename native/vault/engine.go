package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pegvault/core/events"
	"pegvault/core/state"
	"pegvault/crypto"
	nativecommon "pegvault/native/common"
	"pegvault/observability"
	"pegvault/oracle"
	"pegvault/storage"
)

var (
	errNilDatabase = errors.New("vault: database not configured")
	errNilBank     = errors.New("vault: asset bank not configured")
)

// Config describes the accepted collateral and the engine's identities.
// Collateral[i] is priced by Feeds[i].
type Config struct {
	Collateral  []crypto.Address
	Feeds       []oracle.Feed
	PeggedAsset crypto.Address

	// Custody is the account holding deposited collateral and the pegged
	// asset awaiting burn.
	Custody crypto.Address

	// MaxPriceAge rejects older feed rounds. Zero disables the check.
	MaxPriceAge time.Duration
}

// Engine settles deposits, mints, redemptions, burns and liquidations as
// all-or-nothing operations over the collateral and debt ledgers.
type Engine struct {
	db       storage.Database
	registry *Registry
	oracle   *PriceOracle
	bank     AssetBank
	pegged   crypto.Address
	custody  crypto.Address
	guard    reentrancyGuard
	pauses   nativecommon.PauseView
	emitter  events.Emitter
	logger   *slog.Logger
	metrics  *observability.VaultMetrics
	tracer   trace.Tracer
	now      func() time.Time
}

// NewEngine builds an engine over db. The registry is fixed for the engine's
// lifetime.
func NewEngine(db storage.Database, bank AssetBank, cfg Config) (*Engine, error) {
	if db == nil {
		return nil, errNilDatabase
	}
	if bank == nil {
		return nil, errNilBank
	}
	if cfg.PeggedAsset.IsZero() || cfg.Custody.IsZero() {
		return nil, fmt.Errorf("pegged asset and custody: %w", ErrInvalidAddress)
	}
	registry, err := NewRegistry(cfg.Collateral, cfg.Feeds)
	if err != nil {
		return nil, err
	}
	if registry.Contains(cfg.PeggedAsset) {
		return nil, fmt.Errorf("vault: pegged asset %s cannot back itself", cfg.PeggedAsset)
	}
	e := &Engine{
		db:       db,
		registry: registry,
		bank:     bank,
		pegged:   cfg.PeggedAsset,
		custody:  cfg.Custody,
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		metrics:  observability.Vault(),
		tracer:   otel.Tracer("pegvault/vault"),
		now:      time.Now,
	}
	e.oracle = newPriceOracle(registry, cfg.MaxPriceAge, func() time.Time { return e.now() })
	return e, nil
}

// SetPauses wires the operational pause switch.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter receives events of committed operations.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger
}

// SetClock overrides the time source used for price staleness.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

// execute runs fn as one guarded operation and publishes its events once
// the guard is released.
func (e *Engine) execute(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context, *txn) error) error {
	committed, err := e.run(ctx, op, attrs, fn)
	if err != nil {
		return err
	}
	// The guard is already released here, so emitters may observe events of
	// concurrent operations out of commit order.
	for _, ev := range committed {
		e.emitter.Emit(ev)
	}
	return nil
}

func (e *Engine) run(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context, *txn) error) (committed []events.Event, err error) {
	if !e.guard.enter() {
		e.metrics.RecordReentrancy()
		e.logger.Warn("vault: rejected reentrant call", slog.String("op", op))
		return nil, ErrReentrantCall
	}
	defer e.guard.exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "vault."+op, trace.WithAttributes(attrs...))
	defer span.End()
	start := e.now()
	defer func() {
		e.metrics.Observe(op, e.now().Sub(start), reasonOf(err), err)
	}()

	tx := e.begin(op)
	if err = fn(ctx, tx); err == nil {
		committed, err = tx.commit()
		if err == nil {
			span.SetStatus(codes.Ok, "committed")
			e.logger.Debug("vault: operation committed", slog.String("op", op), slog.Int("events", len(committed)))
			return committed, nil
		}
		err = fmt.Errorf("vault: commit %s: %w", op, err)
	}

	moved := len(tx.undo)
	if failed := tx.rollback(ctx, e.logger); failed > 0 {
		for i := 0; i < failed; i++ {
			e.metrics.RecordCompensationFailure(op)
		}
	}
	if moved > 0 {
		e.logger.Warn("vault: operation aborted after asset movement",
			slog.String("op", op),
			slog.Int("reversed", moved),
			slog.Any("error", err))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

func opAttrs(caller, asset crypto.Address, amount *big.Int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("vault.caller", caller.String())}
	if len(asset.Bytes()) > 0 {
		attrs = append(attrs, attribute.String("vault.asset", asset.String()))
	}
	if amount != nil {
		attrs = append(attrs, attribute.String("vault.amount", amount.String()))
	}
	return attrs
}

// DepositCollateral credits amount of asset to caller and pulls it into
// custody.
func (e *Engine) DepositCollateral(ctx context.Context, caller, asset crypto.Address, amount *big.Int) error {
	return e.execute(ctx, "deposit_collateral", opAttrs(caller, asset, amount), func(ctx context.Context, tx *txn) error {
		return tx.depositCollateral(ctx, caller, asset, amount)
	})
}

// DepositCollateralAndMint deposits collateral and mints against it in one
// operation.
func (e *Engine) DepositCollateralAndMint(ctx context.Context, caller, asset crypto.Address, amountCollateral, amountToMint *big.Int) error {
	attrs := append(opAttrs(caller, asset, amountCollateral), attribute.String("vault.mint", cloneBig(amountToMint).String()))
	return e.execute(ctx, "deposit_collateral_and_mint", attrs, func(ctx context.Context, tx *txn) error {
		if err := tx.depositCollateral(ctx, caller, asset, amountCollateral); err != nil {
			return err
		}
		return tx.mintPegged(ctx, caller, amountToMint)
	})
}

// MintPegged opens amount of debt for caller and mints the pegged asset to
// them. The resulting position must stay solvent.
func (e *Engine) MintPegged(ctx context.Context, caller crypto.Address, amount *big.Int) error {
	return e.execute(ctx, "mint", opAttrs(caller, crypto.Address{}, amount), func(ctx context.Context, tx *txn) error {
		return tx.mintPegged(ctx, caller, amount)
	})
}

// RedeemCollateral returns amount of asset to caller.
func (e *Engine) RedeemCollateral(ctx context.Context, caller, asset crypto.Address, amount *big.Int) error {
	return e.execute(ctx, "redeem_collateral", opAttrs(caller, asset, amount), func(ctx context.Context, tx *txn) error {
		if err := tx.redeem(ctx, asset, amount, caller, caller); err != nil {
			return err
		}
		return tx.health.AssertSolvent(ctx, caller)
	})
}

// RedeemCollateralForPegged repays amountToBurn of caller's debt, then
// returns amountCollateral of asset.
func (e *Engine) RedeemCollateralForPegged(ctx context.Context, caller, asset crypto.Address, amountCollateral, amountToBurn *big.Int) error {
	attrs := append(opAttrs(caller, asset, amountCollateral), attribute.String("vault.burn", cloneBig(amountToBurn).String()))
	return e.execute(ctx, "redeem_collateral_for_pegged", attrs, func(ctx context.Context, tx *txn) error {
		if !positive(amountCollateral) {
			return ErrZeroAmount
		}
		if err := tx.burnPegged(ctx, amountToBurn, caller, caller); err != nil {
			return err
		}
		if err := tx.redeem(ctx, asset, amountCollateral, caller, caller); err != nil {
			return err
		}
		return tx.health.AssertSolvent(ctx, caller)
	})
}

// BurnPegged repays amount of caller's debt with pegged units drawn from
// caller. Repaying only lowers debt, so a liquidatable caller may repay in
// part without reaching the minimum health factor.
func (e *Engine) BurnPegged(ctx context.Context, caller crypto.Address, amount *big.Int) error {
	return e.execute(ctx, "burn", opAttrs(caller, crypto.Address{}, amount), func(ctx context.Context, tx *txn) error {
		return tx.burnPegged(ctx, amount, caller, caller)
	})
}

// Liquidate covers debtToCover of user's debt on behalf of caller, who
// receives the equivalent collateral plus the liquidation bonus.
func (e *Engine) Liquidate(ctx context.Context, caller, asset, user crypto.Address, debtToCover *big.Int) (*LiquidationResult, error) {
	var result *LiquidationResult
	attrs := append(opAttrs(caller, asset, debtToCover), attribute.String("vault.user", user.String()))
	err := e.execute(ctx, "liquidate", attrs, func(ctx context.Context, tx *txn) error {
		res, err := tx.liquidate(ctx, caller, asset, user, debtToCover)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.RecordLiquidation(asset.String())
	e.logger.Info("vault: position liquidated",
		slog.String("liquidator", caller.String()),
		slog.String("user", user.String()),
		slog.String("asset", asset.String()),
		slog.String("debt_covered", result.DebtCovered.String()),
		slog.String("collateral_seized", result.CollateralSeized.String()))
	return result, nil
}

func (tx *txn) depositCollateral(ctx context.Context, user, asset crypto.Address, amount *big.Int) error {
	if user.IsZero() {
		return ErrInvalidAddress
	}
	if err := tx.collateral.Credit(user, asset, amount); err != nil {
		return err
	}
	if err := tx.transferIn(ctx, asset, user, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrCollateralTransferFailed, err)
	}
	return nil
}

func (tx *txn) mintPegged(ctx context.Context, user crypto.Address, amount *big.Int) error {
	if user.IsZero() {
		return ErrInvalidAddress
	}
	if err := tx.debt.Increase(user, amount); err != nil {
		return err
	}
	if err := tx.health.AssertSolvent(ctx, user); err != nil {
		return err
	}
	if err := tx.mint(ctx, user, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrMintFailed, err)
	}
	tx.emit(events.PeggedMinted{User: toArray(user), Amount: cloneBig(amount)})
	return nil
}

// redeem moves collateral owned by from to the recipient to.
func (tx *txn) redeem(ctx context.Context, asset crypto.Address, amount *big.Int, from, to crypto.Address) error {
	if !positive(amount) {
		return ErrZeroAmount
	}
	if !tx.collateral.registry.Contains(asset) {
		return fmt.Errorf("%w: %s", ErrUnregisteredAsset, asset)
	}
	if err := tx.collateral.Debit(from, to, asset, amount); err != nil {
		return err
	}
	if err := tx.transferOut(ctx, asset, to, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrCollateralTransferFailed, err)
	}
	return nil
}

// burnPegged repays onBehalfOf's debt with pegged units pulled from from.
func (tx *txn) burnPegged(ctx context.Context, amount *big.Int, onBehalfOf, from crypto.Address) error {
	if !positive(amount) {
		return ErrZeroAmount
	}
	if err := tx.debt.Decrease(onBehalfOf, amount); err != nil {
		return err
	}
	if err := tx.transferIn(ctx, tx.pegged, from, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrDebtTransferFailed, err)
	}
	if err := tx.burn(ctx, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrDebtTransferFailed, err)
	}
	tx.emit(events.PeggedBurned{OnBehalfOf: toArray(onBehalfOf), From: toArray(from), Amount: cloneBig(amount)})
	return nil
}

// view returns ledgers bound to committed state. Queries never take the
// reentrancy guard.
func (e *Engine) view() *HealthFactorEngine {
	st := state.NewManager(e.db)
	collateral := &CollateralLedger{state: st, registry: e.registry, oracle: e.oracle, emitter: events.NoopEmitter{}}
	return &HealthFactorEngine{collateral: collateral, debt: &DebtLedger{state: st}}
}

// PeggedValue returns the pegged-unit value of amount units of asset.
func (e *Engine) PeggedValue(ctx context.Context, asset crypto.Address, amount *big.Int) (*big.Int, error) {
	return e.oracle.ValueOf(ctx, asset, amount)
}

// TokenAmountFromPegged returns the units of asset worth value pegged units.
func (e *Engine) TokenAmountFromPegged(ctx context.Context, asset crypto.Address, value *big.Int) (*big.Int, error) {
	return e.oracle.AmountFor(ctx, asset, value)
}

// AccountCollateralValue returns the pegged-unit value of everything user
// deposited.
func (e *Engine) AccountCollateralValue(ctx context.Context, user crypto.Address) (*big.Int, error) {
	return e.view().collateral.ValuationOf(ctx, user)
}

// AccountInformation returns user's debt and collateral value.
func (e *Engine) AccountInformation(ctx context.Context, user crypto.Address) (debt, collateralValue *big.Int, err error) {
	return e.view().AccountInformation(ctx, user)
}

// HealthFactor returns user's current solvency ratio.
func (e *Engine) HealthFactor(ctx context.Context, user crypto.Address) (*big.Int, error) {
	return e.view().HealthFactor(ctx, user)
}

// CollateralBalance returns the deposited amount of asset held for user.
func (e *Engine) CollateralBalance(user, asset crypto.Address) (*big.Int, error) {
	return e.view().collateral.Balance(user, asset)
}

// Debt returns user's outstanding debt.
func (e *Engine) Debt(user crypto.Address) (*big.Int, error) {
	return e.view().debt.Of(user)
}

// CollateralTokens lists accepted collateral in registry order.
func (e *Engine) CollateralTokens() []crypto.Address { return e.registry.Assets() }

// PriceFeed returns the feed pricing asset.
func (e *Engine) PriceFeed(asset crypto.Address) (oracle.Feed, error) {
	entry, err := e.registry.Lookup(asset)
	if err != nil {
		return nil, err
	}
	return entry.Feed, nil
}

// PeggedAsset returns the identity of the minted asset.
func (e *Engine) PeggedAsset() crypto.Address { return e.pegged }

// Custody returns the account holding deposited collateral.
func (e *Engine) Custody() crypto.Address { return e.custody }
