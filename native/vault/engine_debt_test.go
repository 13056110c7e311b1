package vault

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"pegvault/core/events"
)

func TestMintHealthFactorScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustDeposit(t, f.alice, f.weth, units(10))
	f.mustMint(t, f.alice, units(9_000))

	expectAmount(t, "health factor", f.healthFactor(t, f.alice), mustBig(t, "1111111111111111111"))
	expectAmount(t, "wallet", f.bank.balance(f.pegged, f.alice), units(9_000))

	err := f.engine.MintPegged(ctx, f.alice, units(2_000))
	if !errors.Is(err, ErrHealthFactorBroken) {
		t.Fatalf("expected ErrHealthFactorBroken, got %v", err)
	}
	var broken *HealthFactorBrokenError
	if !errors.As(err, &broken) {
		t.Fatalf("expected typed error, got %T", err)
	}
	expectAmount(t, "ratio at 11000 debt", broken.HealthFactor, mustBig(t, "909090909090909090"))
	expectAmount(t, "debt unchanged", f.debt(t, f.alice), units(9_000))
	expectAmount(t, "supply unchanged", f.bank.supply, units(9_000))
}

func TestCalculateHealthFactor(t *testing.T) {
	expectAmount(t, "zero debt", CalculateHealthFactor(big.NewInt(0), units(1)), MaxHealthFactor())
	expectAmount(t, "nil debt", CalculateHealthFactor(nil, nil), MaxHealthFactor())
	expectAmount(t, "11000 debt", CalculateHealthFactor(units(11_000), units(20_000)), mustBig(t, "909090909090909090"))
	expectAmount(t, "boundary", CalculateHealthFactor(units(100), units(200)), MinHealthFactor())
}

func TestHealthFactorWithoutDebtIsMaximum(t *testing.T) {
	f := newFixture(t)
	f.mustDeposit(t, f.alice, f.weth, units(1))
	expectAmount(t, "health factor", f.healthFactor(t, f.alice), MaxHealthFactor())

	debt, value, err := f.engine.AccountInformation(context.Background(), f.alice)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	expectAmount(t, "debt", debt, big.NewInt(0))
	expectAmount(t, "value", value, units(2_000))
}

func TestMintRejectsZero(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.MintPegged(context.Background(), f.alice, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
}

func TestMintFailureRollsBackDeposit(t *testing.T) {
	f := newFixture(t)
	f.bank.fail["mint"] = errors.New("minter revoked")

	err := f.engine.DepositCollateralAndMint(context.Background(), f.alice, f.weth, units(10), units(1_000))
	if !errors.Is(err, ErrMintFailed) {
		t.Fatalf("expected ErrMintFailed, got %v", err)
	}
	expectAmount(t, "collateral", f.collateral(t, f.alice, f.weth), big.NewInt(0))
	expectAmount(t, "debt", f.debt(t, f.alice), big.NewInt(0))
	expectAmount(t, "weth wallet restored", f.bank.balance(f.weth, f.alice), units(100))
	expectAmount(t, "custody restored", f.bank.balance(f.weth, f.custody), big.NewInt(0))
	if len(f.recorder.Events()) != 0 {
		t.Fatalf("events emitted by aborted operation: %v", f.recorder.Events())
	}
}

func TestDepositCollateralAndMint(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.DepositCollateralAndMint(context.Background(), f.alice, f.weth, units(10), units(1_000)); err != nil {
		t.Fatalf("deposit and mint: %v", err)
	}
	expectAmount(t, "collateral", f.collateral(t, f.alice, f.weth), units(10))
	expectAmount(t, "debt", f.debt(t, f.alice), units(1_000))
	recorded := f.recorder.Events()
	if len(recorded) != 2 {
		t.Fatalf("expected deposit and mint events, got %d", len(recorded))
	}
	if _, ok := recorded[1].(events.PeggedMinted); !ok {
		t.Fatalf("expected mint event last, got %#v", recorded[1])
	}
}

func TestBurnRepaysDebt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustDeposit(t, f.alice, f.weth, units(10))
	f.mustMint(t, f.alice, units(1_000))

	if err := f.engine.BurnPegged(ctx, f.alice, units(400)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	expectAmount(t, "debt", f.debt(t, f.alice), units(600))
	expectAmount(t, "wallet", f.bank.balance(f.pegged, f.alice), units(600))
	expectAmount(t, "supply", f.bank.supply, units(600))

	if err := f.engine.BurnPegged(ctx, f.alice, units(601)); !errors.Is(err, ErrInsufficientDebt) {
		t.Fatalf("expected ErrInsufficientDebt, got %v", err)
	}
	expectAmount(t, "debt unchanged", f.debt(t, f.alice), units(600))
}

func TestBurnWithoutTokensFails(t *testing.T) {
	f := newFixture(t)
	f.mustDeposit(t, f.alice, f.weth, units(10))
	f.mustMint(t, f.alice, units(1_000))
	// Alice hands her pegged units away.
	if err := f.bank.debit(f.pegged, f.alice, units(1_000)); err != nil {
		t.Fatalf("debit: %v", err)
	}

	err := f.engine.BurnPegged(context.Background(), f.alice, units(500))
	if !errors.Is(err, ErrDebtTransferFailed) {
		t.Fatalf("expected ErrDebtTransferFailed, got %v", err)
	}
	expectAmount(t, "debt unchanged", f.debt(t, f.alice), units(1_000))
}
