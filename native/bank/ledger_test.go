package bank

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"pegvault/crypto"
	"pegvault/storage"
)

func addr(prefix crypto.AddressPrefix, suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(prefix, raw)
}

func newTestLedger(t *testing.T) (*Ledger, crypto.Address, crypto.Address, crypto.Address) {
	t.Helper()
	ledger := NewLedger(storage.NewMemDB())
	collateral := addr(crypto.AssetPrefix, 1)
	pegged := addr(crypto.AssetPrefix, 2)
	custody := addr(crypto.AccountPrefix, 0xEE)
	if err := ledger.RegisterToken(collateral, "weth", 18, crypto.Address{}); err != nil {
		t.Fatalf("register collateral: %v", err)
	}
	if err := ledger.RegisterToken(pegged, "pusd", 18, custody); err != nil {
		t.Fatalf("register pegged: %v", err)
	}
	return ledger, collateral, pegged, custody
}

func TestTransferMovesBalance(t *testing.T) {
	ledger, weth, _, _ := newTestLedger(t)
	alice := addr(crypto.AccountPrefix, 0xA1)
	bob := addr(crypto.AccountPrefix, 0xB0)
	if err := ledger.Fund(weth, alice, big.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := ledger.Transfer(weth, alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if bal, _ := ledger.Balance(weth, alice); bal.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("alice balance %s", bal)
	}
	if bal, _ := ledger.Balance(weth, bob); bal.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("bob balance %s", bal)
	}
	if err := ledger.Transfer(weth, alice, bob, big.NewInt(61)); !errors.Is(err, errInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if bal, _ := ledger.Balance(weth, alice); bal.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("failed transfer mutated balance: %s", bal)
	}
	if supply, _ := ledger.TotalSupply(weth); supply.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("supply %s", supply)
	}
}

func TestMintRules(t *testing.T) {
	ledger, weth, pegged, custody := newTestLedger(t)
	alice := addr(crypto.AccountPrefix, 0xA1)

	if err := ledger.MintAs(alice, pegged, alice, big.NewInt(1)); !errors.Is(err, errNotMintAuthority) {
		t.Fatalf("expected mint authority error, got %v", err)
	}
	if err := ledger.MintAs(custody, weth, alice, big.NewInt(1)); !errors.Is(err, errNotMintAuthority) {
		t.Fatalf("collateral must not be mintable, got %v", err)
	}
	if err := ledger.MintAs(custody, pegged, crypto.Address{}, big.NewInt(1)); !errors.Is(err, errZeroRecipient) {
		t.Fatalf("expected zero recipient error, got %v", err)
	}
	if err := ledger.MintAs(custody, pegged, alice, big.NewInt(0)); !errors.Is(err, errInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if err := ledger.SetMintPaused(pegged, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := ledger.MintAs(custody, pegged, alice, big.NewInt(1)); !errors.Is(err, errMintPaused) {
		t.Fatalf("expected mint paused, got %v", err)
	}
	if err := ledger.SetMintPaused(pegged, false); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := ledger.MintAs(custody, pegged, alice, big.NewInt(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if supply, _ := ledger.TotalSupply(pegged); supply.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("supply %s", supply)
	}
}

func TestCustodianBurnRequiresCustodyBalance(t *testing.T) {
	ledger, _, pegged, custody := newTestLedger(t)
	alice := addr(crypto.AccountPrefix, 0xA1)
	c := NewCustodian(ledger, custody, pegged)
	ctx := context.Background()

	if err := c.Mint(ctx, alice, big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := c.Burn(ctx, big.NewInt(1)); !errors.Is(err, errInsufficientFunds) {
		t.Fatalf("expected burn without custody balance to fail, got %v", err)
	}
	if err := c.TransferIn(ctx, pegged, alice, big.NewInt(4)); err != nil {
		t.Fatalf("transfer in: %v", err)
	}
	if err := c.Burn(ctx, big.NewInt(4)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if supply, _ := ledger.TotalSupply(pegged); supply.Cmp(big.NewInt(6)) != 0 {
		t.Fatalf("supply %s", supply)
	}
	if bal, _ := ledger.Balance(pegged, custody); bal.Sign() != 0 {
		t.Fatalf("custody should hold nothing after burn, got %s", bal)
	}
}

func TestRegisterTokenTwiceFails(t *testing.T) {
	ledger, weth, _, _ := newTestLedger(t)
	if err := ledger.RegisterToken(weth, "weth", 18, crypto.Address{}); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if err := ledger.EnsureToken(weth, "weth", 18, crypto.Address{}); err != nil {
		t.Fatalf("ensure existing token: %v", err)
	}
}
