package vault

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"pegvault/core/events"
	"pegvault/crypto"
	"pegvault/oracle"
	"pegvault/storage"
)

var (
	ether     = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	errNoFund = errors.New("fake bank: insufficient funds")
)

func units(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), ether) }

func usdPrice(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(100_000_000)) }

func makeAddress(prefix crypto.AddressPrefix, suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(prefix, raw)
}

type fakeBank struct {
	pegged   crypto.Address
	custody  crypto.Address
	balances map[string]*big.Int
	supply   *big.Int
	fail     map[string]error
	before   func(op string)
	calls    []string
}

func newFakeBank(pegged, custody crypto.Address) *fakeBank {
	return &fakeBank{
		pegged:   pegged,
		custody:  custody,
		balances: make(map[string]*big.Int),
		supply:   big.NewInt(0),
		fail:     make(map[string]error),
	}
}

func bankKey(asset, owner crypto.Address) string {
	return string(asset.Bytes()) + "/" + string(owner.Bytes())
}

func (b *fakeBank) balance(asset, owner crypto.Address) *big.Int {
	if v, ok := b.balances[bankKey(asset, owner)]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func (b *fakeBank) credit(asset, owner crypto.Address, amount *big.Int) {
	b.balances[bankKey(asset, owner)] = new(big.Int).Add(b.balance(asset, owner), amount)
}

func (b *fakeBank) debit(asset, owner crypto.Address, amount *big.Int) error {
	bal := b.balance(asset, owner)
	if bal.Cmp(amount) < 0 {
		return errNoFund
	}
	b.balances[bankKey(asset, owner)] = bal.Sub(bal, amount)
	return nil
}

func (b *fakeBank) enter(op string) error {
	b.calls = append(b.calls, op)
	if b.before != nil {
		b.before(op)
	}
	return b.fail[op]
}

func (b *fakeBank) TransferIn(ctx context.Context, asset, from crypto.Address, amount *big.Int) error {
	if err := b.enter("transferIn"); err != nil {
		return err
	}
	if err := b.debit(asset, from, amount); err != nil {
		return err
	}
	b.credit(asset, b.custody, amount)
	return nil
}

func (b *fakeBank) TransferOut(ctx context.Context, asset, to crypto.Address, amount *big.Int) error {
	if err := b.enter("transferOut"); err != nil {
		return err
	}
	if err := b.debit(asset, b.custody, amount); err != nil {
		return err
	}
	b.credit(asset, to, amount)
	return nil
}

func (b *fakeBank) Mint(ctx context.Context, to crypto.Address, amount *big.Int) error {
	if err := b.enter("mint"); err != nil {
		return err
	}
	b.credit(b.pegged, to, amount)
	b.supply.Add(b.supply, amount)
	return nil
}

func (b *fakeBank) Burn(ctx context.Context, amount *big.Int) error {
	if err := b.enter("burn"); err != nil {
		return err
	}
	if err := b.debit(b.pegged, b.custody, amount); err != nil {
		return err
	}
	b.supply.Sub(b.supply, amount)
	return nil
}

type fixture struct {
	engine   *Engine
	db       *storage.MemDB
	bank     *fakeBank
	recorder *events.Recorder
	wethFeed *oracle.StaticFeed
	wbtcFeed *oracle.StaticFeed
	weth     crypto.Address
	wbtc     crypto.Address
	pegged   crypto.Address
	custody  crypto.Address
	alice    crypto.Address
	bob      crypto.Address
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:       storage.NewMemDB(),
		recorder: &events.Recorder{},
		weth:     makeAddress(crypto.AssetPrefix, 0x01),
		wbtc:     makeAddress(crypto.AssetPrefix, 0x02),
		pegged:   makeAddress(crypto.AssetPrefix, 0x0F),
		custody:  makeAddress(crypto.AccountPrefix, 0xEE),
		alice:    makeAddress(crypto.AccountPrefix, 0xA1),
		bob:      makeAddress(crypto.AccountPrefix, 0xB0),
		now:      time.Unix(1_700_000_000, 0),
	}
	clock := func() time.Time { return f.now }
	f.wethFeed = oracle.NewStaticFeed(usdPrice(2000), oracle.DefaultDecimals)
	f.wethFeed.SetClock(clock)
	f.wbtcFeed = oracle.NewStaticFeed(usdPrice(1000), oracle.DefaultDecimals)
	f.wbtcFeed.SetClock(clock)

	f.bank = newFakeBank(f.pegged, f.custody)
	for _, user := range []crypto.Address{f.alice, f.bob} {
		f.bank.credit(f.weth, user, units(100))
		f.bank.credit(f.wbtc, user, units(10))
	}

	engine, err := NewEngine(f.db, f.bank, Config{
		Collateral:  []crypto.Address{f.weth, f.wbtc},
		Feeds:       []oracle.Feed{f.wethFeed, f.wbtcFeed},
		PeggedAsset: f.pegged,
		Custody:     f.custody,
		MaxPriceAge: DefaultMaxPriceAge,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetClock(clock)
	engine.SetEmitter(f.recorder)
	f.engine = engine
	return f
}

func (f *fixture) mustDeposit(t *testing.T, user, asset crypto.Address, amount *big.Int) {
	t.Helper()
	if err := f.engine.DepositCollateral(context.Background(), user, asset, amount); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func (f *fixture) mustMint(t *testing.T, user crypto.Address, amount *big.Int) {
	t.Helper()
	if err := f.engine.MintPegged(context.Background(), user, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func (f *fixture) collateral(t *testing.T, user, asset crypto.Address) *big.Int {
	t.Helper()
	bal, err := f.engine.CollateralBalance(user, asset)
	if err != nil {
		t.Fatalf("collateral balance: %v", err)
	}
	return bal
}

func (f *fixture) debt(t *testing.T, user crypto.Address) *big.Int {
	t.Helper()
	debt, err := f.engine.Debt(user)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	return debt
}

func (f *fixture) healthFactor(t *testing.T, user crypto.Address) *big.Int {
	t.Helper()
	hf, err := f.engine.HealthFactor(context.Background(), user)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	return hf
}

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("invalid big integer %q", s)
	}
	return v
}

func expectAmount(t *testing.T, label string, got, want *big.Int) {
	t.Helper()
	if got.Cmp(want) != 0 {
		t.Fatalf("%s: got %s, want %s", label, got, want)
	}
}
