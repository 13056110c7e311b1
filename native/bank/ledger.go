package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"pegvault/core/state"
	"pegvault/crypto"
	"pegvault/native/vault"
	"pegvault/storage"
)

var (
	errInvalidAmount     = errors.New("bank: amount must be positive")
	errInsufficientFunds = errors.New("bank: insufficient balance")
	errUnknownToken      = errors.New("bank: token not registered")
	errZeroRecipient     = errors.New("bank: recipient required")
	errNotMintAuthority  = errors.New("bank: caller is not the mint authority")
	errMintPaused        = errors.New("bank: minting paused")
)

// Ledger is a token ledger over the shared database. Every call commits on
// its own so a caller observes either the whole movement or none of it.
// Movements land before the vault commits its ledgers; a crash in between
// leaves the two out of step until an operator reconciles them.
type Ledger struct {
	mu sync.Mutex
	db storage.Database
}

// NewLedger opens a ledger on db.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) apply(fn func(st *state.Manager) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	overlay := storage.NewOverlay(l.db)
	if err := fn(state.NewManager(overlay)); err != nil {
		overlay.Discard()
		return err
	}
	return overlay.Commit()
}

// RegisterToken records a token. A zero mint authority makes the supply
// fixed to what operators credit at genesis.
func (l *Ledger) RegisterToken(id crypto.Address, symbol string, decimals uint8, mintAuthority crypto.Address) error {
	return l.apply(func(st *state.Manager) error {
		meta := state.TokenMetadata{ID: id.Bytes(), Symbol: symbol, Decimals: decimals}
		if !mintAuthority.IsZero() {
			meta.MintAuthority = mintAuthority.Bytes()
		}
		return st.RegisterToken(meta)
	})
}

// EnsureToken registers the token unless it already exists.
func (l *Ledger) EnsureToken(id crypto.Address, symbol string, decimals uint8, mintAuthority crypto.Address) error {
	meta, err := state.NewManager(l.db).Token(id.Bytes())
	if err != nil {
		return err
	}
	if meta != nil {
		return nil
	}
	return l.RegisterToken(id, symbol, decimals, mintAuthority)
}

// Balance returns owner's holdings of asset.
func (l *Ledger) Balance(asset, owner crypto.Address) (*big.Int, error) {
	return state.NewManager(l.db).Balance(owner.Bytes(), asset.Bytes())
}

// TotalSupply returns the circulating supply of asset.
func (l *Ledger) TotalSupply(asset crypto.Address) (*big.Int, error) {
	meta, err := state.NewManager(l.db).Token(asset.Bytes())
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: %s", errUnknownToken, asset)
	}
	return meta.TotalSupply, nil
}

// SetMintPaused halts or resumes minting of asset.
func (l *Ledger) SetMintPaused(asset crypto.Address, paused bool) error {
	return l.apply(func(st *state.Manager) error {
		return st.SetTokenMintPaused(asset.Bytes(), paused)
	})
}

// Fund credits owner out of thin air and grows the supply. Operators use it to
// seed collateral balances on local networks.
func (l *Ledger) Fund(asset, owner crypto.Address, amount *big.Int) error {
	return l.apply(func(st *state.Manager) error {
		meta, err := token(st, asset)
		if err != nil {
			return err
		}
		if err := credit(st, asset, owner, amount); err != nil {
			return err
		}
		return st.SetTotalSupply(asset.Bytes(), new(big.Int).Add(meta.TotalSupply, amount))
	})
}

// Transfer moves amount of asset between holders.
func (l *Ledger) Transfer(asset, from, to crypto.Address, amount *big.Int) error {
	return l.apply(func(st *state.Manager) error {
		if _, err := token(st, asset); err != nil {
			return err
		}
		if err := debit(st, asset, from, amount); err != nil {
			return err
		}
		return credit(st, asset, to, amount)
	})
}

// MintAs creates amount of asset for to on behalf of authority.
func (l *Ledger) MintAs(authority, asset, to crypto.Address, amount *big.Int) error {
	return l.apply(func(st *state.Manager) error {
		meta, err := token(st, asset)
		if err != nil {
			return err
		}
		if !st.IsMintAuthority(asset.Bytes(), authority.Bytes()) {
			return errNotMintAuthority
		}
		if meta.MintPaused {
			return errMintPaused
		}
		if to.IsZero() {
			return errZeroRecipient
		}
		if err := credit(st, asset, to, amount); err != nil {
			return err
		}
		return st.SetTotalSupply(asset.Bytes(), new(big.Int).Add(meta.TotalSupply, amount))
	})
}

// BurnAs destroys amount of asset held by authority.
func (l *Ledger) BurnAs(authority, asset crypto.Address, amount *big.Int) error {
	return l.apply(func(st *state.Manager) error {
		meta, err := token(st, asset)
		if err != nil {
			return err
		}
		if !st.IsMintAuthority(asset.Bytes(), authority.Bytes()) {
			return errNotMintAuthority
		}
		if err := debit(st, asset, authority, amount); err != nil {
			return err
		}
		return st.SetTotalSupply(asset.Bytes(), new(big.Int).Sub(meta.TotalSupply, amount))
	})
}

func token(st *state.Manager, asset crypto.Address) (*state.TokenMetadata, error) {
	meta, err := st.Token(asset.Bytes())
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: %s", errUnknownToken, asset)
	}
	return meta, nil
}

func credit(st *state.Manager, asset, owner crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if owner.IsZero() {
		return errZeroRecipient
	}
	balance, err := st.Balance(owner.Bytes(), asset.Bytes())
	if err != nil {
		return err
	}
	return st.SetBalance(owner.Bytes(), asset.Bytes(), balance.Add(balance, amount))
}

func debit(st *state.Manager, asset, owner crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	balance, err := st.Balance(owner.Bytes(), asset.Bytes())
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", errInsufficientFunds, owner, balance, asset, amount)
	}
	return st.SetBalance(owner.Bytes(), asset.Bytes(), balance.Sub(balance, amount))
}

// Custodian is the engine's view of the ledger: custody is both the holding
// account for deposits and the mint authority of the pegged asset.
type Custodian struct {
	ledger  *Ledger
	custody crypto.Address
	pegged  crypto.Address
}

var _ vault.AssetBank = (*Custodian)(nil)

// NewCustodian binds custody and the pegged asset to the ledger.
func NewCustodian(ledger *Ledger, custody, pegged crypto.Address) *Custodian {
	return &Custodian{ledger: ledger, custody: custody, pegged: pegged}
}

// TransferIn implements vault.AssetBank.
func (c *Custodian) TransferIn(ctx context.Context, asset, from crypto.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.ledger.Transfer(asset, from, c.custody, amount)
}

// TransferOut implements vault.AssetBank.
func (c *Custodian) TransferOut(ctx context.Context, asset, to crypto.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.ledger.Transfer(asset, c.custody, to, amount)
}

// Mint implements vault.AssetBank.
func (c *Custodian) Mint(ctx context.Context, to crypto.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.ledger.MintAs(c.custody, c.pegged, to, amount)
}

// Burn implements vault.AssetBank.
func (c *Custodian) Burn(ctx context.Context, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.ledger.BurnAs(c.custody, c.pegged, amount)
}
