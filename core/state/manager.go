package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"pegvault/storage"
)

// Manager reads and writes ledger entries on a key-value store. Binding a
// Manager to a storage.Overlay scopes every write to one operation.
type Manager struct {
	kv storage.KV
}

// NewManager creates a state manager operating on the provided store.
func NewManager(kv storage.KV) *Manager {
	return &Manager{kv: kv}
}

// TokenMetadata describes an asset known to the bank.
type TokenMetadata struct {
	ID            []byte
	Symbol        string
	Decimals      uint8
	MintAuthority []byte
	MintPaused    bool
	TotalSupply   *big.Int
}

var (
	tokenPrefix      = []byte("token:")
	balancePrefix    = []byte("balance/")
	collateralPrefix = []byte("vault/collateral/")
	debtPrefix       = []byte("vault/debt/")
)

var errAmountOverflow = errors.New("state: amount exceeds 256 bits")

func tokenMetadataKey(id []byte) []byte {
	buf := make([]byte, len(tokenPrefix)+len(id))
	copy(buf, tokenPrefix)
	copy(buf[len(tokenPrefix):], id)
	return ethcrypto.Keccak256(buf)
}

func pairKey(prefix, a, b []byte) []byte {
	buf := make([]byte, 0, len(prefix)+len(a)+len(b))
	buf = append(buf, prefix...)
	buf = append(buf, a...)
	buf = append(buf, b...)
	return buf
}

func balanceKey(asset, addr []byte) []byte { return pairKey(balancePrefix, asset, addr) }

func collateralKey(user, asset []byte) []byte { return pairKey(collateralPrefix, user, asset) }

func debtKey(user []byte) []byte { return pairKey(debtPrefix, user, nil) }

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) get(key []byte) ([]byte, error) {
	data, err := m.kv.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// readAmount decodes an RLP amount. A missing key reads as zero.
func (m *Manager) readAmount(key []byte) (*big.Int, error) {
	data, err := m.get(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// writeAmount stores an amount, deleting the key when it returns to zero so
// absence and zero stay interchangeable.
func (m *Manager) writeAmount(key []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return m.kv.Delete(key)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return errAmountOverflow
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return m.kv.Put(key, encoded)
}

// RegisterToken records token metadata. Registering the same id twice fails.
func (m *Manager) RegisterToken(meta TokenMetadata) error {
	if len(meta.ID) == 0 {
		return fmt.Errorf("token id must not be empty")
	}
	existing, err := m.Token(meta.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("token %x already registered", meta.ID)
	}
	meta.Symbol = strings.ToUpper(strings.TrimSpace(meta.Symbol))
	if meta.TotalSupply == nil {
		meta.TotalSupply = big.NewInt(0)
	}
	return m.writeTokenMetadata(&meta)
}

func (m *Manager) writeTokenMetadata(meta *TokenMetadata) error {
	encoded, err := rlp.EncodeToBytes(meta)
	if err != nil {
		return err
	}
	return m.kv.Put(tokenMetadataKey(meta.ID), encoded)
}

// Token returns the registered metadata or nil when unknown.
func (m *Manager) Token(id []byte) (*TokenMetadata, error) {
	data, err := m.get(tokenMetadataKey(id))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	meta := new(TokenMetadata)
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return nil, err
	}
	if meta.TotalSupply == nil {
		meta.TotalSupply = big.NewInt(0)
	}
	return meta, nil
}

// SetTotalSupply updates the circulating supply of a registered token.
func (m *Manager) SetTotalSupply(id []byte, supply *big.Int) error {
	meta, err := m.Token(id)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("token %x not registered", id)
	}
	if supply == nil || supply.Sign() < 0 {
		return fmt.Errorf("invalid total supply")
	}
	if _, overflow := uint256.FromBig(supply); overflow {
		return errAmountOverflow
	}
	meta.TotalSupply = new(big.Int).Set(supply)
	return m.writeTokenMetadata(meta)
}

// SetTokenMintPaused toggles minting for a registered token.
func (m *Manager) SetTokenMintPaused(id []byte, paused bool) error {
	meta, err := m.Token(id)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("token %x not registered", id)
	}
	meta.MintPaused = paused
	return m.writeTokenMetadata(meta)
}

// IsMintAuthority reports whether addr may mint and burn the token.
func (m *Manager) IsMintAuthority(id, addr []byte) bool {
	meta, err := m.Token(id)
	if err != nil || meta == nil {
		return false
	}
	return len(meta.MintAuthority) > 0 && bytes.Equal(meta.MintAuthority, addr)
}

// SetBalance stores an account balance for the provided token.
func (m *Manager) SetBalance(addr, asset []byte, amount *big.Int) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	if len(asset) == 0 {
		return fmt.Errorf("token id must not be empty")
	}
	return m.writeAmount(balanceKey(asset, addr), amount)
}

// Balance retrieves a token balance for the provided account and token.
func (m *Manager) Balance(addr, asset []byte) (*big.Int, error) {
	return m.readAmount(balanceKey(asset, addr))
}

// SetCollateral stores the deposited amount of asset held for user.
func (m *Manager) SetCollateral(user, asset []byte, amount *big.Int) error {
	if len(user) == 0 || len(asset) == 0 {
		return fmt.Errorf("user and asset must not be empty")
	}
	return m.writeAmount(collateralKey(user, asset), amount)
}

// Collateral returns the deposited amount of asset held for user.
func (m *Manager) Collateral(user, asset []byte) (*big.Int, error) {
	return m.readAmount(collateralKey(user, asset))
}

// SetDebt stores the minted-debt amount for user.
func (m *Manager) SetDebt(user []byte, amount *big.Int) error {
	if len(user) == 0 {
		return fmt.Errorf("user must not be empty")
	}
	return m.writeAmount(debtKey(user), amount)
}

// Debt returns the minted-debt amount for user.
func (m *Manager) Debt(user []byte) (*big.Int, error) {
	return m.readAmount(debtKey(user))
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 so arbitrary labels share one namespace.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.kv.Put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// DebtEntry is one row of the debt ledger.
type DebtEntry struct {
	User   []byte
	Amount *big.Int
}

// Debtors walks every user with non-zero debt in committed state, ordered by
// user bytes.
func Debtors(db storage.Database, fn func(DebtEntry) bool) error {
	var decodeErr error
	err := db.Iterate(debtPrefix, func(key, value []byte) bool {
		amount := new(big.Int)
		if err := rlp.DecodeBytes(value, amount); err != nil {
			decodeErr = fmt.Errorf("decode debt %x: %w", key, err)
			return false
		}
		user := append([]byte(nil), key[len(debtPrefix):]...)
		return fn(DebtEntry{User: user, Amount: amount})
	})
	if err != nil {
		return err
	}
	return decodeErr
}
