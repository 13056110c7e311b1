package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"pegvault/crypto"

	"github.com/BurntSushi/toml"
)

// DefaultMaxPriceAge applies when the registry omits MaxPriceAgeSeconds.
const DefaultMaxPriceAge = 3 * time.Hour

// Config is the collateral registry and ledger genesis of a vault network.
type Config struct {
	NetworkName         string       `toml:"NetworkName"`
	PeggedAsset         string       `toml:"PeggedAsset"`
	PeggedSymbol        string       `toml:"PeggedSymbol"`
	CustodyKeystorePath string       `toml:"CustodyKeystorePath"`
	LightKDF            bool         `toml:"LightKDF"`
	Oracle              Oracle       `toml:"Oracle"`
	Pauses              Pauses       `toml:"Pauses"`
	Collateral          []Collateral `toml:"Collateral"`
	Genesis             []Balance    `toml:"Genesis"`
}

// Load loads the registry from the given path, writing a local default when
// the file does not exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize(path)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize(path string) {
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "pegvault-local"
	}
	if strings.TrimSpace(c.PeggedSymbol) == "" {
		c.PeggedSymbol = "PUSD"
	}
	if strings.TrimSpace(c.CustodyKeystorePath) == "" {
		c.CustodyKeystorePath = defaultKeystorePath(path)
	}
	for i := range c.Collateral {
		entry := &c.Collateral[i]
		entry.Feed = strings.ToLower(strings.TrimSpace(entry.Feed))
		if entry.Feed == "" {
			entry.Feed = FeedStatic
		}
		if entry.FeedDecimals == 0 {
			entry.FeedDecimals = 8
		}
		if entry.Decimals == 0 {
			entry.Decimals = 18
		}
	}
}

// MaxPriceAge returns the configured staleness bound.
func (c *Config) MaxPriceAge() time.Duration {
	if c.Oracle.MaxPriceAgeSeconds == nil {
		return DefaultMaxPriceAge
	}
	return time.Duration(*c.Oracle.MaxPriceAgeSeconds) * time.Second
}

// PeggedAddress parses the pegged asset identity.
func (c *Config) PeggedAddress() (crypto.Address, error) {
	return crypto.ParseAddress(c.PeggedAsset, crypto.AssetPrefix)
}

// CustodyKey loads the custody key, creating the keystore on first use.
func (c *Config) CustodyKey(passphrase string) (*crypto.PrivateKey, error) {
	kdf := crypto.StandardKDF
	if c.LightKDF {
		kdf = crypto.LightKDF
	}
	return crypto.EnsureKeystore(c.CustodyKeystorePath, passphrase, kdf)
}

// createDefault writes a single-collateral registry with a static feed.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		NetworkName:  "pegvault-local",
		PeggedAsset:  "0x00000000000000000000000000000000000000f0",
		PeggedSymbol: "PUSD",
		LightKDF:     true,
		Collateral: []Collateral{{
			Asset:        "0x00000000000000000000000000000000000000e1",
			Symbol:       "WETH",
			Decimals:     18,
			Feed:         FeedStatic,
			Price:        "200000000000",
			FeedDecimals: 8,
		}},
	}
	cfg.normalize(path)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "custody.keystore")
}
