package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	registry "pegvault/config"
	"pegvault/core/state"
	"pegvault/crypto"
	"pegvault/native/bank"
	"pegvault/native/vault"
	"pegvault/oracle"
	"pegvault/storage"
)

var genesisMarker = []byte("vaultd/genesis-applied")

// oracleConn is the RPC connection aggregator feeds read through.
type oracleConn interface {
	ethereum.ContractCaller
	Close()
}

// dialFunc opens the oracle RPC connection.
type dialFunc func(ctx context.Context, rawURL string) (oracleConn, error)

// registerTokens makes every registry asset known to the ledger. The custody
// account is the mint authority of the pegged asset.
func registerTokens(ledger *bank.Ledger, cfg *registry.Config, pegged, custody crypto.Address) error {
	for _, entry := range cfg.Collateral {
		asset, err := entry.AssetAddress()
		if err != nil {
			return err
		}
		if err := ledger.EnsureToken(asset, entry.Symbol, entry.Decimals, crypto.Address{}); err != nil {
			return fmt.Errorf("register %s: %w", entry.Symbol, err)
		}
	}
	if err := ledger.EnsureToken(pegged, cfg.PeggedSymbol, 18, custody); err != nil {
		return fmt.Errorf("register %s: %w", cfg.PeggedSymbol, err)
	}
	return nil
}

// applyGenesis credits the configured balances once per database.
func applyGenesis(db storage.Database, ledger *bank.Ledger, cfg *registry.Config, logger *slog.Logger) error {
	st := state.NewManager(db)
	applied, err := st.KVGet(genesisMarker, nil)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	for i, seed := range cfg.Genesis {
		account, asset, amount, err := seed.Parse()
		if err != nil {
			return fmt.Errorf("genesis[%d]: %w", i, err)
		}
		if err := ledger.Fund(asset, account, amount); err != nil {
			return fmt.Errorf("genesis[%d]: %w", i, err)
		}
		logger.Info("genesis balance credited",
			slog.String("account", account.String()),
			slog.String("asset", asset.String()),
			slog.String("amount", amount.String()))
	}
	return st.KVPut(genesisMarker, uint64(len(cfg.Genesis)))
}

// buildFeeds resolves one feed per collateral entry in registry order.
func buildFeeds(ctx context.Context, cfg *registry.Config, dial dialFunc, logger *slog.Logger) ([]crypto.Address, []oracle.Feed, func(), error) {
	assets := make([]crypto.Address, 0, len(cfg.Collateral))
	feeds := make([]oracle.Feed, 0, len(cfg.Collateral))
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	var client ethereum.ContractCaller
	for _, entry := range cfg.Collateral {
		asset, err := entry.AssetAddress()
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		switch entry.Feed {
		case registry.FeedStatic:
			price, err := entry.StaticPrice()
			if err != nil {
				closeAll()
				return nil, nil, nil, err
			}
			feeds = append(feeds, oracle.NewStaticFeed(price, entry.FeedDecimals))
		case registry.FeedAggregator:
			if client == nil {
				conn, err := dial(ctx, cfg.Oracle.RPCURL)
				if err != nil {
					closeAll()
					return nil, nil, nil, fmt.Errorf("dial oracle rpc: %w", err)
				}
				closers = append(closers, conn.Close)
				client = conn
			}
			feed, err := oracle.NewAggregatorFeed(ctx, client, common.HexToAddress(strings.TrimSpace(entry.FeedAddress)))
			if err != nil {
				closeAll()
				return nil, nil, nil, fmt.Errorf("feed for %s: %w", entry.Symbol, err)
			}
			if feed.Decimals() != entry.FeedDecimals {
				logger.Warn("aggregator decimals differ from registry; using on-chain value",
					slog.String("asset", entry.Symbol),
					slog.Int("registry", int(entry.FeedDecimals)),
					slog.Int("onchain", int(feed.Decimals())))
			}
			feeds = append(feeds, feed)
		default:
			closeAll()
			return nil, nil, nil, fmt.Errorf("unknown feed kind %q", entry.Feed)
		}
		assets = append(assets, asset)
	}
	return assets, feeds, closeAll, nil
}

// newEngine assembles the vault engine from the registry.
func newEngine(ctx context.Context, db storage.Database, cfg *registry.Config, custody crypto.Address, dial dialFunc, logger *slog.Logger) (*vault.Engine, *bank.Ledger, func(), error) {
	pegged, err := cfg.PeggedAddress()
	if err != nil {
		return nil, nil, nil, err
	}
	ledger := bank.NewLedger(db)
	if err := registerTokens(ledger, cfg, pegged, custody); err != nil {
		return nil, nil, nil, err
	}
	if err := applyGenesis(db, ledger, cfg, logger); err != nil {
		return nil, nil, nil, err
	}
	assets, feeds, closeFeeds, err := buildFeeds(ctx, cfg, dial, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	engine, err := vault.NewEngine(db, bank.NewCustodian(ledger, custody, pegged), vault.Config{
		Collateral:  assets,
		Feeds:       feeds,
		PeggedAsset: pegged,
		Custody:     custody,
		MaxPriceAge: cfg.MaxPriceAge(),
	})
	if err != nil {
		closeFeeds()
		return nil, nil, nil, err
	}
	engine.SetLogger(logger)
	return engine, ledger, closeFeeds, nil
}
