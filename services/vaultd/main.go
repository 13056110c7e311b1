package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	registry "pegvault/config"
	"pegvault/crypto"
	nativecommon "pegvault/native/common"
	"pegvault/observability/logging"
	telemetry "pegvault/observability/otel"
	"pegvault/services/vaultd/config"
	"pegvault/services/vaultd/journal"
	"pegvault/services/vaultd/server"
	"pegvault/storage"
)

const moduleVault = "vault"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/vaultd/config.yaml", "path to vaultd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("PEGVAULT_ENV"))
	logger := logging.SetupWithOptions("vaultd", env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "vaultd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("vaultd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	reg, err := registry.Load(cfg.Registry)
	if err != nil {
		return err
	}
	logEffectiveConfig(logger, cfg, reg)
	custodyKey, err := reg.CustodyKey(os.Getenv("VAULTD_CUSTODY_PASSPHRASE"))
	if err != nil {
		return err
	}
	custody := custodyKey.PubKey().Address()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return err
	}
	defer db.Close()

	engine, _, closeFeeds, err := newEngine(ctx, db, reg, custody, dialOracle, logger)
	if err != nil {
		return err
	}
	defer closeFeeds()

	pauses := nativecommon.NewPauseSet()
	if reg.Pauses.Vault {
		pauses.Set(moduleVault, true)
	}
	engine.SetPauses(pauses)

	var history server.Journal
	if cfg.JournalEnabled() {
		gdb, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
		if err != nil {
			return err
		}
		if err := journal.AutoMigrate(gdb); err != nil {
			return err
		}
		j, err := journal.New(gdb, logger)
		if err != nil {
			return err
		}
		engine.SetEmitter(j)
		history = j
	}

	auth, err := server.NewAuthenticator(server.AuthConfig{
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ClockSkew:  time.Duration(cfg.Auth.ClockSkewSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	srv, err := server.New(server.Config{
		Engine:  engine,
		Journal: history,
		Auth:    auth,
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Pauses: pauses,
		Admins: []crypto.Address{custody},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("vaultd listening",
			slog.String("listen", cfg.ListenAddress),
			slog.String("custody", custody.String()),
			slog.String("network", reg.NetworkName))
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func dialOracle(ctx context.Context, rawURL string) (oracleConn, error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// logEffectiveConfig records the settings vaultd runs with. Credentials are
// masked before they reach the handler.
func logEffectiveConfig(logger *slog.Logger, cfg config.Config, reg *registry.Config) {
	logger.Info("vaultd configuration",
		slog.String("listen", cfg.ListenAddress),
		slog.String("data_dir", cfg.DataDir),
		slog.String("registry", cfg.Registry),
		slog.String("network", reg.NetworkName),
		slog.Int("collateral_assets", len(reg.Collateral)),
		slog.String("oracle_rpc", logging.RedactDSN(reg.Oracle.RPCURL)),
		slog.Duration("max_price_age", reg.MaxPriceAge()),
		logging.MaskField("auth_hmac_secret", cfg.Auth.HMACSecret),
		slog.String("auth_issuer", cfg.Auth.Issuer),
		slog.String("auth_audience", cfg.Auth.Audience),
		slog.Float64("rate_limit_rpm", cfg.RateLimit.RequestsPerMinute),
		slog.String("journal_driver", cfg.Journal.Driver),
		slog.String("journal_dsn", logging.RedactDSN(cfg.Journal.DSN)),
		slog.String("log_file", cfg.Logging.File))
}
