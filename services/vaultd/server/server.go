package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pegvault/crypto"
	nativecommon "pegvault/native/common"
	"pegvault/native/vault"
	"pegvault/observability"
	"pegvault/services/vaultd/journal"
)

// Engine is the vault surface served over HTTP.
type Engine interface {
	DepositCollateral(ctx context.Context, caller, asset crypto.Address, amount *big.Int) error
	DepositCollateralAndMint(ctx context.Context, caller, asset crypto.Address, amountCollateral, amountToMint *big.Int) error
	MintPegged(ctx context.Context, caller crypto.Address, amount *big.Int) error
	RedeemCollateral(ctx context.Context, caller, asset crypto.Address, amount *big.Int) error
	RedeemCollateralForPegged(ctx context.Context, caller, asset crypto.Address, amountCollateral, amountToBurn *big.Int) error
	BurnPegged(ctx context.Context, caller crypto.Address, amount *big.Int) error
	Liquidate(ctx context.Context, caller, asset, user crypto.Address, debtToCover *big.Int) (*vault.LiquidationResult, error)

	AccountInformation(ctx context.Context, user crypto.Address) (debt, collateralValue *big.Int, err error)
	CollateralBalance(user, asset crypto.Address) (*big.Int, error)
	CollateralTokens() []crypto.Address
	PeggedAsset() crypto.Address
	PeggedValue(ctx context.Context, asset crypto.Address, amount *big.Int) (*big.Int, error)
	TokenAmountFromPegged(ctx context.Context, asset crypto.Address, value *big.Int) (*big.Int, error)
	LiquidatablePositions(ctx context.Context, limit int) ([]vault.Position, error)
}

// Journal answers event history queries.
type Journal interface {
	List(ctx context.Context, q journal.Query) ([]journal.Entry, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine    Engine
	Journal   Journal
	Auth      *Authenticator
	RateLimit RateLimit
	Logger    *slog.Logger

	// Pauses, when set, is toggled through the admin routes by Admins.
	Pauses *nativecommon.PauseSet
	Admins []crypto.Address
}

// Server exposes the vault engine over HTTP/JSON.
type Server struct {
	engine  Engine
	journal Journal
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	pauses  *nativecommon.PauseSet
	admins  []crypto.Address

	router http.Handler
}

// New constructs the HTTP router.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("vault engine required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("authenticator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		engine:  cfg.Engine,
		journal: cfg.Journal,
		auth:    cfg.Auth,
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger,
		pauses:  cfg.Pauses,
		admins:  append([]crypto.Address(nil), cfg.Admins...),
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router wrapped in tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "vaultd")
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(s.requestContext)
	r.Use(chimw.Recoverer)
	r.Use(instrument)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(s.limiter.Middleware)
			public.Get("/assets", s.handleAssets)
			public.Get("/accounts/{account}", s.handleAccount)
			public.Get("/quote/value", s.handleQuoteValue)
			public.Get("/quote/amount", s.handleQuoteAmount)
			public.Get("/positions/liquidatable", s.handleLiquidatable)
			public.Get("/events", s.handleEvents)
		})
		api.Group(func(protected chi.Router) {
			protected.Use(s.auth.Middleware)
			protected.Use(s.limiter.Middleware)
			protected.Post("/collateral/deposit", s.handleDeposit)
			protected.Post("/collateral/deposit-and-mint", s.handleDepositAndMint)
			protected.Post("/collateral/redeem", s.handleRedeem)
			protected.Post("/collateral/redeem-for-pegged", s.handleRedeemForPegged)
			protected.Post("/pegged/mint", s.handleMint)
			protected.Post("/pegged/burn", s.handleBurn)
			protected.Post("/liquidations", s.handleLiquidate)
			protected.With(s.requireAdmin).Get("/admin/pauses", s.handleListPauses)
			protected.With(s.requireAdmin).Put("/admin/pauses/{module}", s.handleSetPause)
		})
	})
	return r
}

type loggerKey struct{}

// requestContext assigns a request id and a request-scoped logger.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		logger := s.logger.With(slog.String("request_id", requestID))
		ctx := context.WithValue(r.Context(), loggerKey{}, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggerFrom(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.ModuleMetrics().Observe("vault", r.Method+" "+route, status, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := toAPIError(err)
	logger := loggerFrom(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	} else {
		logger.Debug("request rejected", slog.String("path", r.URL.Path), slog.String("code", body.Code), slog.Any("error", err))
	}
	if errors.Is(err, vault.ErrReentrantCall) {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, body)
}
