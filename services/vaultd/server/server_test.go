package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"pegvault/crypto"
	"pegvault/native/bank"
	"pegvault/native/vault"
	"pegvault/oracle"
	"pegvault/services/vaultd/journal"
	"pegvault/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	handler http.Handler
	engine  *vault.Engine
	ledger  *bank.Ledger
	feed    *oracle.StaticFeed
	weth    crypto.Address
	pegged  crypto.Address
	alice   crypto.Address
	bob     crypto.Address
}

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), vault.Precision())
}

func testAddress(prefix crypto.AddressPrefix, b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[crypto.AddressLength-1] = b
	return crypto.MustNewAddress(prefix, raw)
}

func newTestEnv(t *testing.T, limit RateLimit) *testEnv {
	t.Helper()
	db := storage.NewMemDB()
	ledger := bank.NewLedger(db)
	env := &testEnv{
		ledger: ledger,
		weth:   testAddress(crypto.AssetPrefix, 0xE1),
		pegged: testAddress(crypto.AssetPrefix, 0xF0),
		alice:  testAddress(crypto.AccountPrefix, 0xA1),
		bob:    testAddress(crypto.AccountPrefix, 0xB2),
	}
	custody := testAddress(crypto.AccountPrefix, 0xCC)
	require.NoError(t, ledger.RegisterToken(env.weth, "weth", 18, crypto.Address{}))
	require.NoError(t, ledger.RegisterToken(env.pegged, "pusd", 18, custody))
	require.NoError(t, ledger.Fund(env.weth, env.alice, units(20)))
	require.NoError(t, ledger.Fund(env.weth, env.bob, units(20)))

	env.feed = oracle.NewStaticFeed(big.NewInt(2000_00000000), oracle.DefaultDecimals)
	engine, err := vault.NewEngine(db, bank.NewCustodian(ledger, custody, env.pegged), vault.Config{
		Collateral:  []crypto.Address{env.weth},
		Feeds:       []oracle.Feed{env.feed},
		PeggedAsset: env.pegged,
		Custody:     custody,
	})
	require.NoError(t, err)
	env.engine = engine

	gdb, err := journal.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, journal.AutoMigrate(gdb))
	j, err := journal.New(gdb, nil)
	require.NoError(t, err)
	engine.SetEmitter(j)

	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "pegvault"})
	require.NoError(t, err)
	srv, err := New(Config{Engine: engine, Journal: j, Auth: auth, RateLimit: limit})
	require.NoError(t, err)
	env.handler = srv.Handler()
	return env
}

func generousLimit() RateLimit { return RateLimit{RequestsPerMinute: 60000, Burst: 1000} }

func signToken(t *testing.T, subject string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "pegvault",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(t *testing.T, method, path string, caller *crypto.Address, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+signToken(t, caller.String(), time.Minute))
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apiError {
	t.Helper()
	var body apiError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, generousLimit())
	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMutationsRequireToken(t *testing.T) {
	env := newTestEnv(t, generousLimit())
	rec := env.do(t, http.MethodPost, "/v1/collateral/deposit", nil, depositRequest{Asset: env.weth.String(), Amount: "1"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/pegged/mint", bytes.NewBufferString(`{"amount":"1"}`))
	req.Header.Set("Authorization", "Bearer "+signToken(t, env.alice.String(), -time.Hour))
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDepositMintAndAccountView(t *testing.T) {
	env := newTestEnv(t, generousLimit())
	rec := env.do(t, http.MethodPost, "/v1/collateral/deposit-and-mint", &env.alice, depositAndMintRequest{
		Asset:            env.weth.String(),
		AmountCollateral: units(10).String(),
		AmountToMint:     units(9000).String(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/accounts/"+env.alice.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var account accountResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&account))
	require.Equal(t, units(9000).String(), account.Debt)
	require.Equal(t, units(20000).String(), account.CollateralValue)
	require.Equal(t, "1111111111111111111", account.HealthFactor)
	require.Len(t, account.Collateral, 1)
	require.Equal(t, units(10).String(), account.Collateral[0].Amount)

	rec = env.do(t, http.MethodPost, "/v1/pegged/mint", &env.alice, amountRequest{Amount: units(2000).String()})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeError(t, rec)
	require.Equal(t, "HEALTH_FACTOR_BROKEN", body.Code)
	require.Equal(t, "909090909090909090", body.HealthFactor)

	debt, err := env.engine.Debt(env.alice)
	require.NoError(t, err)
	require.Equal(t, units(9000).String(), debt.String())
}

func TestRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t, generousLimit())

	rec := env.do(t, http.MethodPost, "/v1/collateral/deposit", &env.alice, depositRequest{Asset: env.weth.String(), Amount: "0"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "ZERO_AMOUNT", decodeError(t, rec).Code)

	unknown := testAddress(crypto.AssetPrefix, 0x77)
	rec = env.do(t, http.MethodPost, "/v1/collateral/deposit", &env.alice, depositRequest{Asset: unknown.String(), Amount: "1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "UNREGISTERED_ASSET", decodeError(t, rec).Code)

	rec = env.do(t, http.MethodPost, "/v1/collateral/deposit", &env.alice, depositRequest{Asset: "not-an-address", Amount: "1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_ADDRESS", decodeError(t, rec).Code)

	rec = env.do(t, http.MethodPost, "/v1/pegged/burn", &env.alice, amountRequest{Amount: "-5"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_AMOUNT", decodeError(t, rec).Code)

	rec = env.do(t, http.MethodPost, "/v1/pegged/burn", &env.alice, map[string]string{"amount": "1", "extra": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_PAYLOAD", decodeError(t, rec).Code)
}

func TestLiquidationFlow(t *testing.T) {
	env := newTestEnv(t, generousLimit())
	for _, step := range []struct {
		caller crypto.Address
		mint   int64
	}{{env.alice, 9000}, {env.bob, 2000}} {
		rec := env.do(t, http.MethodPost, "/v1/collateral/deposit-and-mint", &step.caller, depositAndMintRequest{
			Asset:            env.weth.String(),
			AmountCollateral: units(10).String(),
			AmountToMint:     units(step.mint).String(),
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := env.do(t, http.MethodPost, "/v1/liquidations", &env.bob, liquidateRequest{
		Asset: env.weth.String(), User: env.alice.String(), DebtToCover: units(1000).String(),
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "HEALTH_FACTOR_OK", decodeError(t, rec).Code)

	env.feed.Set(big.NewInt(1700_00000000))

	rec = env.do(t, http.MethodGet, "/v1/positions/liquidatable", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var positions struct {
		Positions []positionResponse `json:"positions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&positions))
	require.Len(t, positions.Positions, 1)
	require.Equal(t, env.alice.String(), positions.Positions[0].User)

	rec = env.do(t, http.MethodPost, "/v1/liquidations", &env.bob, liquidateRequest{
		Asset: env.weth.String(), User: env.alice.String(), DebtToCover: units(1000).String(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result liquidationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	require.Equal(t, units(1000).String(), result.DebtCovered)
	require.Equal(t, "58823529411764705", result.Bonus)
	require.Equal(t, "647058823529411763", result.CollateralSeized)
	require.Equal(t, "944444444444444444", result.HealthFactorBefore)

	before, ok := new(big.Int).SetString(result.HealthFactorBefore, 10)
	require.True(t, ok)
	after, ok := new(big.Int).SetString(result.HealthFactorAfter, 10)
	require.True(t, ok)
	require.Equal(t, 1, after.Cmp(before))

	rec = env.do(t, http.MethodGet, "/v1/events?type=vault.position.liquidated&account="+env.alice.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Events []eventResponse `json:"events"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&history))
	require.Len(t, history.Events, 1)
	require.Equal(t, env.bob.String(), history.Events[0].Attributes["liquidator"])
	require.Equal(t, "647058823529411763", history.Events[0].Attributes["collateralSeized"])
}

func TestQuotesAndAssets(t *testing.T) {
	env := newTestEnv(t, generousLimit())
	rec := env.do(t, http.MethodGet, "/v1/quote/value?asset="+env.weth.String()+"&amount="+units(15).String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var quote map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&quote))
	require.Equal(t, units(30000).String(), quote["value"])

	rec = env.do(t, http.MethodGet, "/v1/quote/amount?asset="+env.weth.String()+"&value="+units(100).String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&quote))
	require.Equal(t, "50000000000000000", quote["amount"])

	rec = env.do(t, http.MethodGet, "/v1/assets", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var assets map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&assets))
	require.Equal(t, env.pegged.String(), assets["pegged"])
	require.Equal(t, "50", assets["liquidation_threshold"])
}

func TestRateLimitRejectsBurst(t *testing.T) {
	env := newTestEnv(t, RateLimit{RequestsPerMinute: 1, Burst: 1})
	rec := env.do(t, http.MethodGet, "/v1/assets", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/assets", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "RATE_LIMITED", decodeError(t, rec).Code)
}

func TestEventsWithoutJournal(t *testing.T) {
	env := newTestEnv(t, generousLimit())
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret})
	require.NoError(t, err)
	srv, err := New(Config{Engine: env.engine, Auth: auth, RateLimit: generousLimit()})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "JOURNAL_DISABLED", decodeError(t, rec).Code)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	_, err = NewAuthenticator(AuthConfig{})
	require.Error(t, err)
}
