package server

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"pegvault/crypto"
	"pegvault/native/vault"
	"pegvault/services/vaultd/journal"
)

const maxBodyBytes = 1 << 16

type depositRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type depositAndMintRequest struct {
	Asset            string `json:"asset"`
	AmountCollateral string `json:"amount_collateral"`
	AmountToMint     string `json:"amount_to_mint"`
}

type redeemForPeggedRequest struct {
	Asset            string `json:"asset"`
	AmountCollateral string `json:"amount_collateral"`
	AmountToBurn     string `json:"amount_to_burn"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type liquidateRequest struct {
	Asset       string `json:"asset"`
	User        string `json:"user"`
	DebtToCover string `json:"debt_to_cover"`
}

type liquidationResponse struct {
	DebtCovered        string `json:"debt_covered"`
	CollateralSeized   string `json:"collateral_seized"`
	Bonus              string `json:"bonus"`
	HealthFactorBefore string `json:"health_factor_before"`
	HealthFactorAfter  string `json:"health_factor_after"`
}

type collateralBalance struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type accountResponse struct {
	Account         string              `json:"account"`
	Debt            string              `json:"debt"`
	CollateralValue string              `json:"collateral_value"`
	HealthFactor    string              `json:"health_factor"`
	Collateral      []collateralBalance `json:"collateral"`
}

type positionResponse struct {
	User            string `json:"user"`
	Debt            string `json:"debt"`
	CollateralValue string `json:"collateral_value"`
	HealthFactor    string `json:"health_factor"`
}

type eventResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Account    string            `json:"account,omitempty"`
	Asset      string            `json:"asset,omitempty"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"created_at"`
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	return nil
}

// parseAmount accepts a base-10 integer in ledger units. Zero passes so the
// engine reports it.
func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %s required", errInvalidAmount, field)
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must be a non-negative integer", errInvalidAmount, field)
	}
	return v, nil
}

func parseAsset(raw string) (crypto.Address, error) {
	asset, err := crypto.ParseAddress(raw, crypto.AssetPrefix)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %v", vault.ErrInvalidAddress, err)
	}
	return asset, nil
}

func parseAccount(raw string) (crypto.Address, error) {
	account, err := crypto.ParseAddress(raw, crypto.AccountPrefix)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %v", vault.ErrInvalidAddress, err)
	}
	return account, nil
}

func okResponse() map[string]string { return map[string]string{"status": "ok"} }

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, err := parseAsset(req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.DepositCollateral(r.Context(), caller, asset, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse())
}

func (s *Server) handleDepositAndMint(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req depositAndMintRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, err := parseAsset(req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	collateral, err := parseAmount("amount_collateral", req.AmountCollateral)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	mint, err := parseAmount("amount_to_mint", req.AmountToMint)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.DepositCollateralAndMint(r.Context(), caller, asset, collateral, mint); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse())
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, err := parseAsset(req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.RedeemCollateral(r.Context(), caller, asset, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse())
}

func (s *Server) handleRedeemForPegged(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req redeemForPeggedRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, err := parseAsset(req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	collateral, err := parseAmount("amount_collateral", req.AmountCollateral)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	burn, err := parseAmount("amount_to_burn", req.AmountToBurn)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.RedeemCollateralForPegged(r.Context(), caller, asset, collateral, burn); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse())
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.MintPegged(r.Context(), caller, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse())
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.BurnPegged(r.Context(), caller, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse())
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req liquidateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, err := parseAsset(req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := parseAccount(req.User)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	debt, err := parseAmount("debt_to_cover", req.DebtToCover)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.engine.Liquidate(r.Context(), caller, asset, user, debt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, liquidationResponse{
		DebtCovered:        result.DebtCovered.String(),
		CollateralSeized:   result.CollateralSeized.String(),
		Bonus:              result.Bonus.String(),
		HealthFactorBefore: result.HealthFactorBefore.String(),
		HealthFactorAfter:  result.HealthFactorAfter.String(),
	})
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	assets := s.engine.CollateralTokens()
	collateral := make([]string, 0, len(assets))
	for _, asset := range assets {
		collateral = append(collateral, asset.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pegged":                    s.engine.PeggedAsset().String(),
		"collateral":                collateral,
		"precision":                 vault.Precision().String(),
		"additional_feed_precision": vault.AdditionalFeedPrecision().String(),
		"liquidation_threshold":     vault.LiquidationThreshold().String(),
		"liquidation_bonus":         vault.LiquidationBonus().String(),
		"liquidation_precision":     vault.LiquidationPrecision().String(),
		"min_health_factor":         vault.MinHealthFactor().String(),
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account, err := parseAccount(chi.URLParam(r, "account"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	debt, value, err := s.engine.AccountInformation(r.Context(), account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := accountResponse{
		Account:         account.String(),
		Debt:            debt.String(),
		CollateralValue: value.String(),
		HealthFactor:    vault.CalculateHealthFactor(debt, value).String(),
		Collateral:      []collateralBalance{},
	}
	for _, asset := range s.engine.CollateralTokens() {
		balance, err := s.engine.CollateralBalance(account, asset)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if balance.Sign() == 0 {
			continue
		}
		resp.Collateral = append(resp.Collateral, collateralBalance{Asset: asset.String(), Amount: balance.String()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQuoteValue(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAsset(r.URL.Query().Get("asset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", r.URL.Query().Get("amount"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := s.engine.PeggedValue(r.Context(), asset, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset.String(), "amount": amount.String(), "value": value.String()})
}

func (s *Server) handleQuoteAmount(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAsset(r.URL.Query().Get("asset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := parseAmount("value", r.URL.Query().Get("value"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := s.engine.TokenAmountFromPegged(r.Context(), asset, value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset.String(), "amount": amount.String(), "value": value.String()})
}

func (s *Server) handleLiquidatable(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", errInvalidPayload))
			return
		}
		limit = parsed
	}
	positions, err := s.engine.LiquidatablePositions(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionResponse{
			User:            p.User.String(),
			Debt:            p.Debt.String(),
			CollateralValue: p.CollateralValue.String(),
			HealthFactor:    p.HealthFactor.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, r, errJournalOff)
		return
	}
	q := journal.Query{Type: r.URL.Query().Get("type")}
	if raw := r.URL.Query().Get("account"); raw != "" {
		account, err := parseAccount(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		q.Account = account.String()
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", errInvalidPayload))
			return
		}
		q.Limit = parsed
	}
	entries, err := s.journal.List(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]eventResponse, 0, len(entries))
	for _, entry := range entries {
		attrs, err := entry.Decode()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out = append(out, eventResponse{
			ID:         entry.ID.String(),
			Type:       entry.Type,
			Account:    entry.Account,
			Asset:      entry.Asset,
			Attributes: attrs,
			CreatedAt:  entry.CreatedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
