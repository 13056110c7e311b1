package server

import (
	"errors"
	"net/http"

	nativecommon "pegvault/native/common"
	"pegvault/native/vault"
)

// apiError is the JSON body written for every failed request.
type apiError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	HealthFactor string `json:"health_factor,omitempty"`
}

var (
	errInvalidPayload = errors.New("invalid payload")
	errInvalidAmount  = errors.New("invalid amount")
	errJournalOff     = errors.New("event journal not configured")
)

// toAPIError maps engine failures onto an HTTP status and a stable code.
func toAPIError(err error) (int, apiError) {
	var broken *vault.HealthFactorBrokenError
	switch {
	case errors.As(err, &broken):
		body := apiError{Code: "HEALTH_FACTOR_BROKEN", Message: "health factor below minimum"}
		if broken.HealthFactor != nil {
			body.HealthFactor = broken.HealthFactor.String()
		}
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, errInvalidPayload):
		return http.StatusBadRequest, apiError{Code: "INVALID_PAYLOAD", Message: err.Error()}
	case errors.Is(err, errInvalidAmount):
		return http.StatusBadRequest, apiError{Code: "INVALID_AMOUNT", Message: err.Error()}
	case errors.Is(err, vault.ErrZeroAmount):
		return http.StatusBadRequest, apiError{Code: "ZERO_AMOUNT", Message: "amount must be greater than zero"}
	case errors.Is(err, vault.ErrInvalidAddress):
		return http.StatusBadRequest, apiError{Code: "INVALID_ADDRESS", Message: "invalid address"}
	case errors.Is(err, vault.ErrUnregisteredAsset):
		return http.StatusBadRequest, apiError{Code: "UNREGISTERED_ASSET", Message: "asset is not accepted as collateral"}
	case errors.Is(err, vault.ErrHealthFactorOk):
		return http.StatusUnprocessableEntity, apiError{Code: "HEALTH_FACTOR_OK", Message: "position is not liquidatable"}
	case errors.Is(err, vault.ErrHealthFactorNotImproved):
		return http.StatusUnprocessableEntity, apiError{Code: "HEALTH_FACTOR_NOT_IMPROVED", Message: "liquidation would not improve the position"}
	case errors.Is(err, vault.ErrInsufficientCollateral):
		return http.StatusUnprocessableEntity, apiError{Code: "INSUFFICIENT_COLLATERAL", Message: "insufficient collateral"}
	case errors.Is(err, vault.ErrInsufficientDebt):
		return http.StatusUnprocessableEntity, apiError{Code: "INSUFFICIENT_DEBT", Message: "burn exceeds outstanding debt"}
	case errors.Is(err, vault.ErrCollateralTransferFailed):
		return http.StatusUnprocessableEntity, apiError{Code: "COLLATERAL_TRANSFER_FAILED", Message: "collateral transfer failed"}
	case errors.Is(err, vault.ErrDebtTransferFailed):
		return http.StatusUnprocessableEntity, apiError{Code: "DEBT_TRANSFER_FAILED", Message: "pegged asset transfer failed"}
	case errors.Is(err, vault.ErrMintFailed):
		return http.StatusBadGateway, apiError{Code: "MINT_FAILED", Message: "pegged asset mint failed"}
	case errors.Is(err, vault.ErrReentrantCall):
		return http.StatusConflict, apiError{Code: "REENTRANT_CALL", Message: "another operation is in progress"}
	case errors.Is(err, vault.ErrPriceUnavailable):
		return http.StatusServiceUnavailable, apiError{Code: "PRICE_UNAVAILABLE", Message: "price unavailable"}
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, apiError{Code: "MODULE_PAUSED", Message: "vault paused"}
	case errors.Is(err, errJournalOff):
		return http.StatusNotFound, apiError{Code: "JOURNAL_DISABLED", Message: err.Error()}
	default:
		return http.StatusInternalServerError, apiError{Code: "INTERNAL", Message: "internal error"}
	}
}
