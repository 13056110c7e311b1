package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type pauseRequest struct {
	Paused bool `json:"paused"`
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFrom(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, apiError{Code: "UNAUTHENTICATED", Message: "missing caller"})
			return
		}
		for _, admin := range s.admins {
			if admin.Equal(caller) {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeJSON(w, http.StatusForbidden, apiError{Code: "FORBIDDEN", Message: "admin role required"})
	})
}

func (s *Server) handleListPauses(w http.ResponseWriter, r *http.Request) {
	if s.pauses == nil {
		writeJSON(w, http.StatusOK, map[string]any{"paused": []string{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": s.pauses.Paused()})
}

func (s *Server) handleSetPause(w http.ResponseWriter, r *http.Request) {
	if s.pauses == nil {
		writeJSON(w, http.StatusNotImplemented, apiError{Code: "PAUSES_DISABLED", Message: "pause switch not configured"})
		return
	}
	module := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "module")))
	var req pauseRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.pauses.Set(module, req.Paused)
	caller, _ := CallerFrom(r.Context())
	loggerFrom(r.Context()).Warn("module pause toggled",
		slog.String("module", module),
		slog.Bool("paused", req.Paused),
		slog.String("admin", caller.String()))
	writeJSON(w, http.StatusOK, map[string]any{"module": module, "paused": req.Paused})
}
