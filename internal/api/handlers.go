package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dreampot/paycore/internal/dispatch"
	"github.com/dreampot/paycore/internal/reconciliation"
)

// Handlers groups the internal job endpoints and their dependencies. The
// webhook entrypoint lives in the webhook package; everything here is
// operator-facing.
type Handlers struct {
	reconSvc    *reconciliation.Service
	dispatchSvc *dispatch.Service
	jobToken    string
	logger      *zap.Logger
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requireJobToken guards the internal job endpoints with the shared-secret
// bearer token.
func (h *Handlers) requireJobToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.jobToken == "" {
			h.logger.Warn("job endpoints are unguarded: JOB_TOKEN not set")
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if auth != "Bearer "+h.jobToken {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- RunReconciliation ---

func (h *Handlers) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconSvc.RunBoth(r.Context())
	if err != nil {
		h.logger.Error("reconciliation run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- RunDispatchSweep ---

func (h *Handlers) RunDispatchSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.dispatchSvc.Sweep(r.Context())
	if err != nil {
		h.logger.Error("dispatch sweep failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- DispatchByReference ---

func (h *Handlers) DispatchByReference(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(chi.URLParam(r, "reference"))
	if ref == "" {
		writeError(w, http.StatusBadRequest, "reference is required")
		return
	}

	status, err := h.dispatchSvc.ProcessByReference(r.Context(), ref)
	if err != nil {
		if errors.Is(err, dispatch.ErrNotFound) {
			writeError(w, http.StatusNotFound, "entry not found")
			return
		}
		h.logger.Error("dispatch by reference failed",
			zap.String("reference", ref), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"reference": ref,
		"status":    string(status),
	})
}

// --- Healthz ---

func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
