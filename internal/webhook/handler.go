package webhook

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dreampot/paycore/internal/domain"
	"github.com/dreampot/paycore/internal/ledger"
	"github.com/dreampot/paycore/internal/provider"
	"github.com/dreampot/paycore/internal/ratelimit"
	"github.com/dreampot/paycore/internal/repository"
)

// maxTimestampSkew is the replay-protection window. Payloads whose embedded
// timestamp falls outside it are rejected; payloads without one are processed
// with a warning, since the timestamp is a secondary defense and not every
// gateway sends it.
const maxTimestampSkew = 15 * time.Minute

const maxBodyBytes = 1 << 20

// Handler is the per-provider webhook entrypoint. Each request walks a fixed
// sequence of checks, short-circuiting on the first failure; protection
// against duplicate deliveries comes entirely from the idempotent status
// rules in the ledger, not from in-process locks.
type Handler struct {
	adapters      map[domain.Provider]provider.Adapter
	contributions *repository.ContributionRepo
	ledger        *ledger.Service
	limiter       ratelimit.Limiter
	production    bool
	logger        *zap.Logger
}

func NewHandler(
	adapters []provider.Adapter,
	contributions *repository.ContributionRepo,
	ledgerSvc *ledger.Service,
	limiter ratelimit.Limiter,
	production bool,
	logger *zap.Logger,
) *Handler {
	byName := make(map[domain.Provider]provider.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Handler{
		adapters:      byName,
		contributions: contributions,
		ledger:        ledgerSvc,
		limiter:       limiter,
		production:    production,
		logger:        logger,
	}
}

// Handle serves POST /webhooks/{provider}.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	providerName := domain.Provider(chi.URLParam(r, "provider"))

	adapter, ok := h.adapters[providerName]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	log := h.logger.With(
		zap.String("provider", string(providerName)),
		zap.String("remote_addr", r.RemoteAddr))

	// Rate limit by provider:ip before doing any work.
	remoteIP := hostOnly(r.RemoteAddr)
	allowed, retryAfter, err := h.limiter.Allow(ctx, fmt.Sprintf("%s:%s", providerName, remoteIP))
	if err != nil {
		// A broken limiter must not take webhooks down with it.
		log.Warn("rate limiter error, allowing request", zap.Error(err))
	} else if !allowed {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds()+1)))
		writeError(w, http.StatusTooManyRequests, "rate_limited")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}

	// The signature covers the bytes on the wire, never a re-serialised parse.
	if err := adapter.VerifySignature(raw, r.Header); err != nil {
		log.Warn("signature rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_signature")
		return
	}

	if h.production {
		if err := adapter.VerifySource(remoteIP); err != nil {
			log.Warn("source rejected", zap.String("ip", remoteIP))
			writeError(w, http.StatusForbidden, "invalid_source")
			return
		}
	}

	payload, err := adapter.Parse(raw)
	if err != nil {
		log.Warn("payload rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}

	if err := adapter.VerifyMerchant(payload); err != nil {
		log.Warn("merchant rejected")
		status := http.StatusBadRequest
		if h.production {
			status = http.StatusForbidden
		}
		writeError(w, status, "invalid_merchant")
		return
	}

	if payload.Timestamp == nil {
		log.Warn("payload carries no timestamp, replay window not enforced")
	} else if skew := time.Since(*payload.Timestamp); skew > maxTimestampSkew || skew < -maxTimestampSkew {
		log.Warn("timestamp outside skew window",
			zap.Time("payload_ts", *payload.Timestamp))
		writeError(w, http.StatusBadRequest, "invalid_timestamp")
		return
	}

	// Re-validate with the provider before trusting the payload at all. A
	// failure here is the provider's problem as much as ours: 502 so it
	// retries.
	if err := adapter.ValidateOrigin(ctx, raw); err != nil {
		log.Error("origin validation failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "validation_unavailable")
		return
	}

	ref := adapter.Reference(payload)
	if ref == "" {
		writeError(w, http.StatusBadRequest, "missing_reference")
		return
	}

	contribution, err := h.contributions.GetByProviderRef(providerName, ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Warn("unknown payment reference", zap.String("reference", ref))
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		log.Error("contribution lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	log = log.With(
		zap.String("contribution_id", contribution.ID),
		zap.String("reference", ref))

	// Already completed: the primary defense against duplicate delivery.
	// Acknowledge so the provider stops retrying a handled event.
	if contribution.Status == domain.ContributionCompleted {
		log.Info("duplicate delivery for completed contribution")
		writeReceived(w)
		return
	}

	reported, known := adapter.AmountCents(payload)
	if !known {
		log.Warn("provider reported no amount")
		writeError(w, http.StatusBadRequest, "amount_missing")
		return
	}
	if expected := contribution.ExpectedTotalCents(); reported != expected {
		// Never silently applied; surfaced for human review via logs.
		log.Warn("amount mismatch",
			zap.Int64("expected_cents", expected),
			zap.Int64("reported_cents", reported))
		writeError(w, http.StatusBadRequest, "amount_mismatch")
		return
	}

	next, mapped := ledger.MapProviderStatus(adapter.MapStatus(payload))
	if !mapped {
		log.Warn("unmapped provider status", zap.String("raw_status", payload.RawStatus))
		writeReceived(w)
		return
	}
	if next == contribution.Status {
		writeReceived(w)
		return
	}

	if _, err := h.ledger.ApplyStatus(ctx, contribution, next); err != nil {
		log.Error("status apply failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeReceived(w)
}

// --- helpers ---

func writeReceived(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func hostOnly(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
