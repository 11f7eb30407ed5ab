package provider

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dreampot/paycore/internal/domain"
)

// Status is a provider-reported payment status normalised across gateways.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPending   Status = "pending"
	StatusRefunded  Status = "refunded"
	StatusUnknown   Status = "unknown"
)

var (
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrInvalidSource      = errors.New("invalid source")
	ErrInvalidMerchant    = errors.New("invalid merchant")
	ErrListingUnsupported = errors.New("provider does not support transaction listing")
	ErrWebhookUnsupported = errors.New("provider does not deliver webhooks")
)

// Payload is the parsed form of one webhook delivery. Extraction failures are
// represented as zero values plus the Known flags so callers branch on data
// rather than on errors.
type Payload struct {
	Reference   string
	RawStatus   string
	AmountCents int64
	AmountKnown bool
	MerchantID  string
	MerchantKey string
	Timestamp   *time.Time
}

// Transaction is one provider-side transaction from a bulk listing call.
type Transaction struct {
	Reference   string
	AmountCents int64
	RawStatus   string
}

// Adapter is the per-gateway capability set. VerifySignature must be given
// the raw bytes as they arrived on the wire, never a re-serialised parse.
type Adapter interface {
	Name() domain.Provider

	VerifySignature(raw []byte, header http.Header) error
	// VerifySource checks the caller's IP against the provider's documented
	// ranges. Only enforced in production mode.
	VerifySource(remoteIP string) error
	VerifyMerchant(p *Payload) error

	Parse(raw []byte) (*Payload, error)
	MapStatus(p *Payload) Status
	Reference(p *Payload) string
	AmountCents(p *Payload) (int64, bool)

	// ValidateOrigin re-checks the payload against the provider's own
	// validation endpoint before it is trusted at all.
	ValidateOrigin(ctx context.Context, raw []byte) error

	// ListTransactions pages through all provider transactions in
	// [from, to]. Returns ErrListingUnsupported for gateways without a bulk
	// listing API.
	ListTransactions(ctx context.Context, from, to time.Time) ([]Transaction, error)
}

// mapCommonStatus normalises the status strings the gateways share. Individual
// adapters extend this where their vocabulary differs.
func mapCommonStatus(raw string) (Status, bool) {
	switch raw {
	case "completed", "complete", "success", "successful":
		return StatusCompleted, true
	case "failed", "error", "cancelled":
		return StatusFailed, true
	case "pending", "processing":
		return StatusPending, true
	case "refunded":
		return StatusRefunded, true
	}
	return StatusUnknown, false
}

// extractTimestamp tolerates the several field names gateways use for their
// event time. A missing timestamp yields nil, not an error; it is a secondary
// defense and the webhook handler only logs a warning.
func extractTimestamp(fields map[string]string) *time.Time {
	for _, key := range []string{"timestamp", "event_time", "created_at"} {
		v, ok := fields[key]
		if !ok || v == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, v); err == nil {
				return &t
			}
		}
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil && unix > 0 {
			t := time.Unix(unix, 0)
			return &t
		}
	}
	return nil
}
