package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	ContributionReceived = "contribution.received"
	PotFunded            = "pot.funded"
)

// Event is the fan-out payload sent to the partner-event system. Consumers
// must be idempotent: delivery is at-least-once and failures here are logged,
// never surfaced to the webhook caller.
type Event struct {
	Type           string    `json:"type"`
	BoardID        string    `json:"board_id"`
	ContributionID string    `json:"contribution_id,omitempty"`
	AmountCents    int64     `json:"amount_cents,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// HTTPEmitter posts events to the partner-event endpoint, signed with an
// HMAC-SHA256 over the payload and timestamp.
type HTTPEmitter struct {
	url        string
	secret     string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewHTTPEmitter(url, secret string, logger *zap.Logger) *HTTPEmitter {
	return &HTTPEmitter{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (e *HTTPEmitter) Emit(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build event request: %w", err)
	}

	ts := time.Now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", ts))
	req.Header.Set("X-Signature", sign(payload, ts, e.secret))

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event endpoint returned status %d", resp.StatusCode)
	}

	e.logger.Info("event emitted",
		zap.String("type", ev.Type),
		zap.String("board_id", ev.BoardID))
	return nil
}

func sign(payload []byte, timestamp int64, secret string) string {
	message := fmt.Sprintf("%s.%d", payload, timestamp)
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// LogEmitter only logs events; used when no partner endpoint is configured.
type LogEmitter struct {
	Logger *zap.Logger
}

func (e LogEmitter) Emit(_ context.Context, ev Event) error {
	e.Logger.Info("event (no partner endpoint configured)",
		zap.String("type", ev.Type),
		zap.String("board_id", ev.BoardID),
		zap.String("contribution_id", ev.ContributionID))
	return nil
}
