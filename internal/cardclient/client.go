package cardclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dreampot/paycore/internal/config"
)

// ErrContract marks responses that break the provider's documented shape
// (missing status or transaction id). These are bugs or outages, not
// transient failures: retrying a structurally malformed response will not
// help, so callers must not treat them as normal top-up failures.
var ErrContract = errors.New("card provider contract violation")

type TopUpStatus string

const (
	TopUpCompleted TopUpStatus = "completed"
	TopUpPending   TopUpStatus = "pending"
	TopUpFailed    TopUpStatus = "failed"
)

type VerifyResult struct {
	Valid               bool   `json:"valid"`
	CardholderFirstName string `json:"cardholderFirstName,omitempty"`
	ErrorCode           string `json:"errorCode,omitempty"`
}

type TopUpRequest struct {
	CardNumber  string `json:"cardNumber"`
	AmountCents int64  `json:"amountCents"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
}

type TopUpResult struct {
	TransactionID string
	Status        TopUpStatus
	ErrorMessage  string
}

// Client talks to the card provider's top-up API.
type Client struct {
	cfg        config.CardProviderConfig
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg config.CardProviderConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (c *Client) VerifyCard(ctx context.Context, cardNumber string) (*VerifyResult, error) {
	body, err := c.post(ctx, "/cards/verify", map[string]string{"cardNumber": cardNumber})
	if err != nil {
		return nil, err
	}

	var res VerifyResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}
	return &res, nil
}

type topUpResponse struct {
	TransactionID string `json:"transactionId"`
	ID            string `json:"id"`
	Status        string `json:"status"`
	ErrorMessage  string `json:"errorMessage"`
}

func (c *Client) TopUp(ctx context.Context, req *TopUpRequest) (*TopUpResult, error) {
	c.logger.Info("requesting card top-up",
		zap.String("reference", req.Reference),
		zap.Int64("amount_cents", req.AmountCents))

	body, err := c.post(ctx, "/topups", req)
	if err != nil {
		return nil, err
	}

	var raw topUpResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode topup response: %w", err)
	}

	// The provider returns the transaction id under either key.
	txnID := raw.TransactionID
	if txnID == "" {
		txnID = raw.ID
	}

	switch TopUpStatus(raw.Status) {
	case TopUpCompleted, TopUpPending:
		if txnID == "" {
			return nil, fmt.Errorf("%w: status %q without transaction id", ErrContract, raw.Status)
		}
	case TopUpFailed:
		// A failed top-up may legitimately carry no transaction id.
	default:
		return nil, fmt.Errorf("%w: missing or unknown status %q", ErrContract, raw.Status)
	}

	return &TopUpResult{
		TransactionID: txnID,
		Status:        TopUpStatus(raw.Status),
		ErrorMessage:  raw.ErrorMessage,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, body)
	}
	return body, nil
}
