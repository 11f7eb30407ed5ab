package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dreampot/paycore/internal/config"
	"github.com/dreampot/paycore/internal/domain"
)

// ScanPay is the QR gateway. Webhooks are form-encoded with a single payload
// field carrying JSON; the signature is an HMAC-SHA256 over the raw body
// presented in the Authorization header.
type ScanPay struct {
	cfg        config.ScanPayConfig
	httpClient *http.Client
	logger     *zap.Logger
}

func NewScanPay(cfg config.ScanPayConfig, logger *zap.Logger) *ScanPay {
	return &ScanPay{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (g *ScanPay) Name() domain.Provider { return domain.ProviderScanPay }

// VerifySignature expects "ScanPay signature=<hex>" in the Authorization
// header and checks it against an HMAC over the bytes on the wire.
func (g *ScanPay) VerifySignature(raw []byte, header http.Header) error {
	auth := header.Get("Authorization")
	const prefix = "ScanPay signature="
	if !strings.HasPrefix(auth, prefix) {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(auth, prefix))
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(g.cfg.WebhookSecret))
	mac.Write(raw)
	if !hmac.Equal(mac.Sum(nil), got) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifySource is a no-op: the gateway publishes no source ranges and the
// HMAC over the raw body is the primary authorization.
func (g *ScanPay) VerifySource(string) error { return nil }

func (g *ScanPay) VerifyMerchant(p *Payload) error {
	if p.MerchantID != "" && p.MerchantID != g.cfg.APIKey {
		return ErrInvalidMerchant
	}
	return nil
}

type scanPayEvent struct {
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	AmountCents *int64 `json:"amount_cents"`
	MerchantKey string `json:"merchant_key,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	EventTime   string `json:"event_time,omitempty"`
}

func (g *ScanPay) Parse(raw []byte) (*Payload, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, ErrInvalidPayload
	}
	encoded := values.Get("payload")
	if encoded == "" {
		return nil, ErrInvalidPayload
	}

	var ev scanPayEvent
	if err := json.Unmarshal([]byte(encoded), &ev); err != nil {
		return nil, ErrInvalidPayload
	}

	p := &Payload{
		Reference:  ev.Reference,
		RawStatus:  ev.Status,
		MerchantID: ev.MerchantKey,
		Timestamp: extractTimestamp(map[string]string{
			"timestamp":  ev.Timestamp,
			"event_time": ev.EventTime,
		}),
	}
	if ev.AmountCents != nil {
		p.AmountCents = *ev.AmountCents
		p.AmountKnown = true
	}
	return p, nil
}

func (g *ScanPay) MapStatus(p *Payload) Status {
	if s, ok := mapCommonStatus(strings.ToLower(p.RawStatus)); ok {
		return s
	}
	return StatusUnknown
}

func (g *ScanPay) Reference(p *Payload) string { return p.Reference }

func (g *ScanPay) AmountCents(p *Payload) (int64, bool) {
	return p.AmountCents, p.AmountKnown
}

// ValidateOrigin re-queries the payment on the gateway's API. A payload whose
// reference the gateway does not know is not trusted.
func (g *ScanPay) ValidateOrigin(ctx context.Context, raw []byte) error {
	p, err := g.Parse(raw)
	if err != nil {
		return err
	}
	if p.Reference == "" {
		return ErrInvalidPayload
	}

	u := fmt.Sprintf("%s/api/v1/payments/%s", g.cfg.APIBase, url.PathEscape(p.Reference))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build validate request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("validate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway does not recognise payment %s: status=%d", p.Reference, resp.StatusCode)
	}
	return nil
}

type scanPayListPage struct {
	Payments []struct {
		Reference   string `json:"reference"`
		Status      string `json:"status"`
		AmountCents int64  `json:"amount_cents"`
	} `json:"payments"`
	HasMore bool `json:"has_more"`
}

// ListTransactions pages through the gateway's payment listing until it
// signals completion via has_more=false. An empty page while has_more is
// still true means the listing terminated early; that is logged and paging
// stops rather than looping forever.
func (g *ScanPay) ListTransactions(ctx context.Context, from, to time.Time) ([]Transaction, error) {
	var out []Transaction
	for page := 1; ; page++ {
		u := fmt.Sprintf("%s/api/v1/payments?from=%s&to=%s&page=%d",
			g.cfg.APIBase,
			url.QueryEscape(from.Format(time.RFC3339)),
			url.QueryEscape(to.Format(time.RFC3339)),
			page)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("build list request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("list page %d: %w", page, err)
		}

		var pg scanPayListPage
		err = json.NewDecoder(resp.Body).Decode(&pg)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode page %d: %w", page, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("list page %d: status=%d", page, resp.StatusCode)
		}

		for _, pay := range pg.Payments {
			out = append(out, Transaction{
				Reference:   pay.Reference,
				AmountCents: pay.AmountCents,
				RawStatus:   pay.Status,
			})
		}

		if !pg.HasMore {
			return out, nil
		}
		if len(pg.Payments) == 0 {
			g.logger.Warn("listing ended without completion signal",
				zap.String("provider", string(domain.ProviderScanPay)),
				zap.Int("page", page),
				zap.Int("collected", len(out)))
			return out, nil
		}
	}
}
