package provider

import (
	"context"
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

// SwiftEFT is the EFT gateway. Bank transfers settle out-of-band, so there is
// no inbound webhook; reconciliation drives everything through the
// offset-paginated transaction listing.
type SwiftEFT struct {
	cfg        config.SwiftEFTConfig
	httpClient *http.Client
	logger     *zap.Logger
}

func NewSwiftEFT(cfg config.SwiftEFTConfig, logger *zap.Logger) *SwiftEFT {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &SwiftEFT{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (g *SwiftEFT) Name() domain.Provider { return domain.ProviderSwiftEFT }

func (g *SwiftEFT) VerifySignature([]byte, http.Header) error { return ErrWebhookUnsupported }
func (g *SwiftEFT) VerifySource(string) error                 { return ErrWebhookUnsupported }
func (g *SwiftEFT) VerifyMerchant(*Payload) error             { return ErrWebhookUnsupported }

func (g *SwiftEFT) Parse([]byte) (*Payload, error) {
	return nil, ErrWebhookUnsupported
}

func (g *SwiftEFT) MapStatus(p *Payload) Status {
	if p == nil {
		return StatusUnknown
	}
	if s, ok := mapCommonStatus(strings.ToLower(p.RawStatus)); ok {
		return s
	}
	return StatusUnknown
}

func (g *SwiftEFT) Reference(p *Payload) string { return p.Reference }

func (g *SwiftEFT) AmountCents(p *Payload) (int64, bool) {
	return p.AmountCents, p.AmountKnown
}

func (g *SwiftEFT) ValidateOrigin(context.Context, []byte) error {
	return ErrWebhookUnsupported
}

type swiftEFTListPage struct {
	Transactions []struct {
		Reference   string `json:"reference"`
		Status      string `json:"status"`
		AmountCents int64  `json:"amount_cents"`
	} `json:"transactions"`
	Total int `json:"total"`
}

// ListTransactions walks the offset-paginated listing until offset reaches
// the reported total. An empty page before that point means the listing
// terminated early without a completion signal; log and stop.
func (g *SwiftEFT) ListTransactions(ctx context.Context, from, to time.Time) ([]Transaction, error) {
	var out []Transaction
	for offset := 0; ; offset += g.cfg.PageSize {
		u := fmt.Sprintf("%s/v2/transactions?from=%s&to=%s&offset=%d&limit=%d",
			g.cfg.APIBase,
			url.QueryEscape(from.Format(time.RFC3339)),
			url.QueryEscape(to.Format(time.RFC3339)),
			offset, g.cfg.PageSize)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("build list request: %w", err)
		}
		req.Header.Set("X-API-Key", g.cfg.APIKey)

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("list offset %d: %w", offset, err)
		}

		var pg swiftEFTListPage
		err = json.NewDecoder(resp.Body).Decode(&pg)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode offset %d: %w", offset, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("list offset %d: status=%d", offset, resp.StatusCode)
		}

		for _, txn := range pg.Transactions {
			out = append(out, Transaction{
				Reference:   txn.Reference,
				AmountCents: txn.AmountCents,
				RawStatus:   txn.Status,
			})
		}

		if len(out) >= pg.Total {
			return out, nil
		}
		if len(pg.Transactions) == 0 {
			g.logger.Warn("listing ended without completion signal",
				zap.String("provider", string(domain.ProviderSwiftEFT)),
				zap.Int("offset", offset),
				zap.Int("collected", len(out)),
				zap.Int("reported_total", pg.Total))
			return out, nil
		}
	}
}
