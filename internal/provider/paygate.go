package provider

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/subtle"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dreampot/paycore/internal/config"
	"github.com/dreampot/paycore/internal/domain"
)

// PayGate is the card gateway. Webhooks arrive form-urlencoded with the
// checksum carried in the body's signature field; there is no bulk listing
// API, so reconciliation cannot resolve its pending items automatically.
type PayGate struct {
	cfg        config.PayGateConfig
	httpClient *http.Client
	logger     *zap.Logger
}

func NewPayGate(cfg config.PayGateConfig, logger *zap.Logger) *PayGate {
	return &PayGate{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (g *PayGate) Name() domain.Provider { return domain.ProviderPayGate }

// VerifySignature recomputes the checksum over the sorted form fields,
// salted with the merchant passphrase when one is configured. The signature
// field itself is excluded from the computation.
func (g *PayGate) VerifySignature(raw []byte, _ http.Header) error {
	fields, err := url.ParseQuery(string(raw))
	if err != nil {
		return ErrInvalidPayload
	}

	got := fields.Get("signature")
	if got == "" {
		return ErrInvalidSignature
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v := fields.Get(k)
		if v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(v))
	}
	if g.cfg.Passphrase != "" {
		b.WriteString("&passphrase=")
		b.WriteString(url.QueryEscape(g.cfg.Passphrase))
	}

	want := fmt.Sprintf("%x", md5.Sum([]byte(b.String())))
	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

func (g *PayGate) VerifySource(remoteIP string) error {
	ip := net.ParseIP(remoteIP)
	if ip == nil {
		return ErrInvalidSource
	}
	for _, cidr := range g.cfg.AllowedCIDRs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			g.logger.Warn("bad source cidr in config", zap.String("cidr", cidr))
			continue
		}
		if ipnet.Contains(ip) {
			return nil
		}
	}
	return ErrInvalidSource
}

func (g *PayGate) VerifyMerchant(p *Payload) error {
	if p.MerchantID != g.cfg.MerchantID || p.MerchantKey != g.cfg.MerchantKey {
		return ErrInvalidMerchant
	}
	return nil
}

func (g *PayGate) Parse(raw []byte) (*Payload, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, ErrInvalidPayload
	}

	fields := make(map[string]string, len(values))
	for k := range values {
		fields[k] = values.Get(k)
	}

	p := &Payload{
		Reference:   fields["reference"],
		RawStatus:   fields["payment_status"],
		MerchantID:  fields["merchant_id"],
		MerchantKey: fields["merchant_key"],
		Timestamp:   extractTimestamp(fields),
	}

	// amount_gross is in currency units with two decimals.
	if cents, ok := parseGrossCents(fields["amount_gross"]); ok {
		p.AmountCents = cents
		p.AmountKnown = true
	}

	return p, nil
}

func (g *PayGate) MapStatus(p *Payload) Status {
	switch p.RawStatus {
	case "COMPLETE":
		return StatusCompleted
	case "FAILED", "CANCELLED":
		return StatusFailed
	case "PENDING":
		return StatusPending
	case "REFUNDED":
		return StatusRefunded
	}
	if s, ok := mapCommonStatus(strings.ToLower(p.RawStatus)); ok {
		return s
	}
	return StatusUnknown
}

func (g *PayGate) Reference(p *Payload) string { return p.Reference }

func (g *PayGate) AmountCents(p *Payload) (int64, bool) {
	return p.AmountCents, p.AmountKnown
}

// ValidateOrigin posts the raw payload back to the gateway's validation
// endpoint. Anything other than a VALID body means the payload cannot be
// trusted.
func (g *PayGate) ValidateOrigin(ctx context.Context, raw []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.ValidateURL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build validate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("validate request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return fmt.Errorf("read validate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "VALID" {
		return fmt.Errorf("gateway rejected payload: status=%d body=%q", resp.StatusCode, body)
	}
	return nil
}

func (g *PayGate) ListTransactions(_ context.Context, _, _ time.Time) ([]Transaction, error) {
	return nil, ErrListingUnsupported
}

func parseGrossCents(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	whole, frac, _ := strings.Cut(s, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, false
	}
	cents := units * 100
	if frac != "" {
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		c, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, false
		}
		if units < 0 {
			cents -= c
		} else {
			cents += c
		}
	}
	return cents, true
}
