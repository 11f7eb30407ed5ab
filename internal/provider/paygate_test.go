package provider

import (
	"context"
	"crypto/md5"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dreampot/paycore/internal/config"
)

func payGateConfig() config.PayGateConfig {
	return config.PayGateConfig{
		MerchantID:   "10000100",
		MerchantKey:  "46f0cd694581a",
		Passphrase:   "jt7NOE43FZPn",
		AllowedCIDRs: []string{"197.97.145.144/28"},
	}
}

// signPayGate computes the body checksum the way the gateway documents it:
// non-empty fields sorted by name, passphrase appended.
func signPayGate(fields url.Values, passphrase string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
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
	if passphrase != "" {
		b.WriteString("&passphrase=")
		b.WriteString(url.QueryEscape(passphrase))
	}
	return fmt.Sprintf("%x", md5.Sum([]byte(b.String())))
}

func payGateBody(t *testing.T, cfg config.PayGateConfig, overrides map[string]string) []byte {
	t.Helper()
	fields := url.Values{}
	fields.Set("merchant_id", cfg.MerchantID)
	fields.Set("merchant_key", cfg.MerchantKey)
	fields.Set("reference", "PG-1001")
	fields.Set("payment_status", "COMPLETE")
	fields.Set("amount_gross", "52.50")
	fields.Set("timestamp", time.Now().UTC().Format(time.RFC3339))
	for k, v := range overrides {
		fields.Set(k, v)
	}
	fields.Set("signature", signPayGate(fields, cfg.Passphrase))
	return []byte(fields.Encode())
}

func TestPayGateVerifySignature(t *testing.T) {
	cfg := payGateConfig()
	g := NewPayGate(cfg, zap.NewNop())

	t.Run("valid", func(t *testing.T) {
		if err := g.VerifySignature(payGateBody(t, cfg, nil), nil); err != nil {
			t.Fatalf("valid signature rejected: %v", err)
		}
	})

	t.Run("tampered_amount", func(t *testing.T) {
		body := payGateBody(t, cfg, nil)
		tampered := strings.Replace(string(body), "52.50", "1.00", 1)
		if err := g.VerifySignature([]byte(tampered), nil); err != ErrInvalidSignature {
			t.Fatalf("want ErrInvalidSignature, got %v", err)
		}
	})

	t.Run("missing_signature", func(t *testing.T) {
		if err := g.VerifySignature([]byte("reference=PG-1&amount_gross=5.00"), nil); err != ErrInvalidSignature {
			t.Fatalf("want ErrInvalidSignature, got %v", err)
		}
	})

	t.Run("wrong_passphrase", func(t *testing.T) {
		otherCfg := cfg
		otherCfg.Passphrase = "different"
		other := NewPayGate(otherCfg, zap.NewNop())
		if err := other.VerifySignature(payGateBody(t, cfg, nil), nil); err != ErrInvalidSignature {
			t.Fatalf("want ErrInvalidSignature, got %v", err)
		}
	})
}

func TestPayGateVerifySource(t *testing.T) {
	g := NewPayGate(payGateConfig(), zap.NewNop())

	if err := g.VerifySource("197.97.145.145"); err != nil {
		t.Fatalf("allow-listed ip rejected: %v", err)
	}
	if err := g.VerifySource("203.0.113.7"); err != ErrInvalidSource {
		t.Fatalf("want ErrInvalidSource, got %v", err)
	}
	if err := g.VerifySource("not-an-ip"); err != ErrInvalidSource {
		t.Fatalf("want ErrInvalidSource, got %v", err)
	}
}

func TestPayGateVerifyMerchant(t *testing.T) {
	cfg := payGateConfig()
	g := NewPayGate(cfg, zap.NewNop())

	p, err := g.Parse(payGateBody(t, cfg, nil))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := g.VerifyMerchant(p); err != nil {
		t.Fatalf("valid merchant rejected: %v", err)
	}

	p.MerchantID = "999"
	if err := g.VerifyMerchant(p); err != ErrInvalidMerchant {
		t.Fatalf("want ErrInvalidMerchant, got %v", err)
	}
}

func TestPayGateParse(t *testing.T) {
	cfg := payGateConfig()
	g := NewPayGate(cfg, zap.NewNop())

	p, err := g.Parse(payGateBody(t, cfg, nil))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Reference != "PG-1001" {
		t.Fatalf("reference: got %q", p.Reference)
	}
	if !p.AmountKnown || p.AmountCents != 5250 {
		t.Fatalf("amount: got %d known=%v", p.AmountCents, p.AmountKnown)
	}
	if p.Timestamp == nil {
		t.Fatal("timestamp not extracted")
	}
	if got := g.MapStatus(p); got != StatusCompleted {
		t.Fatalf("status: want completed, got %s", got)
	}

	t.Run("garbage", func(t *testing.T) {
		if _, err := g.Parse([]byte("%%%not-a-form")); err != ErrInvalidPayload {
			t.Fatalf("want ErrInvalidPayload, got %v", err)
		}
	})

	t.Run("missing_amount", func(t *testing.T) {
		p, err := g.Parse([]byte("reference=PG-2&payment_status=COMPLETE"))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if _, known := g.AmountCents(p); known {
			t.Fatal("amount should be unknown")
		}
	})
}

func TestPayGateMapStatus(t *testing.T) {
	g := NewPayGate(payGateConfig(), zap.NewNop())
	cases := map[string]Status{
		"COMPLETE":  StatusCompleted,
		"FAILED":    StatusFailed,
		"CANCELLED": StatusFailed,
		"PENDING":   StatusPending,
		"REFUNDED":  StatusRefunded,
		"WEIRD":     StatusUnknown,
	}
	for raw, want := range cases {
		if got := g.MapStatus(&Payload{RawStatus: raw}); got != want {
			t.Errorf("%s: want %s, got %s", raw, want, got)
		}
	}
}

func TestPayGateValidateOrigin(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "VALID")
		}))
		defer srv.Close()

		cfg := payGateConfig()
		cfg.ValidateURL = srv.URL
		g := NewPayGate(cfg, zap.NewNop())
		if err := g.ValidateOrigin(context.Background(), []byte("reference=PG-1")); err != nil {
			t.Fatalf("validate: %v", err)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "INVALID")
		}))
		defer srv.Close()

		cfg := payGateConfig()
		cfg.ValidateURL = srv.URL
		g := NewPayGate(cfg, zap.NewNop())
		if err := g.ValidateOrigin(context.Background(), []byte("reference=PG-1")); err == nil {
			t.Fatal("INVALID response must fail origin validation")
		}
	})
}

func TestPayGateListingUnsupported(t *testing.T) {
	g := NewPayGate(payGateConfig(), zap.NewNop())
	if _, err := g.ListTransactions(context.Background(), time.Now().Add(-time.Hour), time.Now()); err != ErrListingUnsupported {
		t.Fatalf("want ErrListingUnsupported, got %v", err)
	}
}

func TestParseGrossCents(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"52.50", 5250, true},
		{"52.5", 5250, true},
		{"52", 5200, true},
		{"0.05", 5, true},
		{"", 0, false},
		{"abc", 0, false},
	}
	for _, c := range cases {
		got, ok := parseGrossCents(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("%q: want (%d,%v), got (%d,%v)", c.in, c.want, c.ok, got, ok)
		}
	}
}
