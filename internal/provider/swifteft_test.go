package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dreampot/paycore/internal/config"
)

func TestSwiftEFTWebhookUnsupported(t *testing.T) {
	g := NewSwiftEFT(config.SwiftEFTConfig{}, zap.NewNop())

	if err := g.VerifySignature(nil, nil); err != ErrWebhookUnsupported {
		t.Fatalf("VerifySignature: want ErrWebhookUnsupported, got %v", err)
	}
	if _, err := g.Parse(nil); err != ErrWebhookUnsupported {
		t.Fatalf("Parse: want ErrWebhookUnsupported, got %v", err)
	}
	if err := g.ValidateOrigin(context.Background(), nil); err != ErrWebhookUnsupported {
		t.Fatalf("ValidateOrigin: want ErrWebhookUnsupported, got %v", err)
	}
}

func TestSwiftEFTMapStatus(t *testing.T) {
	g := NewSwiftEFT(config.SwiftEFTConfig{}, zap.NewNop())
	cases := map[string]Status{
		"Successful": StatusCompleted,
		"completed":  StatusCompleted,
		"FAILED":     StatusFailed,
		"Pending":    StatusPending,
		"refunded":   StatusRefunded,
		"sideways":   StatusUnknown,
	}
	for raw, want := range cases {
		if got := g.MapStatus(&Payload{RawStatus: raw}); got != want {
			t.Errorf("%s: want %s, got %s", raw, want, got)
		}
	}
	if got := g.MapStatus(nil); got != StatusUnknown {
		t.Errorf("nil payload: want unknown, got %s", got)
	}
}

func TestSwiftEFTListTransactions(t *testing.T) {
	t.Run("walks_offsets_until_total", func(t *testing.T) {
		const total = 5
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			if r.Header.Get("X-API-Key") != "eft_key" {
				t.Errorf("api key: got %q", r.Header.Get("X-API-Key"))
			}

			fmt.Fprint(w, `{"transactions":[`)
			wrote := false
			for i := offset; i < total && i < offset+limit; i++ {
				if wrote {
					fmt.Fprint(w, ",")
				}
				fmt.Fprintf(w, `{"reference":"EFT-%d","status":"completed","amount_cents":%d}`, i, (i+1)*100)
				wrote = true
			}
			fmt.Fprintf(w, `],"total":%d}`, total)
		}))
		defer srv.Close()

		g := NewSwiftEFT(config.SwiftEFTConfig{
			APIBase:  srv.URL,
			APIKey:   "eft_key",
			PageSize: 2,
		}, zap.NewNop())

		txns, err := g.ListTransactions(context.Background(), time.Now().Add(-time.Hour), time.Now())
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(txns) != total {
			t.Fatalf("transactions: want %d, got %d", total, len(txns))
		}
		if txns[4].Reference != "EFT-4" || txns[4].AmountCents != 500 {
			t.Fatalf("last transaction: %+v", txns[4])
		}
	})

	t.Run("empty_page_before_total_stops", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
			if offset == 0 {
				fmt.Fprint(w, `{"transactions":[{"reference":"EFT-0","status":"completed","amount_cents":100}],"total":10}`)
				return
			}
			fmt.Fprint(w, `{"transactions":[],"total":10}`)
		}))
		defer srv.Close()

		g := NewSwiftEFT(config.SwiftEFTConfig{
			APIBase:  srv.URL,
			APIKey:   "eft_key",
			PageSize: 2,
		}, zap.NewNop())

		txns, err := g.ListTransactions(context.Background(), time.Now().Add(-time.Hour), time.Now())
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(txns) != 1 {
			t.Fatalf("transactions: want 1, got %d", len(txns))
		}
	})

	t.Run("server_error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{}`)
		}))
		defer srv.Close()

		g := NewSwiftEFT(config.SwiftEFTConfig{
			APIBase:  srv.URL,
			APIKey:   "eft_key",
			PageSize: 2,
		}, zap.NewNop())

		if _, err := g.ListTransactions(context.Background(), time.Now().Add(-time.Hour), time.Now()); err == nil {
			t.Fatal("non-200 listing must surface an error")
		}
	})
}
