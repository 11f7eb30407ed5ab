package reconciliation

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dreampot/paycore/internal/cache"
	"github.com/dreampot/paycore/internal/domain"
	"github.com/dreampot/paycore/internal/events"
	"github.com/dreampot/paycore/internal/ledger"
	"github.com/dreampot/paycore/internal/provider"
	"github.com/dreampot/paycore/internal/repository"
)

type fakeAdapter struct {
	name    domain.Provider
	txns    []provider.Transaction
	listErr error
	calls   int
}

func (f *fakeAdapter) Name() domain.Provider { return f.name }

func (f *fakeAdapter) ListTransactions(context.Context, time.Time, time.Time) ([]provider.Transaction, error) {
	f.calls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.txns, nil
}

func (f *fakeAdapter) MapStatus(p *provider.Payload) provider.Status {
	switch strings.ToLower(p.RawStatus) {
	case "successful", "completed":
		return provider.StatusCompleted
	case "failed":
		return provider.StatusFailed
	case "pending":
		return provider.StatusPending
	}
	return provider.StatusUnknown
}

func (f *fakeAdapter) VerifySignature([]byte, http.Header) error { return nil }
func (f *fakeAdapter) VerifySource(string) error                 { return nil }
func (f *fakeAdapter) VerifyMerchant(*provider.Payload) error    { return nil }
func (f *fakeAdapter) Parse([]byte) (*provider.Payload, error)   { return nil, nil }
func (f *fakeAdapter) Reference(p *provider.Payload) string      { return p.Reference }
func (f *fakeAdapter) ValidateOrigin(context.Context, []byte) error { return nil }

func (f *fakeAdapter) AmountCents(p *provider.Payload) (int64, bool) {
	return p.AmountCents, p.AmountKnown
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts [][]domain.Mismatch
}

func (n *fakeNotifier) SendMismatchAlert(_ context.Context, _ string, mismatches []domain.Mismatch) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, mismatches)
	return nil
}

func (n *fakeNotifier) SendPayoutConfirmation(context.Context, *domain.Payout) error { return nil }

type testEnv struct {
	db            *sql.DB
	contributions *repository.ContributionRepo
	adapter       *fakeAdapter
	notifier      *fakeNotifier
	svc           *Service
	now           time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := repository.InitDB(":memory:")
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	contributions := repository.NewContributionRepo(db)
	boards := repository.NewBoardRepo(db)
	logger := zap.NewNop()

	ledgerSvc := ledger.NewService(
		contributions, boards, cache.NoopBoardCache{}, events.LogEmitter{Logger: logger}, logger)

	adapter := &fakeAdapter{name: domain.ProviderSwiftEFT}
	notifier := &fakeNotifier{}
	svc := NewService(
		contributions, ledgerSvc, []provider.Adapter{adapter}, notifier,
		1, 48*time.Hour, 30*24*time.Hour, logger)

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	if err := boards.Insert(&domain.Board{
		ID:        "board-1",
		Title:     "Wedding Pot",
		GoalCents: 100000,
		CreatedAt: now.Add(-40 * 24 * time.Hour),
	}); err != nil {
		t.Fatalf("insert board: %v", err)
	}

	return &testEnv{
		db:            db,
		contributions: contributions,
		adapter:       adapter,
		notifier:      notifier,
		svc:           svc,
		now:           now,
	}
}

func (e *testEnv) seedPending(t *testing.T, id, ref string, age time.Duration) {
	t.Helper()
	err := e.contributions.Insert(&domain.Contribution{
		ID:               id,
		BoardID:          "board-1",
		Provider:         domain.ProviderSwiftEFT,
		PaymentReference: ref,
		AmountCents:      5000,
		FeeCents:         250,
		Status:           domain.ContributionPending,
		CreatedAt:        e.now.Add(-age),
	})
	if err != nil {
		t.Fatalf("insert contribution: %v", err)
	}
}

func (e *testEnv) status(t *testing.T, id string) domain.ContributionStatus {
	t.Helper()
	c, err := e.contributions.GetByID(id)
	if err != nil {
		t.Fatalf("reload contribution: %v", err)
	}
	return c.Status
}

func primaryWindow(e *testEnv) Window {
	return Window{From: e.now.Add(-48 * time.Hour), To: e.now}
}

func TestRunAppliesProviderTruth(t *testing.T) {
	env := newTestEnv(t)
	env.seedPending(t, "c1", "EFT-1", time.Hour)
	env.adapter.txns = []provider.Transaction{
		{Reference: "EFT-1", AmountCents: 5250, RawStatus: "successful"},
	}

	result, err := env.svc.Run(context.Background(), PassPrimary, primaryWindow(env))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Scanned != 1 || result.Updated != 1 {
		t.Fatalf("result: %+v", result)
	}
	if got := env.status(t, "c1"); got != domain.ContributionCompleted {
		t.Fatalf("status: want completed, got %s", got)
	}
	if len(env.notifier.alerts) != 0 {
		t.Fatalf("no alert expected, got %d", len(env.notifier.alerts))
	}
}

func TestRunAmountMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.seedPending(t, "c1", "EFT-1", time.Hour)
	env.adapter.txns = []provider.Transaction{
		{Reference: "EFT-1", AmountCents: 9000, RawStatus: "successful"},
	}

	result, err := env.svc.Run(context.Background(), PassPrimary, primaryWindow(env))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Updated != 0 || len(result.Mismatches) != 1 {
		t.Fatalf("result: %+v", result)
	}
	m := result.Mismatches[0]
	if m.ExpectedCents != 5250 || m.ReceivedCents != 9000 {
		t.Fatalf("mismatch: %+v", m)
	}
	if got := env.status(t, "c1"); got != domain.ContributionPending {
		t.Fatalf("mismatch must never change status, got %s", got)
	}
	if len(env.notifier.alerts) != 1 || len(env.notifier.alerts[0]) != 1 {
		t.Fatalf("want one aggregated alert with one mismatch, got %+v", env.notifier.alerts)
	}
}

func TestRunAggregatesMismatchesIntoOneAlert(t *testing.T) {
	env := newTestEnv(t)
	env.seedPending(t, "c1", "EFT-1", time.Hour)
	env.seedPending(t, "c2", "EFT-2", 2*time.Hour)
	env.adapter.txns = []provider.Transaction{
		{Reference: "EFT-1", AmountCents: 9000, RawStatus: "successful"},
		{Reference: "EFT-2", AmountCents: 100, RawStatus: "successful"},
	}

	result, err := env.svc.Run(context.Background(), PassPrimary, primaryWindow(env))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Mismatches) != 2 {
		t.Fatalf("mismatches: want 2, got %d", len(result.Mismatches))
	}
	if len(env.notifier.alerts) != 1 || len(env.notifier.alerts[0]) != 2 {
		t.Fatalf("want one alert carrying both mismatches, got %+v", env.notifier.alerts)
	}
}

func TestRunMissingFromListing(t *testing.T) {
	env := newTestEnv(t)
	env.seedPending(t, "c1", "EFT-1", time.Hour)
	env.adapter.txns = nil

	result, err := env.svc.Run(context.Background(), PassPrimary, primaryWindow(env))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Unresolved != 1 || result.Updated != 0 {
		t.Fatalf("result: %+v", result)
	}
	if got := env.status(t, "c1"); got != domain.ContributionPending {
		t.Fatalf("status: want pending, got %s", got)
	}
}

func TestRunListingUnsupported(t *testing.T) {
	env := newTestEnv(t)
	env.seedPending(t, "c1", "EFT-1", time.Hour)
	env.seedPending(t, "c2", "EFT-2", 2*time.Hour)
	env.adapter.listErr = provider.ErrListingUnsupported

	result, err := env.svc.Run(context.Background(), PassPrimary, primaryWindow(env))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Unresolved != 2 {
		t.Fatalf("result: %+v", result)
	}
}

func TestRunListingErrorFailsSafe(t *testing.T) {
	env := newTestEnv(t)
	env.seedPending(t, "c1", "EFT-1", time.Hour)
	env.adapter.listErr = errors.New("gateway down")

	result, err := env.svc.Run(context.Background(), PassPrimary, primaryWindow(env))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Unresolved != 1 || result.Failed != 0 {
		t.Fatalf("fetch error must leave the batch unresolved: %+v", result)
	}
	if got := env.status(t, "c1"); got != domain.ContributionPending {
		t.Fatalf("status: want pending, got %s", got)
	}
}

func TestRunSameStatusUnresolved(t *testing.T) {
	env := newTestEnv(t)
	env.seedPending(t, "c1", "EFT-1", time.Hour)
	env.adapter.txns = []provider.Transaction{
		{Reference: "EFT-1", AmountCents: 5250, RawStatus: "pending"},
	}

	result, err := env.svc.Run(context.Background(), PassPrimary, primaryWindow(env))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Unresolved != 1 || result.Updated != 0 {
		t.Fatalf("result: %+v", result)
	}
}

func TestRunBothSplitsWindows(t *testing.T) {
	env := newTestEnv(t)
	env.seedPending(t, "recent", "EFT-recent", time.Hour)
	env.seedPending(t, "old", "EFT-old", 10*24*time.Hour)
	env.adapter.txns = []provider.Transaction{
		{Reference: "EFT-recent", AmountCents: 5250, RawStatus: "successful"},
		{Reference: "EFT-old", AmountCents: 5250, RawStatus: "successful"},
	}

	report, err := env.svc.RunBoth(context.Background())
	if err != nil {
		t.Fatalf("run both: %v", err)
	}

	if report.Scanned != 1 || report.Updated != 1 {
		t.Fatalf("primary: %+v", report.PassReport)
	}
	if report.LongTail.Scanned != 1 || report.LongTail.Updated != 1 {
		t.Fatalf("long tail: %+v", report.LongTail)
	}
	if !report.Window.To.Equal(env.now) {
		t.Fatalf("primary window end: %v", report.Window.To)
	}
	if !report.LongTail.Window.To.Equal(env.now.Add(-48 * time.Hour)) {
		t.Fatalf("long tail window must end where primary begins: %v", report.LongTail.Window.To)
	}

	if got := env.status(t, "recent"); got != domain.ContributionCompleted {
		t.Fatalf("recent: want completed, got %s", got)
	}
	if got := env.status(t, "old"); got != domain.ContributionCompleted {
		t.Fatalf("old: want completed, got %s", got)
	}
}
