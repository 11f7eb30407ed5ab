package reconciliation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dreampot/paycore/internal/domain"
	"github.com/dreampot/paycore/internal/ledger"
	"github.com/dreampot/paycore/internal/notify"
	"github.com/dreampot/paycore/internal/provider"
	"github.com/dreampot/paycore/internal/repository"
)

// Pass names the two sweep variants. They run the same algorithm over
// different candidate windows; the tag only affects logging and alerts.
type Pass string

const (
	PassPrimary  Pass = "primary"
	PassLongTail Pass = "long_tail"
)

// Result summarises one reconciliation pass.
type Result struct {
	Scanned    int               `json:"scanned"`
	Updated    int               `json:"updated"`
	Failed     int               `json:"failed"`
	Unresolved int               `json:"unresolved"`
	Mismatches []domain.Mismatch `json:"mismatches"`
}

// Window bounds a pass's candidate set by contribution created_at.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// PassReport is one pass's result plus its window, for observability.
type PassReport struct {
	Result
	Window Window `json:"window"`
}

// Report composes the primary and long-tail passes of one invocation.
type Report struct {
	PassReport
	LongTail PassReport `json:"longTail"`
}

// Service cross-checks locally pending contributions against provider-side
// truth. It only ever applies a status when the provider's reported amount
// matches the expected total exactly; everything else is recorded as a
// mismatch or left unresolved for manual follow-up.
type Service struct {
	contributions    *repository.ContributionRepo
	ledger           *ledger.Service
	adapters         map[domain.Provider]provider.Adapter
	notifier         notify.Notifier
	alertThreshold   int
	primaryLookback  time.Duration
	longTailLookback time.Duration
	logger           *zap.Logger

	now func() time.Time
}

func NewService(
	contributions *repository.ContributionRepo,
	ledgerSvc *ledger.Service,
	adapters []provider.Adapter,
	notifier notify.Notifier,
	alertThreshold int,
	primaryLookback, longTailLookback time.Duration,
	logger *zap.Logger,
) *Service {
	byName := make(map[domain.Provider]provider.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Service{
		contributions:    contributions,
		ledger:           ledgerSvc,
		adapters:         byName,
		notifier:         notifier,
		alertThreshold:   alertThreshold,
		primaryLookback:  primaryLookback,
		longTailLookback: longTailLookback,
		logger:           logger,
		now:              time.Now,
	}
}

// RunBoth runs the primary pass over the recent window and the long-tail
// pass over everything older, composing both into one report.
func (s *Service) RunBoth(ctx context.Context) (*Report, error) {
	now := s.now()
	primaryWindow := Window{From: now.Add(-s.primaryLookback), To: now}
	longTailWindow := Window{From: now.Add(-s.longTailLookback), To: primaryWindow.From}

	primary, err := s.Run(ctx, PassPrimary, primaryWindow)
	if err != nil {
		return nil, err
	}
	longTail, err := s.Run(ctx, PassLongTail, longTailWindow)
	if err != nil {
		return nil, err
	}

	return &Report{
		PassReport: PassReport{Result: *primary, Window: primaryWindow},
		LongTail:   PassReport{Result: *longTail, Window: longTailWindow},
	}, nil
}

// Run executes one pass over pending contributions created inside window.
func (s *Service) Run(ctx context.Context, pass Pass, window Window) (*Result, error) {
	log := s.logger.With(zap.String("pass", string(pass)))

	pending, err := s.contributions.ListPendingCreatedBetween(window.From, window.To)
	if err != nil {
		return nil, err
	}

	byProvider := make(map[domain.Provider][]domain.Contribution)
	for _, c := range pending {
		byProvider[c.Provider] = append(byProvider[c.Provider], c)
	}

	result := &Result{Scanned: len(pending)}
	for providerName, batch := range byProvider {
		s.reconcileBatch(ctx, log, providerName, batch, result)
	}

	log.Info("reconciliation pass done",
		zap.Int("scanned", result.Scanned),
		zap.Int("updated", result.Updated),
		zap.Int("failed", result.Failed),
		zap.Int("unresolved", result.Unresolved),
		zap.Int("mismatches", len(result.Mismatches)))

	if s.alertThreshold > 0 && len(result.Mismatches) >= s.alertThreshold {
		// One aggregated alert per pass, never one per mismatch.
		if err := s.notifier.SendMismatchAlert(ctx, string(pass), result.Mismatches); err != nil {
			log.Error("mismatch alert failed", zap.Error(err))
		}
	}

	return result, nil
}

func (s *Service) reconcileBatch(
	ctx context.Context,
	log *zap.Logger,
	providerName domain.Provider,
	batch []domain.Contribution,
	result *Result,
) {
	adapter, ok := s.adapters[providerName]
	if !ok {
		log.Warn("no adapter for provider, batch unresolved",
			zap.String("provider", string(providerName)),
			zap.Int("count", len(batch)))
		result.Unresolved += len(batch)
		return
	}

	earliest := batch[0].CreatedAt
	for _, c := range batch[1:] {
		if c.CreatedAt.Before(earliest) {
			earliest = c.CreatedAt
		}
	}

	txns, err := adapter.ListTransactions(ctx, earliest, s.now())
	if errors.Is(err, provider.ErrListingUnsupported) {
		// No bulk listing for this gateway. Surface each item's age so
		// long-pending contributions get manual follow-up.
		for _, c := range batch {
			log.Warn("pending item cannot be reconciled automatically",
				zap.String("provider", string(providerName)),
				zap.String("contribution_id", c.ID),
				zap.String("reference", c.PaymentReference),
				zap.Duration("age", s.now().Sub(c.CreatedAt)))
		}
		result.Unresolved += len(batch)
		return
	}
	if err != nil {
		// Fail-safe: a fetch error marks the whole batch unresolved rather
		// than guessing at provider-side state.
		log.Warn("provider listing failed, batch unresolved",
			zap.String("provider", string(providerName)),
			zap.Int("count", len(batch)),
			zap.Error(err))
		result.Unresolved += len(batch)
		return
	}

	byRef := make(map[string]provider.Transaction, len(txns))
	for _, t := range txns {
		byRef[t.Reference] = t
	}

	for i := range batch {
		c := &batch[i]
		txn, found := byRef[c.PaymentReference]
		if !found {
			log.Warn("pending contribution missing from provider listing",
				zap.String("provider", string(providerName)),
				zap.String("reference", c.PaymentReference))
			result.Unresolved++
			continue
		}
		s.decide(ctx, log, adapter, c, txn, result)
	}
}

// decide applies the same rule as the webhook handler: a status change is
// written only when the reported amount matches the expected total exactly.
func (s *Service) decide(
	ctx context.Context,
	log *zap.Logger,
	adapter provider.Adapter,
	c *domain.Contribution,
	txn provider.Transaction,
	result *Result,
) {
	mapped := adapter.MapStatus(&provider.Payload{RawStatus: txn.RawStatus})
	next, ok := ledger.MapProviderStatus(mapped)
	if !ok || next == c.Status {
		result.Unresolved++
		return
	}

	if txn.AmountCents != c.ExpectedTotalCents() {
		result.Mismatches = append(result.Mismatches, domain.Mismatch{
			Provider:         c.Provider,
			PaymentReference: c.PaymentReference,
			ExpectedCents:    c.ExpectedTotalCents(),
			ReceivedCents:    txn.AmountCents,
			ProviderStatus:   txn.RawStatus,
		})
		return
	}

	changed, err := s.ledger.ApplyStatus(ctx, c, next)
	if err != nil {
		log.Error("reconciliation update failed",
			zap.String("contribution_id", c.ID), zap.Error(err))
		result.Failed++
		return
	}
	if changed {
		result.Updated++
	} else {
		result.Unresolved++
	}
}
