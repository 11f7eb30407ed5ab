package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dreampot/paycore/internal/cardclient"
	"github.com/dreampot/paycore/internal/crypto"
	"github.com/dreampot/paycore/internal/domain"
	"github.com/dreampot/paycore/internal/notify"
	"github.com/dreampot/paycore/internal/repository"
)

const (
	// MaxAttempts is the bound on provider failures before the entry and its
	// payout go terminal.
	MaxAttempts = 3
	// RetryBackoff is how long an entry waits after an attempt before any
	// sweep or manual trigger may try it again.
	RetryBackoff = 15 * time.Minute
	// SweepBatchSize bounds each sweep page, which in turn bounds the load
	// put on the card provider per sweep loop.
	SweepBatchSize = 50
)

// ErrNotFound is returned by ProcessByReference for unknown references.
var ErrNotFound = errors.New("credit queue entry not found")

// CardAPI is the slice of the card provider client the queue needs.
type CardAPI interface {
	TopUp(ctx context.Context, req *cardclient.TopUpRequest) (*cardclient.TopUpResult, error)
}

// Service drains the durable credit dispatch queue. The repository's
// conditional claim is the sole concurrency primitive: once a worker wins a
// claim, nobody else can touch the entry until it leaves processing.
type Service struct {
	queue    *repository.CreditQueueRepo
	payouts  *repository.PayoutRepo
	audits   *repository.AuditRepo
	card     CardAPI
	cipher   *crypto.CardCipher
	notifier notify.Notifier
	logger   *zap.Logger

	now func() time.Time
}

func NewService(
	queue *repository.CreditQueueRepo,
	payouts *repository.PayoutRepo,
	audits *repository.AuditRepo,
	card CardAPI,
	cipher *crypto.CardCipher,
	notifier notify.Notifier,
	logger *zap.Logger,
) *Service {
	return &Service{
		queue:    queue,
		payouts:  payouts,
		audits:   audits,
		card:     card,
		cipher:   cipher,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Enqueue creates the queue entry for a card payout. The card number is
// encrypted before it ever reaches the table.
func (s *Service) Enqueue(payout *domain.Payout, cardNumber string) (*domain.CreditQueueEntry, error) {
	encrypted, err := s.cipher.Encrypt(cardNumber)
	if err != nil {
		return nil, fmt.Errorf("encrypt card number: %w", err)
	}

	entry := &domain.CreditQueueEntry{
		ID:                  uuid.NewString(),
		BoardID:             payout.BoardID,
		EncryptedCardNumber: encrypted,
		AmountCents:         payout.NetCents,
		Reference:           payout.ID,
		Status:              domain.CreditQueuePending,
		CreatedAt:           s.now(),
	}
	if err := s.queue.Insert(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// SweepResult summarises one batch-mode drain.
type SweepResult struct {
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Requeued  int `json:"requeued"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Sweep repeatedly pages through due pending entries and processes each,
// stopping when a page comes back short. Retries are driven entirely by
// these sweep invocations plus the wall-clock backoff; there are no
// in-process timers.
func (s *Service) Sweep(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}
	for {
		cutoff := s.now().Add(-RetryBackoff)
		batch, err := s.queue.ListPendingBatch(SweepBatchSize, cutoff)
		if err != nil {
			return result, err
		}

		for i := range batch {
			status, err := s.ProcessEntry(ctx, batch[i].ID)
			result.Processed++
			switch {
			case err != nil:
				s.logger.Error("dispatch entry errored",
					zap.String("entry_id", batch[i].ID), zap.Error(err))
				result.Failed++
			case status == domain.CreditQueueCompleted:
				result.Completed++
			case status == domain.CreditQueuePending:
				result.Requeued++
			case status == domain.CreditQueueFailed:
				result.Failed++
			case status == domain.CreditQueueProcessing:
				// Lost the claim race to another worker.
				result.Skipped++
			}
		}

		if len(batch) < SweepBatchSize {
			return result, nil
		}
	}
}

// ProcessByReference processes a single entry looked up by its payout
// reference, for externally triggered retries. Entries that are not pending
// report their current status without reprocessing, and entries still inside
// the backoff window are left alone so manual triggers cannot stampede the
// provider.
func (s *Service) ProcessByReference(ctx context.Context, ref string) (domain.CreditQueueStatus, error) {
	entry, err := s.queue.GetByReference(ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}

	if entry.Status != domain.CreditQueuePending {
		return entry.Status, nil
	}
	if entry.LastAttemptAt != nil && s.now().Sub(*entry.LastAttemptAt) < RetryBackoff {
		return domain.CreditQueuePending, nil
	}

	return s.ProcessEntry(ctx, entry.ID)
}

// ProcessEntry claims and executes one entry. The returned status is the
// entry's state after this call; CreditQueueProcessing means another worker
// held the claim and nothing was done here.
func (s *Service) ProcessEntry(ctx context.Context, id string) (domain.CreditQueueStatus, error) {
	entry, err := s.queue.Claim(id, s.now())
	if err != nil {
		return "", err
	}
	if entry == nil {
		return domain.CreditQueueProcessing, nil
	}

	log := s.logger.With(
		zap.String("entry_id", entry.ID),
		zap.String("reference", entry.Reference),
		zap.Int("attempt", entry.Attempts))

	cardNumber, err := s.cipher.Decrypt(entry.EncryptedCardNumber)
	if err != nil {
		return s.handleFailure(log, entry, fmt.Errorf("decrypt card number: %w", err))
	}

	// The payout goes to processing before the provider call so a crash
	// mid-sequence leaves it visibly in flight, never silently stuck in
	// pending.
	if err := s.payouts.MarkProcessing(entry.Reference); err != nil {
		return s.handleFailure(log, entry, err)
	}

	result, err := s.card.TopUp(ctx, &cardclient.TopUpRequest{
		CardNumber:  cardNumber,
		AmountCents: entry.AmountCents,
		Reference:   entry.Reference,
		Description: "dream board payout",
	})
	if err != nil {
		if errors.Is(err, cardclient.ErrContract) {
			// A malformed response is a provider bug, not a transient
			// failure. Fail the entry terminally and surface the error
			// instead of feeding it back into the retry cycle.
			status, ferr := s.failTerminal(log, entry, err)
			if ferr != nil {
				return "", ferr
			}
			return status, err
		}
		return s.handleFailure(log, entry, err)
	}

	switch result.Status {
	case cardclient.TopUpCompleted:
		if err := s.payouts.MarkCompleted(entry.Reference, result.TransactionID); err != nil {
			return s.handleFailure(log, entry, err)
		}
		if err := s.queue.MarkCompleted(entry.ID); err != nil {
			return "", err
		}
		log.Info("card top-up completed",
			zap.String("transaction_id", result.TransactionID))
		s.confirm(ctx, log, entry.Reference)
		return domain.CreditQueueCompleted, nil

	case cardclient.TopUpPending:
		// Keep the provider's transaction id, give the attempt back, and
		// let a later sweep re-observe after the backoff window.
		if err := s.payouts.SetExternalReference(entry.Reference, result.TransactionID); err != nil {
			return s.handleFailure(log, entry, err)
		}
		if err := s.queue.RequeueUncounted(entry.ID); err != nil {
			return "", err
		}
		log.Info("card top-up pending at provider",
			zap.String("transaction_id", result.TransactionID))
		return domain.CreditQueuePending, nil

	default:
		return s.handleFailure(log, entry, fmt.Errorf("provider reported failure: %s", result.ErrorMessage))
	}
}

// handleFailure records the error on the entry and decides between another
// retry and the terminal path. The payout is only failed once attempts are
// exhausted, so it can stay processing across several retried attempts.
func (s *Service) handleFailure(log *zap.Logger, entry *domain.CreditQueueEntry, cause error) (domain.CreditQueueStatus, error) {
	if entry.Attempts < MaxAttempts {
		log.Warn("dispatch attempt failed, will retry",
			zap.Int("attempts_left", MaxAttempts-entry.Attempts),
			zap.Error(cause))
		if err := s.queue.Requeue(entry.ID, cause.Error()); err != nil {
			return "", err
		}
		return domain.CreditQueuePending, nil
	}

	log.Error("dispatch attempts exhausted", zap.Error(cause))
	return s.failTerminal(log, entry, cause)
}

// failTerminal is the end of the line for an entry: the entry and its payout
// go failed and an audit event records the cause for manual follow-up.
func (s *Service) failTerminal(log *zap.Logger, entry *domain.CreditQueueEntry, cause error) (domain.CreditQueueStatus, error) {
	if err := s.queue.MarkFailed(entry.ID, cause.Error()); err != nil {
		return "", err
	}
	if err := s.payouts.MarkFailed(entry.Reference, cause.Error()); err != nil {
		return "", err
	}

	audit := &domain.AuditEvent{
		ID:         uuid.NewString(),
		Kind:       domain.AuditCreditDispatchFailed,
		EntityID:   entry.Reference,
		Detail:     fmt.Sprintf("credit dispatch failed after %d attempts: %v", entry.Attempts, cause),
		RecordedAt: s.now(),
	}
	if err := s.audits.Insert(audit); err != nil {
		log.Error("audit event insert failed", zap.Error(err))
	}

	return domain.CreditQueueFailed, nil
}

// confirm sends the payout confirmation. Best effort: a notification failure
// never rolls back a completed top-up.
func (s *Service) confirm(ctx context.Context, log *zap.Logger, payoutID string) {
	payout, err := s.payouts.GetByID(payoutID)
	if err != nil {
		log.Warn("load payout for confirmation failed", zap.Error(err))
		return
	}
	if err := s.notifier.SendPayoutConfirmation(ctx, payout); err != nil {
		log.Warn("payout confirmation failed", zap.Error(err))
	}
}
