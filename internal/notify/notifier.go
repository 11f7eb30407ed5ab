package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/dreampot/paycore/internal/domain"
)

// Notifier abstracts the email/messaging senders this service calls out to.
// The senders themselves are external collaborators; only the contract lives
// here.
type Notifier interface {
	// SendMismatchAlert sends ONE aggregated alert for a sweep's mismatches,
	// never one message per mismatch.
	SendMismatchAlert(ctx context.Context, pass string, mismatches []domain.Mismatch) error
	SendPayoutConfirmation(ctx context.Context, payout *domain.Payout) error
}

// LogNotifier writes notifications to the log. Used in environments without
// a mail relay; operators still see the aggregated alert content.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) SendMismatchAlert(_ context.Context, pass string, mismatches []domain.Mismatch) error {
	for _, m := range mismatches {
		n.Logger.Warn("reconciliation mismatch",
			zap.String("pass", pass),
			zap.String("provider", string(m.Provider)),
			zap.String("reference", m.PaymentReference),
			zap.Int64("expected_cents", m.ExpectedCents),
			zap.Int64("received_cents", m.ReceivedCents),
			zap.String("provider_status", m.ProviderStatus))
	}
	n.Logger.Warn("mismatch alert",
		zap.String("pass", pass),
		zap.Int("mismatches", len(mismatches)))
	return nil
}

func (n LogNotifier) SendPayoutConfirmation(_ context.Context, payout *domain.Payout) error {
	n.Logger.Info("payout confirmation",
		zap.String("payout_id", payout.ID),
		zap.Int64("net_cents", payout.NetCents),
		zap.String("external_reference", payout.ExternalReference))
	return nil
}
