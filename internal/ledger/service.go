package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dreampot/paycore/internal/cache"
	"github.com/dreampot/paycore/internal/domain"
	"github.com/dreampot/paycore/internal/events"
	"github.com/dreampot/paycore/internal/provider"
	"github.com/dreampot/paycore/internal/repository"
)

// Service owns contribution status transitions. The webhook handler and the
// reconciliation engine both terminate here so the rules live in one place:
// completed is terminal, repeated application of the same status is a no-op,
// and side effects fire only on a real transition.
type Service struct {
	contributions *repository.ContributionRepo
	boards        *repository.BoardRepo
	boardCache    cache.BoardCache
	emitter       events.Emitter
	logger        *zap.Logger
}

func NewService(
	contributions *repository.ContributionRepo,
	boards *repository.BoardRepo,
	boardCache cache.BoardCache,
	emitter events.Emitter,
	logger *zap.Logger,
) *Service {
	return &Service{
		contributions: contributions,
		boards:        boards,
		boardCache:    boardCache,
		emitter:       emitter,
		logger:        logger,
	}
}

// MapProviderStatus translates a normalised provider status into the internal
// contribution status. Unknown maps to the zero value and must not be applied.
func MapProviderStatus(s provider.Status) (domain.ContributionStatus, bool) {
	switch s {
	case provider.StatusCompleted:
		return domain.ContributionCompleted, true
	case provider.StatusFailed:
		return domain.ContributionFailed, true
	case provider.StatusPending:
		return domain.ContributionPending, true
	case provider.StatusRefunded:
		return domain.ContributionRefunded, true
	}
	return "", false
}

// ApplyStatus applies next to the contribution and fires the downstream side
// effects. Returns whether anything changed. Event and cache failures are
// logged, never returned: delivery is at-least-once and consumers are
// expected to be idempotent.
func (s *Service) ApplyStatus(ctx context.Context, c *domain.Contribution, next domain.ContributionStatus) (bool, error) {
	if c.Status.IsTerminal() {
		return false, nil
	}
	if c.Status == next {
		return false, nil
	}

	changed, err := s.contributions.UpdateStatus(c.ID, c.Status, next)
	if err != nil {
		return false, err
	}
	if !changed {
		// Lost a race with a concurrent delivery; the row already moved on.
		return false, nil
	}
	prev := c.Status
	c.Status = next

	if err := s.boardCache.Invalidate(ctx, c.BoardID); err != nil {
		s.logger.Warn("board cache invalidation failed",
			zap.String("board_id", c.BoardID), zap.Error(err))
	}

	s.logger.Info("contribution status applied",
		zap.String("contribution_id", c.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(next)))

	if next == domain.ContributionCompleted {
		s.emit(ctx, events.Event{
			Type:           events.ContributionReceived,
			BoardID:        c.BoardID,
			ContributionID: c.ID,
			AmountCents:    c.AmountCents,
			OccurredAt:     time.Now(),
		})
		s.checkFunded(ctx, c.BoardID)
	}

	return true, nil
}

// checkFunded marks the board funded when its goal is met. The repository's
// conditional update makes the transition fire at most once, so the
// pot.funded event cannot double-fire.
func (s *Service) checkFunded(ctx context.Context, boardID string) {
	board, err := s.boards.GetByID(boardID)
	if err != nil {
		s.logger.Warn("funded check: load board failed",
			zap.String("board_id", boardID), zap.Error(err))
		return
	}
	if board.Funded {
		return
	}

	total, err := s.boards.SumCompletedContributions(boardID)
	if err != nil {
		s.logger.Warn("funded check: sum failed",
			zap.String("board_id", boardID), zap.Error(err))
		return
	}
	if total < board.GoalCents {
		return
	}

	transitioned, err := s.boards.MarkFunded(boardID, time.Now())
	if err != nil {
		s.logger.Warn("funded check: mark failed",
			zap.String("board_id", boardID), zap.Error(err))
		return
	}
	if !transitioned {
		return
	}

	s.logger.Info("board funded",
		zap.String("board_id", boardID),
		zap.Int64("total_cents", total),
		zap.Int64("goal_cents", board.GoalCents))

	s.emit(ctx, events.Event{
		Type:       events.PotFunded,
		BoardID:    boardID,
		OccurredAt: time.Now(),
	})
}

func (s *Service) emit(ctx context.Context, ev events.Event) {
	if err := s.emitter.Emit(ctx, ev); err != nil {
		s.logger.Error("event emission failed",
			zap.String("type", ev.Type),
			zap.String("board_id", ev.BoardID),
			zap.Error(err))
	}
}
