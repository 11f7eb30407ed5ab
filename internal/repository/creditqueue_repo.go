package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dreampot/paycore/internal/domain"
)

type CreditQueueRepo struct {
	db *sql.DB
}

func NewCreditQueueRepo(db *sql.DB) *CreditQueueRepo {
	return &CreditQueueRepo{db: db}
}

const creditQueueColumns = `id, board_id, encrypted_card_number, amount_cents,
	reference, status, attempts, last_attempt_at, error_message, created_at`

func (r *CreditQueueRepo) Insert(e *domain.CreditQueueEntry) error {
	_, err := r.db.Exec(
		`INSERT INTO credit_queue
		(id, board_id, encrypted_card_number, amount_cents, reference, status,
		 attempts, last_attempt_at, error_message, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.BoardID, e.EncryptedCardNumber, e.AmountCents, e.Reference,
		string(e.Status), e.Attempts, formatNullableTime(e.LastAttemptAt),
		nullIfEmpty(e.ErrorMessage), e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert credit queue entry: %w", err)
	}
	return nil
}

func (r *CreditQueueRepo) GetByReference(ref string) (*domain.CreditQueueEntry, error) {
	row := r.db.QueryRow(
		`SELECT `+creditQueueColumns+` FROM credit_queue WHERE reference = ?`, ref)
	return scanCreditQueueEntry(row)
}

// Claim atomically moves a pending entry to processing and increments its
// attempt counter. It is the queue's sole concurrency primitive: the
// conditional UPDATE means exactly one concurrent caller wins. A nil entry
// with a nil error means another worker already claimed it.
func (r *CreditQueueRepo) Claim(id string, now time.Time) (*domain.CreditQueueEntry, error) {
	row := r.db.QueryRow(
		`UPDATE credit_queue
		 SET status = ?, attempts = attempts + 1, last_attempt_at = ?
		 WHERE id = ? AND status = ?
		 RETURNING `+creditQueueColumns,
		string(domain.CreditQueueProcessing), now.Format(time.RFC3339),
		id, string(domain.CreditQueuePending))

	entry, err := scanCreditQueueEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim entry %s: %w", id, err)
	}
	return entry, nil
}

func (r *CreditQueueRepo) MarkCompleted(id string) error {
	_, err := r.db.Exec(
		"UPDATE credit_queue SET status = ?, error_message = NULL WHERE id = ?",
		string(domain.CreditQueueCompleted), id)
	if err != nil {
		return fmt.Errorf("mark entry completed: %w", err)
	}
	return nil
}

// Requeue returns an entry to pending so a later sweep can retry it. The
// error message, if any, is kept for operators.
func (r *CreditQueueRepo) Requeue(id, errMsg string) error {
	_, err := r.db.Exec(
		"UPDATE credit_queue SET status = ?, error_message = ? WHERE id = ?",
		string(domain.CreditQueuePending), nullIfEmpty(errMsg), id)
	if err != nil {
		return fmt.Errorf("requeue entry: %w", err)
	}
	return nil
}

// RequeueUncounted returns an entry to pending and gives back the attempt
// the claim consumed. Used when the provider reports the top-up still
// pending: that is not a failure and must not count toward MAX_ATTEMPTS.
func (r *CreditQueueRepo) RequeueUncounted(id string) error {
	_, err := r.db.Exec(
		`UPDATE credit_queue
		 SET status = ?, attempts = CASE WHEN attempts > 0 THEN attempts - 1 ELSE 0 END
		 WHERE id = ?`,
		string(domain.CreditQueuePending), id)
	if err != nil {
		return fmt.Errorf("requeue entry uncounted: %w", err)
	}
	return nil
}

func (r *CreditQueueRepo) MarkFailed(id, errMsg string) error {
	_, err := r.db.Exec(
		"UPDATE credit_queue SET status = ?, error_message = ? WHERE id = ?",
		string(domain.CreditQueueFailed), errMsg, id)
	if err != nil {
		return fmt.Errorf("mark entry failed: %w", err)
	}
	return nil
}

// ListPendingBatch returns up to limit pending entries whose last attempt is
// either unset or older than the backoff cutoff, oldest attempt first.
func (r *CreditQueueRepo) ListPendingBatch(limit int, cutoff time.Time) ([]domain.CreditQueueEntry, error) {
	rows, err := r.db.Query(
		`SELECT `+creditQueueColumns+` FROM credit_queue
		 WHERE status = ? AND (last_attempt_at IS NULL OR last_attempt_at < ?)
		 ORDER BY last_attempt_at, created_at
		 LIMIT ?`,
		string(domain.CreditQueuePending), cutoff.Format(time.RFC3339), limit)
	if err != nil {
		return nil, fmt.Errorf("query pending batch: %w", err)
	}
	defer rows.Close()

	var out []domain.CreditQueueEntry
	for rows.Next() {
		e, err := scanCreditQueueEntryRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// --- helpers ---

type creditQueueScanner interface {
	Scan(dest ...any) error
}

func scanCreditQueueEntryFrom(s creditQueueScanner) (*domain.CreditQueueEntry, error) {
	var e domain.CreditQueueEntry
	var status, createdAt string
	var lastAttempt, errMsg sql.NullString

	err := s.Scan(
		&e.ID, &e.BoardID, &e.EncryptedCardNumber, &e.AmountCents,
		&e.Reference, &status, &e.Attempts, &lastAttempt, &errMsg, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = domain.CreditQueueStatus(status)
	e.ErrorMessage = errMsg.String
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if lastAttempt.Valid {
		t, _ := time.Parse(time.RFC3339, lastAttempt.String)
		e.LastAttemptAt = &t
	}
	return &e, nil
}

func scanCreditQueueEntry(row *sql.Row) (*domain.CreditQueueEntry, error) {
	return scanCreditQueueEntryFrom(row)
}

func scanCreditQueueEntryRows(rows *sql.Rows) (*domain.CreditQueueEntry, error) {
	return scanCreditQueueEntryFrom(rows)
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}
