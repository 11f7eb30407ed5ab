package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dreampot/paycore/internal/domain"
)

type BoardRepo struct {
	db *sql.DB
}

func NewBoardRepo(db *sql.DB) *BoardRepo {
	return &BoardRepo{db: db}
}

func (r *BoardRepo) Insert(b *domain.Board) error {
	_, err := r.db.Exec(
		`INSERT INTO boards (id, title, goal_cents, funded, funded_at, created_at)
		 VALUES (?,?,?,?,?,?)`,
		b.ID, b.Title, b.GoalCents, boolToInt(b.Funded),
		formatNullableTime(b.FundedAt), b.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert board: %w", err)
	}
	return nil
}

func (r *BoardRepo) GetByID(id string) (*domain.Board, error) {
	row := r.db.QueryRow(
		`SELECT id, title, goal_cents, funded, funded_at, created_at
		 FROM boards WHERE id = ?`, id)

	var b domain.Board
	var funded int
	var fundedAt sql.NullString
	var createdAt string

	err := row.Scan(&b.ID, &b.Title, &b.GoalCents, &funded, &fundedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	b.Funded = funded != 0
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if fundedAt.Valid {
		t, _ := time.Parse(time.RFC3339, fundedAt.String)
		b.FundedAt = &t
	}
	return &b, nil
}

// MarkFunded flips the funded flag exactly once. The conditional update makes
// the funding transition idempotent: the returned bool reports whether this
// call performed the transition.
func (r *BoardRepo) MarkFunded(id string, at time.Time) (bool, error) {
	res, err := r.db.Exec(
		"UPDATE boards SET funded = 1, funded_at = ? WHERE id = ? AND funded = 0",
		at.Format(time.RFC3339), id)
	if err != nil {
		return false, fmt.Errorf("mark board funded: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SumCompletedContributions returns the total completed contribution amount
// for a board, used for the funded-goal check.
func (r *BoardRepo) SumCompletedContributions(id string) (int64, error) {
	var total int64
	err := r.db.QueryRow(
		`SELECT COALESCE(SUM(amount_cents), 0) FROM contributions
		 WHERE board_id = ? AND status = ?`,
		id, string(domain.ContributionCompleted)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum completed contributions: %w", err)
	}
	return total, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
