package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dreampot/paycore/internal/domain"
)

type ContributionRepo struct {
	db *sql.DB
}

func NewContributionRepo(db *sql.DB) *ContributionRepo {
	return &ContributionRepo{db: db}
}

func (r *ContributionRepo) Insert(c *domain.Contribution) error {
	_, err := r.db.Exec(
		`INSERT INTO contributions
		(id, board_id, provider, payment_reference, amount_cents, fee_cents,
		 status, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.BoardID, string(c.Provider), c.PaymentReference,
		c.AmountCents, c.FeeCents, string(c.Status),
		c.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert contribution: %w", err)
	}
	return nil
}

func (r *ContributionRepo) GetByID(id string) (*domain.Contribution, error) {
	row := r.db.QueryRow(
		`SELECT id, board_id, provider, payment_reference, amount_cents,
		 fee_cents, status, created_at FROM contributions WHERE id = ?`, id)
	return scanContribution(row)
}

func (r *ContributionRepo) GetByProviderRef(provider domain.Provider, ref string) (*domain.Contribution, error) {
	row := r.db.QueryRow(
		`SELECT id, board_id, provider, payment_reference, amount_cents,
		 fee_cents, status, created_at FROM contributions
		 WHERE provider = ? AND payment_reference = ?`,
		string(provider), ref)
	return scanContribution(row)
}

// ListPendingCreatedBetween returns pending contributions whose created_at
// falls inside [from, to], oldest first. Reconciliation passes use this to
// build their candidate sets.
func (r *ContributionRepo) ListPendingCreatedBetween(from, to time.Time) ([]domain.Contribution, error) {
	rows, err := r.db.Query(
		`SELECT id, board_id, provider, payment_reference, amount_cents,
		 fee_cents, status, created_at FROM contributions
		 WHERE status = ? AND created_at >= ? AND created_at <= ?
		 ORDER BY created_at`,
		string(domain.ContributionPending),
		from.Format(time.RFC3339), to.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []domain.Contribution
	for rows.Next() {
		c, err := scanContributionRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateStatus moves a contribution from one status to another. The guard on
// the prior status makes concurrent deliveries safe at the data layer: only
// one of two racing writers can win, and a row that reached completed can
// never be overwritten through a stale copy. The returned bool reports
// whether this call performed the transition.
func (r *ContributionRepo) UpdateStatus(id string, from, to domain.ContributionStatus) (bool, error) {
	res, err := r.db.Exec(
		"UPDATE contributions SET status = ? WHERE id = ? AND status = ?",
		string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("update contribution status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- helpers ---

type contributionScanner interface {
	Scan(dest ...any) error
}

func scanContributionFrom(s contributionScanner) (*domain.Contribution, error) {
	var c domain.Contribution
	var provider, status, createdAt string

	err := s.Scan(
		&c.ID, &c.BoardID, &provider, &c.PaymentReference,
		&c.AmountCents, &c.FeeCents, &status, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	c.Provider = domain.Provider(provider)
	c.Status = domain.ContributionStatus(status)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

func scanContribution(row *sql.Row) (*domain.Contribution, error) {
	return scanContributionFrom(row)
}

func scanContributionRows(rows *sql.Rows) (*domain.Contribution, error) {
	return scanContributionFrom(rows)
}
