package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dreampot/paycore/internal/domain"
)

type PayoutRepo struct {
	db *sql.DB
}

func NewPayoutRepo(db *sql.DB) *PayoutRepo {
	return &PayoutRepo{db: db}
}

func (r *PayoutRepo) Insert(p *domain.Payout) error {
	_, err := r.db.Exec(
		`INSERT INTO payouts
		(id, board_id, type, gross_cents, fee_cents, net_cents, status,
		 external_reference, error_message, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.BoardID, string(p.Type), p.GrossCents, p.FeeCents, p.NetCents,
		string(p.Status), nullIfEmpty(p.ExternalReference),
		nullIfEmpty(p.ErrorMessage), p.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert payout: %w", err)
	}
	return nil
}

func (r *PayoutRepo) GetByID(id string) (*domain.Payout, error) {
	row := r.db.QueryRow(
		`SELECT id, board_id, type, gross_cents, fee_cents, net_cents, status,
		 external_reference, error_message, created_at
		 FROM payouts WHERE id = ?`, id)

	var p domain.Payout
	var typ, status, createdAt string
	var extRef, errMsg sql.NullString

	err := row.Scan(&p.ID, &p.BoardID, &typ, &p.GrossCents, &p.FeeCents,
		&p.NetCents, &status, &extRef, &errMsg, &createdAt)
	if err != nil {
		return nil, err
	}

	p.Type = domain.PayoutType(typ)
	p.Status = domain.PayoutStatus(status)
	p.ExternalReference = extRef.String
	p.ErrorMessage = errMsg.String
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

func (r *PayoutRepo) MarkProcessing(id string) error {
	return r.setStatus(id, domain.PayoutProcessing)
}

// MarkCompleted records the provider transaction id alongside the terminal
// completed status.
func (r *PayoutRepo) MarkCompleted(id, externalRef string) error {
	_, err := r.db.Exec(
		"UPDATE payouts SET status = ?, external_reference = ? WHERE id = ?",
		string(domain.PayoutCompleted), externalRef, id)
	if err != nil {
		return fmt.Errorf("mark payout completed: %w", err)
	}
	return nil
}

func (r *PayoutRepo) MarkFailed(id, errMsg string) error {
	_, err := r.db.Exec(
		"UPDATE payouts SET status = ?, error_message = ? WHERE id = ?",
		string(domain.PayoutFailed), errMsg, id)
	if err != nil {
		return fmt.Errorf("mark payout failed: %w", err)
	}
	return nil
}

// SetExternalReference persists the provider transaction id without touching
// status, used when the provider reports a top-up still pending.
func (r *PayoutRepo) SetExternalReference(id, externalRef string) error {
	_, err := r.db.Exec(
		"UPDATE payouts SET external_reference = ? WHERE id = ?",
		externalRef, id)
	if err != nil {
		return fmt.Errorf("set payout external reference: %w", err)
	}
	return nil
}

func (r *PayoutRepo) setStatus(id string, status domain.PayoutStatus) error {
	_, err := r.db.Exec(
		"UPDATE payouts SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("update payout status: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
