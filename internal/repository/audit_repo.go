package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dreampot/paycore/internal/domain"
)

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Insert(e *domain.AuditEvent) error {
	_, err := r.db.Exec(
		`INSERT INTO audit_events (id, kind, entity_id, detail, recorded_at)
		 VALUES (?,?,?,?,?)`,
		e.ID, e.Kind, e.EntityID, e.Detail, e.RecordedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (r *AuditRepo) ListByKind(kind string) ([]domain.AuditEvent, error) {
	rows, err := r.db.Query(
		`SELECT id, kind, entity_id, detail, recorded_at FROM audit_events
		 WHERE kind = ? ORDER BY recorded_at`, kind)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		var recordedAt string
		if err := rows.Scan(&e.ID, &e.Kind, &e.EntityID, &e.Detail, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		e.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
