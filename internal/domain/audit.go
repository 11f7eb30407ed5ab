package domain

import "time"

// AuditEvent records a terminal business failure that requires manual
// intervention, such as a credit queue entry exhausting its attempts.
type AuditEvent struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	RecordedAt time.Time `json:"recorded_at"`
}

const (
	AuditCreditDispatchFailed = "credit_dispatch_failed"
)
