package domain

import "time"

type CreditQueueStatus string

const (
	CreditQueuePending    CreditQueueStatus = "pending"
	CreditQueueProcessing CreditQueueStatus = "processing"
	CreditQueueCompleted  CreditQueueStatus = "completed"
	CreditQueueFailed     CreditQueueStatus = "failed"
)

// CreditQueueEntry is a durable work item for one payout's card top-up.
// Reference equals the payout ID and is unique. At most one worker may hold
// an entry in processing; that is enforced by the repository's conditional
// claim, not by in-process locks.
type CreditQueueEntry struct {
	ID                  string            `json:"id"`
	BoardID             string            `json:"board_id"`
	EncryptedCardNumber string            `json:"-"`
	AmountCents         int64             `json:"amount_cents"`
	Reference           string            `json:"reference"`
	Status              CreditQueueStatus `json:"status"`
	Attempts            int               `json:"attempts"`
	LastAttemptAt       *time.Time        `json:"last_attempt_at,omitempty"`
	ErrorMessage        string            `json:"error_message,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
}
