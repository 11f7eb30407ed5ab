package domain

import "time"

type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

type PayoutType string

const (
	PayoutTypeCard    PayoutType = "card"
	PayoutTypeBank    PayoutType = "bank"
	PayoutTypeCharity PayoutType = "charity"
)

// Payout is a disbursement of collected funds. Its ID doubles as the credit
// dispatch queue's external reference.
type Payout struct {
	ID                string       `json:"id"`
	BoardID           string       `json:"board_id"`
	Type              PayoutType   `json:"type"`
	GrossCents        int64        `json:"gross_cents"`
	FeeCents          int64        `json:"fee_cents"`
	NetCents          int64        `json:"net_cents"`
	Status            PayoutStatus `json:"status"`
	ExternalReference string       `json:"external_reference,omitempty"`
	ErrorMessage      string       `json:"error_message,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}
