package domain

import "time"

type ContributionStatus string

const (
	ContributionPending    ContributionStatus = "pending"
	ContributionProcessing ContributionStatus = "processing"
	ContributionCompleted  ContributionStatus = "completed"
	ContributionFailed     ContributionStatus = "failed"
	ContributionRefunded   ContributionStatus = "refunded"
)

type Provider string

const (
	ProviderPayGate  Provider = "paygate"
	ProviderSwiftEFT Provider = "swifteft"
	ProviderScanPay  Provider = "scanpay"
)

// Contribution is one guest payment attempt toward a board's goal. Amounts
// are in minor currency units (cents).
type Contribution struct {
	ID               string             `json:"id"`
	BoardID          string             `json:"board_id"`
	Provider         Provider           `json:"provider"`
	PaymentReference string             `json:"payment_reference"`
	AmountCents      int64              `json:"amount_cents"`
	FeeCents         int64              `json:"fee_cents"`
	Status           ContributionStatus `json:"status"`
	CreatedAt        time.Time          `json:"created_at"`
}

// ExpectedTotalCents is the amount the provider is expected to report for
// this contribution: the guest amount plus the provider fee.
func (c *Contribution) ExpectedTotalCents() int64 {
	return c.AmountCents + c.FeeCents
}

// IsTerminal reports whether the status may never be overwritten again.
// Only completed is terminal; failed and refunded contributions can still be
// corrected by a later webhook or reconciliation pass.
func (s ContributionStatus) IsTerminal() bool {
	return s == ContributionCompleted
}
