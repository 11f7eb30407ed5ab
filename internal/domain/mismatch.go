package domain

// Mismatch is a reconciliation finding where the provider-reported amount
// disagrees with the expected total. Mismatches are aggregated into an alert
// per sweep and never persisted or auto-applied.
type Mismatch struct {
	Provider         Provider `json:"provider"`
	PaymentReference string   `json:"payment_reference"`
	ExpectedCents    int64    `json:"expected_cents"`
	ReceivedCents    int64    `json:"received_cents"`
	ProviderStatus   string   `json:"provider_status"`
}
