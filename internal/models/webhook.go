package models

// PaymentWebhookPayload is the provider callback body
type PaymentWebhookPayload struct {
	Event             string `json:"event"`
	ProviderReference string `json:"provider_reference"`
	ProviderName      string `json:"provider_name,omitempty"`
	Status            string `json:"status"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency,omitempty"`
	PaymentMethod     string `json:"payment_method,omitempty"`
}

// Webhook outcomes reported to the provider and counted in metrics
const (
	WebhookOutcomeApplied       = "applied"
	WebhookOutcomeDuplicate     = "duplicate"
	WebhookOutcomeIgnored       = "ignored"
	WebhookOutcomeRejected      = "rejected"
	WebhookOutcomeHeldForReview = "held_for_review"
	WebhookOutcomeInvalidSig    = "invalid_signature"
)

// WebhookResult is the acknowledgement body
type WebhookResult struct {
	Outcome       string       `json:"outcome"`
	LedgerEntryID string       `json:"ledger_entry_id,omitempty"`
	Status        LedgerStatus `json:"status,omitempty"`
	Message       string       `json:"message,omitempty"`
}
