package models

// Actor is the authenticated identity a mutation is attributed to
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// SystemActor is used for scheduled jobs and verified webhooks
var SystemActor = Actor{ID: "system", Name: "System", Role: "system"}

// WebhookActor attributes changes made by the payment callback
var WebhookActor = Actor{ID: "webhook", Name: "Payment Webhook", Role: "system"}
