package models

import (
	"encoding/json"
	"time"
)

// Audit actions
const (
	AuditActionCreate                = "CREATE"
	AuditActionUpdate                = "UPDATE"
	AuditActionDelete                = "DELETE"
	AuditActionStatusChange          = "STATUS_CHANGE"
	AuditActionRefund                = "REFUND"
	AuditActionAdjustment            = "ADJUSTMENT"
	AuditActionWebhookAmountMismatch = "WEBHOOK_AMOUNT_MISMATCH"
	AuditActionWebhookRejected       = "WEBHOOK_REJECTED"
	AuditActionRenewalRequest        = "RENEWAL_REQUEST"
	AuditActionRenewalApprove        = "RENEWAL_APPROVE"
	AuditActionRenewalReject         = "RENEWAL_REJECT"
	AuditActionRenewalCancel         = "RENEWAL_CANCEL"
	AuditActionRenewalActivate       = "RENEWAL_ACTIVATE"
	AuditActionICalSync              = "ICAL_SYNC"
)

// Audited entity types
const (
	EntityLedgerEntry = "LEDGER_ENTRY"
	EntityUnitMapping = "UNIT_MAPPING"
	EntityExtension   = "EXTENSION"
	EntityBooking     = "BOOKING"
	EntityUnit        = "UNIT"
	EntityBuilding    = "BUILDING"
)

// FieldChange is one before/after pair of a diff
type FieldChange struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// AuditRecord is append-only; rows are never updated or deleted
type AuditRecord struct {
	ID          string                 `json:"id"`
	ActorID     string                 `json:"actor_id"`
	ActorName   string                 `json:"actor_name"`
	Action      string                 `json:"action"`
	EntityType  string                 `json:"entity_type"`
	EntityID    string                 `json:"entity_id"`
	EntityLabel string                 `json:"entity_label,omitempty"`
	Changes     map[string]FieldChange `json:"changes,omitempty"`
	Metadata    json.RawMessage        `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// AuditFilter is used by auditLog.list
type AuditFilter struct {
	EntityType string
	EntityID   string
	ActorID    string
	Action     string
	StartDate  *time.Time
	EndDate    *time.Time
	Limit      int
	Offset     int
}

// AuditPage is a page of audit records
type AuditPage struct {
	Records []*AuditRecord `json:"records"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}
