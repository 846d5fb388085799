package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExtensionStatus is the renewal workflow state
type ExtensionStatus string

const (
	ExtensionStatusPendingApproval ExtensionStatus = "PENDING_APPROVAL"
	ExtensionStatusApproved        ExtensionStatus = "APPROVED"
	ExtensionStatusRejected        ExtensionStatus = "REJECTED"
	ExtensionStatusPaymentPending  ExtensionStatus = "PAYMENT_PENDING"
	ExtensionStatusActive          ExtensionStatus = "ACTIVE"
	ExtensionStatusCancelled       ExtensionStatus = "CANCELLED"
)

// ACTIVE is deliberately absent from every admin-reachable edge; only the
// payment path moves PAYMENT_PENDING to ACTIVE.
var extensionTransitions = map[ExtensionStatus][]ExtensionStatus{
	ExtensionStatusPendingApproval: {ExtensionStatusApproved, ExtensionStatusRejected, ExtensionStatusCancelled},
	ExtensionStatusApproved:        {ExtensionStatusPaymentPending, ExtensionStatusCancelled},
	ExtensionStatusPaymentPending:  {ExtensionStatusActive, ExtensionStatusCancelled},
	ExtensionStatusActive:          nil,
	ExtensionStatusRejected:        nil,
	ExtensionStatusCancelled:       nil,
}

func (s ExtensionStatus) Valid() bool {
	_, ok := extensionTransitions[s]
	return ok
}

func (s ExtensionStatus) Terminal() bool {
	return len(extensionTransitions[s]) == 0
}

func (s ExtensionStatus) CanTransition(to ExtensionStatus) bool {
	for _, next := range extensionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Open reports whether the extension still blocks a new request
func (s ExtensionStatus) Open() bool {
	return s == ExtensionStatusPendingApproval || s == ExtensionStatusApproved || s == ExtensionStatusPaymentPending
}

// Extension is a lease renewal request
type Extension struct {
	ID                string          `json:"id"`
	BookingID         string          `json:"booking_id"`
	UnitID            string          `json:"unit_id"`
	BuildingID        string          `json:"building_id"`
	OriginalEndDate   time.Time       `json:"original_end_date"`
	NewEndDate        time.Time       `json:"new_end_date"`
	ExtensionMonths   int             `json:"extension_months"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            ExtensionStatus `json:"status"`
	ExternallyManaged bool            `json:"externally_managed"`
	LedgerEntryID     *string         `json:"ledger_entry_id,omitempty"`
	RequestedByID     string          `json:"requested_by_id"`
	DecidedByID       *string         `json:"decided_by_id,omitempty"`
	DecisionNote      *string         `json:"decision_note,omitempty"`
	ActivatedAt       *time.Time      `json:"activated_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ExtensionUpdate is the guarded write applied on an extension transition.
// Nil fields are left untouched.
type ExtensionUpdate struct {
	Status        ExtensionStatus
	LedgerEntryID *string
	DecidedByID   *string
	DecisionNote  *string
	ActivatedAt   *time.Time
}

// RenewalRequest is the body of renewals.request
type RenewalRequest struct {
	BookingID string `json:"booking_id"`
	Months    int    `json:"months,omitempty"`
}

// RenewalDecision is the body of approve/reject/cancel
type RenewalDecision struct {
	Note string `json:"note,omitempty"`
}

// RenewalEligibility is the answer of renewals.checkEligibility
type RenewalEligibility struct {
	BookingID      string    `json:"booking_id"`
	Eligible       bool      `json:"eligible"`
	Reason         string    `json:"reason,omitempty"`
	RenewalCount   int       `json:"renewal_count"`
	MaxRenewals    int       `json:"max_renewals"`
	WindowOpensAt  time.Time `json:"window_opens_at"`
	CurrentEndDate time.Time `json:"current_end_date"`
}

// ExtensionFilter is used by renewals.list
type ExtensionFilter struct {
	BookingID  string
	BuildingID string
	Status     ExtensionStatus
	Limit      int
	Offset     int
}

// ExtensionPage is a page of renewal requests
type ExtensionPage struct {
	Extensions []*Extension `json:"extensions"`
	Total      int          `json:"total"`
	Limit      int          `json:"limit"`
	Offset     int          `json:"offset"`
}
