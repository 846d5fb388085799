package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntryType represents the kind of money movement
type LedgerEntryType string

const (
	LedgerEntryTypeRent          LedgerEntryType = "RENT"
	LedgerEntryTypeRenewal       LedgerEntryType = "RENEWAL"
	LedgerEntryTypeProtectionFee LedgerEntryType = "PROTECTION_FEE"
	LedgerEntryTypeDeposit       LedgerEntryType = "DEPOSIT"
	LedgerEntryTypeCleaning      LedgerEntryType = "CLEANING"
	LedgerEntryTypePenalty       LedgerEntryType = "PENALTY"
	LedgerEntryTypeRefund        LedgerEntryType = "REFUND"
	LedgerEntryTypeAdjustment    LedgerEntryType = "ADJUSTMENT"
)

var invoicePrefixes = map[LedgerEntryType]string{
	LedgerEntryTypeRent:          "RNT",
	LedgerEntryTypeRenewal:       "RNW",
	LedgerEntryTypeProtectionFee: "PRT",
	LedgerEntryTypeDeposit:       "DEP",
	LedgerEntryTypeCleaning:      "CLN",
	LedgerEntryTypePenalty:       "PEN",
	LedgerEntryTypeRefund:        "RFD",
	LedgerEntryTypeAdjustment:    "ADJ",
}

// InvoicePrefix returns the invoice number prefix for the type
func (t LedgerEntryType) InvoicePrefix() string {
	if p, ok := invoicePrefixes[t]; ok {
		return p
	}
	return "LGR"
}

func (t LedgerEntryType) Valid() bool {
	_, ok := invoicePrefixes[t]
	return ok
}

// IsRent reports whether the type counts as rent revenue for KPIs
func (t LedgerEntryType) IsRent() bool {
	return t == LedgerEntryTypeRent || t == LedgerEntryTypeRenewal
}

// RentTypes lists the types aggregated as rent revenue.
var RentTypes = []LedgerEntryType{LedgerEntryTypeRent, LedgerEntryTypeRenewal}

// Direction of the money movement relative to the operator
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

func (d Direction) Valid() bool { return d == DirectionIn || d == DirectionOut }

// Opposite returns the reverse direction
func (d Direction) Opposite() Direction {
	if d == DirectionIn {
		return DirectionOut
	}
	return DirectionIn
}

// LedgerStatus is the state of a ledger entry
type LedgerStatus string

const (
	LedgerStatusDue      LedgerStatus = "DUE"
	LedgerStatusPending  LedgerStatus = "PENDING"
	LedgerStatusPaid     LedgerStatus = "PAID"
	LedgerStatusFailed   LedgerStatus = "FAILED"
	LedgerStatusRefunded LedgerStatus = "REFUNDED"
	LedgerStatusVoid     LedgerStatus = "VOID"
)

// ledgerTransitions is the complete transition table. PAID -> REFUNDED is listed
// but only reachable through refund creation.
var ledgerTransitions = map[LedgerStatus][]LedgerStatus{
	LedgerStatusDue:      {LedgerStatusPending, LedgerStatusPaid, LedgerStatusFailed, LedgerStatusVoid},
	LedgerStatusPending:  {LedgerStatusPaid, LedgerStatusFailed, LedgerStatusVoid},
	LedgerStatusPaid:     {LedgerStatusRefunded},
	LedgerStatusFailed:   {LedgerStatusDue, LedgerStatusPending, LedgerStatusVoid},
	LedgerStatusRefunded: nil,
	LedgerStatusVoid:     nil,
}

// AllLedgerStatuses lists every status in declaration order
var AllLedgerStatuses = []LedgerStatus{
	LedgerStatusDue, LedgerStatusPending, LedgerStatusPaid,
	LedgerStatusFailed, LedgerStatusRefunded, LedgerStatusVoid,
}

func (s LedgerStatus) Valid() bool {
	_, ok := ledgerTransitions[s]
	return ok
}

// Terminal reports whether no further transitions are possible
func (s LedgerStatus) Terminal() bool {
	return s == LedgerStatusRefunded || s == LedgerStatusVoid
}

// CanTransition reports whether from -> to is in the transition table
func (s LedgerStatus) CanTransition(to LedgerStatus) bool {
	for _, next := range ledgerTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// LedgerEntry is one money movement. Once PAID, amount, currency and booking
// linkage never change.
type LedgerEntry struct {
	ID                string          `json:"id"`
	InvoiceNumber     string          `json:"invoice_number"`
	Type              LedgerEntryType `json:"type"`
	Direction         Direction       `json:"direction"`
	Status            LedgerStatus    `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	BookingID         *string         `json:"booking_id,omitempty"`
	PMSBookingRef     *string         `json:"pms_booking_ref,omitempty"`
	BuildingID        *string         `json:"building_id,omitempty"`
	UnitID            *string         `json:"unit_id,omitempty"`
	ParentLedgerID    *string         `json:"parent_ledger_id,omitempty"`
	GuestName         string          `json:"guest_name,omitempty"`
	GuestEmail        string          `json:"guest_email,omitempty"`
	GuestPhone        string          `json:"guest_phone,omitempty"`
	PaymentMethod     string          `json:"payment_method,omitempty"`
	ProviderName      string          `json:"provider_name,omitempty"`
	ProviderReference string          `json:"provider_reference,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	DueAt             *time.Time      `json:"due_at,omitempty"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	CreatedByID       string          `json:"created_by_id"`
	CreatedByName     string          `json:"created_by_name"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// CreateLedgerEntryRequest is used when creating a new ledger entry
type CreateLedgerEntryRequest struct {
	Type              LedgerEntryType `json:"type"`
	Direction         Direction       `json:"direction"`
	Amount            string          `json:"amount"`
	Currency          string          `json:"currency"`
	Status            LedgerStatus    `json:"status,omitempty"`
	BookingID         *string         `json:"booking_id,omitempty"`
	PMSBookingRef     *string         `json:"pms_booking_ref,omitempty"`
	BuildingID        *string         `json:"building_id,omitempty"`
	UnitID            *string         `json:"unit_id,omitempty"`
	GuestName         string          `json:"guest_name,omitempty"`
	GuestEmail        string          `json:"guest_email,omitempty"`
	GuestPhone        string          `json:"guest_phone,omitempty"`
	PaymentMethod     string          `json:"payment_method,omitempty"`
	ProviderName      string          `json:"provider_name,omitempty"`
	ProviderReference string          `json:"provider_reference,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	DueAt             *time.Time      `json:"due_at,omitempty"`
}

// CreateLedgerEntryResponse is returned by ledger.create
type CreateLedgerEntryResponse struct {
	ID            string `json:"id"`
	InvoiceNumber string `json:"invoice_number"`
}

// TransitionExtras carries the provenance fields applied with a status change.
// Nil fields are left untouched.
type TransitionExtras struct {
	PaymentMethod     *string    `json:"payment_method,omitempty"`
	ProviderName      *string    `json:"provider_name,omitempty"`
	ProviderReference *string    `json:"provider_reference,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
}

// StatusUpdate is the write applied by a guarded status transition
type StatusUpdate struct {
	Status LedgerStatus
	TransitionExtras
}

// TransitionRequest is the body of ledger.transitionStatus
type TransitionRequest struct {
	Status LedgerStatus `json:"status"`
	TransitionExtras
}

// TransitionResult reports the entry after a transition and whether it changed
type TransitionResult struct {
	Entry   *LedgerEntry `json:"entry"`
	Changed bool         `json:"changed"`
}

// AdjustmentRequest is the body of ledger.createAdjustment
type AdjustmentRequest struct {
	Type      LedgerEntryType `json:"type"`
	Direction Direction       `json:"direction,omitempty"`
	Amount    string          `json:"amount"`
	Notes     string          `json:"notes,omitempty"`
}

// AdjustmentResult reports the child entry and the parent after the operation
type AdjustmentResult struct {
	Entry  *LedgerEntry `json:"entry"`
	Parent *LedgerEntry `json:"parent"`
}

// LedgerFilter is used for searching ledger entries
type LedgerFilter struct {
	BuildingID    string          `json:"building_id,omitempty"`
	UnitID        string          `json:"unit_id,omitempty"`
	Guest         string          `json:"guest,omitempty"`
	BookingID     string          `json:"booking_id,omitempty"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	Status        LedgerStatus    `json:"status,omitempty"`
	Type          LedgerEntryType `json:"type,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	StartDate     *time.Time      `json:"start_date,omitempty"`
	EndDate       *time.Time      `json:"end_date,omitempty"`
	Limit         int             `json:"limit"`
	Offset        int             `json:"offset"`
}

// LedgerPage is a page of search results
type LedgerPage struct {
	Entries []*LedgerEntry `json:"entries"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

// Scope restricts aggregations to one building; empty means global
type Scope struct {
	BuildingID string
}

func (s Scope) Global() bool { return s.BuildingID == "" }
