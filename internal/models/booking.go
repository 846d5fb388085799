package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookingStatus is the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusPendingPayment BookingStatus = "PENDING_PAYMENT"
	BookingStatusActive         BookingStatus = "ACTIVE"
	BookingStatusCompleted      BookingStatus = "COMPLETED"
	BookingStatusCancelled      BookingStatus = "CANCELLED"
)

// Booking is a lease owned by the bookings subsystem. The engine only marks it
// paid and extends its end date.
type Booking struct {
	ID           string          `json:"id"`
	UnitID       string          `json:"unit_id"`
	BuildingID   string          `json:"building_id"`
	GuestName    string          `json:"guest_name"`
	GuestEmail   string          `json:"guest_email"`
	GuestPhone   string          `json:"guest_phone"`
	Status       BookingStatus   `json:"status"`
	StartDate    time.Time       `json:"start_date"`
	EndDate      time.Time       `json:"end_date"`
	MonthlyRent  decimal.Decimal `json:"monthly_rent"`
	Currency     string          `json:"currency"`
	RenewalCount int             `json:"renewal_count"`
	MaxRenewals  *int            `json:"max_renewals,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Covers reports whether the booking occupies the given day. End date is exclusive.
func (b *Booking) Covers(day time.Time) bool {
	if b.Status != BookingStatusActive && b.Status != BookingStatusPendingPayment {
		return false
	}
	return !day.Before(b.StartDate) && day.Before(b.EndDate)
}
