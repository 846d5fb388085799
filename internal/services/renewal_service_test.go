package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ledger-backend/internal/apperrors"
	"ledger-backend/internal/models"
	"ledger-backend/internal/repositories/memory"
)

var admin = models.Actor{ID: "admin-1", Name: "Admin", Role: "admin"}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func activeBooking(id string, end time.Time) *models.Booking {
	return &models.Booking{
		ID:          id,
		UnitID:      "unit-" + id,
		BuildingID:  "bldg-1",
		GuestName:   "Omar",
		Status:      models.BookingStatusActive,
		StartDate:   end.AddDate(-1, 0, 0),
		EndDate:     end,
		MonthlyRent: dec("500.00"),
		Currency:    "SAR",
	}
}

func TestCheckEligibilityReasons(t *testing.T) {
	// fixedNow is 2026-03-15; the window is 60 days before the end date
	tests := []struct {
		name    string
		booking *models.Booking
		reason  string
	}{
		{name: "eligible", booking: activeBooking("b1", date(2026, 4, 30))},
		{
			name: "not active",
			booking: func() *models.Booking {
				b := activeBooking("b2", date(2026, 4, 30))
				b.Status = models.BookingStatusPendingPayment
				return b
			}(),
			reason: apperrors.ReasonBookingNotActive,
		},
		{
			name: "max renewals",
			booking: func() *models.Booking {
				b := activeBooking("b3", date(2026, 4, 30))
				b.RenewalCount = 3
				return b
			}(),
			reason: apperrors.ReasonMaxRenewalsReached,
		},
		{
			name: "booking override of max renewals",
			booking: func() *models.Booking {
				b := activeBooking("b4", date(2026, 4, 30))
				b.RenewalCount = 3
				b.MaxRenewals = ptr(5)
				return b
			}(),
		},
		{name: "window not open", booking: activeBooking("b5", date(2026, 9, 1)), reason: apperrors.ReasonOutsideRenewalWindow},
		{name: "already ended", booking: activeBooking("b6", date(2026, 3, 15)), reason: apperrors.ReasonOutsideRenewalWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, fixedNow)
			env.directory.PutBooking(tt.booking)

			got, err := env.renewals.CheckEligibility(context.Background(), tt.booking.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.reason, got.Reason)
			assert.Equal(t, tt.reason == "", got.Eligible)
		})
	}
}

func TestRequestRenewalRejectsDuplicate(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	env.directory.PutBooking(activeBooking("b1", date(2026, 4, 30)))

	ext, err := env.renewals.RequestRenewal(ctx, staff, models.RenewalRequest{BookingID: "b1", Months: 6})
	require.NoError(t, err)
	assert.Equal(t, models.ExtensionStatusPendingApproval, ext.Status)
	assert.True(t, ext.Amount.Equal(dec("3000")))
	assert.True(t, ext.NewEndDate.Equal(date(2026, 10, 30)))

	_, err = env.renewals.RequestRenewal(ctx, staff, models.RenewalRequest{BookingID: "b1"})
	assert.True(t, apperrors.IsIneligible(err))
	assert.Equal(t, apperrors.ReasonRenewalAlreadyPending, apperrors.ReasonOf(err))

	_, err = env.renewals.RequestRenewal(ctx, staff, models.RenewalRequest{BookingID: "b1", Months: 30})
	assert.True(t, apperrors.IsValidation(err))
}

func TestRequestRenewalFlagsExternallyManagedUnits(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	booking := activeBooking("b1", date(2026, 4, 30))
	env.directory.PutBooking(booking)
	_, err := env.mappings.Upsert(ctx, &models.UnitExternalMapping{
		UnitID:             booking.UnitID,
		ConnectionStyle:    models.ConnectionStyleAPI,
		SourceOfTruth:      models.SourceOfTruthExternalPMS,
		ExternalPropertyID: ptr("prop-1"),
		ExternalRoomID:     ptr("room-1"),
	})
	require.NoError(t, err)

	ext, err := env.renewals.RequestRenewal(ctx, staff, models.RenewalRequest{BookingID: "b1"})
	require.NoError(t, err)
	assert.True(t, ext.ExternallyManaged)
	assert.Equal(t, 12, ext.ExtensionMonths)
}

func TestRenewalHappyPath(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	env.directory.PutBooking(activeBooking("b1", date(2026, 4, 30)))

	ext, err := env.renewals.RequestRenewal(ctx, staff, models.RenewalRequest{BookingID: "b1", Months: 12})
	require.NoError(t, err)

	approved, err := env.renewals.ApproveExtension(ctx, admin, ext.ID, "ok")
	require.NoError(t, err)
	assert.Equal(t, models.ExtensionStatusPaymentPending, approved.Status)
	require.NotNil(t, approved.LedgerEntryID)

	charge, err := env.ledger.GetByID(ctx, *approved.LedgerEntryID)
	require.NoError(t, err)
	assert.Equal(t, models.LedgerEntryTypeRenewal, charge.Type)
	assert.Equal(t, models.LedgerStatusDue, charge.Status)
	assert.True(t, charge.Amount.Equal(dec("6000")))
	assert.Regexp(t, `^RNW-2026-`, charge.InvoiceNumber)

	env.markPending(t, charge.ID, "pay_123")
	payload := &models.PaymentWebhookPayload{ProviderReference: "pay_123", Status: "paid", Amount: "6000.00", Currency: "SAR"}

	res, err := env.webhooks.Process(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeApplied, res.Outcome)

	activated, err := env.renewals.Get(ctx, ext.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExtensionStatusActive, activated.Status)
	require.NotNil(t, activated.ActivatedAt)

	booking, err := env.directory.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, booking.EndDate.Equal(date(2027, 4, 30)))
	assert.Equal(t, 1, booking.RenewalCount)

	// A redelivered callback must not extend the lease a second time
	res, err = env.webhooks.Process(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeDuplicate, res.Outcome)

	booking, err = env.directory.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, booking.EndDate.Equal(date(2027, 4, 30)))
	assert.Equal(t, 1, booking.RenewalCount)

	assert.Contains(t, env.auditActions(t, ext.ID), models.AuditActionRenewalActivate)
}

// interruptedExtensions fails the first move to PAYMENT_PENDING
type interruptedExtensions struct {
	*memory.ExtensionStore
	armed atomic.Bool
}

func (s *interruptedExtensions) UpdateStatus(ctx context.Context, id string, from models.ExtensionStatus, u models.ExtensionUpdate) (*models.Extension, error) {
	if u.Status == models.ExtensionStatusPaymentPending && s.armed.CompareAndSwap(true, false) {
		return nil, errors.New("connection reset")
	}
	return s.ExtensionStore.UpdateStatus(ctx, id, from, u)
}

func TestApproveResumeReusesCharge(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	env.directory.PutBooking(activeBooking("b1", date(2026, 4, 30)))

	store := &interruptedExtensions{ExtensionStore: env.extensions}
	store.armed.Store(true)
	renewals := NewRenewalService(store, env.directory, env.mappings, env.ledger, env.audit, env.zone, RenewalConfig{
		MaxRenewals:   3,
		WindowDays:    60,
		DefaultMonths: 12,
	}, zap.NewNop())

	ext, err := renewals.RequestRenewal(ctx, staff, models.RenewalRequest{BookingID: "b1", Months: 12})
	require.NoError(t, err)

	_, err = renewals.ApproveExtension(ctx, admin, ext.ID, "")
	require.Error(t, err)
	stuck, err := renewals.Get(ctx, ext.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExtensionStatusApproved, stuck.Status)
	assert.Nil(t, stuck.LedgerEntryID)

	approved, err := renewals.ApproveExtension(ctx, admin, ext.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.ExtensionStatusPaymentPending, approved.Status)
	require.NotNil(t, approved.LedgerEntryID)

	charges, err := env.ledger.Search(ctx, models.LedgerFilter{BookingID: "b1", Type: models.LedgerEntryTypeRenewal})
	require.NoError(t, err)
	require.Equal(t, 1, charges.Total)
	assert.Equal(t, *approved.LedgerEntryID, charges.Entries[0].ID)
	assert.True(t, charges.Entries[0].Amount.Equal(dec("6000")))

	report, err := env.kpis.Global(ctx)
	require.NoError(t, err)
	assert.True(t, report.OutstandingBalance.Equal(dec("6000")), report.OutstandingBalance.String())
}

func TestActivateExtensionRequiresPaidCharge(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	env.directory.PutBooking(activeBooking("b1", date(2026, 4, 30)))
	ext, err := env.renewals.RequestRenewal(ctx, staff, models.RenewalRequest{BookingID: "b1"})
	require.NoError(t, err)

	// Not yet PAYMENT_PENDING: a no-op
	same, activated, err := env.renewals.ActivateExtension(ctx, ext.ID)
	require.NoError(t, err)
	assert.False(t, activated)
	assert.Equal(t, models.ExtensionStatusPendingApproval, same.Status)

	_, err = env.renewals.ApproveExtension(ctx, admin, ext.ID, "")
	require.NoError(t, err)
	_, _, err = env.renewals.ActivateExtension(ctx, ext.ID)
	assert.True(t, apperrors.IsConflict(err), "charge is still DUE")
}

func TestRejectAndCancel(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	env.directory.PutBooking(activeBooking("b1", date(2026, 4, 30)))
	env.directory.PutBooking(activeBooking("b2", date(2026, 4, 30)))

	first, err := env.renewals.RequestRenewal(ctx, staff, models.RenewalRequest{BookingID: "b1"})
	require.NoError(t, err)
	rejected, err := env.renewals.RejectExtension(ctx, admin, first.ID, "rent review pending")
	require.NoError(t, err)
	assert.Equal(t, models.ExtensionStatusRejected, rejected.Status)
	require.NotNil(t, rejected.DecisionNote)

	_, err = env.renewals.ApproveExtension(ctx, admin, first.ID, "")
	assert.Equal(t, apperrors.ReasonIllegalTransition, apperrors.ReasonOf(err))

	second, err := env.renewals.RequestRenewal(ctx, staff, models.RenewalRequest{BookingID: "b2"})
	require.NoError(t, err)
	approved, err := env.renewals.ApproveExtension(ctx, admin, second.ID, "")
	require.NoError(t, err)

	cancelled, err := env.renewals.CancelExtension(ctx, staff, second.ID, "guest moving out")
	require.NoError(t, err)
	assert.Equal(t, models.ExtensionStatusCancelled, cancelled.Status)

	charge, err := env.ledger.GetByID(ctx, *approved.LedgerEntryID)
	require.NoError(t, err)
	assert.Equal(t, models.LedgerStatusVoid, charge.Status)

	_, err = env.renewals.RejectExtension(ctx, admin, second.ID, "")
	assert.True(t, apperrors.IsConflict(err))
}

func TestCancelAfterPaymentIsRefused(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	env.directory.PutBooking(activeBooking("b1", date(2026, 4, 30)))
	ext, err := env.renewals.RequestRenewal(ctx, staff, models.RenewalRequest{BookingID: "b1"})
	require.NoError(t, err)
	approved, err := env.renewals.ApproveExtension(ctx, admin, ext.ID, "")
	require.NoError(t, err)

	// Pay the charge without running the activation cascade
	env.markPaid(t, *approved.LedgerEntryID)

	_, err = env.renewals.CancelExtension(ctx, staff, ext.ID, "")
	assert.Equal(t, apperrors.ReasonPaidImmutable, apperrors.ReasonOf(err))
}

func TestListRenewals(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	env.directory.PutBooking(activeBooking("b1", date(2026, 4, 30)))
	env.directory.PutBooking(activeBooking("b2", date(2026, 5, 1)))
	_, err := env.renewals.RequestRenewal(ctx, staff, models.RenewalRequest{BookingID: "b1"})
	require.NoError(t, err)
	_, err = env.renewals.RequestRenewal(ctx, staff, models.RenewalRequest{BookingID: "b2"})
	require.NoError(t, err)

	page, err := env.renewals.List(ctx, models.ExtensionFilter{BookingID: "b2"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "b2", page.Extensions[0].BookingID)
}
