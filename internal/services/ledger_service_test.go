package services

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-backend/internal/apperrors"
	"ledger-backend/internal/models"
)

var fixedNow = time.Date(2026, time.March, 15, 9, 30, 0, 0, time.UTC)

func TestInvoiceNumberFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^RNW-2026-[0-9A-F]{6}$`)
	for i := 0; i < 20; i++ {
		assert.Regexp(t, pattern, InvoiceNumber(models.LedgerEntryTypeRenewal, fixedNow))
	}
	assert.Regexp(t, `^RFD-2026-`, InvoiceNumber(models.LedgerEntryTypeRefund, fixedNow))
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "two places", raw: "500.00", want: "500"},
		{name: "integer", raw: "42", want: "42"},
		{name: "trailing zeros", raw: "10.500", want: "10.5"},
		{name: "three places", raw: "10.555", wantErr: true},
		{name: "zero", raw: "0", wantErr: true},
		{name: "negative", raw: "-5", wantErr: true},
		{name: "garbage", raw: "abc", wantErr: true},
		{name: "empty", raw: " ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount("amount", tt.raw)
			if tt.wantErr {
				assert.True(t, apperrors.IsValidation(err), "expected validation error, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(dec(tt.want)), "got %s", got)
		})
	}
}

func TestCreateLedgerEntry(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()

	res, err := env.ledger.Create(ctx, staff, &models.CreateLedgerEntryRequest{
		Type:      models.LedgerEntryTypeRent,
		Direction: models.DirectionIn,
		Amount:    "1200.50",
		GuestName: "Sara",
	})
	require.NoError(t, err)
	assert.Regexp(t, `^RNT-2026-[0-9A-F]{6}$`, res.InvoiceNumber)

	entry, err := env.ledger.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LedgerStatusDue, entry.Status)
	assert.Equal(t, "SAR", entry.Currency)
	assert.Equal(t, staff.ID, entry.CreatedByID)
	assert.Contains(t, env.auditActions(t, res.ID), models.AuditActionCreate)

	_, err = env.ledger.Create(ctx, staff, &models.CreateLedgerEntryRequest{
		Type:      models.LedgerEntryTypeRefund,
		Direction: models.DirectionOut,
		Amount:    "10",
	})
	assert.True(t, apperrors.IsValidation(err))

	_, err = env.ledger.Create(ctx, staff, &models.CreateLedgerEntryRequest{
		Type:      models.LedgerEntryTypeRent,
		Direction: models.DirectionIn,
		Amount:    "10",
		Status:    models.LedgerStatusPaid,
	})
	assert.True(t, apperrors.IsValidation(err), "entries cannot be created PAID")

	_, err = env.ledger.Create(ctx, staff, &models.CreateLedgerEntryRequest{
		Type:      models.LedgerEntryTypeRent,
		Direction: models.DirectionIn,
		Amount:    "10",
		Currency:  "riyal",
	})
	assert.True(t, apperrors.IsValidation(err))
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from     models.LedgerStatus
		to       models.LedgerStatus
		verified bool
		reason   string
	}{
		{from: models.LedgerStatusDue, to: models.LedgerStatusPending},
		{from: models.LedgerStatusDue, to: models.LedgerStatusFailed},
		{from: models.LedgerStatusDue, to: models.LedgerStatusVoid},
		{from: models.LedgerStatusDue, to: models.LedgerStatusPaid, verified: true},
		{from: models.LedgerStatusDue, to: models.LedgerStatusPaid, reason: apperrors.ReasonWebhookRequired},
		{from: models.LedgerStatusPending, to: models.LedgerStatusPaid, verified: true},
		{from: models.LedgerStatusPending, to: models.LedgerStatusPaid, reason: apperrors.ReasonWebhookRequired},
		{from: models.LedgerStatusPending, to: models.LedgerStatusDue, reason: apperrors.ReasonIllegalTransition},
		{from: models.LedgerStatusFailed, to: models.LedgerStatusDue},
		{from: models.LedgerStatusFailed, to: models.LedgerStatusPending},
		{from: models.LedgerStatusPaid, to: models.LedgerStatusVoid, reason: apperrors.ReasonPaidImmutable},
		{from: models.LedgerStatusPaid, to: models.LedgerStatusDue, reason: apperrors.ReasonPaidImmutable},
		{from: models.LedgerStatusPaid, to: models.LedgerStatusRefunded, reason: apperrors.ReasonIllegalTransition},
		{from: models.LedgerStatusPaid, to: models.LedgerStatusPaid, verified: true},
		{from: models.LedgerStatusVoid, to: models.LedgerStatusDue, reason: apperrors.ReasonTerminalStatus},
		{from: models.LedgerStatusRefunded, to: models.LedgerStatusPaid, verified: true, reason: apperrors.ReasonTerminalStatus},
		{from: models.LedgerStatusDue, to: models.LedgerStatusRefunded, reason: apperrors.ReasonIllegalTransition},
	}
	for _, tt := range tests {
		name := string(tt.from) + "->" + string(tt.to)
		if tt.verified {
			name += " verified"
		}
		t.Run(name, func(t *testing.T) {
			err := checkTransition(tt.from, tt.to, tt.verified)
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.IsConflict(err))
			assert.Equal(t, tt.reason, apperrors.ReasonOf(err))
		})
	}
}

func TestTransitionStatusPaidIsFrozen(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	entry := env.createEntry(t, models.LedgerEntryTypeRent, "300.00")

	paid := env.markPaid(t, entry.ID)
	assert.Equal(t, models.LedgerStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	assert.True(t, paid.PaidAt.Equal(fixedNow))

	_, err := env.ledger.TransitionStatus(ctx, staff, entry.ID, models.TransitionRequest{Status: models.LedgerStatusVoid}, false)
	assert.Equal(t, apperrors.ReasonPaidImmutable, apperrors.ReasonOf(err))

	again, err := env.ledger.TransitionStatus(ctx, models.WebhookActor, entry.ID, models.TransitionRequest{Status: models.LedgerStatusPaid}, true)
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.True(t, again.Entry.Amount.Equal(dec("300")))
}

func TestTransitionStatusSameStatusIsNoop(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	entry := env.createEntry(t, models.LedgerEntryTypeRent, "300.00")

	res, err := env.ledger.TransitionStatus(ctx, staff, entry.ID, models.TransitionRequest{Status: models.LedgerStatusDue}, false)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	statusChanges := 0
	for _, action := range env.auditActions(t, entry.ID) {
		if action == models.AuditActionStatusChange {
			statusChanges++
		}
	}
	assert.Zero(t, statusChanges)
}

func TestTransitionStatusUnknownEntry(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	_, err := env.ledger.TransitionStatus(context.Background(), staff, "missing", models.TransitionRequest{Status: models.LedgerStatusVoid}, false)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRefundRoundTrip(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	entry := env.createEntry(t, models.LedgerEntryTypeRent, "500.00")

	_, err := env.ledger.CreateAdjustmentOrRefund(ctx, staff, entry.ID, models.AdjustmentRequest{
		Type:   models.LedgerEntryTypeRefund,
		Amount: "100",
	})
	assert.Equal(t, apperrors.ReasonParentNotPaid, apperrors.ReasonOf(err))

	env.markPaid(t, entry.ID)

	_, err = env.ledger.CreateAdjustmentOrRefund(ctx, staff, entry.ID, models.AdjustmentRequest{
		Type:   models.LedgerEntryTypeRefund,
		Amount: "500.01",
	})
	assert.True(t, apperrors.IsValidation(err), "refund larger than parent")

	res, err := env.ledger.CreateAdjustmentOrRefund(ctx, staff, entry.ID, models.AdjustmentRequest{
		Type:   models.LedgerEntryTypeRefund,
		Amount: "500.00",
		Notes:  "Guest cancelled",
	})
	require.NoError(t, err)

	assert.Equal(t, models.LedgerStatusRefunded, res.Parent.Status)
	assert.Equal(t, models.LedgerStatusPaid, res.Entry.Status)
	assert.Equal(t, models.DirectionOut, res.Entry.Direction)
	assert.Regexp(t, `^RFD-2026-`, res.Entry.InvoiceNumber)
	require.NotNil(t, res.Entry.ParentLedgerID)
	assert.Equal(t, entry.ID, *res.Entry.ParentLedgerID)

	stored, err := env.ledger.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LedgerStatusRefunded, stored.Status)
	assert.True(t, stored.Amount.Equal(dec("500")), "parent amount unchanged")

	assert.Contains(t, env.auditActions(t, entry.ID), models.AuditActionStatusChange)
	assert.Contains(t, env.auditActions(t, res.Entry.ID), models.AuditActionRefund)

	_, err = env.ledger.CreateAdjustmentOrRefund(ctx, staff, entry.ID, models.AdjustmentRequest{
		Type:   models.LedgerEntryTypeRefund,
		Amount: "1",
	})
	assert.Equal(t, apperrors.ReasonParentNotPaid, apperrors.ReasonOf(err), "refunded parent cannot be refunded twice")
}

func TestAdjustmentKeepsParentPaid(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	entry := env.createEntry(t, models.LedgerEntryTypeRent, "500.00")
	env.markPaid(t, entry.ID)

	res, err := env.ledger.CreateAdjustmentOrRefund(ctx, staff, entry.ID, models.AdjustmentRequest{
		Type:   models.LedgerEntryTypeAdjustment,
		Amount: "25.00",
	})
	require.NoError(t, err)
	assert.Equal(t, models.LedgerStatusPaid, res.Parent.Status)
	assert.Equal(t, models.DirectionIn, res.Entry.Direction)
	assert.Regexp(t, `^ADJ-2026-`, res.Entry.InvoiceNumber)

	_, err = env.ledger.CreateAdjustmentOrRefund(ctx, staff, entry.ID, models.AdjustmentRequest{
		Type:   models.LedgerEntryTypeRent,
		Amount: "25.00",
	})
	assert.True(t, apperrors.IsValidation(err))
}

func TestSearchFilters(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	first := env.createEntry(t, models.LedgerEntryTypeRent, "100")
	env.createEntry(t, models.LedgerEntryTypeDeposit, "50")
	env.markPaid(t, first.ID)

	page, err := env.ledger.Search(ctx, models.LedgerFilter{Status: models.LedgerStatusPaid})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, first.ID, page.Entries[0].ID)
	assert.Equal(t, 50, page.Limit)

	page, err = env.ledger.Search(ctx, models.LedgerFilter{InvoiceNumber: first.InvoiceNumber})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	_, err = env.ledger.Search(ctx, models.LedgerFilter{Status: "SETTLED"})
	assert.True(t, apperrors.IsValidation(err))
}
