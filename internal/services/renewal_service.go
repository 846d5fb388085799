package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ledger-backend/internal/apperrors"
	"ledger-backend/internal/metrics"
	"ledger-backend/internal/models"
	"ledger-backend/internal/timeutil"
)

// RenewalConfig holds the renewal rules
type RenewalConfig struct {
	MaxRenewals   int
	WindowDays    int
	DefaultMonths int
}

const maxExtensionMonths = 24

// RenewalService drives lease extensions from request to activation.
// Activation only happens from the payment path.
type RenewalService struct {
	extensions ExtensionStore
	bookings   BookingStore
	mappings   MappingStore
	ledger     *LedgerService
	audit      *AuditService
	zone       *timeutil.Zone
	cfg        RenewalConfig
	logger     *zap.Logger
}

func NewRenewalService(
	extensions ExtensionStore,
	bookings BookingStore,
	mappings MappingStore,
	ledger *LedgerService,
	audit *AuditService,
	zone *timeutil.Zone,
	cfg RenewalConfig,
	logger *zap.Logger,
) *RenewalService {
	if cfg.DefaultMonths <= 0 {
		cfg.DefaultMonths = 12
	}
	return &RenewalService{
		extensions: extensions,
		bookings:   bookings,
		mappings:   mappings,
		ledger:     ledger,
		audit:      audit,
		zone:       zone,
		cfg:        cfg,
		logger:     logger.Named("renewal"),
	}
}

// CheckEligibility reports whether the booking can be renewed today
func (s *RenewalService) CheckEligibility(ctx context.Context, bookingID string) (*models.RenewalEligibility, error) {
	booking, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	maxRenewals := s.cfg.MaxRenewals
	if booking.MaxRenewals != nil {
		maxRenewals = *booking.MaxRenewals
	}
	windowOpens := booking.EndDate.AddDate(0, 0, -s.cfg.WindowDays)
	today := s.zone.DateOnly(s.zone.Now())

	result := &models.RenewalEligibility{
		BookingID:      booking.ID,
		RenewalCount:   booking.RenewalCount,
		MaxRenewals:    maxRenewals,
		WindowOpensAt:  windowOpens,
		CurrentEndDate: booking.EndDate,
	}

	switch {
	case booking.Status != models.BookingStatusActive:
		result.Reason = apperrors.ReasonBookingNotActive
	case booking.RenewalCount >= maxRenewals:
		result.Reason = apperrors.ReasonMaxRenewalsReached
	case today.Before(windowOpens) || !today.Before(booking.EndDate):
		result.Reason = apperrors.ReasonOutsideRenewalWindow
	default:
		open, err := s.extensions.HasOpen(ctx, booking.ID)
		if err != nil {
			return nil, err
		}
		if open {
			result.Reason = apperrors.ReasonRenewalAlreadyPending
		}
	}
	result.Eligible = result.Reason == ""
	return result, nil
}

func ineligibleMessage(reason string) string {
	switch reason {
	case apperrors.ReasonBookingNotActive:
		return "booking is not active"
	case apperrors.ReasonMaxRenewalsReached:
		return "booking has reached its maximum number of renewals"
	case apperrors.ReasonOutsideRenewalWindow:
		return "renewal window is not open for this booking"
	case apperrors.ReasonRenewalAlreadyPending:
		return "booking already has an open renewal"
	}
	return "booking is not eligible for renewal"
}

// RequestRenewal creates a PENDING_APPROVAL extension for an eligible booking
func (s *RenewalService) RequestRenewal(ctx context.Context, actor models.Actor, req models.RenewalRequest) (*models.Extension, error) {
	if req.BookingID == "" {
		return nil, apperrors.Validation("booking_id", "is required")
	}
	months := req.Months
	if months == 0 {
		months = s.cfg.DefaultMonths
	}
	if months < 1 || months > maxExtensionMonths {
		return nil, apperrors.Validation("months", fmt.Sprintf("must be between 1 and %d", maxExtensionMonths))
	}

	eligibility, err := s.CheckEligibility(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if !eligibility.Eligible {
		return nil, apperrors.Ineligible(eligibility.Reason, ineligibleMessage(eligibility.Reason))
	}

	booking, err := s.bookings.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}

	externallyManaged := false
	if mapping, err := s.mappings.GetByUnit(ctx, booking.UnitID); err == nil {
		externallyManaged = mapping.SourceOfTruth == models.SourceOfTruthExternalPMS
	} else if !apperrors.IsNotFound(err) {
		return nil, err
	}

	ext := &models.Extension{
		ID:                uuid.NewString(),
		BookingID:         booking.ID,
		UnitID:            booking.UnitID,
		BuildingID:        booking.BuildingID,
		OriginalEndDate:   booking.EndDate,
		NewEndDate:        booking.EndDate.AddDate(0, months, 0),
		ExtensionMonths:   months,
		Amount:            booking.MonthlyRent.Mul(decimal.NewFromInt(int64(months))).Round(2),
		Currency:          booking.Currency,
		Status:            models.ExtensionStatusPendingApproval,
		ExternallyManaged: externallyManaged,
		RequestedByID:     actor.ID,
	}
	if err := s.extensions.Create(ctx, ext); err != nil {
		return nil, err
	}

	metrics.RenewalTransitionsTotal.WithLabelValues(string(ext.Status)).Inc()
	s.audit.Record(AuditEvent{
		Actor:      actor,
		Action:     models.AuditActionRenewalRequest,
		EntityType: models.EntityExtension,
		EntityID:   ext.ID,
		Label:      booking.ID,
		After:      ext,
	})
	return ext, nil
}

// ApproveExtension moves PENDING_APPROVAL to APPROVED, raises the DUE
// renewal charge and parks the extension at PAYMENT_PENDING. An APPROVED
// extension without a charge resumes from charge creation.
func (s *RenewalService) ApproveExtension(ctx context.Context, actor models.Actor, id string, note string) (*models.Extension, error) {
	ext, err := s.extensions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *ext

	switch {
	case ext.Status == models.ExtensionStatusPendingApproval:
		ext, err = s.extensions.UpdateStatus(ctx, id, models.ExtensionStatusPendingApproval, models.ExtensionUpdate{
			Status:       models.ExtensionStatusApproved,
			DecidedByID:  &actor.ID,
			DecisionNote: optionalString(note),
		})
		if err != nil {
			return nil, err
		}
		metrics.RenewalTransitionsTotal.WithLabelValues(string(ext.Status)).Inc()
	case ext.Status == models.ExtensionStatusApproved && ext.LedgerEntryID == nil:
		s.logger.Info("resuming approval of extension without charge", zap.String("extension_id", id))
	default:
		return nil, apperrors.Conflict(apperrors.ReasonIllegalTransition, "extension is %s and cannot be approved", ext.Status)
	}

	booking, err := s.bookings.GetBooking(ctx, ext.BookingID)
	if err != nil {
		return nil, err
	}

	chargeID, invoice, err := s.renewalCharge(ctx, actor, ext, booking)
	if err != nil {
		return nil, err
	}

	ext, err = s.extensions.UpdateStatus(ctx, id, models.ExtensionStatusApproved, models.ExtensionUpdate{
		Status:        models.ExtensionStatusPaymentPending,
		LedgerEntryID: &chargeID,
	})
	if err != nil {
		return nil, err
	}

	metrics.RenewalTransitionsTotal.WithLabelValues(string(ext.Status)).Inc()
	s.audit.Record(AuditEvent{
		Actor:      actor,
		Action:     models.AuditActionRenewalApprove,
		EntityType: models.EntityExtension,
		EntityID:   ext.ID,
		Label:      invoice,
		Before:     &before,
		After:      ext,
	})
	return ext, nil
}

func renewalChargeNote(ext *models.Extension) string {
	return fmt.Sprintf("Renewal %s: %d month(s)", ext.ID, ext.ExtensionMonths)
}

// renewalCharge returns the open charge an interrupted approval already
// raised for ext, or creates it.
func (s *RenewalService) renewalCharge(ctx context.Context, actor models.Actor, ext *models.Extension, booking *models.Booking) (string, string, error) {
	page, err := s.ledger.Search(ctx, models.LedgerFilter{
		BookingID: booking.ID,
		Type:      models.LedgerEntryTypeRenewal,
		Limit:     maxPageLimit,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to look up renewal charge: %w", err)
	}
	prefix := fmt.Sprintf("Renewal %s:", ext.ID)
	for _, e := range page.Entries {
		if !strings.HasPrefix(e.Notes, prefix) {
			continue
		}
		if e.Status == models.LedgerStatusDue || e.Status == models.LedgerStatusPending {
			s.logger.Info("reusing renewal charge",
				zap.String("extension_id", ext.ID), zap.String("invoice_number", e.InvoiceNumber))
			return e.ID, e.InvoiceNumber, nil
		}
	}

	dueAt := ext.OriginalEndDate
	created, err := s.ledger.Create(ctx, actor, &models.CreateLedgerEntryRequest{
		Type:       models.LedgerEntryTypeRenewal,
		Direction:  models.DirectionIn,
		Amount:     ext.Amount.StringFixed(2),
		Currency:   ext.Currency,
		BookingID:  &booking.ID,
		BuildingID: &booking.BuildingID,
		UnitID:     &booking.UnitID,
		GuestName:  booking.GuestName,
		GuestEmail: booking.GuestEmail,
		GuestPhone: booking.GuestPhone,
		Notes:      renewalChargeNote(ext),
		DueAt:      &dueAt,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to create renewal charge: %w", err)
	}
	return created.ID, created.InvoiceNumber, nil
}

// RejectExtension is only allowed from PENDING_APPROVAL
func (s *RenewalService) RejectExtension(ctx context.Context, actor models.Actor, id string, reason string) (*models.Extension, error) {
	ext, err := s.extensions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ext.Status != models.ExtensionStatusPendingApproval {
		return nil, apperrors.Conflict(apperrors.ReasonIllegalTransition, "extension is %s and cannot be rejected", ext.Status)
	}

	updated, err := s.extensions.UpdateStatus(ctx, id, models.ExtensionStatusPendingApproval, models.ExtensionUpdate{
		Status:       models.ExtensionStatusRejected,
		DecidedByID:  &actor.ID,
		DecisionNote: optionalString(reason),
	})
	if err != nil {
		return nil, err
	}

	metrics.RenewalTransitionsTotal.WithLabelValues(string(updated.Status)).Inc()
	s.audit.Record(AuditEvent{
		Actor:      actor,
		Action:     models.AuditActionRenewalReject,
		EntityType: models.EntityExtension,
		EntityID:   updated.ID,
		Before:     ext,
		After:      updated,
	})
	return updated, nil
}

// CancelExtension cancels any pre-ACTIVE extension and voids its unpaid charge
func (s *RenewalService) CancelExtension(ctx context.Context, actor models.Actor, id string, note string) (*models.Extension, error) {
	ext, err := s.extensions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ext.Status.CanTransition(models.ExtensionStatusCancelled) {
		return nil, apperrors.Conflict(apperrors.ReasonIllegalTransition, "extension is %s and cannot be cancelled", ext.Status)
	}

	if ext.LedgerEntryID != nil {
		entry, err := s.ledger.GetByID(ctx, *ext.LedgerEntryID)
		if err != nil {
			return nil, err
		}
		switch entry.Status {
		case models.LedgerStatusPaid:
			return nil, apperrors.Conflict(apperrors.ReasonPaidImmutable, "renewal charge %s is already paid", entry.InvoiceNumber)
		case models.LedgerStatusVoid:
		default:
			if _, err := s.ledger.TransitionStatus(ctx, actor, entry.ID,
				models.TransitionRequest{Status: models.LedgerStatusVoid}, false); err != nil {
				return nil, fmt.Errorf("failed to void renewal charge: %w", err)
			}
		}
	}

	updated, err := s.extensions.UpdateStatus(ctx, id, ext.Status, models.ExtensionUpdate{
		Status:       models.ExtensionStatusCancelled,
		DecidedByID:  &actor.ID,
		DecisionNote: optionalString(note),
	})
	if err != nil {
		return nil, err
	}

	metrics.RenewalTransitionsTotal.WithLabelValues(string(updated.Status)).Inc()
	s.audit.Record(AuditEvent{
		Actor:      actor,
		Action:     models.AuditActionRenewalCancel,
		EntityType: models.EntityExtension,
		EntityID:   updated.ID,
		Before:     ext,
		After:      updated,
	})
	return updated, nil
}

// ActivateExtension moves PAYMENT_PENDING to ACTIVE and extends the booking.
// It is a no-op for any other status, so duplicate deliveries are harmless.
// The bool reports whether this call activated the extension.
func (s *RenewalService) ActivateExtension(ctx context.Context, id string) (*models.Extension, bool, error) {
	ext, err := s.extensions.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if ext.Status != models.ExtensionStatusPaymentPending {
		return ext, false, nil
	}
	if ext.LedgerEntryID == nil {
		return nil, false, apperrors.Conflict(apperrors.ReasonIllegalTransition, "extension %s has no renewal charge", id)
	}
	entry, err := s.ledger.GetByID(ctx, *ext.LedgerEntryID)
	if err != nil {
		return nil, false, err
	}
	if entry.Status != models.LedgerStatusPaid {
		return nil, false, apperrors.Conflict(apperrors.ReasonIllegalTransition,
			"renewal charge %s is %s, not PAID", entry.InvoiceNumber, entry.Status)
	}

	// The end-date write is conditional on the original end, so a second
	// delivery cannot extend twice.
	extended, err := s.bookings.ExtendEndDate(ctx, ext.BookingID, ext.OriginalEndDate, ext.NewEndDate)
	if err != nil {
		return nil, false, err
	}
	if !extended {
		booking, err := s.bookings.GetBooking(ctx, ext.BookingID)
		if err != nil {
			return nil, false, err
		}
		if !booking.EndDate.Equal(ext.NewEndDate) {
			s.logger.Warn("booking end date moved since renewal was requested",
				zap.String("extension_id", ext.ID),
				zap.String("booking_id", booking.ID),
				zap.Time("expected_end", ext.OriginalEndDate),
				zap.Time("current_end", booking.EndDate),
			)
		}
	}

	now := s.zone.Now()
	activated, err := s.extensions.UpdateStatus(ctx, id, models.ExtensionStatusPaymentPending, models.ExtensionUpdate{
		Status:      models.ExtensionStatusActive,
		ActivatedAt: &now,
	})
	if errors.Is(err, apperrors.ErrConcurrentUpdate) {
		current, getErr := s.extensions.Get(ctx, id)
		return current, false, getErr
	}
	if err != nil {
		return nil, false, err
	}

	metrics.RenewalTransitionsTotal.WithLabelValues(string(activated.Status)).Inc()
	s.audit.Record(AuditEvent{
		Actor:      models.WebhookActor,
		Action:     models.AuditActionRenewalActivate,
		EntityType: models.EntityExtension,
		EntityID:   activated.ID,
		Label:      entry.InvoiceNumber,
		Before:     ext,
		After:      activated,
		Metadata:   map[string]any{"booking_extended": extended},
	})
	s.logger.Info("extension activated",
		zap.String("extension_id", activated.ID),
		zap.String("booking_id", activated.BookingID),
		zap.Time("new_end_date", activated.NewEndDate),
	)
	return activated, true, nil
}

// GetByLedgerEntry returns the extension charged by the given entry
func (s *RenewalService) GetByLedgerEntry(ctx context.Context, ledgerEntryID string) (*models.Extension, error) {
	return s.extensions.GetByLedgerEntry(ctx, ledgerEntryID)
}

func (s *RenewalService) Get(ctx context.Context, id string) (*models.Extension, error) {
	return s.extensions.Get(ctx, id)
}

func (s *RenewalService) List(ctx context.Context, filter models.ExtensionFilter) (*models.ExtensionPage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperrors.Validation("status", "unknown status")
	}
	filter.Limit, filter.Offset = normalizePage(filter.Limit, filter.Offset)
	list, total, err := s.extensions.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &models.ExtensionPage{Extensions: list, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
