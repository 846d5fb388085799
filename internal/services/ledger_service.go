package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ledger-backend/internal/apperrors"
	"ledger-backend/internal/cache"
	"ledger-backend/internal/metrics"
	"ledger-backend/internal/models"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// LedgerService owns every write to ledger entries. Status changes go
// through TransitionStatus; monetary corrections of paid entries go
// through CreateAdjustmentOrRefund.
type LedgerService struct {
	store           LedgerStore
	audit           *AuditService
	cache           KPICache
	logger          *zap.Logger
	defaultCurrency string
	invoiceAttempts int
	now             func() time.Time
}

func NewLedgerService(store LedgerStore, audit *AuditService, logger *zap.Logger, defaultCurrency string, invoiceAttempts int) *LedgerService {
	if invoiceAttempts <= 0 {
		invoiceAttempts = 5
	}
	return &LedgerService{
		store:           store,
		audit:           audit,
		logger:          logger.Named("ledger"),
		defaultCurrency: defaultCurrency,
		invoiceAttempts: invoiceAttempts,
		now:             time.Now,
	}
}

// SetCache sets the KPI cache invalidated after each mutation
func (s *LedgerService) SetCache(c KPICache) {
	s.cache = c
}

func (s *LedgerService) invalidateKPIs(ctx context.Context) {
	if s.cache != nil {
		s.cache.InvalidatePrefix(ctx, cache.KPIPrefix)
	}
}

// InvoiceNumber builds {PREFIX}-{year}-{6 random uppercase hex}
func InvoiceNumber(t models.LedgerEntryType, at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("%s-%d-%s", t.InvoicePrefix(), at.Year(), suffix)
}

// ParseAmount parses a positive decimal string with at most two places
func ParseAmount(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, apperrors.Validation(field, "is required")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperrors.Validation(field, "must be a decimal string")
	}
	if !amount.IsPositive() {
		return decimal.Zero, apperrors.Validation(field, "must be positive")
	}
	if amount.Exponent() < -2 && !amount.Equal(amount.Round(2)) {
		return decimal.Zero, apperrors.Validation(field, "must have at most 2 decimal places")
	}
	return amount.Round(2), nil
}

// Create inserts a DUE (or PENDING) entry with a fresh invoice number
func (s *LedgerService) Create(ctx context.Context, actor models.Actor, req *models.CreateLedgerEntryRequest) (*models.CreateLedgerEntryResponse, error) {
	if !req.Type.Valid() {
		return nil, apperrors.Validation("type", "unknown entry type")
	}
	if req.Type == models.LedgerEntryTypeRefund {
		return nil, apperrors.Validation("type", "refunds are created against a paid parent entry")
	}
	if !req.Direction.Valid() {
		return nil, apperrors.Validation("direction", "must be IN or OUT")
	}
	amount, err := ParseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	if !currencyPattern.MatchString(currency) {
		return nil, apperrors.Validation("currency", "must be a 3-letter code")
	}
	status := req.Status
	if status == "" {
		status = models.LedgerStatusDue
	}
	if status != models.LedgerStatusDue && status != models.LedgerStatusPending {
		return nil, apperrors.Validation("status", "new entries start as DUE or PENDING")
	}

	entry := &models.LedgerEntry{
		ID:                uuid.NewString(),
		Type:              req.Type,
		Direction:         req.Direction,
		Status:            status,
		Amount:            amount,
		Currency:          currency,
		BookingID:         req.BookingID,
		PMSBookingRef:     req.PMSBookingRef,
		BuildingID:        req.BuildingID,
		UnitID:            req.UnitID,
		GuestName:         req.GuestName,
		GuestEmail:        req.GuestEmail,
		GuestPhone:        req.GuestPhone,
		PaymentMethod:     req.PaymentMethod,
		ProviderName:      req.ProviderName,
		ProviderReference: req.ProviderReference,
		Notes:             req.Notes,
		DueAt:             req.DueAt,
		CreatedByID:       actor.ID,
		CreatedByName:     actor.Name,
	}

	if err := s.insertWithInvoice(ctx, entry, func() error { return s.store.Create(ctx, entry) }); err != nil {
		return nil, err
	}

	metrics.LedgerEntriesCreatedTotal.WithLabelValues(string(entry.Type)).Inc()
	s.audit.Record(AuditEvent{
		Actor:      actor,
		Action:     models.AuditActionCreate,
		EntityType: models.EntityLedgerEntry,
		EntityID:   entry.ID,
		Label:      entry.InvoiceNumber,
		After:      entry,
	})
	s.invalidateKPIs(ctx)

	return &models.CreateLedgerEntryResponse{ID: entry.ID, InvoiceNumber: entry.InvoiceNumber}, nil
}

// insertWithInvoice retries insert with a new invoice number while the
// number collides
func (s *LedgerService) insertWithInvoice(ctx context.Context, entry *models.LedgerEntry, insert func() error) error {
	var err error
	for attempt := 0; attempt < s.invoiceAttempts; attempt++ {
		entry.InvoiceNumber = InvoiceNumber(entry.Type, s.now())
		err = insert()
		if err == nil {
			return nil
		}
		if apperrors.ReasonOf(err) != apperrors.ReasonDuplicate {
			return err
		}
		s.logger.Warn("invoice number collision, retrying",
			zap.String("invoice_number", entry.InvoiceNumber), zap.Int("attempt", attempt+1))
	}
	return fmt.Errorf("failed to allocate invoice number: %w", err)
}

func (s *LedgerService) GetByID(ctx context.Context, id string) (*models.LedgerEntry, error) {
	return s.store.GetByID(ctx, id)
}

func (s *LedgerService) Search(ctx context.Context, filter models.LedgerFilter) (*models.LedgerPage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperrors.Validation("status", "unknown status")
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, apperrors.Validation("type", "unknown entry type")
	}
	filter.Limit, filter.Offset = normalizePage(filter.Limit, filter.Offset)
	entries, total, err := s.store.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &models.LedgerPage{Entries: entries, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// TransitionStatus applies a guarded status change. Only a verified webhook
// may set PAID, paid entries are frozen apart from refunds, and REFUNDED
// and VOID are terminal. Re-applying the current status is a no-op.
func (s *LedgerService) TransitionStatus(ctx context.Context, actor models.Actor, id string, req models.TransitionRequest, webhookVerified bool) (*models.TransitionResult, error) {
	if !req.Status.Valid() {
		return nil, apperrors.Validation("status", "unknown status")
	}

	// One retry covers a row that moved between read and conditional write.
	for attempt := 0; ; attempt++ {
		current, err := s.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		result, err := s.transitionFrom(ctx, actor, current, req, webhookVerified)
		if errors.Is(err, apperrors.ErrConcurrentUpdate) && attempt == 0 {
			continue
		}
		return result, err
	}
}

func (s *LedgerService) transitionFrom(ctx context.Context, actor models.Actor, current *models.LedgerEntry, req models.TransitionRequest, webhookVerified bool) (*models.TransitionResult, error) {
	from, to := current.Status, req.Status

	if err := checkTransition(from, to, webhookVerified); err != nil {
		return nil, err
	}
	if from == to {
		return &models.TransitionResult{Entry: current, Changed: false}, nil
	}

	update := models.StatusUpdate{Status: to, TransitionExtras: req.TransitionExtras}
	if to == models.LedgerStatusPaid && update.PaidAt == nil {
		now := s.now()
		update.PaidAt = &now
	}

	updated, err := s.store.UpdateStatus(ctx, current.ID, from, update)
	if err != nil {
		return nil, err
	}

	metrics.LedgerTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	s.logger.Info("ledger status changed",
		zap.String("id", updated.ID),
		zap.String("invoice_number", updated.InvoiceNumber),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Bool("webhook", webhookVerified),
	)
	s.audit.Record(AuditEvent{
		Actor:      actor,
		Action:     models.AuditActionStatusChange,
		EntityType: models.EntityLedgerEntry,
		EntityID:   updated.ID,
		Label:      updated.InvoiceNumber,
		Before:     current,
		After:      updated,
		Metadata:   map[string]any{"webhook_verified": webhookVerified},
	})
	s.invalidateKPIs(ctx)

	return &models.TransitionResult{Entry: updated, Changed: true}, nil
}

// checkTransition enforces the guard rules. A same-status request that
// passes the guard is a no-op for the caller.
func checkTransition(from, to models.LedgerStatus, webhookVerified bool) error {
	if from.Terminal() {
		return apperrors.Conflict(apperrors.ReasonTerminalStatus, "entry is %s and cannot change", from)
	}
	if to == models.LedgerStatusRefunded {
		return apperrors.Conflict(apperrors.ReasonIllegalTransition,
			"refunds are recorded by creating a REFUND entry against the paid entry")
	}
	if from == models.LedgerStatusPaid {
		if to == models.LedgerStatusPaid && webhookVerified {
			return nil
		}
		return apperrors.Conflict(apperrors.ReasonPaidImmutable, "entry is PAID and cannot move to %s", to)
	}
	if to == models.LedgerStatusPaid && !webhookVerified {
		return apperrors.Conflict(apperrors.ReasonWebhookRequired, "only a verified payment webhook can mark an entry PAID")
	}
	if from == to {
		return nil
	}
	if !from.CanTransition(to) {
		return apperrors.Conflict(apperrors.ReasonIllegalTransition, "cannot move from %s to %s", from, to)
	}
	return nil
}

// CreateAdjustmentOrRefund records a PAID child entry against a PAID parent.
// A REFUND also moves the parent to REFUNDED in the same transaction.
func (s *LedgerService) CreateAdjustmentOrRefund(ctx context.Context, actor models.Actor, parentID string, req models.AdjustmentRequest) (*models.AdjustmentResult, error) {
	if req.Type != models.LedgerEntryTypeRefund && req.Type != models.LedgerEntryTypeAdjustment {
		return nil, apperrors.Validation("type", "must be REFUND or ADJUSTMENT")
	}
	if req.Direction != "" && !req.Direction.Valid() {
		return nil, apperrors.Validation("direction", "must be IN or OUT")
	}
	amount, err := ParseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}

	parent, err := s.store.GetByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.Status != models.LedgerStatusPaid {
		return nil, apperrors.Conflict(apperrors.ReasonParentNotPaid,
			"parent entry %s is %s, must be PAID", parent.InvoiceNumber, parent.Status)
	}

	direction := req.Direction
	if req.Type == models.LedgerEntryTypeRefund {
		if amount.GreaterThan(parent.Amount) {
			return nil, apperrors.Validation("amount", "refund cannot exceed the parent amount")
		}
		if direction == "" {
			direction = parent.Direction.Opposite()
		}
	} else if direction == "" {
		direction = parent.Direction
	}

	now := s.now()
	parentRef := parent.ID
	child := &models.LedgerEntry{
		ID:             uuid.NewString(),
		Type:           req.Type,
		Direction:      direction,
		Status:         models.LedgerStatusPaid,
		Amount:         amount,
		Currency:       parent.Currency,
		BookingID:      parent.BookingID,
		PMSBookingRef:  parent.PMSBookingRef,
		BuildingID:     parent.BuildingID,
		UnitID:         parent.UnitID,
		ParentLedgerID: &parentRef,
		GuestName:      parent.GuestName,
		GuestEmail:     parent.GuestEmail,
		GuestPhone:     parent.GuestPhone,
		PaymentMethod:  parent.PaymentMethod,
		Notes:          req.Notes,
		PaidAt:         &now,
		CreatedByID:    actor.ID,
		CreatedByName:  actor.Name,
	}

	refund := req.Type == models.LedgerEntryTypeRefund
	var parentAfter *models.LedgerEntry
	err = s.insertWithInvoice(ctx, child, func() error {
		var err error
		parentAfter, err = s.store.CreateChild(ctx, child, refund)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.LedgerEntriesCreatedTotal.WithLabelValues(string(child.Type)).Inc()
	action := models.AuditActionAdjustment
	if refund {
		action = models.AuditActionRefund
		metrics.LedgerTransitionsTotal.WithLabelValues(string(models.LedgerStatusPaid), string(models.LedgerStatusRefunded)).Inc()
		s.audit.Record(AuditEvent{
			Actor:      actor,
			Action:     models.AuditActionStatusChange,
			EntityType: models.EntityLedgerEntry,
			EntityID:   parent.ID,
			Label:      parent.InvoiceNumber,
			Before:     parent,
			After:      parentAfter,
			Metadata:   map[string]any{"refund_entry_id": child.ID},
		})
	}
	s.audit.Record(AuditEvent{
		Actor:      actor,
		Action:     action,
		EntityType: models.EntityLedgerEntry,
		EntityID:   child.ID,
		Label:      child.InvoiceNumber,
		After:      child,
		Metadata:   map[string]any{"parent_ledger_id": parent.ID},
	})
	s.invalidateKPIs(ctx)

	s.logger.Info("child entry created",
		zap.String("type", string(child.Type)),
		zap.String("invoice_number", child.InvoiceNumber),
		zap.String("parent", parent.InvoiceNumber),
	)

	return &models.AdjustmentResult{Entry: child, Parent: parentAfter}, nil
}
