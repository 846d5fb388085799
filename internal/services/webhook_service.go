package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ledger-backend/internal/apperrors"
	"ledger-backend/internal/metrics"
	"ledger-backend/internal/models"
)

// WebhookService applies verified payment provider callbacks. It is the
// only caller that passes webhookVerified=true to the ledger.
type WebhookService struct {
	ledger   *LedgerService
	renewals *RenewalService
	bookings BookingStore
	audit    *AuditService
	secret   []byte
	provider string
	logger   *zap.Logger
}

func NewWebhookService(
	ledger *LedgerService,
	renewals *RenewalService,
	bookings BookingStore,
	audit *AuditService,
	secret, provider string,
	logger *zap.Logger,
) *WebhookService {
	return &WebhookService{
		ledger:   ledger,
		renewals: renewals,
		bookings: bookings,
		audit:    audit,
		secret:   []byte(secret),
		provider: provider,
		logger:   logger.Named("webhook"),
	}
}

// SignatureConfigured reports whether callbacks are verified
func (s *WebhookService) SignatureConfigured() bool {
	return len(s.secret) > 0
}

// VerifySignature checks a hex HMAC-SHA256 of the raw body. An optional
// "sha256=" prefix is accepted. With no secret configured every body passes.
func (s *WebhookService) VerifySignature(body []byte, signature string) bool {
	if !s.SignatureConfigured() {
		return true
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	h := hmac.New(sha256.New, s.secret)
	h.Write(body)
	expectedSignature := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(expectedSignature), []byte(strings.ToLower(signature)))
}

// Sign returns the signature VerifySignature expects for body
func Sign(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// MapProviderStatus maps a provider status string onto a ledger status
func MapProviderStatus(status string) models.LedgerStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "paid":
		return models.LedgerStatusPaid
	case "failed":
		return models.LedgerStatusFailed
	case "refunded":
		return models.LedgerStatusRefunded
	case "authorized":
		return models.LedgerStatusPending
	default:
		return models.LedgerStatusPending
	}
}

// Process applies one verified callback. Returned errors mean the provider
// should retry; expected rejections are reported through the outcome.
func (s *WebhookService) Process(ctx context.Context, payload *models.PaymentWebhookPayload) (*models.WebhookResult, error) {
	if payload.ProviderReference == "" {
		return nil, apperrors.Validation("provider_reference", "is required")
	}
	provider := payload.ProviderName
	if provider == "" {
		provider = s.provider
	}

	result, err := s.process(ctx, provider, payload)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(provider, "error").Inc()
		return nil, err
	}
	metrics.WebhookEventsTotal.WithLabelValues(provider, result.Outcome).Inc()
	return result, nil
}

func (s *WebhookService) process(ctx context.Context, provider string, payload *models.PaymentWebhookPayload) (*models.WebhookResult, error) {
	log := s.logger.With(
		zap.String("provider", provider),
		zap.String("provider_reference", payload.ProviderReference),
		zap.String("status", payload.Status),
	)

	entry, err := s.ledger.store.GetByProviderReference(ctx, payload.ProviderReference, provider)
	if apperrors.IsNotFound(err) {
		log.Info("no ledger entry for provider reference")
		return &models.WebhookResult{Outcome: models.WebhookOutcomeIgnored}, nil
	}
	if err != nil {
		return nil, err
	}

	target := MapProviderStatus(payload.Status)
	if target == models.LedgerStatusRefunded {
		return s.applyRefund(ctx, entry, payload, log)
	}

	if target == models.LedgerStatusPaid {
		if mismatch := amountMismatch(entry, payload); mismatch != "" {
			log.Warn("payment amount does not match ledger entry", zap.String("detail", mismatch))
			s.audit.Record(AuditEvent{
				Actor:      models.WebhookActor,
				Action:     models.AuditActionWebhookAmountMismatch,
				EntityType: models.EntityLedgerEntry,
				EntityID:   entry.ID,
				Label:      entry.InvoiceNumber,
				Metadata: map[string]any{
					"provider":           provider,
					"provider_reference": payload.ProviderReference,
					"reported_amount":    payload.Amount,
					"reported_currency":  payload.Currency,
					"detail":             mismatch,
				},
			})
			return &models.WebhookResult{
				Outcome:       models.WebhookOutcomeHeldForReview,
				LedgerEntryID: entry.ID,
				Status:        entry.Status,
				Message:       mismatch,
			}, nil
		}
	}

	req := models.TransitionRequest{Status: target}
	req.ProviderName = &provider
	req.ProviderReference = &payload.ProviderReference
	if payload.PaymentMethod != "" {
		req.PaymentMethod = &payload.PaymentMethod
	}

	transition, err := s.ledger.TransitionStatus(ctx, models.WebhookActor, entry.ID, req, true)
	if apperrors.IsConflict(err) {
		return s.reject(entry, payload, provider, err, log), nil
	}
	if err != nil {
		return nil, err
	}

	if transition.Entry.Status == models.LedgerStatusPaid {
		if err := s.afterPaid(ctx, transition.Entry, log); err != nil {
			return nil, err
		}
	}

	outcome := models.WebhookOutcomeApplied
	if !transition.Changed {
		outcome = models.WebhookOutcomeDuplicate
	}
	log.Info("webhook processed", zap.String("outcome", outcome), zap.String("ledger_status", string(transition.Entry.Status)))
	return &models.WebhookResult{
		Outcome:       outcome,
		LedgerEntryID: transition.Entry.ID,
		Status:        transition.Entry.Status,
	}, nil
}

// amountMismatch describes a difference between the reported and stored
// money, or returns "" when they agree or nothing was reported
func amountMismatch(entry *models.LedgerEntry, payload *models.PaymentWebhookPayload) string {
	if payload.Currency != "" && !strings.EqualFold(payload.Currency, entry.Currency) {
		return fmt.Sprintf("currency %s differs from %s", strings.ToUpper(payload.Currency), entry.Currency)
	}
	if payload.Amount == "" {
		return ""
	}
	reported, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		return fmt.Sprintf("unparseable amount %q", payload.Amount)
	}
	if !reported.Equal(entry.Amount) {
		return fmt.Sprintf("amount %s differs from %s", reported.StringFixed(2), entry.Amount.StringFixed(2))
	}
	return ""
}

func (s *WebhookService) applyRefund(ctx context.Context, entry *models.LedgerEntry, payload *models.PaymentWebhookPayload, log *zap.Logger) (*models.WebhookResult, error) {
	if entry.Status == models.LedgerStatusRefunded {
		return &models.WebhookResult{
			Outcome:       models.WebhookOutcomeDuplicate,
			LedgerEntryID: entry.ID,
			Status:        entry.Status,
		}, nil
	}

	res, err := s.ledger.CreateAdjustmentOrRefund(ctx, models.WebhookActor, entry.ID, models.AdjustmentRequest{
		Type:   models.LedgerEntryTypeRefund,
		Amount: entry.Amount.StringFixed(2),
		Notes:  "Provider refund " + payload.ProviderReference,
	})
	if apperrors.IsConflict(err) {
		return s.reject(entry, payload, entry.ProviderName, err, log), nil
	}
	if err != nil {
		return nil, err
	}

	log.Info("provider refund recorded", zap.String("refund_invoice", res.Entry.InvoiceNumber))
	return &models.WebhookResult{
		Outcome:       models.WebhookOutcomeApplied,
		LedgerEntryID: res.Parent.ID,
		Status:        res.Parent.Status,
	}, nil
}

// reject acknowledges an event the state machine refuses, so the provider
// stops retrying it, and leaves a record for review
func (s *WebhookService) reject(entry *models.LedgerEntry, payload *models.PaymentWebhookPayload, provider string, cause error, log *zap.Logger) *models.WebhookResult {
	log.Warn("webhook transition rejected", zap.String("ledger_status", string(entry.Status)), zap.Error(cause))
	s.audit.Record(AuditEvent{
		Actor:      models.WebhookActor,
		Action:     models.AuditActionWebhookRejected,
		EntityType: models.EntityLedgerEntry,
		EntityID:   entry.ID,
		Label:      entry.InvoiceNumber,
		Metadata: map[string]any{
			"provider":           provider,
			"provider_reference": payload.ProviderReference,
			"reported_status":    payload.Status,
			"reason":             apperrors.ReasonOf(cause),
			"error":              cause.Error(),
		},
	})
	return &models.WebhookResult{
		Outcome:       models.WebhookOutcomeRejected,
		LedgerEntryID: entry.ID,
		Status:        entry.Status,
		Message:       cause.Error(),
	}
}

// afterPaid runs the payment cascades. Both are idempotent, so they also
// run on duplicate deliveries to finish work a failed delivery left behind.
func (s *WebhookService) afterPaid(ctx context.Context, entry *models.LedgerEntry, log *zap.Logger) error {
	if entry.BookingID != nil {
		activated, err := s.bookings.MarkPaid(ctx, *entry.BookingID)
		if err != nil {
			return fmt.Errorf("failed to activate booking: %w", err)
		}
		if activated {
			log.Info("booking activated", zap.String("booking_id", *entry.BookingID))
			s.audit.Record(AuditEvent{
				Actor:      models.WebhookActor,
				Action:     models.AuditActionStatusChange,
				EntityType: models.EntityBooking,
				EntityID:   *entry.BookingID,
				Before:     map[string]any{"status": models.BookingStatusPendingPayment},
				After:      map[string]any{"status": models.BookingStatusActive},
				Metadata:   map[string]any{"ledger_entry_id": entry.ID},
			})
		}
	}

	ext, err := s.renewals.GetByLedgerEntry(ctx, entry.ID)
	if apperrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if ext.Status != models.ExtensionStatusPaymentPending {
		return nil
	}
	if _, _, err := s.renewals.ActivateExtension(ctx, ext.ID); err != nil {
		return fmt.Errorf("failed to activate extension %s: %w", ext.ID, err)
	}
	return nil
}
