package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"ledger-backend/internal/apperrors"
	"ledger-backend/internal/metrics"
	"ledger-backend/internal/models"
	"ledger-backend/internal/services"
	"ledger-backend/pkg/utils"
)

// WebhookHandler receives payment provider callbacks
type WebhookHandler struct {
	service         *services.WebhookService
	signatureHeader string
	provider        string
	maxBody         int64
	logger          *zap.Logger
}

func NewWebhookHandler(service *services.WebhookService, signatureHeader, provider string, maxBody int64, logger *zap.Logger) *WebhookHandler {
	if signatureHeader == "" {
		signatureHeader = "X-Signature"
	}
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	h := &WebhookHandler{
		service:         service,
		signatureHeader: signatureHeader,
		provider:        provider,
		maxBody:         maxBody,
		logger:          logger.Named("webhook_handler"),
	}
	if !service.SignatureConfigured() {
		h.logger.Warn("webhook secret not configured, callbacks are accepted unsigned")
	}
	return h
}

// PaymentCallback handles POST /api/webhooks/payments.
// Non-2xx responses make the provider retry.
func (h *WebhookHandler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	// Read the raw body; the signature covers the exact bytes
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "Payload too large", "VALIDATION")
			return
		}
		utils.RespondError(w, http.StatusBadRequest, "Failed to read body", "VALIDATION")
		return
	}

	if !h.service.SignatureConfigured() {
		h.logger.Warn("accepting unsigned webhook callback",
			zap.String("remote_addr", getRemoteAddr(r)),
			zap.Int("body_bytes", len(body)),
		)
	} else if !h.service.VerifySignature(body, r.Header.Get(h.signatureHeader)) {
		h.logger.Warn("webhook signature verification failed",
			zap.String("remote_addr", getRemoteAddr(r)),
			zap.Int("body_bytes", len(body)),
		)
		metrics.WebhookEventsTotal.WithLabelValues(h.provider, models.WebhookOutcomeInvalidSig).Inc()
		utils.RespondError(w, http.StatusUnauthorized, "Invalid signature", "INVALID_SIGNATURE")
		return
	}

	var payload models.PaymentWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid JSON payload", "VALIDATION")
		return
	}

	// Once verified the callback runs to completion
	result, err := h.service.Process(context.WithoutCancel(r.Context()), &payload)
	if err != nil {
		if apperrors.IsValidation(err) {
			respondError(w, h.logger, err)
			return
		}
		h.logger.Error("webhook processing failed",
			zap.String("provider_reference", payload.ProviderReference),
			zap.Error(err),
		)
		utils.RespondError(w, http.StatusInternalServerError, "Processing failed", "INTERNAL")
		return
	}

	utils.JSON(w, http.StatusOK, result)
}

func getRemoteAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	return r.RemoteAddr
}
