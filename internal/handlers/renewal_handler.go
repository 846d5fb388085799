package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ledger-backend/internal/models"
	"ledger-backend/internal/services"
	"ledger-backend/pkg/utils"
)

// RenewalHandler handles lease extension requests
type RenewalHandler struct {
	service *services.RenewalService
	logger  *zap.Logger
}

func NewRenewalHandler(service *services.RenewalService, logger *zap.Logger) *RenewalHandler {
	return &RenewalHandler{service: service, logger: logger.Named("renewal_handler")}
}

// CheckEligibility handles GET /api/renewals/eligibility/{bookingId}
func (h *RenewalHandler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.CheckEligibility(r.Context(), mux.Vars(r)["bookingId"])
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	utils.JSON(w, http.StatusOK, result)
}

// Request handles POST /api/renewals
func (h *RenewalHandler) Request(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req models.RenewalRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ext, err := h.service.RequestRenewal(r.Context(), actor, req)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	utils.JSON(w, http.StatusCreated, ext)
}

// List handles GET /api/renewals
func (h *RenewalHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	q := r.URL.Query()

	page, err := h.service.List(r.Context(), models.ExtensionFilter{
		BookingID:  q.Get("booking_id"),
		BuildingID: q.Get("building_id"),
		Status:     models.ExtensionStatus(q.Get("status")),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	utils.JSON(w, http.StatusOK, page)
}

// Get handles GET /api/renewals/{id}
func (h *RenewalHandler) Get(w http.ResponseWriter, r *http.Request) {
	ext, err := h.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	utils.JSON(w, http.StatusOK, ext)
}

type decisionFunc func(ctx context.Context, actor models.Actor, id, note string) (*models.Extension, error)

func (h *RenewalHandler) decide(w http.ResponseWriter, r *http.Request, fn decisionFunc) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req models.RenewalDecision
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	ext, err := fn(r.Context(), actor, mux.Vars(r)["id"], req.Note)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	utils.JSON(w, http.StatusOK, ext)
}

// Approve handles POST /api/renewals/{id}/approve
func (h *RenewalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.ApproveExtension)
}

// Reject handles POST /api/renewals/{id}/reject
func (h *RenewalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.RejectExtension)
}

// Cancel handles POST /api/renewals/{id}/cancel
func (h *RenewalHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.CancelExtension)
}
