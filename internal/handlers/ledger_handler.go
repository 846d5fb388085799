package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ledger-backend/internal/models"
	"ledger-backend/internal/services"
	"ledger-backend/internal/timeutil"
	"ledger-backend/pkg/utils"
)

// LedgerHandler handles ledger entry requests
type LedgerHandler struct {
	service  *services.LedgerService
	invoices *services.InvoiceRenderer
	zone     *timeutil.Zone
	logger   *zap.Logger
}

func NewLedgerHandler(service *services.LedgerService, invoices *services.InvoiceRenderer, zone *timeutil.Zone, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{service: service, invoices: invoices, zone: zone, logger: logger.Named("ledger_handler")}
}

// Create handles POST /api/ledger
func (h *LedgerHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req models.CreateLedgerEntryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.service.Create(r.Context(), actor, &req)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	utils.JSON(w, http.StatusCreated, resp)
}

// Search handles GET /api/ledger
func (h *LedgerHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := paging(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	start, end, err := dateRange(r, h.zone)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	filter := models.LedgerFilter{
		BuildingID:    q.Get("building_id"),
		UnitID:        q.Get("unit_id"),
		Guest:         q.Get("guest"),
		BookingID:     q.Get("booking_id"),
		InvoiceNumber: q.Get("invoice_number"),
		Status:        models.LedgerStatus(q.Get("status")),
		Type:          models.LedgerEntryType(q.Get("type")),
		PaymentMethod: q.Get("payment_method"),
		StartDate:     start,
		EndDate:       end,
		Limit:         limit,
		Offset:        offset,
	}

	page, err := h.service.Search(r.Context(), filter)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	utils.JSON(w, http.StatusOK, page)
}

// Get handles GET /api/ledger/{id}
func (h *LedgerHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	utils.JSON(w, http.StatusOK, entry)
}

// TransitionStatus handles POST /api/ledger/{id}/status.
// Admin transitions are never webhook-verified.
func (h *LedgerHandler) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req models.TransitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.TransitionStatus(r.Context(), actor, mux.Vars(r)["id"], req, false)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	utils.JSON(w, http.StatusOK, result)
}

// CreateAdjustment handles POST /api/ledger/{id}/adjustments
func (h *LedgerHandler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req models.AdjustmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.CreateAdjustmentOrRefund(r.Context(), actor, mux.Vars(r)["id"], req)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	utils.JSON(w, http.StatusCreated, result)
}

// InvoicePDF handles GET /api/ledger/{id}/invoice.pdf
func (h *LedgerHandler) InvoicePDF(w http.ResponseWriter, r *http.Request) {
	data, filename, err := h.invoices.InvoicePDF(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
