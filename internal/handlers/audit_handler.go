package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"ledger-backend/internal/models"
	"ledger-backend/internal/services"
	"ledger-backend/internal/timeutil"
	"ledger-backend/pkg/utils"
)

// AuditHandler serves the audit trail
type AuditHandler struct {
	service *services.AuditService
	zone    *timeutil.Zone
	logger  *zap.Logger
}

func NewAuditHandler(service *services.AuditService, zone *timeutil.Zone, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{service: service, zone: zone, logger: logger.Named("audit_handler")}
}

// List handles GET /api/audit-logs
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
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
	q := r.URL.Query()

	page, err := h.service.List(r.Context(), models.AuditFilter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		ActorID:    q.Get("actor_id"),
		Action:     q.Get("action"),
		StartDate:  start,
		EndDate:    end,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	utils.JSON(w, http.StatusOK, page)
}
