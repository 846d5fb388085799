package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ledger-backend/internal/services"
	"ledger-backend/pkg/utils"
)

// KPIHandler serves dashboard figures
type KPIHandler struct {
	service *services.KPIService
	logger  *zap.Logger
}

func NewKPIHandler(service *services.KPIService, logger *zap.Logger) *KPIHandler {
	return &KPIHandler{service: service, logger: logger.Named("kpi_handler")}
}

// Global handles GET /api/kpis
func (h *KPIHandler) Global(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Global(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	utils.JSON(w, http.StatusOK, report)
}

// Building handles GET /api/kpis/buildings/{buildingId}
func (h *KPIHandler) Building(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Building(r.Context(), mux.Vars(r)["buildingId"])
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	utils.JSON(w, http.StatusOK, report)
}

// Occupancy handles GET /api/kpis/occupancy?building_id=
func (h *KPIHandler) Occupancy(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Occupancy(r.Context(), r.URL.Query().Get("building_id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	utils.JSON(w, http.StatusOK, report)
}
