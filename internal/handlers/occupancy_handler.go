package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ledger-backend/internal/apperrors"
	"ledger-backend/internal/models"
	"ledger-backend/internal/services"
	"ledger-backend/internal/timeutil"
	"ledger-backend/pkg/utils"
)

// OccupancyHandler handles reconciliation, mappings and calendar feeds
type OccupancyHandler struct {
	service *services.OccupancyService
	zone    *timeutil.Zone
	logger  *zap.Logger
}

func NewOccupancyHandler(service *services.OccupancyService, zone *timeutil.Zone, logger *zap.Logger) *OccupancyHandler {
	return &OccupancyHandler{service: service, zone: zone, logger: logger.Named("occupancy_handler")}
}

// IsUnitOccupied handles GET /api/occupancy/units/{unitId}
func (h *OccupancyHandler) IsUnitOccupied(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.IsUnitOccupied(r.Context(), mux.Vars(r)["unitId"])
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	utils.JSON(w, http.StatusOK, result)
}

// GenerateSnapshot handles POST /api/occupancy/snapshots?date=YYYY-MM-DD
func (h *OccupancyHandler) GenerateSnapshot(w http.ResponseWriter, r *http.Request) {
	var date *time.Time
	if v := r.URL.Query().Get("date"); v != "" {
		t, err := h.zone.ParseDate(v)
		if err != nil {
			respondError(w, h.logger, apperrors.Validation("date", "must be YYYY-MM-DD"))
			return
		}
		date = &t
	}

	result, err := h.service.GenerateDailySnapshot(r.Context(), date)
	if err != nil {
		if result == nil {
			respondError(w, h.logger, err)
			return
		}
		// Partial run: report what was written alongside the failure
		h.logger.Error("snapshot run had unit failures", zap.Error(err))
		utils.JSON(w, http.StatusInternalServerError, map[string]any{
			"error":  "some units could not be reconciled",
			"code":   "PARTIAL_FAILURE",
			"result": result,
		})
		return
	}
	utils.JSON(w, http.StatusOK, result)
}

// SyncUnit handles POST /api/occupancy/units/{unitId}/sync
func (h *OccupancyHandler) SyncUnit(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.service.SyncICalUnit(r.Context(), mux.Vars(r)["unitId"])
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	utils.JSON(w, http.StatusOK, outcome)
}

// SyncAll handles POST /api/occupancy/sync
func (h *OccupancyHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	outcomes, err := h.service.SyncAllICalUnits(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if outcomes == nil {
		outcomes = []*models.UnitSyncOutcome{}
	}
	utils.JSON(w, http.StatusOK, outcomes)
}

// ListMappings handles GET /api/mappings?connection_style=
func (h *OccupancyHandler) ListMappings(w http.ResponseWriter, r *http.Request) {
	style := models.ConnectionStyle(r.URL.Query().Get("connection_style"))
	list, err := h.service.ListMappings(r.Context(), style)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []*models.UnitExternalMapping{}
	}
	utils.JSON(w, http.StatusOK, list)
}

// GetMapping handles GET /api/mappings/{unitId}
func (h *OccupancyHandler) GetMapping(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.GetMapping(r.Context(), mux.Vars(r)["unitId"])
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	utils.JSON(w, http.StatusOK, m)
}

// UpsertMapping handles PUT /api/mappings/{unitId}
func (h *OccupancyHandler) UpsertMapping(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req models.UpsertMappingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.service.UpsertMapping(r.Context(), actor, mux.Vars(r)["unitId"], req)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	utils.JSON(w, http.StatusOK, m)
}

// DeleteMapping handles DELETE /api/mappings/{unitId}
func (h *OccupancyHandler) DeleteMapping(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteMapping(r.Context(), actor, mux.Vars(r)["unitId"]); err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportFeed handles GET /ical/units/{unitId}.ics
func (h *OccupancyHandler) ExportFeed(w http.ResponseWriter, r *http.Request) {
	feed, err := h.service.ExportFeed(r.Context(), mux.Vars(r)["unitId"])
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(feed))
}
