package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"ledger-backend/internal/apperrors"
	"ledger-backend/internal/middleware"
	"ledger-backend/internal/models"
	"ledger-backend/internal/timeutil"
	"ledger-backend/pkg/utils"
)

const maxJSONBody = 1 << 20

// respondError maps the service error taxonomy onto HTTP statuses
func respondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		validation *apperrors.ValidationError
		conflict   *apperrors.ConflictError
		notFound   *apperrors.NotFoundError
		external   *apperrors.ExternalDependencyError
		ineligible *apperrors.IneligibleError
	)

	switch {
	case errors.As(err, &validation):
		utils.RespondError(w, http.StatusBadRequest, validation.Error(), "VALIDATION")
	case errors.As(err, &conflict):
		utils.RespondError(w, http.StatusConflict, conflict.Error(), conflict.Reason)
	case errors.As(err, &notFound):
		utils.RespondError(w, http.StatusNotFound, notFound.Error(), "NOT_FOUND")
	case errors.As(err, &ineligible):
		utils.RespondError(w, http.StatusUnprocessableEntity, ineligible.Error(), ineligible.Reason)
	case errors.As(err, &external):
		logger.Warn("external dependency failed", zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, external.Error(), "EXTERNAL_DEPENDENCY")
	default:
		logger.Error("request failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "Internal server error", "INTERNAL")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body", "VALIDATION")
		return false
	}
	return true
}

// decodeOptionalJSON accepts an empty body
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decodeJSON(w, r, dest)
}

func actorFrom(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized", "UNAUTHORIZED")
	}
	return actor, ok
}

// paging reads limit/offset query parameters
func paging(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	limit, offset := 0, 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, apperrors.Validation("limit", "must be a non-negative integer")
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, apperrors.Validation("offset", "must be a non-negative integer")
		}
		offset = n
	}
	return limit, offset, nil
}

// dateRange reads start_date/end_date (YYYY-MM-DD). The end date is
// inclusive, so the returned bound is the start of the following day.
func dateRange(r *http.Request, zone *timeutil.Zone) (*time.Time, *time.Time, error) {
	q := r.URL.Query()
	var start, end *time.Time
	if v := q.Get("start_date"); v != "" {
		t, err := zone.ParseDate(v)
		if err != nil {
			return nil, nil, apperrors.Validation("start_date", "must be YYYY-MM-DD")
		}
		start = &t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := zone.ParseDate(v)
		if err != nil {
			return nil, nil, apperrors.Validation("end_date", "must be YYYY-MM-DD")
		}
		t = t.AddDate(0, 0, 1)
		end = &t
	}
	if start != nil && end != nil && !start.Before(*end) {
		return nil, nil, apperrors.Validation("end_date", "must not be before start_date")
	}
	return start, end, nil
}
