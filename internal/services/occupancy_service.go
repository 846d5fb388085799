package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ledger-backend/internal/apperrors"
	"ledger-backend/internal/cache"
	"ledger-backend/internal/metrics"
	"ledger-backend/internal/models"
	"ledger-backend/internal/timeutil"
)

// PMSCalendar answers whether a mapped PMS room is booked on a day
type PMSCalendar interface {
	DayStatus(ctx context.Context, mapping *models.UnitExternalMapping, day time.Time) (bool, string, error)
}

// OccupancyConfig tunes reconciliation
type OccupancyConfig struct {
	CalendarTimeout time.Duration
	ICalStaleAfter  time.Duration
	Concurrency     int
}

// OccupancyService reconciles local bookings with external calendars into
// daily snapshots
type OccupancyService struct {
	units     UnitStore
	bookings  BookingStore
	mappings  MappingStore
	blocks    CalendarBlockStore
	snapshots SnapshotStore
	audit     *AuditService
	zone      *timeutil.Zone
	cfg       OccupancyConfig
	logger    *zap.Logger

	pms       PMSCalendar
	feeds     FeedFetcher
	publisher FeedPublisher
	cache     KPICache
}

func NewOccupancyService(
	units UnitStore,
	bookings BookingStore,
	mappings MappingStore,
	blocks CalendarBlockStore,
	snapshots SnapshotStore,
	audit *AuditService,
	zone *timeutil.Zone,
	cfg OccupancyConfig,
	logger *zap.Logger,
) *OccupancyService {
	if cfg.CalendarTimeout <= 0 {
		cfg.CalendarTimeout = 10 * time.Second
	}
	if cfg.ICalStaleAfter <= 0 {
		cfg.ICalStaleAfter = 2 * time.Hour
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &OccupancyService{
		units:     units,
		bookings:  bookings,
		mappings:  mappings,
		blocks:    blocks,
		snapshots: snapshots,
		audit:     audit,
		zone:      zone,
		cfg:       cfg,
		logger:    logger.Named("occupancy"),
	}
}

// SetPMSClient enables live lookups for API-style mappings
func (s *OccupancyService) SetPMSClient(pms PMSCalendar) {
	s.pms = pms
}

// SetCache lets snapshot runs invalidate cached KPI reports
func (s *OccupancyService) SetCache(c KPICache) {
	s.cache = c
}

// SetFeedFetcher enables iCal imports
func (s *OccupancyService) SetFeedFetcher(feeds FeedFetcher) {
	s.feeds = feeds
}

// determination is the reconciled state of one unit on one day
type determination struct {
	occupied  bool
	source    models.OccupancySource
	bookingID *string
}

// externalState consults the mapped calendar. live is false when the
// calendar could not answer for the day.
func (s *OccupancyService) externalState(ctx context.Context, mapping *models.UnitExternalMapping, dayStart time.Time) (booked bool, live bool) {
	switch mapping.ConnectionStyle {
	case models.ConnectionStyleAPI:
		if s.pms == nil {
			return false, false
		}
		ctx, cancel := context.WithTimeout(ctx, s.cfg.CalendarTimeout)
		defer cancel()

		booked, _, err := s.pms.DayStatus(ctx, mapping, dayStart)
		if err != nil {
			s.logger.Warn("PMS calendar unavailable",
				zap.String("unit_id", mapping.UnitID),
				zap.String("date", s.zone.FormatDate(dayStart)),
				zap.Error(err),
			)
			return false, false
		}
		return booked, true

	case models.ConnectionStyleICal:
		if !s.feedFresh(mapping) {
			return false, false
		}
		blocks, err := s.blocks.ListBlocks(ctx, mapping.UnitID, dayStart, dayStart.AddDate(0, 0, 1))
		if err != nil {
			s.logger.Warn("failed to read calendar blocks", zap.String("unit_id", mapping.UnitID), zap.Error(err))
			return false, false
		}
		for _, b := range blocks {
			if b.Covers(dayStart) {
				return true, true
			}
		}
		return false, true
	}
	return false, false
}

func (s *OccupancyService) feedFresh(mapping *models.UnitExternalMapping) bool {
	if mapping.LastSyncStatus == nil || *mapping.LastSyncStatus != models.SyncStatusSuccess {
		return false
	}
	if mapping.LastSyncedAt == nil {
		return false
	}
	return s.zone.Now().Sub(*mapping.LastSyncedAt) <= s.cfg.ICalStaleAfter
}

// determine applies the reconciliation order: a live external calendar that
// is the source of truth, then a covering local booking. A mapped unit
// without a local stay is UNKNOWN unless its calendar answered for the day.
func (s *OccupancyService) determine(ctx context.Context, unit *models.Unit, mapping *models.UnitExternalMapping, dayStart time.Time) (determination, error) {
	externalFailed := false
	if mapping != nil && mapping.SourceOfTruth == models.SourceOfTruthExternalPMS {
		booked, live := s.externalState(ctx, mapping, dayStart)
		if live {
			return determination{occupied: booked, source: models.OccupancySourceExternalPMS}, nil
		}
		externalFailed = true
	}

	booking, err := s.bookings.FindCovering(ctx, unit.ID, s.zone.DateOnly(dayStart))
	if err != nil {
		return determination{}, fmt.Errorf("failed to find covering booking: %w", err)
	}
	if booking != nil {
		id := booking.ID
		return determination{occupied: true, source: models.OccupancySourceLocal, bookingID: &id}, nil
	}

	if mapping == nil {
		return determination{source: models.OccupancySourceLocal}, nil
	}
	if externalFailed {
		return determination{source: models.OccupancySourceUnknown}, nil
	}

	// Local is authoritative but the external calendar can still report a
	// stay taken on another channel.
	booked, live := s.externalState(ctx, mapping, dayStart)
	switch {
	case !live:
		return determination{source: models.OccupancySourceUnknown}, nil
	case booked:
		return determination{occupied: true, source: models.OccupancySourceExternalPMS}, nil
	}
	return determination{source: models.OccupancySourceLocal}, nil
}

func (s *OccupancyService) mappingsByUnit(ctx context.Context) (map[string]*models.UnitExternalMapping, error) {
	list, err := s.mappings.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list unit mappings: %w", err)
	}
	byUnit := make(map[string]*models.UnitExternalMapping, len(list))
	for _, m := range list {
		byUnit[m.UnitID] = m
	}
	return byUnit, nil
}

// GenerateDailySnapshot writes one snapshot row per active unit for date
// (today when nil). Past days keep their existing rows.
func (s *OccupancyService) GenerateDailySnapshot(ctx context.Context, date *time.Time) (*models.SnapshotRunResult, error) {
	dayStart := s.zone.Today()
	if date != nil {
		dayStart = s.zone.StartOfDay(*date)
	}
	day := s.zone.DateOnly(dayStart)
	overwrite := !day.Before(s.zone.DateOnly(s.zone.Now()))

	units, err := s.units.ListActiveUnits(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	mappings, err := s.mappingsByUnit(ctx)
	if err != nil {
		return nil, err
	}

	result := &models.SnapshotRunResult{Date: s.zone.FormatDate(dayStart), Units: len(units)}
	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, unit := range units {
		unit := unit
		g.Go(func() error {
			d, err := s.determine(gctx, unit, mappings[unit.ID], dayStart)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("unit %s: %w", unit.ID, err))
				mu.Unlock()
				return nil
			}

			snapshot := &models.OccupancySnapshot{
				ID:         uuid.NewString(),
				Date:       day,
				UnitID:     unit.ID,
				BuildingID: unit.BuildingID,
				Occupied:   d.occupied,
				Available:  unit.AvailableForRent(),
				Source:     d.source,
				BookingID:  d.bookingID,
			}
			written, err := s.snapshots.Upsert(gctx, snapshot, overwrite)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("unit %s: failed to save snapshot: %w", unit.ID, err))
				return nil
			}
			metrics.SnapshotUnitsTotal.WithLabelValues(string(d.source)).Inc()
			if d.occupied {
				result.Occupied++
			}
			if d.source == models.OccupancySourceUnknown {
				result.Unknown++
			}
			if written {
				result.Written++
			} else {
				result.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	if s.cache != nil && result.Written > 0 {
		s.cache.InvalidatePrefix(ctx, cache.KPIPrefix)
	}

	s.logger.Info("occupancy snapshot generated",
		zap.String("date", result.Date),
		zap.Int("units", result.Units),
		zap.Int("occupied", result.Occupied),
		zap.Int("unknown", result.Unknown),
		zap.Int("written", result.Written),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(errs)),
	)

	if len(errs) > 0 {
		return result, errors.Join(errs...)
	}
	return result, nil
}

// IsUnitOccupied answers for the current moment. UNKNOWN is never bookable.
func (s *OccupancyService) IsUnitOccupied(ctx context.Context, unitID string) (*models.UnitOccupancy, error) {
	unit, err := s.units.GetUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	mapping, err := s.mappings.GetByUnit(ctx, unitID)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			return nil, fmt.Errorf("failed to get unit mapping: %w", err)
		}
		mapping = nil
	}

	d, err := s.determine(ctx, unit, mapping, s.zone.Today())
	if err != nil {
		return nil, err
	}
	return &models.UnitOccupancy{
		UnitID:    unit.ID,
		Occupied:  d.occupied,
		Bookable:  !d.occupied && d.source != models.OccupancySourceUnknown && unit.AvailableForRent(),
		Source:    d.source,
		BookingID: d.bookingID,
	}, nil
}

// GetMapping returns the unit's external mapping
func (s *OccupancyService) GetMapping(ctx context.Context, unitID string) (*models.UnitExternalMapping, error) {
	return s.mappings.GetByUnit(ctx, unitID)
}

// ListMappings returns every mapping, optionally of one connection style
func (s *OccupancyService) ListMappings(ctx context.Context, style models.ConnectionStyle) ([]*models.UnitExternalMapping, error) {
	if style != "" && style != models.ConnectionStyleAPI && style != models.ConnectionStyleICal {
		return nil, apperrors.Validation("connection_style", "must be API or ICAL")
	}
	return s.mappings.List(ctx, style)
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}

func validFeedURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "webcal") || u.Host == "" {
		return apperrors.Validation(field, "must be an absolute http(s) or webcal URL")
	}
	return nil
}

// buildMapping validates a request and derives its connection style
func buildMapping(unitID string, req models.UpsertMappingRequest) (*models.UnitExternalMapping, error) {
	m := &models.UnitExternalMapping{
		UnitID:             unitID,
		SourceOfTruth:      req.SourceOfTruth,
		ExternalPropertyID: trimmed(req.ExternalPropertyID),
		ExternalRoomID:     trimmed(req.ExternalRoomID),
		ICalImportURL:      trimmed(req.ICalImportURL),
		ICalExportURL:      trimmed(req.ICalExportURL),
	}
	if m.SourceOfTruth == "" {
		m.SourceOfTruth = models.SourceOfTruthLocal
	}
	if m.SourceOfTruth != models.SourceOfTruthLocal && m.SourceOfTruth != models.SourceOfTruthExternalPMS {
		return nil, apperrors.Validation("source_of_truth", "must be EXTERNAL_PMS or LOCAL")
	}

	hasAPI := m.ExternalPropertyID != nil
	hasICal := m.ICalImportURL != nil
	switch {
	case hasAPI && hasICal:
		return nil, apperrors.Validation("", "a mapping uses either external_property_id or ical_import_url, not both")
	case hasAPI:
		if m.ICalExportURL != nil {
			return nil, apperrors.Validation("ical_export_url", "only allowed for iCal mappings")
		}
		m.ConnectionStyle = models.ConnectionStyleAPI
	case hasICal:
		if m.ExternalRoomID != nil {
			return nil, apperrors.Validation("external_room_id", "only allowed for API mappings")
		}
		if err := validFeedURL("ical_import_url", *m.ICalImportURL); err != nil {
			return nil, err
		}
		if m.ICalExportURL != nil {
			if err := validFeedURL("ical_export_url", *m.ICalExportURL); err != nil {
				return nil, err
			}
		}
		m.ConnectionStyle = models.ConnectionStyleICal
	default:
		return nil, apperrors.Validation("", "external_property_id or ical_import_url is required")
	}
	return m, nil
}

// UpsertMapping creates or replaces the unit's mapping. Switching connection
// style requires deleting the mapping first.
func (s *OccupancyService) UpsertMapping(ctx context.Context, actor models.Actor, unitID string, req models.UpsertMappingRequest) (*models.UnitExternalMapping, error) {
	if _, err := s.units.GetUnit(ctx, unitID); err != nil {
		return nil, err
	}
	m, err := buildMapping(unitID, req)
	if err != nil {
		return nil, err
	}

	existing, err := s.mappings.GetByUnit(ctx, unitID)
	if err != nil && !apperrors.IsNotFound(err) {
		return nil, fmt.Errorf("failed to get unit mapping: %w", err)
	}
	if existing != nil && existing.ConnectionStyle != m.ConnectionStyle {
		return nil, apperrors.Conflict(apperrors.ReasonMappingTypeMismatch,
			"unit %s is mapped via %s; delete the mapping before switching to %s",
			unitID, existing.ConnectionStyle, m.ConnectionStyle)
	}

	saved, err := s.mappings.Upsert(ctx, m)
	if err != nil {
		return nil, err
	}

	action := models.AuditActionCreate
	var before any
	if existing != nil {
		action = models.AuditActionUpdate
		before = existing
	}
	s.audit.Record(AuditEvent{
		Actor:      actor,
		Action:     action,
		EntityType: models.EntityUnitMapping,
		EntityID:   saved.ID,
		Label:      unitID,
		Before:     before,
		After:      saved,
	})
	return saved, nil
}

// DeleteMapping removes the unit's mapping and its imported blocks
func (s *OccupancyService) DeleteMapping(ctx context.Context, actor models.Actor, unitID string) error {
	existing, err := s.mappings.GetByUnit(ctx, unitID)
	if err != nil {
		return err
	}
	if err := s.mappings.Delete(ctx, unitID); err != nil {
		return err
	}
	s.audit.Record(AuditEvent{
		Actor:      actor,
		Action:     models.AuditActionDelete,
		EntityType: models.EntityUnitMapping,
		EntityID:   existing.ID,
		Label:      unitID,
		Before:     existing,
	})
	return nil
}
