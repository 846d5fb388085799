package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ledger-backend/internal/cache"
	"ledger-backend/internal/metrics"
	"ledger-backend/internal/models"
	"ledger-backend/internal/timeutil"
)

var (
	hundred       = decimal.NewFromInt(100)
	monthsPerYear = decimal.NewFromInt(12)
)

const runRateDays = 30

// KPIService computes dashboard figures at read time from the ledger and the
// latest occupancy snapshots. Nothing is persisted.
type KPIService struct {
	ledger    LedgerStore
	units     UnitStore
	snapshots SnapshotStore
	zone      *timeutil.Zone
	currency  string
	logger    *zap.Logger

	cache KPICache
}

func NewKPIService(ledger LedgerStore, units UnitStore, snapshots SnapshotStore, zone *timeutil.Zone, currency string, logger *zap.Logger) *KPIService {
	return &KPIService{
		ledger:    ledger,
		units:     units,
		snapshots: snapshots,
		zone:      zone,
		currency:  currency,
		logger:    logger.Named("kpi"),
	}
}

// SetCache enables short-TTL caching of reports
func (s *KPIService) SetCache(c KPICache) {
	s.cache = c
}

// occupancyCounts is the occupancy of the rentable pool. Units without a
// snapshot count as unknown.
type occupancyCounts struct {
	available int
	occupied  int
	unknown   int
	rate      decimal.Decimal
	potential decimal.Decimal
	rows      []*models.OccupancySnapshot
}

// OccupancyRate is occupied / (available - unknown) * 100, or zero when the
// denominator is not positive. The result is not rounded.
func OccupancyRate(occupied, available, unknown int) decimal.Decimal {
	denominator := available - unknown
	if denominator <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(occupied)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(denominator)))
}

func (s *KPIService) occupancy(ctx context.Context, buildingID string) (*occupancyCounts, error) {
	units, err := s.units.ListActiveUnits(ctx, buildingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	latest, err := s.snapshots.Latest(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	counts := &occupancyCounts{potential: decimal.Zero}
	for _, u := range units {
		snap := latest[u.ID]
		if snap != nil {
			counts.rows = append(counts.rows, snap)
		}
		if !u.AvailableForRent() {
			continue
		}
		counts.available++
		counts.potential = counts.potential.Add(u.MonthlyBaseRent)
		switch {
		case snap == nil || snap.Source == models.OccupancySourceUnknown:
			counts.unknown++
		case snap.Occupied:
			counts.occupied++
		}
	}
	counts.potential = counts.potential.Mul(monthsPerYear)
	counts.rate = OccupancyRate(counts.occupied, counts.available, counts.unknown)
	return counts, nil
}

func (s *KPIService) cached(ctx context.Context, key string, dest any) bool {
	if s.cache == nil {
		return false
	}
	if s.cache.Get(ctx, key, dest) {
		metrics.KPICacheRequestsTotal.WithLabelValues("hit").Inc()
		return true
	}
	metrics.KPICacheRequestsTotal.WithLabelValues("miss").Inc()
	return false
}

func (s *KPIService) store(ctx context.Context, key string, value any) {
	if s.cache != nil {
		s.cache.Set(ctx, key, value)
	}
}

// Global returns the KPI report across all buildings
func (s *KPIService) Global(ctx context.Context) (*models.KPIReport, error) {
	return s.report(ctx, models.Scope{}, cache.KPIGlobalKey)
}

// Building returns the KPI report for one building
func (s *KPIService) Building(ctx context.Context, buildingID string) (*models.KPIReport, error) {
	return s.report(ctx, models.Scope{BuildingID: buildingID}, cache.KPIBuildingKey(buildingID))
}

func (s *KPIService) report(ctx context.Context, scope models.Scope, key string) (*models.KPIReport, error) {
	var cachedReport models.KPIReport
	if s.cached(ctx, key, &cachedReport) {
		return &cachedReport, nil
	}

	now := s.zone.Now()
	var (
		occ                             *occupancyCounts
		ytd, mtd, trailing, outstanding decimal.Decimal
		overdue                         int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		occ, err = s.occupancy(gctx, scope.BuildingID)
		return err
	})
	g.Go(func() error {
		var err error
		ytd, err = s.ledger.SumPaidInbound(gctx, scope, models.RentTypes, s.zone.StartOfYear(now), now)
		return err
	})
	g.Go(func() error {
		var err error
		mtd, err = s.ledger.SumPaidInbound(gctx, scope, models.RentTypes, s.zone.StartOfMonth(now), now)
		return err
	})
	g.Go(func() error {
		var err error
		trailing, err = s.ledger.SumPaidInbound(gctx, scope, models.RentTypes, now.AddDate(0, 0, -runRateDays), now)
		return err
	})
	g.Go(func() error {
		var err error
		outstanding, err = s.ledger.SumOutstanding(gctx, scope)
		return err
	})
	g.Go(func() error {
		var err error
		overdue, err = s.ledger.CountOverdue(gctx, scope, now)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to compute KPIs: %w", err)
	}

	effective := occ.potential.Mul(occ.rate).Div(hundred)
	revPAU := decimal.Zero
	if occ.available > 0 {
		revPAU = mtd.Div(decimal.NewFromInt(int64(occ.available)))
	}

	report := &models.KPIReport{
		BuildingID:          scope.BuildingID,
		Currency:            s.currency,
		PotentialAnnualRent: occ.potential.Round(2),
		EffectiveAnnualRent: effective.Round(2),
		CollectedYTD:        ytd.Round(2),
		CollectedMTD:        mtd.Round(2),
		AnnualizedRunRate:   trailing.Mul(monthsPerYear).Round(2),
		OutstandingBalance:  outstanding.Round(2),
		OverdueCount:        overdue,
		OccupancyRate:       occ.rate.Round(2),
		RevPAU:              revPAU.Round(2),
		AvailableUnits:      occ.available,
		OccupiedUnits:       occ.occupied,
		UnknownUnits:        occ.unknown,
		GeneratedAt:         now,
	}
	s.store(ctx, key, report)
	return report, nil
}

// Occupancy returns the latest per-unit snapshots with aggregated counts.
// An empty buildingID covers every building.
func (s *KPIService) Occupancy(ctx context.Context, buildingID string) (*models.OccupancyReport, error) {
	key := cache.KPIOccupancyKey(buildingID)
	var cachedReport models.OccupancyReport
	if s.cached(ctx, key, &cachedReport) {
		return &cachedReport, nil
	}

	occ, err := s.occupancy(ctx, buildingID)
	if err != nil {
		return nil, err
	}
	rows := occ.rows
	if rows == nil {
		rows = []*models.OccupancySnapshot{}
	}
	report := &models.OccupancyReport{
		BuildingID:     buildingID,
		AvailableUnits: occ.available,
		OccupiedUnits:  occ.occupied,
		VacantUnits:    occ.available - occ.occupied - occ.unknown,
		UnknownUnits:   occ.unknown,
		OccupancyRate:  occ.rate.Round(2),
		Units:          rows,
	}
	s.store(ctx, key, report)
	return report, nil
}
