package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ledger-backend/internal/apperrors"
	"ledger-backend/internal/calendar"
	"ledger-backend/internal/metrics"
	"ledger-backend/internal/models"
)

// FeedFetcher downloads a calendar feed
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

const maxSyncErrorLen = 500

// SyncICalUnit imports the unit's feed. Fetch and parse failures are recorded
// on the mapping and reported in the outcome, not returned.
func (s *OccupancyService) SyncICalUnit(ctx context.Context, unitID string) (*models.UnitSyncOutcome, error) {
	mapping, err := s.mappings.GetByUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if mapping.ConnectionStyle != models.ConnectionStyleICal || mapping.ICalImportURL == nil {
		return nil, apperrors.Validation("unit_id", "unit is not mapped to an iCal feed")
	}
	return s.syncMapping(ctx, mapping), nil
}

// SyncAllICalUnits imports every iCal feed. One unit's failure never stops
// the batch.
func (s *OccupancyService) SyncAllICalUnits(ctx context.Context) ([]*models.UnitSyncOutcome, error) {
	mappings, err := s.mappings.List(ctx, models.ConnectionStyleICal)
	if err != nil {
		return nil, fmt.Errorf("failed to list iCal mappings: %w", err)
	}

	outcomes := make([]*models.UnitSyncOutcome, len(mappings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, m := range mappings {
		i, m := i, m
		g.Go(func() error {
			outcomes[i] = s.syncMapping(gctx, m)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Status == models.SyncStatusFailed {
			failed++
		}
	}
	s.logger.Info("iCal sync finished", zap.Int("units", len(outcomes)), zap.Int("failed", failed))
	return outcomes, nil
}

func (s *OccupancyService) syncMapping(ctx context.Context, mapping *models.UnitExternalMapping) *models.UnitSyncOutcome {
	outcome := &models.UnitSyncOutcome{UnitID: mapping.UnitID, Status: models.SyncStatusSuccess}

	blocks, err := s.importFeed(ctx, mapping)
	if err != nil {
		outcome.Status = models.SyncStatusFailed
		outcome.Error = truncate(err.Error(), maxSyncErrorLen)
		s.logger.Warn("iCal sync failed", zap.String("unit_id", mapping.UnitID), zap.Error(err))
	} else {
		outcome.BlocksCount = len(blocks)
	}
	metrics.ICalSyncTotal.WithLabelValues(string(outcome.Status)).Inc()

	// Recording must survive a cancelled batch context.
	recordCtx := context.WithoutCancel(ctx)
	if err := s.mappings.UpdateSyncStatus(recordCtx, mapping.UnitID, models.SyncResult{
		Status: outcome.Status,
		Error:  outcome.Error,
		At:     s.zone.Now(),
	}); err != nil {
		s.logger.Error("failed to record iCal sync status", zap.String("unit_id", mapping.UnitID), zap.Error(err))
	}
	return outcome
}

func (s *OccupancyService) importFeed(ctx context.Context, mapping *models.UnitExternalMapping) ([]models.CalendarBlock, error) {
	if s.feeds == nil {
		return nil, errors.New("iCal fetching is not configured")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.CalendarTimeout)
	defer cancel()

	body, err := s.feeds.Fetch(fetchCtx, *mapping.ICalImportURL)
	if err != nil {
		return nil, apperrors.External("ical feed", err)
	}
	blocks, err := calendar.ParseBlocks(mapping.UnitID, body, s.zone.Loc)
	if err != nil {
		return nil, apperrors.External("ical feed", err)
	}
	if err := s.blocks.ReplaceBlocks(ctx, mapping.UnitID, blocks); err != nil {
		return nil, fmt.Errorf("failed to store calendar blocks: %w", err)
	}
	return blocks, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
