package jobs

import (
	"context"

	"go.uber.org/zap"
)

// GenerateDailySnapshot records today's occupancy for every active unit
func (jr *JobRunner) GenerateDailySnapshot() {
	jr.runWithRecovery("GenerateDailySnapshot", func(ctx context.Context) error {
		_, err := jr.occupancy.GenerateDailySnapshot(ctx, nil)
		return err
	})
}

// SyncICalFeeds imports every mapped iCal feed
func (jr *JobRunner) SyncICalFeeds() {
	jr.runWithRecovery("SyncICalFeeds", func(ctx context.Context) error {
		_, err := jr.occupancy.SyncAllICalUnits(ctx)
		return err
	})
}

// PublishExportFeeds uploads unit availability feeds to object storage
func (jr *JobRunner) PublishExportFeeds() {
	jr.runWithRecovery("PublishExportFeeds", func(ctx context.Context) error {
		n, err := jr.occupancy.PublishFeeds(ctx)
		if err == nil {
			jr.logger.Info("export feeds published", zap.Int("count", n))
		}
		return err
	})
}
