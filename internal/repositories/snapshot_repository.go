package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledger-backend/internal/models"
)

// SnapshotRepository stores one occupancy row per (date, unit)
type SnapshotRepository struct {
	DB *pgxpool.Pool
}

func NewSnapshotRepository(db *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{DB: db}
}

const snapshotColumns = `id, snapshot_date, unit_id, building_id, occupied, available, source, booking_id, created_at`

func scanSnapshot(row pgx.Row) (*models.OccupancySnapshot, error) {
	var s models.OccupancySnapshot
	err := row.Scan(&s.ID, &s.Date, &s.UnitID, &s.BuildingID, &s.Occupied, &s.Available, &s.Source, &s.BookingID, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SnapshotRepository) Upsert(ctx context.Context, s *models.OccupancySnapshot, overwrite bool) (bool, error) {
	conflict := `ON CONFLICT (snapshot_date, unit_id) DO NOTHING`
	if overwrite {
		conflict = `ON CONFLICT (snapshot_date, unit_id) DO UPDATE SET
			building_id = EXCLUDED.building_id,
			occupied = EXCLUDED.occupied,
			available = EXCLUDED.available,
			source = EXCLUDED.source,
			booking_id = EXCLUDED.booking_id,
			created_at = NOW()`
	}

	tag, err := r.DB.Exec(ctx, `
		INSERT INTO occupancy_snapshots (id, snapshot_date, unit_id, building_id, occupied, available, source, booking_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`+conflict,
		s.ID, s.Date, s.UnitID, s.BuildingID, s.Occupied, s.Available, s.Source, s.BookingID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to write snapshot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SnapshotRepository) Get(ctx context.Context, unitID string, date time.Time) (*models.OccupancySnapshot, error) {
	s, err := scanSnapshot(r.DB.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM occupancy_snapshots WHERE unit_id = $1 AND snapshot_date = $2`, unitID, date))
	if err != nil {
		return nil, mapError(err, "occupancy snapshot", unitID)
	}
	return s, nil
}

func (r *SnapshotRepository) Latest(ctx context.Context, unitIDs []string) (map[string]*models.OccupancySnapshot, error) {
	latest := make(map[string]*models.OccupancySnapshot, len(unitIDs))
	if len(unitIDs) == 0 {
		return latest, nil
	}

	rows, err := r.DB.Query(ctx, `
		SELECT DISTINCT ON (unit_id) `+snapshotColumns+`
		FROM occupancy_snapshots
		WHERE unit_id = ANY($1)
		ORDER BY unit_id, snapshot_date DESC
	`, unitIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		latest[s.UnitID] = s
	}
	return latest, rows.Err()
}
