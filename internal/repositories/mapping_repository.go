package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledger-backend/internal/apperrors"
	"ledger-backend/internal/models"
)

// MappingRepository stores unit external mappings and imported calendar blocks
type MappingRepository struct {
	DB *pgxpool.Pool
}

func NewMappingRepository(db *pgxpool.Pool) *MappingRepository {
	return &MappingRepository{DB: db}
}

const mappingColumns = `
	id, unit_id, connection_style, source_of_truth, external_property_id, external_room_id,
	ical_import_url, ical_export_url, last_synced_at, last_sync_status, last_sync_error,
	created_at, updated_at`

func scanMapping(row pgx.Row) (*models.UnitExternalMapping, error) {
	var m models.UnitExternalMapping
	err := row.Scan(
		&m.ID, &m.UnitID, &m.ConnectionStyle, &m.SourceOfTruth, &m.ExternalPropertyID, &m.ExternalRoomID,
		&m.ICalImportURL, &m.ICalExportURL, &m.LastSyncedAt, &m.LastSyncStatus, &m.LastSyncError,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Upsert inserts or replaces the unit's mapping. Sync status is kept unless
// the import URL changed.
func (r *MappingRepository) Upsert(ctx context.Context, m *models.UnitExternalMapping) (*models.UnitExternalMapping, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	query := `
		INSERT INTO unit_external_mappings (
			id, unit_id, connection_style, source_of_truth, external_property_id, external_room_id,
			ical_import_url, ical_export_url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (unit_id) DO UPDATE SET
			connection_style = EXCLUDED.connection_style,
			source_of_truth = EXCLUDED.source_of_truth,
			external_property_id = EXCLUDED.external_property_id,
			external_room_id = EXCLUDED.external_room_id,
			ical_export_url = EXCLUDED.ical_export_url,
			last_synced_at = CASE WHEN unit_external_mappings.ical_import_url IS DISTINCT FROM EXCLUDED.ical_import_url
				THEN NULL ELSE unit_external_mappings.last_synced_at END,
			last_sync_status = CASE WHEN unit_external_mappings.ical_import_url IS DISTINCT FROM EXCLUDED.ical_import_url
				THEN NULL ELSE unit_external_mappings.last_sync_status END,
			last_sync_error = CASE WHEN unit_external_mappings.ical_import_url IS DISTINCT FROM EXCLUDED.ical_import_url
				THEN NULL ELSE unit_external_mappings.last_sync_error END,
			ical_import_url = EXCLUDED.ical_import_url,
			updated_at = NOW()
		RETURNING ` + mappingColumns

	saved, err := scanMapping(r.DB.QueryRow(ctx, query,
		m.ID, m.UnitID, m.ConnectionStyle, m.SourceOfTruth, m.ExternalPropertyID, m.ExternalRoomID,
		m.ICalImportURL, m.ICalExportURL,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert mapping: %w", mapError(err, "unit mapping", m.UnitID))
	}
	return saved, nil
}

func (r *MappingRepository) GetByUnit(ctx context.Context, unitID string) (*models.UnitExternalMapping, error) {
	m, err := scanMapping(r.DB.QueryRow(ctx,
		`SELECT `+mappingColumns+` FROM unit_external_mappings WHERE unit_id = $1`, unitID))
	if err != nil {
		return nil, mapError(err, "unit mapping", unitID)
	}
	return m, nil
}

// List returns mappings of one connection style, or all when style is empty
func (r *MappingRepository) List(ctx context.Context, style models.ConnectionStyle) ([]*models.UnitExternalMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM unit_external_mappings`
	args := []interface{}{}
	if style != "" {
		query += ` WHERE connection_style = $1`
		args = append(args, style)
	}
	query += ` ORDER BY unit_id`

	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*models.UnitExternalMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func (r *MappingRepository) UpdateSyncStatus(ctx context.Context, unitID string, result models.SyncResult) error {
	tag, err := r.DB.Exec(ctx, `
		UPDATE unit_external_mappings SET
			last_synced_at = $2, last_sync_status = $3, last_sync_error = $4, updated_at = NOW()
		WHERE unit_id = $1
	`, unitID, result.At, result.Status, nullIfEmpty(result.Error))
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("unit mapping", unitID)
	}
	return nil
}

// Delete removes the mapping and its imported calendar blocks
func (r *MappingRepository) Delete(ctx context.Context, unitID string) error {
	return pgx.BeginFunc(ctx, r.DB, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM unit_external_mappings WHERE unit_id = $1`, unitID)
		if err != nil {
			return fmt.Errorf("failed to delete mapping: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.NotFound("unit mapping", unitID)
		}
		_, err = tx.Exec(ctx, `DELETE FROM calendar_blocks WHERE unit_id = $1`, unitID)
		return err
	})
}

// ReplaceBlocks swaps the unit's imported busy intervals for blocks
func (r *MappingRepository) ReplaceBlocks(ctx context.Context, unitID string, blocks []models.CalendarBlock) error {
	return pgx.BeginFunc(ctx, r.DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM calendar_blocks WHERE unit_id = $1`, unitID); err != nil {
			return fmt.Errorf("failed to clear calendar blocks: %w", err)
		}
		if len(blocks) == 0 {
			return nil
		}
		rows := make([][]interface{}, len(blocks))
		for i, b := range blocks {
			rows[i] = []interface{}{unitID, b.UID, b.Summary, b.Start, b.End}
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"calendar_blocks"},
			[]string{"unit_id", "uid", "summary", "starts_at", "ends_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to insert calendar blocks: %w", err)
		}
		return nil
	})
}

// ListBlocks returns blocks overlapping [from, to)
func (r *MappingRepository) ListBlocks(ctx context.Context, unitID string, from, to time.Time) ([]models.CalendarBlock, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT unit_id, uid, summary, starts_at, ends_at FROM calendar_blocks
		WHERE unit_id = $1 AND starts_at < $3 AND ends_at > $2
		ORDER BY starts_at
	`, unitID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendar blocks: %w", err)
	}
	defer rows.Close()

	var blocks []models.CalendarBlock
	for rows.Next() {
		var b models.CalendarBlock
		if err := rows.Scan(&b.UnitID, &b.UID, &b.Summary, &b.Start, &b.End); err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}
