package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledger-backend/internal/models"
)

// AuditRepository is the append-only audit_logs table
type AuditRepository struct {
	DB *pgxpool.Pool
}

func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{DB: db}
}

// Create records an audit entry
func (r *AuditRepository) Create(ctx context.Context, rec *models.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	var changes []byte
	if len(rec.Changes) > 0 {
		var err error
		changes, err = json.Marshal(rec.Changes)
		if err != nil {
			return fmt.Errorf("failed to encode audit changes: %w", err)
		}
	}
	var metadata []byte
	if len(rec.Metadata) > 0 {
		metadata = rec.Metadata
	}

	query := `
		INSERT INTO audit_logs (
			id, actor_id, actor_name, action, entity_type, entity_id, entity_label, changes, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.DB.Exec(ctx, query,
		rec.ID, rec.ActorID, rec.ActorName, rec.Action, rec.EntityType, rec.EntityID,
		nullIfEmpty(rec.EntityLabel), changes, metadata, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit record: %w", err)
	}
	return nil
}

// List returns audit records newest first
func (r *AuditRepository) List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditRecord, int, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	add := func(cond string, val interface{}) {
		conditions = append(conditions, fmt.Sprintf(cond, argNum))
		args = append(args, val)
		argNum++
	}

	if filter.EntityType != "" {
		add("entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID != "" {
		add("entity_id = $%d", filter.EntityID)
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.StartDate != nil {
		add("created_at >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		add("created_at < $%d", *filter.EndDate)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.DB.QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit records: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, actor_id, actor_name, action, entity_type, entity_id,
			COALESCE(entity_label, ''), changes, metadata, created_at
		FROM audit_logs
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	records := []*models.AuditRecord{}
	for rows.Next() {
		var rec models.AuditRecord
		var changes, metadata []byte
		if err := rows.Scan(
			&rec.ID, &rec.ActorID, &rec.ActorName, &rec.Action, &rec.EntityType, &rec.EntityID,
			&rec.EntityLabel, &changes, &metadata, &rec.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &rec.Changes); err != nil {
				return nil, 0, fmt.Errorf("invalid stored audit changes: %w", err)
			}
		}
		if len(metadata) > 0 {
			rec.Metadata = json.RawMessage(metadata)
		}
		records = append(records, &rec)
	}
	return records, total, rows.Err()
}
