package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ledger-backend/internal/apperrors"
	"ledger-backend/internal/models"
)

// ExtensionRepository stores renewal requests
type ExtensionRepository struct {
	DB *pgxpool.Pool
}

func NewExtensionRepository(db *pgxpool.Pool) *ExtensionRepository {
	return &ExtensionRepository{DB: db}
}

const extensionColumns = `
	id, booking_id, unit_id, building_id, original_end_date, new_end_date, extension_months,
	amount::text, currency, status, externally_managed, ledger_entry_id, requested_by_id,
	decided_by_id, decision_note, activated_at, created_at, updated_at`

func scanExtension(row pgx.Row) (*models.Extension, error) {
	var x models.Extension
	var amount string
	err := row.Scan(
		&x.ID, &x.BookingID, &x.UnitID, &x.BuildingID, &x.OriginalEndDate, &x.NewEndDate, &x.ExtensionMonths,
		&amount, &x.Currency, &x.Status, &x.ExternallyManaged, &x.LedgerEntryID, &x.RequestedByID,
		&x.DecidedByID, &x.DecisionNote, &x.ActivatedAt, &x.CreatedAt, &x.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	x.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	return &x, nil
}

// Create inserts a PENDING_APPROVAL extension. A second open extension for
// the same booking violates uq_extensions_open_per_booking.
func (r *ExtensionRepository) Create(ctx context.Context, x *models.Extension) error {
	err := r.DB.QueryRow(ctx, `
		INSERT INTO extensions (
			id, booking_id, unit_id, building_id, original_end_date, new_end_date, extension_months,
			amount, currency, status, externally_managed, requested_by_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`,
		x.ID, x.BookingID, x.UnitID, x.BuildingID, x.OriginalEndDate, x.NewEndDate, x.ExtensionMonths,
		x.Amount.String(), x.Currency, x.Status, x.ExternallyManaged, x.RequestedByID,
	).Scan(&x.CreatedAt, &x.UpdatedAt)
	if isUniqueViolation(err, "uq_extensions_open_per_booking") {
		return apperrors.Ineligible(apperrors.ReasonRenewalAlreadyPending, "booking already has an open renewal")
	}
	if err != nil {
		return fmt.Errorf("failed to create extension: %w", mapError(err, "extension", x.ID))
	}
	return nil
}

func (r *ExtensionRepository) Get(ctx context.Context, id string) (*models.Extension, error) {
	x, err := scanExtension(r.DB.QueryRow(ctx, `SELECT `+extensionColumns+` FROM extensions WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "extension", id)
	}
	return x, nil
}

func (r *ExtensionRepository) GetByLedgerEntry(ctx context.Context, ledgerEntryID string) (*models.Extension, error) {
	x, err := scanExtension(r.DB.QueryRow(ctx,
		`SELECT `+extensionColumns+` FROM extensions WHERE ledger_entry_id = $1`, ledgerEntryID))
	if err != nil {
		return nil, mapError(err, "extension", ledgerEntryID)
	}
	return x, nil
}

func (r *ExtensionRepository) List(ctx context.Context, filter models.ExtensionFilter) ([]*models.Extension, int, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	if filter.BookingID != "" {
		conditions = append(conditions, fmt.Sprintf("booking_id = $%d", argNum))
		args = append(args, filter.BookingID)
		argNum++
	}
	if filter.BuildingID != "" {
		conditions = append(conditions, fmt.Sprintf("building_id = $%d", argNum))
		args = append(args, filter.BuildingID)
		argNum++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, filter.Status)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.DB.QueryRow(ctx, "SELECT COUNT(*) FROM extensions "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count extensions: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM extensions %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		extensionColumns, whereClause, argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list extensions: %w", err)
	}
	defer rows.Close()

	list := []*models.Extension{}
	for rows.Next() {
		x, err := scanExtension(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, x)
	}
	return list, total, rows.Err()
}

func (r *ExtensionRepository) HasOpen(ctx context.Context, bookingID string) (bool, error) {
	var open bool
	err := r.DB.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM extensions WHERE booking_id = $1 AND status = ANY($2))
	`, bookingID, []string{
		string(models.ExtensionStatusPendingApproval),
		string(models.ExtensionStatusApproved),
		string(models.ExtensionStatusPaymentPending),
	}).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("failed to check open extensions: %w", err)
	}
	return open, nil
}

// UpdateStatus applies update only while the extension is still in status from
func (r *ExtensionRepository) UpdateStatus(ctx context.Context, id string, from models.ExtensionStatus, u models.ExtensionUpdate) (*models.Extension, error) {
	query := `
		UPDATE extensions SET
			status = $3,
			ledger_entry_id = COALESCE($4, ledger_entry_id),
			decided_by_id = COALESCE($5, decided_by_id),
			decision_note = COALESCE($6, decision_note),
			activated_at = COALESCE($7, activated_at),
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + extensionColumns

	x, err := scanExtension(r.DB.QueryRow(ctx, query, id, from, u.Status, u.LedgerEntryID, u.DecidedByID, u.DecisionNote, u.ActivatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, apperrors.ErrConcurrentUpdate
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update extension: %w", err)
	}
	return x, nil
}
