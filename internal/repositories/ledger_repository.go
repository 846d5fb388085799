package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ledger-backend/internal/apperrors"
	"ledger-backend/internal/models"
)

type LedgerRepository struct {
	DB *pgxpool.Pool
}

func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{DB: db}
}

const ledgerColumns = `
	id, invoice_number, entry_type, direction, status, amount::text, currency,
	booking_id, pms_booking_ref, building_id, unit_id, parent_ledger_id,
	guest_name, guest_email, guest_phone, payment_method, provider_name, provider_reference,
	notes, due_at, paid_at, created_by_id, created_by_name, created_at, updated_at`

func scanLedgerEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	var amount string
	err := row.Scan(
		&e.ID, &e.InvoiceNumber, &e.Type, &e.Direction, &e.Status, &amount, &e.Currency,
		&e.BookingID, &e.PMSBookingRef, &e.BuildingID, &e.UnitID, &e.ParentLedgerID,
		&e.GuestName, &e.GuestEmail, &e.GuestPhone, &e.PaymentMethod, &e.ProviderName, &e.ProviderReference,
		&e.Notes, &e.DueAt, &e.PaidAt, &e.CreatedByID, &e.CreatedByName, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	return &e, nil
}

const insertLedgerEntry = `
	INSERT INTO ledger_entries (
		id, invoice_number, entry_type, direction, status, amount, currency,
		booking_id, pms_booking_ref, building_id, unit_id, parent_ledger_id,
		guest_name, guest_email, guest_phone, payment_method, provider_name, provider_reference,
		notes, due_at, paid_at, created_by_id, created_by_name
	) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	RETURNING created_at, updated_at`

func ledgerInsertArgs(e *models.LedgerEntry) []interface{} {
	return []interface{}{
		e.ID, e.InvoiceNumber, e.Type, e.Direction, e.Status, e.Amount.String(), e.Currency,
		e.BookingID, e.PMSBookingRef, e.BuildingID, e.UnitID, e.ParentLedgerID,
		e.GuestName, e.GuestEmail, e.GuestPhone, e.PaymentMethod, e.ProviderName, e.ProviderReference,
		e.Notes, e.DueAt, e.PaidAt, e.CreatedByID, e.CreatedByName,
	}
}

// Create inserts a new entry. A clashing invoice number is reported as a
// ConflictError with reason DUPLICATE.
func (r *LedgerRepository) Create(ctx context.Context, e *models.LedgerEntry) error {
	err := r.DB.QueryRow(ctx, insertLedgerEntry, ledgerInsertArgs(e)...).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create ledger entry: %w", mapError(err, "ledger entry", e.ID))
	}
	return nil
}

func (r *LedgerRepository) GetByID(ctx context.Context, id string) (*models.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE id = $1`
	e, err := scanLedgerEntry(r.DB.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "ledger entry", id)
	}
	return e, nil
}

// GetByProviderReference finds the entry a provider transaction refers to
func (r *LedgerRepository) GetByProviderReference(ctx context.Context, reference, provider string) (*models.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries
		WHERE provider_reference = $1 AND provider_name = $2
		ORDER BY created_at DESC
		LIMIT 1`
	e, err := scanLedgerEntry(r.DB.QueryRow(ctx, query, reference, provider))
	if err != nil {
		return nil, mapError(err, "ledger entry", reference)
	}
	return e, nil
}

// Search returns a page of entries plus the total match count
func (r *LedgerRepository) Search(ctx context.Context, filter models.LedgerFilter) ([]*models.LedgerEntry, int, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	add := func(cond string, val interface{}) {
		conditions = append(conditions, fmt.Sprintf(cond, argNum))
		args = append(args, val)
		argNum++
	}

	if filter.BuildingID != "" {
		add("building_id = $%d", filter.BuildingID)
	}
	if filter.UnitID != "" {
		add("unit_id = $%d", filter.UnitID)
	}
	if filter.BookingID != "" {
		conditions = append(conditions, fmt.Sprintf("(booking_id = $%d OR pms_booking_ref = $%d)", argNum, argNum))
		args = append(args, filter.BookingID)
		argNum++
	}
	if filter.Guest != "" {
		conditions = append(conditions, fmt.Sprintf(
			"(guest_name ILIKE $%d OR guest_email ILIKE $%d OR guest_phone ILIKE $%d)", argNum, argNum, argNum))
		args = append(args, "%"+filter.Guest+"%")
		argNum++
	}
	if filter.InvoiceNumber != "" {
		add("invoice_number = $%d", strings.ToUpper(filter.InvoiceNumber))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Type != "" {
		add("entry_type = $%d", filter.Type)
	}
	if filter.PaymentMethod != "" {
		add("payment_method = $%d", filter.PaymentMethod)
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
	if err := r.DB.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_entries "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM ledger_entries
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, ledgerColumns, whereClause, argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []*models.LedgerEntry{}
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// UpdateStatus applies update only while the row is still in status from
func (r *LedgerRepository) UpdateStatus(ctx context.Context, id string, from models.LedgerStatus, update models.StatusUpdate) (*models.LedgerEntry, error) {
	query := `
		UPDATE ledger_entries SET
			status = $3,
			payment_method = COALESCE($4, payment_method),
			provider_name = COALESCE($5, provider_name),
			provider_reference = COALESCE($6, provider_reference),
			paid_at = COALESCE($7, paid_at),
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + ledgerColumns

	e, err := scanLedgerEntry(r.DB.QueryRow(ctx, query, id, from, update.Status,
		update.PaymentMethod, update.ProviderName, update.ProviderReference, update.PaidAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.missOrConflict(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update ledger status: %w", err)
	}
	return e, nil
}

// missOrConflict distinguishes a missing row from a lost race
func (r *LedgerRepository) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.DB.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE id = $1)", id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check ledger entry: %w", err)
	}
	if !exists {
		return apperrors.NotFound("ledger entry", id)
	}
	return apperrors.ErrConcurrentUpdate
}

// CreateChild locks the parent, inserts the child and optionally refunds the
// parent in one transaction
func (r *LedgerRepository) CreateChild(ctx context.Context, child *models.LedgerEntry, refundParent bool) (*models.LedgerEntry, error) {
	if child.ParentLedgerID == nil {
		return nil, apperrors.Validation("parent_ledger_id", "is required")
	}
	parentID := *child.ParentLedgerID

	var parent *models.LedgerEntry
	err := pgx.BeginFunc(ctx, r.DB, func(tx pgx.Tx) error {
		p, err := scanLedgerEntry(tx.QueryRow(ctx,
			`SELECT `+ledgerColumns+` FROM ledger_entries WHERE id = $1 FOR UPDATE`, parentID))
		if err != nil {
			return mapError(err, "ledger entry", parentID)
		}
		if p.Status != models.LedgerStatusPaid {
			return apperrors.Conflict(apperrors.ReasonParentNotPaid,
				"parent entry %s is %s, must be PAID", p.InvoiceNumber, p.Status)
		}

		if err := tx.QueryRow(ctx, insertLedgerEntry, ledgerInsertArgs(child)...).Scan(&child.CreatedAt, &child.UpdatedAt); err != nil {
			return mapError(err, "ledger entry", child.ID)
		}

		if refundParent {
			p, err = scanLedgerEntry(tx.QueryRow(ctx, `
				UPDATE ledger_entries SET status = $2, updated_at = NOW()
				WHERE id = $1 AND status = $3
				RETURNING `+ledgerColumns, parentID, models.LedgerStatusRefunded, models.LedgerStatusPaid))
			if err != nil {
				return fmt.Errorf("failed to refund parent: %w", err)
			}
		}
		parent = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parent, nil
}

func scopeCondition(scope models.Scope, argNum int, args *[]interface{}) string {
	if scope.Global() {
		return ""
	}
	*args = append(*args, scope.BuildingID)
	return fmt.Sprintf(" AND building_id = $%d", argNum)
}

// SumPaidInbound sums PAID inbound entries of the given types with paid_at in [from, to)
func (r *LedgerRepository) SumPaidInbound(ctx context.Context, scope models.Scope, types []models.LedgerEntryType, from, to time.Time) (decimal.Decimal, error) {
	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = string(t)
	}
	args := []interface{}{models.LedgerStatusPaid, models.DirectionIn, typeNames, from, to}
	query := `
		SELECT COALESCE(SUM(amount), 0)::text FROM ledger_entries
		WHERE status = $1 AND direction = $2 AND entry_type = ANY($3)
			AND paid_at >= $4 AND paid_at < $5` + scopeCondition(scope, 6, &args)
	return r.sum(ctx, query, args...)
}

// SumOutstanding sums inbound entries still DUE or PENDING
func (r *LedgerRepository) SumOutstanding(ctx context.Context, scope models.Scope) (decimal.Decimal, error) {
	args := []interface{}{models.DirectionIn, []string{string(models.LedgerStatusDue), string(models.LedgerStatusPending)}}
	query := `
		SELECT COALESCE(SUM(amount), 0)::text FROM ledger_entries
		WHERE direction = $1 AND status = ANY($2)` + scopeCondition(scope, 3, &args)
	return r.sum(ctx, query, args...)
}

// CountOverdue counts DUE entries whose due date has passed
func (r *LedgerRepository) CountOverdue(ctx context.Context, scope models.Scope, now time.Time) (int, error) {
	args := []interface{}{models.LedgerStatusDue, now}
	query := `
		SELECT COUNT(*) FROM ledger_entries
		WHERE status = $1 AND due_at IS NOT NULL AND due_at < $2` + scopeCondition(scope, 3, &args)
	var n int
	if err := r.DB.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count overdue entries: %w", err)
	}
	return n, nil
}

func (r *LedgerRepository) sum(ctx context.Context, query string, args ...interface{}) (decimal.Decimal, error) {
	var s string
	if err := r.DB.QueryRow(ctx, query, args...).Scan(&s); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	return decimal.NewFromString(s)
}
