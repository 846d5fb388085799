package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ledger-backend/internal/models"
)

// BookingRepository reads bookings and performs the guarded booking writes
type BookingRepository struct {
	DB *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{DB: db}
}

const bookingColumns = `
	id, unit_id, building_id, guest_name, guest_email, guest_phone, status,
	start_date, end_date, monthly_rent::text, currency, renewal_count, max_renewals, updated_at`

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var b models.Booking
	var rent string
	err := row.Scan(
		&b.ID, &b.UnitID, &b.BuildingID, &b.GuestName, &b.GuestEmail, &b.GuestPhone, &b.Status,
		&b.StartDate, &b.EndDate, &rent, &b.Currency, &b.RenewalCount, &b.MaxRenewals, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.MonthlyRent, err = decimal.NewFromString(rent)
	if err != nil {
		return nil, fmt.Errorf("invalid stored rent %q: %w", rent, err)
	}
	return &b, nil
}

func (r *BookingRepository) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := scanBooking(r.DB.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "booking", id)
	}
	return b, nil
}

// FindCovering returns the live booking whose [start, end) contains day
func (r *BookingRepository) FindCovering(ctx context.Context, unitID string, day time.Time) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE unit_id = $1 AND status = ANY($2) AND start_date <= $3 AND end_date > $3
		ORDER BY start_date DESC
		LIMIT 1`
	live := []string{string(models.BookingStatusActive), string(models.BookingStatusPendingPayment)}
	b, err := scanBooking(r.DB.QueryRow(ctx, query, unitID, live, day))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find covering booking: %w", err)
	}
	return b, nil
}

// ListByUnit returns live bookings of a unit ending after the given date
func (r *BookingRepository) ListByUnit(ctx context.Context, unitID string, endingAfter time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE unit_id = $1 AND status = ANY($2) AND end_date > $3
		ORDER BY start_date`
	live := []string{string(models.BookingStatusActive), string(models.BookingStatusPendingPayment)}

	rows, err := r.DB.Query(ctx, query, unitID, live, endingAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (r *BookingRepository) MarkPaid(ctx context.Context, id string) (bool, error) {
	tag, err := r.DB.Exec(ctx, `
		UPDATE bookings SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, models.BookingStatusActive, models.BookingStatusPendingPayment)
	if err != nil {
		return false, fmt.Errorf("failed to mark booking paid: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *BookingRepository) ExtendEndDate(ctx context.Context, id string, currentEnd, newEnd time.Time) (bool, error) {
	tag, err := r.DB.Exec(ctx, `
		UPDATE bookings SET end_date = $3, renewal_count = renewal_count + 1, updated_at = NOW()
		WHERE id = $1 AND end_date = $2
	`, id, currentEnd, newEnd)
	if err != nil {
		return false, fmt.Errorf("failed to extend booking: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
