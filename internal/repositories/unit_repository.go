package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ledger-backend/internal/models"
)

// UnitRepository reads the units table owned by the listings subsystem
type UnitRepository struct {
	DB *pgxpool.Pool
}

func NewUnitRepository(db *pgxpool.Pool) *UnitRepository {
	return &UnitRepository{DB: db}
}

const unitColumns = `id, building_id, unit_number, status, monthly_base_rent::text, active`

func scanUnit(row pgx.Row) (*models.Unit, error) {
	var u models.Unit
	var rent string
	if err := row.Scan(&u.ID, &u.BuildingID, &u.UnitNumber, &u.Status, &rent, &u.Active); err != nil {
		return nil, err
	}
	var err error
	u.MonthlyBaseRent, err = decimal.NewFromString(rent)
	if err != nil {
		return nil, fmt.Errorf("invalid stored rent %q: %w", rent, err)
	}
	return &u, nil
}

func (r *UnitRepository) GetUnit(ctx context.Context, id string) (*models.Unit, error) {
	u, err := scanUnit(r.DB.QueryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "unit", id)
	}
	return u, nil
}

func (r *UnitRepository) ListActiveUnits(ctx context.Context, buildingID string) ([]*models.Unit, error) {
	query := `SELECT ` + unitColumns + ` FROM units WHERE active = TRUE`
	args := []interface{}{}
	if buildingID != "" {
		query += ` AND building_id = $1`
		args = append(args, buildingID)
	}
	query += ` ORDER BY building_id, unit_number`

	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	var units []*models.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}
