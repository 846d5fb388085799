package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// KPIReport is the dashboard answer of kpis.global and kpis.building.
// Money is rounded to two places.
type KPIReport struct {
	BuildingID          string          `json:"building_id,omitempty"`
	Currency            string          `json:"currency"`
	PotentialAnnualRent decimal.Decimal `json:"potential_annual_rent"`
	EffectiveAnnualRent decimal.Decimal `json:"effective_annual_rent"`
	CollectedYTD        decimal.Decimal `json:"collected_ytd"`
	CollectedMTD        decimal.Decimal `json:"collected_mtd"`
	AnnualizedRunRate   decimal.Decimal `json:"annualized_run_rate"`
	OutstandingBalance  decimal.Decimal `json:"outstanding_balance"`
	OverdueCount        int             `json:"overdue_count"`
	OccupancyRate       decimal.Decimal `json:"occupancy_rate"`
	RevPAU              decimal.Decimal `json:"rev_pau"`
	AvailableUnits      int             `json:"available_units"`
	OccupiedUnits       int             `json:"occupied_units"`
	UnknownUnits        int             `json:"unknown_units"`
	GeneratedAt         time.Time       `json:"generated_at"`
}

// OccupancyReport is the answer of kpis.occupancy
type OccupancyReport struct {
	BuildingID     string               `json:"building_id,omitempty"`
	AvailableUnits int                  `json:"available_units"`
	OccupiedUnits  int                  `json:"occupied_units"`
	VacantUnits    int                  `json:"vacant_units"`
	UnknownUnits   int                  `json:"unknown_units"`
	OccupancyRate  decimal.Decimal      `json:"occupancy_rate"`
	Units          []*OccupancySnapshot `json:"units"`
}
