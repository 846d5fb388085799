package models

import "github.com/shopspring/decimal"

// UnitStatus is the rental status of a unit
type UnitStatus string

const (
	UnitStatusAvailable   UnitStatus = "AVAILABLE"
	UnitStatusMaintenance UnitStatus = "MAINTENANCE"
	UnitStatusOffMarket   UnitStatus = "OFF_MARKET"
)

// Unit is a rentable unit owned by the listings subsystem
type Unit struct {
	ID              string          `json:"id"`
	BuildingID      string          `json:"building_id"`
	UnitNumber      string          `json:"unit_number"`
	Status          UnitStatus      `json:"status"`
	MonthlyBaseRent decimal.Decimal `json:"monthly_base_rent"`
	Active          bool            `json:"active"`
}

// AvailableForRent reports whether the unit counts toward the rentable pool
func (u *Unit) AvailableForRent() bool {
	return u.Active && u.Status == UnitStatusAvailable
}
