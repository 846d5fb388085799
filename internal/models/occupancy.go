package models

import "time"

// OccupancySource records which system decided a snapshot
type OccupancySource string

const (
	OccupancySourceExternalPMS OccupancySource = "EXTERNAL_PMS"
	OccupancySourceLocal       OccupancySource = "LOCAL"
	OccupancySourceUnknown     OccupancySource = "UNKNOWN"
)

// OccupancySnapshot is one unit's occupancy determination for one day.
// UNKNOWN rows are excluded from occupancy ratios.
type OccupancySnapshot struct {
	ID         string          `json:"id"`
	Date       time.Time       `json:"date"`
	UnitID     string          `json:"unit_id"`
	BuildingID string          `json:"building_id"`
	Occupied   bool            `json:"occupied"`
	Available  bool            `json:"available"`
	Source     OccupancySource `json:"source"`
	BookingID  *string         `json:"booking_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SnapshotRunResult summarizes one generateDailySnapshot run
type SnapshotRunResult struct {
	Date     string `json:"date"`
	Units    int    `json:"units"`
	Occupied int    `json:"occupied"`
	Unknown  int    `json:"unknown"`
	Written  int    `json:"written"`
	Skipped  int    `json:"skipped"`
}

// UnitOccupancy is the point-in-time answer of occupancy.isUnitOccupied
type UnitOccupancy struct {
	UnitID    string          `json:"unit_id"`
	Occupied  bool            `json:"occupied"`
	Bookable  bool            `json:"bookable"`
	Source    OccupancySource `json:"source"`
	BookingID *string         `json:"booking_id,omitempty"`
}
