package models

import "time"

// SourceOfTruth selects which calendar wins during reconciliation
type SourceOfTruth string

const (
	SourceOfTruthExternalPMS SourceOfTruth = "EXTERNAL_PMS"
	SourceOfTruthLocal       SourceOfTruth = "LOCAL"
)

// ConnectionStyle is how a unit is linked to its external calendar
type ConnectionStyle string

const (
	ConnectionStyleAPI  ConnectionStyle = "API"
	ConnectionStyleICal ConnectionStyle = "ICAL"
)

// SyncStatus is the outcome of the last calendar sync
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "SUCCESS"
	SyncStatusFailed  SyncStatus = "FAILED"
)

// UnitExternalMapping links one unit to an external PMS room or an iCal feed pair
type UnitExternalMapping struct {
	ID                 string          `json:"id"`
	UnitID             string          `json:"unit_id"`
	ConnectionStyle    ConnectionStyle `json:"connection_style"`
	SourceOfTruth      SourceOfTruth   `json:"source_of_truth"`
	ExternalPropertyID *string         `json:"external_property_id,omitempty"`
	ExternalRoomID     *string         `json:"external_room_id,omitempty"`
	ICalImportURL      *string         `json:"ical_import_url,omitempty"`
	ICalExportURL      *string         `json:"ical_export_url,omitempty"`
	LastSyncedAt       *time.Time      `json:"last_synced_at,omitempty"`
	LastSyncStatus     *SyncStatus     `json:"last_sync_status,omitempty"`
	LastSyncError      *string         `json:"last_sync_error,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// UpsertMappingRequest is the body of mappings.upsert; the connection style is
// derived from which fields are set.
type UpsertMappingRequest struct {
	SourceOfTruth      SourceOfTruth `json:"source_of_truth"`
	ExternalPropertyID *string       `json:"external_property_id,omitempty"`
	ExternalRoomID     *string       `json:"external_room_id,omitempty"`
	ICalImportURL      *string       `json:"ical_import_url,omitempty"`
	ICalExportURL      *string       `json:"ical_export_url,omitempty"`
}

// SyncResult records one sync attempt
type SyncResult struct {
	Status SyncStatus
	Error  string
	At     time.Time
}

// CalendarBlock is one busy interval imported from an iCal feed. End is exclusive.
type CalendarBlock struct {
	UnitID  string    `json:"unit_id"`
	UID     string    `json:"uid"`
	Summary string    `json:"summary,omitempty"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// Covers reports whether the block overlaps the day starting at dayStart
func (b CalendarBlock) Covers(dayStart time.Time) bool {
	dayEnd := dayStart.AddDate(0, 0, 1)
	return b.Start.Before(dayEnd) && b.End.After(dayStart)
}

// UnitSyncOutcome is returned per unit by occupancy.syncUnit / syncAll
type UnitSyncOutcome struct {
	UnitID      string     `json:"unit_id"`
	Status      SyncStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	BlocksCount int        `json:"blocks_count"`
}
