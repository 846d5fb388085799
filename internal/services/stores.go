package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ledger-backend/internal/models"
)

// LedgerStore persists ledger entries. Status writes are conditional on the
// expected current status and return apperrors.ErrConcurrentUpdate when the
// row moved underneath the caller.
type LedgerStore interface {
	Create(ctx context.Context, entry *models.LedgerEntry) error
	GetByID(ctx context.Context, id string) (*models.LedgerEntry, error)
	GetByProviderReference(ctx context.Context, reference, provider string) (*models.LedgerEntry, error)
	Search(ctx context.Context, filter models.LedgerFilter) ([]*models.LedgerEntry, int, error)
	UpdateStatus(ctx context.Context, id string, from models.LedgerStatus, update models.StatusUpdate) (*models.LedgerEntry, error)
	// CreateChild inserts a PAID child of a PAID parent, flipping the parent
	// to REFUNDED in the same transaction when refundParent is set.
	CreateChild(ctx context.Context, child *models.LedgerEntry, refundParent bool) (*models.LedgerEntry, error)
	SumPaidInbound(ctx context.Context, scope models.Scope, types []models.LedgerEntryType, from, to time.Time) (decimal.Decimal, error)
	SumOutstanding(ctx context.Context, scope models.Scope) (decimal.Decimal, error)
	CountOverdue(ctx context.Context, scope models.Scope, now time.Time) (int, error)
}

// UnitStore reads units owned by the listings subsystem
type UnitStore interface {
	GetUnit(ctx context.Context, id string) (*models.Unit, error)
	// ListActiveUnits returns active units, all buildings when buildingID is empty
	ListActiveUnits(ctx context.Context, buildingID string) ([]*models.Unit, error)
}

// BookingStore reads bookings and performs the two guarded booking writes
type BookingStore interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	// FindCovering returns the booking occupying unitID on day, or nil
	FindCovering(ctx context.Context, unitID string, day time.Time) (*models.Booking, error)
	ListByUnit(ctx context.Context, unitID string, endingAfter time.Time) ([]*models.Booking, error)
	// MarkPaid moves PENDING_PAYMENT to ACTIVE and reports whether it did
	MarkPaid(ctx context.Context, id string) (bool, error)
	// ExtendEndDate sets the end date and bumps renewal_count only if the
	// current end date still equals currentEnd
	ExtendEndDate(ctx context.Context, id string, currentEnd, newEnd time.Time) (bool, error)
}

// MappingStore persists unit external mappings; one per unit
type MappingStore interface {
	Upsert(ctx context.Context, mapping *models.UnitExternalMapping) (*models.UnitExternalMapping, error)
	GetByUnit(ctx context.Context, unitID string) (*models.UnitExternalMapping, error)
	List(ctx context.Context, style models.ConnectionStyle) ([]*models.UnitExternalMapping, error)
	UpdateSyncStatus(ctx context.Context, unitID string, result models.SyncResult) error
	Delete(ctx context.Context, unitID string) error
}

// CalendarBlockStore holds busy intervals imported from iCal feeds
type CalendarBlockStore interface {
	ReplaceBlocks(ctx context.Context, unitID string, blocks []models.CalendarBlock) error
	ListBlocks(ctx context.Context, unitID string, from, to time.Time) ([]models.CalendarBlock, error)
}

// SnapshotStore persists daily occupancy snapshots
type SnapshotStore interface {
	// Upsert inserts the (date, unit) row; an existing row is replaced only
	// when overwrite is set. It reports whether a row was written.
	Upsert(ctx context.Context, snapshot *models.OccupancySnapshot, overwrite bool) (bool, error)
	Get(ctx context.Context, unitID string, date time.Time) (*models.OccupancySnapshot, error)
	// Latest returns the most recent snapshot per unit
	Latest(ctx context.Context, unitIDs []string) (map[string]*models.OccupancySnapshot, error)
}

// ExtensionStore persists renewal requests
type ExtensionStore interface {
	Create(ctx context.Context, ext *models.Extension) error
	Get(ctx context.Context, id string) (*models.Extension, error)
	GetByLedgerEntry(ctx context.Context, ledgerEntryID string) (*models.Extension, error)
	List(ctx context.Context, filter models.ExtensionFilter) ([]*models.Extension, int, error)
	HasOpen(ctx context.Context, bookingID string) (bool, error)
	UpdateStatus(ctx context.Context, id string, from models.ExtensionStatus, update models.ExtensionUpdate) (*models.Extension, error)
}

// AuditStore is append-only
type AuditStore interface {
	Create(ctx context.Context, record *models.AuditRecord) error
	List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditRecord, int, error)
}

// KPICache is the short-TTL cache in front of KPI queries
type KPICache interface {
	Get(ctx context.Context, key string, dest any) bool
	Set(ctx context.Context, key string, value any)
	InvalidatePrefix(ctx context.Context, prefix string)
}
