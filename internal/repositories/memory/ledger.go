// Package memory provides in-process implementations of the service store
// interfaces with the same conditional-update semantics as the SQL layer.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ledger-backend/internal/apperrors"
	"ledger-backend/internal/models"
)

// LedgerStore keeps ledger entries in a map guarded by a mutex
type LedgerStore struct {
	mu       sync.Mutex
	entries  map[string]*models.LedgerEntry
	invoices map[string]string
	now      func() time.Time
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		entries:  make(map[string]*models.LedgerEntry),
		invoices: make(map[string]string),
		now:      time.Now,
	}
}

func copyEntry(e *models.LedgerEntry) *models.LedgerEntry {
	c := *e
	return &c
}

func (s *LedgerStore) Create(_ context.Context, e *models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(e)
}

func (s *LedgerStore) insertLocked(e *models.LedgerEntry) error {
	if _, ok := s.invoices[e.InvoiceNumber]; ok {
		return apperrors.Conflict(apperrors.ReasonDuplicate, "ledger entry already exists (uq_ledger_invoice_number)")
	}
	if _, ok := s.entries[e.ID]; ok {
		return apperrors.Conflict(apperrors.ReasonDuplicate, "ledger entry already exists (ledger_entries_pkey)")
	}
	now := s.now()
	e.CreatedAt = now
	e.UpdatedAt = now
	s.entries[e.ID] = copyEntry(e)
	s.invoices[e.InvoiceNumber] = e.ID
	return nil
}

func (s *LedgerStore) GetByID(_ context.Context, id string) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, apperrors.NotFound("ledger entry", id)
	}
	return copyEntry(e), nil
}

func (s *LedgerStore) GetByProviderReference(_ context.Context, reference, provider string) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.LedgerEntry
	for _, e := range s.entries {
		if e.ProviderReference == reference && e.ProviderName == provider {
			if found == nil || e.CreatedAt.After(found.CreatedAt) {
				found = e
			}
		}
	}
	if found == nil {
		return nil, apperrors.NotFound("ledger entry", reference)
	}
	return copyEntry(found), nil
}

func strPtrEq(p *string, v string) bool {
	return p != nil && *p == v
}

func (s *LedgerStore) Search(_ context.Context, f models.LedgerFilter) ([]*models.LedgerEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	guest := strings.ToLower(f.Guest)
	var matched []*models.LedgerEntry
	for _, e := range s.entries {
		if f.BuildingID != "" && !strPtrEq(e.BuildingID, f.BuildingID) {
			continue
		}
		if f.UnitID != "" && !strPtrEq(e.UnitID, f.UnitID) {
			continue
		}
		if f.BookingID != "" && !strPtrEq(e.BookingID, f.BookingID) && !strPtrEq(e.PMSBookingRef, f.BookingID) {
			continue
		}
		if guest != "" &&
			!strings.Contains(strings.ToLower(e.GuestName), guest) &&
			!strings.Contains(strings.ToLower(e.GuestEmail), guest) &&
			!strings.Contains(strings.ToLower(e.GuestPhone), guest) {
			continue
		}
		if f.InvoiceNumber != "" && e.InvoiceNumber != strings.ToUpper(f.InvoiceNumber) {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.PaymentMethod != "" && e.PaymentMethod != f.PaymentMethod {
			continue
		}
		if f.StartDate != nil && e.CreatedAt.Before(*f.StartDate) {
			continue
		}
		if f.EndDate != nil && !e.CreatedAt.Before(*f.EndDate) {
			continue
		}
		matched = append(matched, copyEntry(e))
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	return paginate(matched, f.Limit, f.Offset), total, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func applyStatusUpdate(e *models.LedgerEntry, u models.StatusUpdate, now time.Time) {
	e.Status = u.Status
	if u.PaymentMethod != nil {
		e.PaymentMethod = *u.PaymentMethod
	}
	if u.ProviderName != nil {
		e.ProviderName = *u.ProviderName
	}
	if u.ProviderReference != nil {
		e.ProviderReference = *u.ProviderReference
	}
	if u.PaidAt != nil {
		t := *u.PaidAt
		e.PaidAt = &t
	}
	e.UpdatedAt = now
}

func (s *LedgerStore) UpdateStatus(_ context.Context, id string, from models.LedgerStatus, u models.StatusUpdate) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, apperrors.NotFound("ledger entry", id)
	}
	if e.Status != from {
		return nil, apperrors.ErrConcurrentUpdate
	}
	applyStatusUpdate(e, u, s.now())
	return copyEntry(e), nil
}

func (s *LedgerStore) CreateChild(_ context.Context, child *models.LedgerEntry, refundParent bool) (*models.LedgerEntry, error) {
	if child.ParentLedgerID == nil {
		return nil, apperrors.Validation("parent_ledger_id", "is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.entries[*child.ParentLedgerID]
	if !ok {
		return nil, apperrors.NotFound("ledger entry", *child.ParentLedgerID)
	}
	if parent.Status != models.LedgerStatusPaid {
		return nil, apperrors.Conflict(apperrors.ReasonParentNotPaid,
			"parent entry %s is %s, must be PAID", parent.InvoiceNumber, parent.Status)
	}
	if err := s.insertLocked(child); err != nil {
		return nil, err
	}
	if refundParent {
		parent.Status = models.LedgerStatusRefunded
		parent.UpdatedAt = s.now()
	}
	return copyEntry(parent), nil
}

func inScope(e *models.LedgerEntry, scope models.Scope) bool {
	return scope.Global() || strPtrEq(e.BuildingID, scope.BuildingID)
}

func (s *LedgerStore) SumPaidInbound(_ context.Context, scope models.Scope, types []models.LedgerEntryType, from, to time.Time) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, e := range s.entries {
		if e.Status != models.LedgerStatusPaid || e.Direction != models.DirectionIn || !inScope(e, scope) {
			continue
		}
		if e.PaidAt == nil || e.PaidAt.Before(from) || !e.PaidAt.Before(to) {
			continue
		}
		for _, t := range types {
			if e.Type == t {
				sum = sum.Add(e.Amount)
				break
			}
		}
	}
	return sum, nil
}

func (s *LedgerStore) SumOutstanding(_ context.Context, scope models.Scope) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, e := range s.entries {
		if e.Direction != models.DirectionIn || !inScope(e, scope) {
			continue
		}
		if e.Status == models.LedgerStatusDue || e.Status == models.LedgerStatusPending {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func (s *LedgerStore) CountOverdue(_ context.Context, scope models.Scope, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Status == models.LedgerStatusDue && e.DueAt != nil && e.DueAt.Before(now) && inScope(e, scope) {
			n++
		}
	}
	return n, nil
}
