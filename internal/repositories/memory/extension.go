package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ledger-backend/internal/apperrors"
	"ledger-backend/internal/models"
)

// ExtensionStore keeps renewal requests in memory
type ExtensionStore struct {
	mu   sync.Mutex
	rows map[string]*models.Extension
}

func NewExtensionStore() *ExtensionStore {
	return &ExtensionStore{rows: make(map[string]*models.Extension)}
}

func (s *ExtensionStore) Create(_ context.Context, x *models.Extension) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.BookingID == x.BookingID && row.Status.Open() {
			return apperrors.Ineligible(apperrors.ReasonRenewalAlreadyPending, "booking already has an open renewal")
		}
	}
	now := time.Now()
	x.CreatedAt = now
	x.UpdatedAt = now
	c := *x
	s.rows[x.ID] = &c
	return nil
}

func (s *ExtensionStore) Get(_ context.Context, id string) (*models.Extension, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, ok := s.rows[id]
	if !ok {
		return nil, apperrors.NotFound("extension", id)
	}
	c := *x
	return &c, nil
}

func (s *ExtensionStore) GetByLedgerEntry(_ context.Context, ledgerEntryID string) (*models.Extension, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.rows {
		if x.LedgerEntryID != nil && *x.LedgerEntryID == ledgerEntryID {
			c := *x
			return &c, nil
		}
	}
	return nil, apperrors.NotFound("extension", ledgerEntryID)
}

func (s *ExtensionStore) List(_ context.Context, f models.ExtensionFilter) ([]*models.Extension, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*models.Extension
	for _, x := range s.rows {
		if f.BookingID != "" && x.BookingID != f.BookingID {
			continue
		}
		if f.BuildingID != "" && x.BuildingID != f.BuildingID {
			continue
		}
		if f.Status != "" && x.Status != f.Status {
			continue
		}
		c := *x
		list = append(list, &c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return paginate(list, f.Limit, f.Offset), len(list), nil
}

func (s *ExtensionStore) HasOpen(_ context.Context, bookingID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.rows {
		if x.BookingID == bookingID && x.Status.Open() {
			return true, nil
		}
	}
	return false, nil
}

func (s *ExtensionStore) UpdateStatus(_ context.Context, id string, from models.ExtensionStatus, u models.ExtensionUpdate) (*models.Extension, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, ok := s.rows[id]
	if !ok {
		return nil, apperrors.NotFound("extension", id)
	}
	if x.Status != from {
		return nil, apperrors.ErrConcurrentUpdate
	}
	x.Status = u.Status
	if u.LedgerEntryID != nil {
		v := *u.LedgerEntryID
		x.LedgerEntryID = &v
	}
	if u.DecidedByID != nil {
		v := *u.DecidedByID
		x.DecidedByID = &v
	}
	if u.DecisionNote != nil {
		v := *u.DecisionNote
		x.DecisionNote = &v
	}
	if u.ActivatedAt != nil {
		v := *u.ActivatedAt
		x.ActivatedAt = &v
	}
	x.UpdatedAt = time.Now()
	c := *x
	return &c, nil
}
