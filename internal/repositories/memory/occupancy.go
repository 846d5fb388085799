package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ledger-backend/internal/apperrors"
	"ledger-backend/internal/models"
)

// MappingStore holds unit mappings and imported calendar blocks
type MappingStore struct {
	mu       sync.Mutex
	mappings map[string]*models.UnitExternalMapping
	blocks   map[string][]models.CalendarBlock
}

func NewMappingStore() *MappingStore {
	return &MappingStore{
		mappings: make(map[string]*models.UnitExternalMapping),
		blocks:   make(map[string][]models.CalendarBlock),
	}
}

func (s *MappingStore) Upsert(_ context.Context, m *models.UnitExternalMapping) (*models.UnitExternalMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	c := *m
	if existing, ok := s.mappings[m.UnitID]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		if strOrEmpty(existing.ICalImportURL) == strOrEmpty(m.ICalImportURL) {
			c.LastSyncedAt = existing.LastSyncedAt
			c.LastSyncStatus = existing.LastSyncStatus
			c.LastSyncError = existing.LastSyncError
		} else {
			c.LastSyncedAt, c.LastSyncStatus, c.LastSyncError = nil, nil, nil
		}
	} else {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.mappings[m.UnitID] = &c
	out := c
	return &out, nil
}

func strOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (s *MappingStore) GetByUnit(_ context.Context, unitID string) (*models.UnitExternalMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[unitID]
	if !ok {
		return nil, apperrors.NotFound("unit mapping", unitID)
	}
	c := *m
	return &c, nil
}

func (s *MappingStore) List(_ context.Context, style models.ConnectionStyle) ([]*models.UnitExternalMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*models.UnitExternalMapping
	for _, m := range s.mappings {
		if style != "" && m.ConnectionStyle != style {
			continue
		}
		c := *m
		list = append(list, &c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UnitID < list[j].UnitID })
	return list, nil
}

func (s *MappingStore) UpdateSyncStatus(_ context.Context, unitID string, result models.SyncResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[unitID]
	if !ok {
		return apperrors.NotFound("unit mapping", unitID)
	}
	at := result.At
	status := result.Status
	m.LastSyncedAt = &at
	m.LastSyncStatus = &status
	if result.Error == "" {
		m.LastSyncError = nil
	} else {
		e := result.Error
		m.LastSyncError = &e
	}
	m.UpdatedAt = time.Now()
	return nil
}

func (s *MappingStore) Delete(_ context.Context, unitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mappings[unitID]; !ok {
		return apperrors.NotFound("unit mapping", unitID)
	}
	delete(s.mappings, unitID)
	delete(s.blocks, unitID)
	return nil
}

func (s *MappingStore) ReplaceBlocks(_ context.Context, unitID string, blocks []models.CalendarBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[unitID] = append([]models.CalendarBlock(nil), blocks...)
	return nil
}

func (s *MappingStore) ListBlocks(_ context.Context, unitID string, from, to time.Time) ([]models.CalendarBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CalendarBlock
	for _, b := range s.blocks[unitID] {
		if b.Start.Before(to) && b.End.After(from) {
			out = append(out, b)
		}
	}
	return out, nil
}

// SnapshotStore keeps one snapshot per (date, unit)
type SnapshotStore struct {
	mu   sync.Mutex
	rows map[string]*models.OccupancySnapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{rows: make(map[string]*models.OccupancySnapshot)}
}

func snapshotKey(unitID string, date time.Time) string {
	return date.Format("2006-01-02") + "/" + unitID
}

func (s *SnapshotStore) Upsert(_ context.Context, snap *models.OccupancySnapshot, overwrite bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := snapshotKey(snap.UnitID, snap.Date)
	existing, ok := s.rows[key]
	if ok && !overwrite {
		return false, nil
	}
	c := *snap
	if ok {
		c.ID = existing.ID
	}
	c.CreatedAt = time.Now()
	s.rows[key] = &c
	return true, nil
}

func (s *SnapshotStore) Get(_ context.Context, unitID string, date time.Time) (*models.OccupancySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[snapshotKey(unitID, date)]
	if !ok {
		return nil, apperrors.NotFound("occupancy snapshot", unitID)
	}
	c := *row
	return &c, nil
}

func (s *SnapshotStore) Latest(_ context.Context, unitIDs []string) (map[string]*models.OccupancySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]bool, len(unitIDs))
	for _, id := range unitIDs {
		wanted[id] = true
	}
	latest := make(map[string]*models.OccupancySnapshot)
	for _, row := range s.rows {
		if !wanted[row.UnitID] {
			continue
		}
		if cur, ok := latest[row.UnitID]; !ok || row.Date.After(cur.Date) {
			c := *row
			latest[row.UnitID] = &c
		}
	}
	return latest, nil
}
