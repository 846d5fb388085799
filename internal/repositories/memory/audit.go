package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"ledger-backend/internal/models"
)

// AuditStore is an append-only slice of records
type AuditStore struct {
	mu      sync.Mutex
	records []*models.AuditRecord
	failing bool
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// FailWrites makes every Create fail, for exercising best-effort recording
func (s *AuditStore) FailWrites(fail bool) {
	s.mu.Lock()
	s.failing = fail
	s.mu.Unlock()
}

func (s *AuditStore) Create(_ context.Context, rec *models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("audit store unavailable")
	}
	c := *rec
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.records = append(s.records, &c)
	return nil
}

func (s *AuditStore) List(_ context.Context, f models.AuditFilter) ([]*models.AuditRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AuditRecord
	for _, r := range s.records {
		if f.EntityType != "" && r.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && r.EntityID != f.EntityID {
			continue
		}
		if f.ActorID != "" && r.ActorID != f.ActorID {
			continue
		}
		if f.Action != "" && r.Action != f.Action {
			continue
		}
		if f.StartDate != nil && r.CreatedAt.Before(*f.StartDate) {
			continue
		}
		if f.EndDate != nil && !r.CreatedAt.Before(*f.EndDate) {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, f.Limit, f.Offset), len(out), nil
}
