package services

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ledger-backend/internal/metrics"
	"ledger-backend/internal/models"
)

// AuditEvent describes one mutation to record. Before/After are any JSON
// encodable values; their top-level fields are diffed.
type AuditEvent struct {
	Actor      models.Actor
	Action     string
	EntityType string
	EntityID   string
	Label      string
	Before     any
	After      any
	Metadata   map[string]any
}

// AuditService records audit events off the request path. Writes are best
// effort: a failing store is logged and counted, never returned to callers.
type AuditService struct {
	store  AuditStore
	logger *zap.Logger
	now    func() time.Time

	queue chan *models.AuditRecord
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAuditService starts the background writer. A buffer of 0 writes
// synchronously, which tests use for deterministic reads.
func NewAuditService(store AuditStore, logger *zap.Logger, buffer int) *AuditService {
	s := &AuditService{
		store:  store,
		logger: logger.Named("audit"),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	if buffer > 0 {
		s.queue = make(chan *models.AuditRecord, buffer)
		go s.asyncWriter()
	} else {
		close(s.done)
	}
	return s
}

func (s *AuditService) asyncWriter() {
	defer close(s.done)
	for rec := range s.queue {
		s.write(rec)
	}
}

func (s *AuditService) write(rec *models.AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Create(ctx, rec); err != nil {
		metrics.AuditDroppedTotal.Inc()
		s.logger.Error("failed to write audit record",
			zap.String("action", rec.Action),
			zap.String("entity_type", rec.EntityType),
			zap.String("entity_id", rec.EntityID),
			zap.Error(err),
		)
	}
}

// Record queues an audit event. It never blocks on the store unless the
// queue is full or the service is closed, and never returns an error.
func (s *AuditService) Record(ev AuditEvent) {
	rec := &models.AuditRecord{
		ID:          uuid.NewString(),
		ActorID:     ev.Actor.ID,
		ActorName:   ev.Actor.Name,
		Action:      ev.Action,
		EntityType:  ev.EntityType,
		EntityID:    ev.EntityID,
		EntityLabel: ev.Label,
		CreatedAt:   s.now(),
	}
	if ev.Before != nil || ev.After != nil {
		rec.Changes = Diff(ev.Before, ev.After)
	}
	if len(ev.Metadata) > 0 {
		if raw, err := json.Marshal(ev.Metadata); err == nil {
			rec.Metadata = raw
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.queue == nil || s.closed {
		s.write(rec)
		return
	}
	select {
	case s.queue <- rec:
	default:
		s.logger.Warn("audit queue full, writing inline", zap.String("action", rec.Action))
		s.write(rec)
	}
}

// Close stops accepting queued events and waits for the queue to drain
func (s *AuditService) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		if s.queue != nil {
			close(s.queue)
		}
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List returns audit records matching filter
func (s *AuditService) List(ctx context.Context, filter models.AuditFilter) (*models.AuditPage, error) {
	filter.Limit, filter.Offset = normalizePage(filter.Limit, filter.Offset)
	records, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &models.AuditPage{Records: records, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Diff compares the top-level JSON fields of before and after. A nil side
// yields a create or delete style diff. updated_at is ignored.
func Diff(before, after any) map[string]models.FieldChange {
	b := toFieldMap(before)
	a := toFieldMap(after)
	changes := make(map[string]models.FieldChange)

	for k, av := range a {
		if k == "updated_at" {
			continue
		}
		bv, ok := b[k]
		if !ok || !reflect.DeepEqual(av, bv) {
			changes[k] = models.FieldChange{Before: bv, After: av}
		}
	}
	for k, bv := range b {
		if k == "updated_at" {
			continue
		}
		if _, ok := a[k]; !ok {
			changes[k] = models.FieldChange{Before: bv, After: nil}
		}
	}
	if len(changes) == 0 {
		return nil
	}
	return changes
}

func toFieldMap(v any) map[string]any {
	if v == nil || (reflect.ValueOf(v).Kind() == reflect.Ptr && reflect.ValueOf(v).IsNil()) {
		return map[string]any{}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
