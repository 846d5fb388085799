package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// KPI cache keys
const (
	KPIPrefix       = "kpi:"
	KPIGlobalKey    = "kpi:global"
	KPIBuildingFmt  = "kpi:building:%s"
	KPIOccupancyFmt = "kpi:occupancy:%s"
)

// KPIBuildingKey returns the cache key for a building's KPI report
func KPIBuildingKey(buildingID string) string {
	return fmt.Sprintf(KPIBuildingFmt, buildingID)
}

// KPIOccupancyKey returns the cache key for an occupancy report; empty
// building means global.
func KPIOccupancyKey(buildingID string) string {
	if buildingID == "" {
		buildingID = "all"
	}
	return fmt.Sprintf(KPIOccupancyFmt, buildingID)
}

// Service is a short-TTL JSON cache. A nil redis client falls back to an
// in-process map so handlers never depend on redis being up.
type Service struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.Mutex
	local map[string]localItem
	now   func() time.Time
}

type localItem struct {
	data      []byte
	expiresAt time.Time
}

// NewService creates a cache with the given TTL. client may be nil.
func NewService(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{
		client: client,
		ttl:    ttl,
		logger: logger.Named("cache"),
		local:  make(map[string]localItem),
		now:    time.Now,
	}
}

// Connect dials redis and verifies it. It returns nil without error when
// addr is empty.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// Get decodes the cached value for key into dest and reports a hit
func (s *Service) Get(ctx context.Context, key string, dest any) bool {
	data, ok := s.getBytes(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		s.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Set stores value under key for the configured TTL
func (s *Service) Set(ctx context.Context, key string, value any) {
	if s.ttl <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}

	if s.client != nil {
		if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
			s.logger.Warn("redis set failed", zap.String("key", key), zap.Error(err))
		}
		return
	}

	s.mu.Lock()
	s.local[key] = localItem{data: data, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
}

// InvalidatePrefix removes every key starting with prefix
func (s *Service) InvalidatePrefix(ctx context.Context, prefix string) {
	if s.client != nil {
		iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			s.logger.Warn("redis scan failed", zap.String("prefix", prefix), zap.Error(err))
		}
		if len(keys) > 0 {
			s.client.Del(ctx, keys...)
		}
		return
	}

	s.mu.Lock()
	for k := range s.local {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(s.local, k)
		}
	}
	s.mu.Unlock()
}

// Ping reports redis health; the local fallback is always healthy
func (s *Service) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Ping(ctx).Err()
}

func (s *Service) getBytes(ctx context.Context, key string) ([]byte, bool) {
	if s.client != nil {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			return nil, false
		}
		return data, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.local[key]
	if !ok {
		return nil, false
	}
	if s.now().After(item.expiresAt) {
		delete(s.local, key)
		return nil, false
	}
	return item.data, true
}
