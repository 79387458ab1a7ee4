package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers request ids already processed for an owner.
type Deduper interface {
	// Add records the key and reports whether it was new.
	Add(ctx context.Context, owner, key string) (bool, error)
	// Remove forgets a key so a failed request may be retried.
	Remove(ctx context.Context, owner, key string) error
}

// RedisDeduper stores request ids in Redis so every instance sees replays.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(owner, key string) string {
	return fmt.Sprintf("taskboard:req:%s:%s", owner, key)
}

func (r *RedisDeduper) Add(ctx context.Context, owner, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(owner, key), 1, r.ttl).Result()
}

func (r *RedisDeduper) Remove(ctx context.Context, owner, key string) error {
	return r.client.Del(ctx, r.key(owner, key)).Err()
}

// MemoryDeduper is the single instance Deduper used when redis is not
// configured. Keys expire after ttl.
type MemoryDeduper struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (m *MemoryDeduper) Add(ctx context.Context, owner, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, exp := range m.seen {
		if !now.Before(exp) {
			delete(m.seen, k)
		}
	}
	k := owner + ":" + key
	if _, ok := m.seen[k]; ok {
		return false, nil
	}
	m.seen[k] = now.Add(m.ttl)
	return true, nil
}

func (m *MemoryDeduper) Remove(ctx context.Context, owner, key string) error {
	m.mu.Lock()
	delete(m.seen, owner+":"+key)
	m.mu.Unlock()
	return nil
}
