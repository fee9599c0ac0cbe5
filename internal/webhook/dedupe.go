package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeliveryTTL is how long a delivery id is remembered.
const DeliveryTTL = time.Hour

// Deduper remembers webhook delivery ids so redeliveries are not processed
// twice.
type Deduper interface {
	// MarkSeen records id and reports whether it had already been recorded.
	MarkSeen(ctx context.Context, id string) (duplicate bool, err error)
	// Forget removes id so a later redelivery is processed.
	Forget(ctx context.Context, id string) error
}

type MemoryDeduper struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = DeliveryTTL
	}
	return &MemoryDeduper{ttl: ttl, now: time.Now, seen: map[string]time.Time{}}
}

func (d *MemoryDeduper) MarkSeen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.lastSweep) > d.ttl {
		for k, exp := range d.seen {
			if !now.Before(exp) {
				delete(d.seen, k)
			}
		}
		d.lastSweep = now
	}

	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return true, nil
	}
	d.seen[id] = now.Add(d.ttl)
	return false, nil
}

func (d *MemoryDeduper) Forget(_ context.Context, id string) error {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
	return nil
}

func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// RedisDeduper shares delivery ids between replicas.
type RedisDeduper struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisDeduper(client redis.UniversalClient, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DeliveryTTL
	}
	return &RedisDeduper{client: client, prefix: "cisage:delivery:", ttl: ttl}
}

func (d *RedisDeduper) MarkSeen(ctx context.Context, id string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+id, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("record delivery %s: %w", id, err)
	}
	return !ok, nil
}

func (d *RedisDeduper) Forget(ctx context.Context, id string) error {
	if err := d.client.Del(ctx, d.prefix+id).Err(); err != nil {
		return fmt.Errorf("forget delivery %s: %w", id, err)
	}
	return nil
}
