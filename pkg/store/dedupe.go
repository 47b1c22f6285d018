package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupeWindow is how long a lead id is remembered.
const DefaultDedupeWindow = 24 * time.Hour

// Deduper remembers which lead ids are already being processed or done.
type Deduper interface {
	// Claim reports true the first time an id is seen within the window.
	Claim(ctx context.Context, id string) (bool, error)
	// Release forgets an id so a failed ingestion can be retried.
	Release(ctx context.Context, id string) error
}

// RedisDeduper claims ids with SET NX and an expiry.
type RedisDeduper struct {
	client redis.Cmdable
	prefix string
	window time.Duration
}

// NewRedisDeduper connects to Redis.
func NewRedisDeduper(addr, password string, db int, window time.Duration) *RedisDeduper {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisDeduperWithClient(rdb, window)
}

// NewRedisDeduperWithClient wraps an existing client.
func NewRedisDeduperWithClient(client redis.Cmdable, window time.Duration) *RedisDeduper {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	return &RedisDeduper{client: client, prefix: "lead:seen:", window: window}
}

func (d *RedisDeduper) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+id, time.Now().Unix(), d.window).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim %s: %w", id, err)
	}
	return ok, nil
}

func (d *RedisDeduper) Release(ctx context.Context, id string) error {
	if err := d.client.Del(ctx, d.prefix+id).Err(); err != nil {
		return fmt.Errorf("redis release %s: %w", id, err)
	}
	return nil
}

// Ping checks connectivity.
func (d *RedisDeduper) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// MemoryDeduper is a process-local Deduper for single-instance deployments
// and tests.
type MemoryDeduper struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	clock  func() time.Time
}

// NewMemoryDeduper creates an in-memory deduper.
func NewMemoryDeduper(window time.Duration) *MemoryDeduper {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	return &MemoryDeduper{seen: make(map[string]time.Time), window: window, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (d *MemoryDeduper) WithClock(clock func() time.Time) *MemoryDeduper {
	d.clock = clock
	return d
}

func (d *MemoryDeduper) Claim(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock()
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false, nil
	}
	d.seen[id] = now.Add(d.window)
	if len(d.seen)%1024 == 0 {
		for k, exp := range d.seen {
			if !now.Before(exp) {
				delete(d.seen, k)
			}
		}
	}
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, id string) error {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
	return nil
}
