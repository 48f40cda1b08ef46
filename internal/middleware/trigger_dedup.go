package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TriggerDeduper suppresses duplicate manual-trigger requests for the
// same task arriving in a short window, typically double-clicks or a
// retried HTTP call. The scheduler still enforces real mutual exclusion;
// this just keeps the API from queueing obvious repeats.
type TriggerDeduper interface {
	Seen(ctx context.Context, taskID uint) (bool, error)
}

type redisTriggerDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (d *redisTriggerDeduper) Seen(ctx context.Context, taskID uint) (bool, error) {
	key := d.prefix + ":" + strconv.FormatUint(uint64(taskID), 10)
	ok, err := d.client.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, err
	}
	// false => key already exists => duplicate
	return !ok, nil
}

type memoryTriggerDeduper struct {
	mu     sync.Mutex
	seen   map[uint]time.Time
	ttl    time.Duration
	nextGC time.Time
}

func newMemoryTriggerDeduper(ttl time.Duration) *memoryTriggerDeduper {
	now := time.Now()
	return &memoryTriggerDeduper{
		seen:   make(map[uint]time.Time),
		ttl:    ttl,
		nextGC: now.Add(ttl),
	}
}

func (d *memoryTriggerDeduper) Seen(_ context.Context, taskID uint) (bool, error) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if exp, ok := d.seen[taskID]; ok && exp.After(now) {
		return true, nil
	}

	d.seen[taskID] = now.Add(d.ttl)
	if now.After(d.nextGC) {
		for id, exp := range d.seen {
			if exp.Before(now) {
				delete(d.seen, id)
			}
		}
		d.nextGC = now.Add(d.ttl)
	}

	return false, nil
}

// NewTriggerDeduper builds a Redis deduper and falls back to in-memory
// when Redis is unreachable or unconfigured.
func NewTriggerDeduper(addr, pass string, db int, ttl time.Duration) (TriggerDeduper, error) {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if addr == "" {
		return newMemoryTriggerDeduper(ttl), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return newMemoryTriggerDeduper(ttl), err
	}

	return &redisTriggerDeduper{
		client: client,
		prefix: "task:trigger",
		ttl:    ttl,
	}, nil
}
