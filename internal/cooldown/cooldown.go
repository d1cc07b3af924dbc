// Package cooldown enforces the minimum interval between accepted scans of
// one employee.
package cooldown

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultWindow is the scan cooldown used when none is configured.
const DefaultWindow = 60 * time.Second

// Governor tracks the last accepted scan per employee.
type Governor interface {
	// Remaining returns how long the employee must still wait at now; zero
	// means a scan may be accepted.
	Remaining(ctx context.Context, employeeID string, now time.Time) (time.Duration, error)
	// Mark records an accepted scan at the given instant.
	Mark(ctx context.Context, employeeID string, at time.Time) error
	Window() time.Duration
}

func remaining(window time.Duration, last, now time.Time) time.Duration {
	left := last.Add(window).Sub(now)
	if left <= 0 {
		return 0
	}
	if left > window {
		// clock moved backwards
		return window
	}
	return left
}

// Memory is a process-local Governor.
type Memory struct {
	window time.Duration
	mu     sync.Mutex
	last   map[string]time.Time
}

// NewMemory returns a Governor keeping state in memory. A zero window
// disables the cooldown.
func NewMemory(window time.Duration) *Memory {
	return &Memory{window: window, last: make(map[string]time.Time)}
}

func (m *Memory) Window() time.Duration { return m.window }

func (m *Memory) Remaining(_ context.Context, employeeID string, now time.Time) (time.Duration, error) {
	if m.window <= 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.last[employeeID]
	if !ok {
		return 0, nil
	}
	left := remaining(m.window, last, now)
	if left == 0 {
		delete(m.last, employeeID)
	}
	return left, nil
}

func (m *Memory) Mark(_ context.Context, employeeID string, at time.Time) error {
	if m.window <= 0 {
		return nil
	}
	m.mu.Lock()
	m.last[employeeID] = at
	m.mu.Unlock()
	return nil
}

// Redis shares cooldown state between API replicas.
type Redis struct {
	client *redis.Client
	window time.Duration
	prefix string
}

// NewRedis builds a Redis-backed Governor. Keys expire after one window.
func NewRedis(client *redis.Client, window time.Duration) *Redis {
	return &Redis{client: client, window: window, prefix: "cooldown:"}
}

func (r *Redis) Window() time.Duration { return r.window }

func (r *Redis) key(employeeID string) string { return r.prefix + employeeID }

func (r *Redis) Remaining(ctx context.Context, employeeID string, now time.Time) (time.Duration, error) {
	if r.window <= 0 {
		return 0, nil
	}
	val, err := r.client.Get(ctx, r.key(employeeID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, nil
	}
	return remaining(r.window, time.UnixMilli(ms), now), nil
}

func (r *Redis) Mark(ctx context.Context, employeeID string, at time.Time) error {
	if r.window <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.key(employeeID), strconv.FormatInt(at.UnixMilli(), 10), r.window).Err()
}
