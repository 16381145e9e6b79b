// Package lease provides short-lived exclusive holds on slot keys. A booking
// moves a slot from free to leased while it re-checks the calendar, and to
// booked once the session event is written.
package lease

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another holder owns the key.
var ErrHeld = errors.New("lease held by another holder")

// releaseScript deletes the key only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis holds leases as keys set with NX and a PX expiry, so crashed holders
// release automatically.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a Redis-backed leaser.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if client == nil {
		panic("lease: redis client cannot be nil")
	}
	if prefix == "" {
		prefix = "therapycal:lease:"
	}
	return &Redis{client: client, prefix: prefix}
}

// Acquire takes key for ttl and returns the owner token.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.prefix+key, token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrHeld
	}
	return token, nil
}

// Release frees key if token still owns it.
func (r *Redis) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, r.client, []string{r.prefix + key}, token).Err()
}

type entry struct {
	token   string
	expires time.Time
}

// Memory is an in-process leaser for a single replica.
type Memory struct {
	mu   sync.Mutex
	held map[string]entry
	now  func() time.Time
}

// NewMemory creates an in-process leaser.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]entry), now: time.Now}
}

func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if e, ok := m.held[key]; ok && now.Before(e.expires) {
		return "", ErrHeld
	}
	token := uuid.NewString()
	m.held[key] = entry{token: token, expires: now.Add(ttl)}
	return token, nil
}

func (m *Memory) Release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.held[key]; ok && e.token == token {
		delete(m.held, key)
	}
	return nil
}
