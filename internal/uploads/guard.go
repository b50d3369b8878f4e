package uploads

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openharbor/chunkstream/internal/common"
	"github.com/openharbor/chunkstream/pkg/config"
	"github.com/rs/zerolog/log"
)

// Guard grants exclusive write access to one upload session at a time.
//
// Acquire never blocks: if another request already holds the id, it
// fails immediately with ErrConflict. Queueing writers would let a
// second request apply a stale offset once unblocked, so fail-fast is
// the only safe policy here.
//
// The returned release function is safe to call more than once; every
// successful Acquire must release on all exit paths.
type Guard interface {
	Acquire(ctx context.Context, id string) (release func(), err error)
}

// MemoryGuard is the single-process Guard implementation.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryGuard creates an in-process guard
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: make(map[string]struct{})}
}

// Acquire claims the id or fails with ErrConflict
func (g *MemoryGuard) Acquire(ctx context.Context, id string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.held[id]; busy {
		return nil, ErrConflict
	}
	g.held[id] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, id)
			g.mu.Unlock()
		})
	}
	return release, nil
}

// RedisGuard backs the exclusion with a Redis lease so it holds across
// service instances. The lease TTL bounds how long a crashed holder
// can keep an upload locked.
type RedisGuard struct {
	cache *common.Cache
	ttl   time.Duration
}

// NewRedisGuard creates a guard backed by a shared Redis lease
func NewRedisGuard(cache *common.Cache, ttl time.Duration) *RedisGuard {
	return &RedisGuard{cache: cache, ttl: ttl}
}

// Acquire claims the id via SETNX or fails with ErrConflict
func (g *RedisGuard) Acquire(ctx context.Context, id string) (func(), error) {
	key := "chunkstream:lock:" + id
	token := uuid.NewString()

	ok, err := g.cache.SetNX(ctx, key, token, g.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire upload lock: %w", err)
	}
	if !ok {
		return nil, ErrConflict
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// Release must run even when the request context is already
			// cancelled, otherwise the upload stays locked until the
			// lease expires.
			if err := g.cache.CompareAndDelete(context.Background(), key, token); err != nil {
				log.Warn().Err(err).Str("upload_id", id).Msg("failed to release upload lock")
			}
		})
	}
	return release, nil
}

// NewGuard creates a guard based on the configured backend
func NewGuard(cfg *config.UploadConfig, cache *common.Cache) (Guard, error) {
	switch cfg.Guard {
	case "", "memory":
		return NewMemoryGuard(), nil
	case "redis":
		if cache == nil {
			return nil, fmt.Errorf("redis guard requires a cache connection")
		}
		return NewRedisGuard(cache, cfg.LockTTL), nil
	default:
		return nil, fmt.Errorf("unsupported guard backend: %s", cfg.Guard)
	}
}
