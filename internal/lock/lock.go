// Package lock serializes work on a single scan. KeyedGuard covers one
// process; RedisGuard covers several instances sharing a Redis.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrBusy is returned when the key is already held.
var ErrBusy = errors.New("lock held by another worker")

// Guard grants exclusive, non-blocking access to a key. The returned
// function releases it.
type Guard interface {
	TryAcquire(ctx context.Context, key string) (release func(), err error)
}

// KeyedGuard is an in-process Guard.
type KeyedGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewKeyedGuard creates an empty in-process guard.
func NewKeyedGuard() *KeyedGuard {
	return &KeyedGuard{held: make(map[string]struct{})}
}

func (g *KeyedGuard) TryAcquire(_ context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.held[key]; ok {
		return nil, ErrBusy
	}
	g.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, nil
}

// Held reports whether key is currently held.
func (g *KeyedGuard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[key]
	return ok
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisGuard is a Guard backed by SET NX with a TTL, so a crashed holder
// cannot keep a scan locked forever.
type RedisGuard struct {
	rdb       redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisGuard creates a Redis-backed guard.
func NewRedisGuard(rdb redis.UniversalClient, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisGuard {
	if keyPrefix == "" {
		keyPrefix = "lock:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisGuard{rdb: rdb, keyPrefix: keyPrefix, ttl: ttl, logger: logger}
}

func (g *RedisGuard) TryAcquire(ctx context.Context, key string) (func(), error) {
	lockKey := g.keyPrefix + key
	token := uuid.New().String()

	ok, err := g.rdb.SetNX(ctx, lockKey, token, g.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}
	g.logger.Debug("acquired lock", zap.String("key", lockKey))

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may already be cancelled
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			n, err := releaseScript.Run(releaseCtx, g.rdb, []string{lockKey}, token).Int64()
			if err != nil {
				g.logger.Warn("failed to release lock", zap.String("key", lockKey), zap.Error(err))
				return
			}
			if n == 0 {
				g.logger.Warn("lock expired before release", zap.String("key", lockKey))
			}
		})
	}, nil
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}
