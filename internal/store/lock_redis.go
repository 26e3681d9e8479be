package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// releaseScript deletes the lock only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript pushes the expiry out only if the caller still owns the lock.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Lease is a held week lock.
type Lease interface {
	// Held reports whether this holder still owns the lock.
	Held(ctx context.Context) bool
	Release()
}

// RedisWeekLock is a cross-replica try-lock keyed by (course, week).
// A held lease is renewed every ttl/3, so the TTL only bounds how long a crashed holder blocks a week.
type RedisWeekLock struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisWeekLock(client *redis.Client, ttl time.Duration) *RedisWeekLock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisWeekLock{client: client, ttl: ttl, prefix: "lock:week"}
}

func (l *RedisWeekLock) key(courseID string, week int) string {
	return fmt.Sprintf("%s:%s:%d", l.prefix, courseID, week)
}

// TryLock acquires the week without waiting. When ok is false the week is held elsewhere.
func (l *RedisWeekLock) TryLock(ctx context.Context, courseID string, week int) (Lease, bool, error) {
	key := l.key(courseID, week)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire week lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	lease := &redisLease{
		client: l.client,
		key:    key,
		token:  token,
		ttl:    l.ttl,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go lease.keepAlive(l.ttl / 3)
	return lease, true, nil
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
	lost   atomic.Bool
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (l *redisLease) keepAlive(every time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), every)
		n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("key", l.key).Msg("failed to renew week lock")
			continue
		}
		if n == 0 {
			l.lost.Store(true)
			log.Warn().Str("key", l.key).Msg("week lock lost to another holder")
			return
		}
	}
}

func (l *redisLease) Held(ctx context.Context) bool {
	if l.lost.Load() {
		return false
	}
	v, err := l.client.Get(ctx, l.key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", l.key).Msg("failed to check week lock")
		}
		return false
	}
	return v == l.token
}

func (l *redisLease) Release() {
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
			log.Warn().Err(err).Str("key", l.key).Msg("failed to release week lock")
		}
	})
}
