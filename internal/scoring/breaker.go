package scoring

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Breaker cools down a provider:model pair after transient failures.
type Breaker interface {
	IsOpen(ctx context.Context, provider, model string) bool
	Open(ctx context.Context, provider, model string)
	// Close resets the breaker and reports whether it was tripped.
	Close(ctx context.Context, provider, model string) bool
}

// RedisBreaker keeps breaker state in Redis so every replica sees the same cooldowns.
type RedisBreaker struct {
	redis       *redis.Client
	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time
}

func NewRedisBreaker(client *redis.Client, baseBackoff, maxBackoff time.Duration) *RedisBreaker {
	if baseBackoff <= 0 {
		baseBackoff = 30 * time.Second
	}
	if maxBackoff < baseBackoff {
		maxBackoff = baseBackoff
	}
	return &RedisBreaker{redis: client, baseBackoff: baseBackoff, maxBackoff: maxBackoff, now: time.Now}
}

func breakerKey(provider, model string) string {
	return fmt.Sprintf("cb:%s:%s", provider, model)
}

// Open trips the breaker with exponential backoff: base, 2*base, 4*base... capped at max.
func (cb *RedisBreaker) Open(ctx context.Context, provider, model string) {
	key := breakerKey(provider, model)

	failuresStr, _ := cb.redis.HGet(ctx, key, "failures").Result()
	failures, _ := strconv.Atoi(failuresStr)
	failures++

	backoff := cb.baseBackoff
	for i := 1; i < failures; i++ {
		backoff *= 2
		if backoff >= cb.maxBackoff {
			backoff = cb.maxBackoff
			break
		}
	}

	now := cb.now()
	retryAt := now.Add(backoff)
	cb.redis.HSet(ctx, key, map[string]interface{}{
		"state":     "open",
		"retry_at":  retryAt.Unix(),
		"failures":  failures,
		"opened_at": now.Unix(),
	})
	cb.redis.Expire(ctx, key, cb.maxBackoff*2)

	log.Warn().
		Str("provider", provider).
		Str("model", model).
		Dur("cooldown", backoff).
		Int("failures", failures).
		Time("retry_at", retryAt).
		Msg("circuit breaker OPENED")
}

// IsOpen reports whether the pair is cooling down. An expired cooldown moves to half-open and lets one call through.
func (cb *RedisBreaker) IsOpen(ctx context.Context, provider, model string) bool {
	key := breakerKey(provider, model)

	state, err := cb.redis.HGet(ctx, key, "state").Result()
	if err != nil || state != "open" {
		return false
	}
	retryAtStr, _ := cb.redis.HGet(ctx, key, "retry_at").Result()
	retryAt, _ := strconv.ParseInt(retryAtStr, 10, 64)
	if cb.now().Unix() >= retryAt {
		cb.redis.HSet(ctx, key, "state", "half_open")
		log.Info().Str("provider", provider).Str("model", model).Msg("circuit breaker moved to HALF-OPEN")
		return false
	}
	return true
}

func (cb *RedisBreaker) Close(ctx context.Context, provider, model string) bool {
	key := breakerKey(provider, model)

	state, _ := cb.redis.HGet(ctx, key, "state").Result()
	if state == "" || state == "closed" {
		return false
	}
	cb.redis.Del(ctx, key)
	log.Info().Str("provider", provider).Str("model", model).Msg("circuit breaker CLOSED (reset)")
	return true
}

type noBreaker struct{}

func (noBreaker) IsOpen(context.Context, string, string) bool { return false }
func (noBreaker) Open(context.Context, string, string)        {}
func (noBreaker) Close(context.Context, string, string) bool  { return false }
