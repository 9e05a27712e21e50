package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	mpkg "github.com/local/rangeplanner/internal/metrics"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// CircuitBreaker manages circuit breaker state in Redis so every worker
// replica sees the same state for a downstream target.
type CircuitBreaker struct {
	redis       *redis.Client
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(redisClient *redis.Client, baseBackoff, maxBackoff time.Duration) *CircuitBreaker {
	if baseBackoff <= 0 {
		baseBackoff = 30 * time.Second
	}
	if maxBackoff < baseBackoff {
		maxBackoff = baseBackoff
	}
	return &CircuitBreaker{
		redis:       redisClient,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
}

func (cb *CircuitBreaker) key(target string) string { return fmt.Sprintf("cb:%s", target) }

// cooldown doubles per consecutive failure up to maxBackoff
func (cb *CircuitBreaker) cooldown(failures int) time.Duration {
	backoff := cb.baseBackoff
	for i := 1; i < failures; i++ {
		backoff *= 2
		if backoff > cb.maxBackoff {
			return cb.maxBackoff
		}
	}
	return backoff
}

// Open records a failure for target and opens the breaker until the cooldown
// passes. Returns the time a probe request is allowed again.
func (cb *CircuitBreaker) Open(ctx context.Context, target string) time.Time {
	key := cb.key(target)

	failures, _ := cb.redis.HIncrBy(ctx, key, "failures", 1).Result()
	if failures < 1 {
		failures = 1
	}
	backoff := cb.cooldown(int(failures))
	now := time.Now()
	retryAt := now.Add(backoff)

	pipe := cb.redis.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"state":     "open",
		"retry_at":  retryAt.UnixMilli(),
		"opened_at": now.UnixMilli(),
	})
	pipe.Expire(ctx, key, cb.maxBackoff+10*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().Err(err).Str("target", target).Msg("circuit breaker write failed")
	}
	mpkg.BreakerOpened()

	log.Warn().
		Str("target", target).
		Dur("cooldown", backoff).
		Int64("failures", failures).
		Time("retry_at", retryAt).
		Msg("circuit breaker OPENED")
	return retryAt
}

// IsOpen reports whether calls to target should be held back. Once the
// cooldown expires the breaker moves to half-open and lets calls through.
func (cb *CircuitBreaker) IsOpen(ctx context.Context, target string) bool {
	key := cb.key(target)

	vals, err := cb.redis.HMGet(ctx, key, "state", "retry_at").Result()
	if err != nil || len(vals) < 2 {
		// No breaker record → closed by default
		return false
	}
	state, _ := vals[0].(string)
	if state != "open" {
		return false
	}

	retryAtStr, _ := vals[1].(string)
	retryAt, _ := strconv.ParseInt(retryAtStr, 10, 64)
	if time.Now().UnixMilli() >= retryAt {
		cb.redis.HSet(ctx, key, "state", "half_open")
		log.Info().Str("target", target).Msg("circuit breaker moved to HALF-OPEN")
		return false
	}

	// Still in cooldown
	return true
}

// Close resets the breaker after a successful call
func (cb *CircuitBreaker) Close(ctx context.Context, target string) {
	key := cb.key(target)

	state, _ := cb.redis.HGet(ctx, key, "state").Result()
	if state == "" || state == "closed" {
		return
	}

	cb.redis.Del(ctx, key)
	mpkg.BreakerClosed()

	log.Info().Str("target", target).Msg("circuit breaker CLOSED (reset)")
}
