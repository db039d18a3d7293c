// Package ratelimit implements the fixed-window Redis limiter and the
// clock-drift guard used at the activation/validation boundary.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// script performs INCR + EXPIRE atomically so a fixed window never leaks a
// counter past its TTL under concurrent access.
var script = redis.NewScript(`
	local count = redis.call("INCR", KEYS[1])
	if count == 1 then
		redis.call("EXPIRE", KEYS[1], ARGV[1])
	end
	return count
`)

// Scope names the two callers this guard is defined for by the spec.
type Scope string

const (
	ScopeActivation Scope = "activation"
	ScopeValidation Scope = "validation"
)

// Limiter is a Redis-backed fixed-window rate limiter keyed "rl:{scope}:{principal}".
type Limiter struct {
	client   *redis.Client
	window   time.Duration
	limits   map[Scope]int
}

// NewLimiter builds a Limiter with per-scope limits (requests allowed per window).
func NewLimiter(client *redis.Client, activationPerMin, validationPerMin int) *Limiter {
	return &Limiter{
		client: client,
		window: time.Minute,
		limits: map[Scope]int{
			ScopeActivation: activationPerMin,
			ScopeValidation: validationPerMin,
		},
	}
}

// ErrRateLimited is returned when a principal has exceeded its scope's budget.
type ErrRateLimited struct {
	RetryAfter time.Duration
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Allow increments the counter for (scope, principal) and enforces the
// configured limit. On Redis failure it fails open — logs a warning and lets
// the request through, per the spec's explicit availability-over-correctness
// choice for this guard.
func (l *Limiter) Allow(ctx context.Context, scope Scope, principal string) error {
	limit, ok := l.limits[scope]
	if !ok || limit <= 0 {
		return nil
	}

	key := fmt.Sprintf("rl:%s:%s", scope, principal)
	count, err := script.Run(ctx, l.client, []string{key}, int(l.window.Seconds())).Int()
	if err != nil {
		log.Printf("ratelimit: redis error on scope=%s principal=%s, failing open: %v", scope, principal, err)
		return nil
	}

	if count > limit {
		ttl, err := l.client.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = l.window
		}
		return &ErrRateLimited{RetryAfter: ttl}
	}

	return nil
}
