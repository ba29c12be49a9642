// Package ratelimit implements fixed-window rate limiting (not a token bucket) at the
// webhook boundary (spec.md §4.7, §9 C9) plus the [EXPANSION] tiered,
// source-keyed limits SPEC_FULL.md adds. Grounded directly on the teacher's
// common/ratelimit/limiter.go: an embedded Lua script run atomically against
// Redis, one counter key per (scope, identity) pair.
package ratelimit

import (
	_ "embed"
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/canvas-engine/internal/logging"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Result is the outcome of one rate-limit check (spec §6 "response includes
// rate-limit headers").
type Result struct {
	Allowed           bool
	Limit             int64
	Remaining         int64
	RetryAfterSeconds int64
}

// Limiter checks fixed-window counters in Redis via a single atomic Lua script.
type Limiter struct {
	redis  *redis.Client
	script *redis.Script
	log    *logging.Logger
}

// New creates a Limiter over an already-configured redis.Client.
func New(client *redis.Client, log *logging.Logger) *Limiter {
	return &Limiter{redis: client, script: redis.NewScript(rateLimitScript), log: log}
}

// CheckIP checks the per-client-IP bucket (spec §4.7 step 1, "rate limit by
// client identifier").
func (l *Limiter) CheckIP(ctx context.Context, ip string, limit int64, windowSec int) (*Result, error) {
	return l.check(ctx, fmt.Sprintf("ratelimit:ip:%s", ip), limit, windowSec)
}

// CheckGlobal checks the global webhook-boundary bucket.
func (l *Limiter) CheckGlobal(ctx context.Context, limit int64, windowSec int) (*Result, error) {
	return l.check(ctx, "ratelimit:global", limit, windowSec)
}

// CheckSource checks the per-webhook-source tier bucket [EXPANSION]: each
// source (stripe/typeform/calendly/n8n/custom) gets its own counter so a
// burst on one source's tier does not starve another's, mirroring the
// teacher's CheckTieredLimit keyed by workflow tier instead of source.
func (l *Limiter) CheckSource(ctx context.Context, source string, limit int64, windowSec int) (*Result, error) {
	return l.check(ctx, fmt.Sprintf("ratelimit:source:%s", source), limit, windowSec)
}

func (l *Limiter) check(ctx context.Context, key string, limit int64, windowSec int) (*Result, error) {
	raw, err := l.script.Run(ctx, l.redis, []string{key}, limit, windowSec).Result()
	if err != nil {
		l.log.Error("rate limit check failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check: %w", err)
	}

	arr, ok := raw.([]interface{})
	if !ok || len(arr) != 4 {
		return nil, fmt.Errorf("unexpected rate limit script result shape")
	}

	allowed := arr[0].(int64) == 1
	current := arr[1].(int64)
	returnedLimit := arr[2].(int64)
	retryAfter := arr[3].(int64)

	remaining := returnedLimit - current
	if remaining < 0 {
		remaining = 0
	}
	if !allowed {
		retryAfter = max64(retryAfter, 1)
	} else {
		retryAfter = 0
	}

	return &Result{Allowed: allowed, Limit: returnedLimit, Remaining: remaining, RetryAfterSeconds: retryAfter}, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// SourceTierLimits holds the default per-source limit table [EXPANSION],
// modeled on the teacher's common/ratelimit/config.go DefaultTierConfigs.
var SourceTierLimits = map[string]struct {
	Limit     int64
	WindowSec int
}{
	"stripe":   {Limit: 200, WindowSec: 60},
	"typeform": {Limit: 120, WindowSec: 60},
	"calendly": {Limit: 120, WindowSec: 60},
	"n8n":      {Limit: 300, WindowSec: 60},
	"custom":   {Limit: 60, WindowSec: 60},
}

// LimitForSource returns the configured per-source tier limit, falling back
// to the most restrictive ("custom") tier for an unrecognized source.
func LimitForSource(source string) (int64, int) {
	if t, ok := SourceTierLimits[source]; ok {
		return t.Limit, t.WindowSec
	}
	t := SourceTierLimits["custom"]
	return t.Limit, t.WindowSec
}
