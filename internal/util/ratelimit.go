package util

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces calls to an upstream API that publishes a per-minute
// request quota. Calls are spread evenly across the minute with no burst
// beyond a single request.
type RateLimiter struct {
	perMinute int
	lim       *rate.Limiter
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute. A non-positive perMinute yields a limiter that never blocks.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return &RateLimiter{lim: rate.NewLimiter(rate.Inf, 0)}
	}
	return &RateLimiter{
		perMinute: perMinute,
		lim:       rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

// PerMinute returns the configured quota, 0 when unlimited.
func (rl *RateLimiter) PerMinute() int { return rl.perMinute }

// Wait blocks until the next call may proceed or ctx is done. When ctx's
// deadline falls before the next slot it fails immediately with an error
// matching context.DeadlineExceeded.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	err := rl.lim.Wait(ctx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}
