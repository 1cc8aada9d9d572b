// Package ratelimit counts requests per client in fixed windows.
//
// Two limiters are provided: Memory keeps counters in the process, Redis
// shares them between instances. Both are safe for concurrent use.
package ratelimit

import (
	"context"
	"time"
)

// Defaults applied when a limiter is created with a zero window or max.
const (
	DefaultWindow = 10 * time.Minute
	DefaultMax    = 100
)

// Result describes the state of a client's window after a request was counted.
type Result struct {
	Limit     int
	Remaining int
	Reset     time.Time // end of the current window
	Allowed   bool
}

// Limiter counts one request for key and reports whether it is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

func result(max int, count int64, reset time.Time) Result {
	remaining := int64(max) - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Limit:     max,
		Remaining: int(remaining),
		Reset:     reset,
		Allowed:   count <= int64(max),
	}
}

func orDefault(window time.Duration, max int) (time.Duration, int) {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMax
	}
	return window, max
}
