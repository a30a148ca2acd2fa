// Package ratelimit provides an in-memory fixed-window rate limiter
// keyed by name. Each key carries its own limit and window so sources
// with very different quotas can share one limiter.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Quota is the allowance for one key: at most Limit requests per Window.
type Quota struct {
	Limit  int
	Window time.Duration
}

type window struct {
	start time.Time
	count int
}

// Limiter tracks request counts per key in fixed windows. The zero
// value is not usable; construct with New.
type Limiter struct {
	mu      sync.Mutex
	quotas  map[string]Quota
	windows map[string]*window
	now     func() time.Time
}

func New() *Limiter {
	return &Limiter{
		quotas:  map[string]Quota{},
		windows: map[string]*window{},
		now:     time.Now,
	}
}

// SetQuota registers or replaces the quota for a key. A key with no
// quota is never limited.
func (l *Limiter) SetQuota(key string, quota Quota) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.quotas[key] = quota
	delete(l.windows, key)
}

// Allow reports whether a request under key fits in the current window,
// and if so records it.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.reserve(key)
	return ok
}

// reserve consumes a slot when available; otherwise it returns how long
// until the current window rolls over.
func (l *Limiter) reserve(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	quota, ok := l.quotas[key]
	if !ok || quota.Limit <= 0 || quota.Window <= 0 {
		return true, 0
	}

	now := l.now()
	win := l.windows[key]
	if win == nil || now.Sub(win.start) >= quota.Window {
		win = &window{start: now}
		l.windows[key] = win
	}

	if win.count < quota.Limit {
		win.count++
		return true, 0
	}

	return false, quota.Window - now.Sub(win.start)
}

// Wait blocks until a slot for key is available or the context is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for {
		ok, wait := l.reserve(key)
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.WithStack(ctx.Err())
		case <-timer.C:
		}
	}
}
