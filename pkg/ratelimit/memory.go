package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process fixed-window limiter.
type Memory struct {
	now     func() time.Time
	windows map[string]*counter
	window  time.Duration
	max     int
	sync.Mutex
}

type counter struct {
	count      int64
	expiration time.Time
}

// NewMemory returns a limiter allowing max requests per window and key.
func NewMemory(size time.Duration, max int) *Memory {
	size, max = orDefault(size, max)
	return &Memory{
		now:     time.Now,
		windows: make(map[string]*counter),
		window:  size,
		max:     max,
	}
}

// Allow implements Limiter.
func (m *Memory) Allow(_ context.Context, key string) (Result, error) {
	m.Lock()
	defer m.Unlock()

	now := m.now()
	w, found := m.windows[key]
	if !found || !now.Before(w.expiration) {
		w = &counter{expiration: now.Add(m.window)}
		m.windows[key] = w
	}
	w.count++
	return result(m.max, w.count, w.expiration), nil
}

// CleanupExpired removes windows that have ended.
func (m *Memory) CleanupExpired() {
	m.Lock()
	defer m.Unlock()
	now := m.now()
	for key, w := range m.windows {
		if !now.Before(w.expiration) {
			delete(m.windows, key)
		}
	}
}

// Len returns the number of tracked clients.
func (m *Memory) Len() int {
	m.Lock()
	defer m.Unlock()
	return len(m.windows)
}

// RunCleanup calls CleanupExpired every interval until ctx is done.
func (m *Memory) RunCleanup(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = m.window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.CleanupExpired()
		}
	}
}
