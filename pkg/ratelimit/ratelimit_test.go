package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAllow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(time.Minute, 2)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	res, err := m.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, Result{Limit: 2, Remaining: 1, Reset: now.Add(time.Minute), Allowed: true}, res)

	res, _ = m.Allow(ctx, "1.2.3.4")
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	res, _ = m.Allow(ctx, "1.2.3.4")
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	res, _ = m.Allow(ctx, "5.6.7.8")
	assert.True(t, res.Allowed, "clients are counted separately")

	now = now.Add(time.Minute)
	res, _ = m.Allow(ctx, "1.2.3.4")
	assert.True(t, res.Allowed, "a new window starts when the old one ends")
	assert.Equal(t, 1, res.Remaining)
}

func TestMemoryDefaults(t *testing.T) {
	m := NewMemory(0, 0)
	assert.Equal(t, DefaultWindow, m.window)
	assert.Equal(t, DefaultMax, m.max)
}

func TestMemoryCleanupExpired(t *testing.T) {
	now := time.Now()
	m := NewMemory(time.Minute, 10)
	m.now = func() time.Time { return now }

	_, _ = m.Allow(context.Background(), "a")
	now = now.Add(30 * time.Second)
	_, _ = m.Allow(context.Background(), "b")
	assert.Equal(t, 2, m.Len())

	now = now.Add(45 * time.Second)
	m.CleanupExpired()
	assert.Equal(t, 1, m.Len())
}

func TestMemoryConcurrentAccess(t *testing.T) {
	m := NewMemory(time.Minute, 50)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.Allow(ctx, "client")
			assert.NoError(t, err)
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestRunCleanup(t *testing.T) {
	m := NewMemory(time.Millisecond, 10)
	_, _ = m.Allow(context.Background(), "a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- m.RunCleanup(ctx, 5*time.Millisecond) }()

	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisAllow(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRedis(client, 10*time.Minute, 2)
	l.now = func() time.Time { return now }

	res, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, Result{Limit: 2, Remaining: 1, Reset: now.Add(10 * time.Minute), Allowed: true}, res)
	assert.Equal(t, 10*time.Minute, mr.TTL(KeyPrefix+"1.2.3.4"))

	mr.FastForward(4 * time.Minute)
	res, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, now.Add(6*time.Minute), res.Reset, "the window is not extended")

	res, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	mr.FastForward(6 * time.Minute)
	res, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)
}

func TestRedisSharedBetweenLimiters(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	a := NewRedis(client, time.Minute, 3)
	b := NewRedis(client, time.Minute, 3)
	for range 2 {
		_, err := a.Allow(ctx, "k")
		require.NoError(t, err)
	}
	res, err := b.Allow(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Remaining)
	assert.True(t, res.Allowed)
}

func TestRedisUnavailable(t *testing.T) {
	mr, client := newRedis(t)
	mr.Close()

	_, err := NewRedis(client, time.Minute, 1).Allow(context.Background(), "k")
	assert.Error(t, err)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client, err := NewRedisClient(ctx, mr.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	client, err = NewRedisClient(ctx, "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisClient(ctx, addr)
	assert.Error(t, err)
}
