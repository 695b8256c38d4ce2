package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFixedWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lim := NewMemory(5, 15*time.Minute, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	key := Key("login", "10.0.0.1")

	for i := 1; i <= 5; i++ {
		d, err := lim.IncrementAndCheck(ctx, key)
		require.NoError(t, err)
		require.True(t, d.Allowed, "attempt %d", i)
	}

	now = now.Add(5 * time.Minute)
	d, err := lim.IncrementAndCheck(ctx, key)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 10*time.Minute, d.RetryAfter)
	require.Equal(t, 600, d.RetryAfterSeconds())

	other, _ := lim.IncrementAndCheck(ctx, Key("login", "10.0.0.2"))
	require.True(t, other.Allowed, "keys are independent")

	now = now.Add(10 * time.Minute)
	d, _ = lim.IncrementAndCheck(ctx, key)
	require.True(t, d.Allowed, "window resets")
	require.Equal(t, 1, d.Count)
}

func TestConcurrentIncrements(t *testing.T) {
	lim := NewMemory(50, time.Minute)
	ctx := context.Background()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := lim.IncrementAndCheck(ctx, "k")
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 50, allowed)
}

func TestKey(t *testing.T) {
	require.Equal(t, "auth:login:1.2.3.4", Key("login", "1.2.3.4"))
	require.Equal(t, "auth:register:unknown", Key("register", ""))
}
