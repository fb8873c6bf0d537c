package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterSpacesRequests(t *testing.T) {
	t.Parallel()

	l := New(Config{Delay: 100 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://api.github.com/search/repositories"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://api.github.com/repos/o/r/commits"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{Delay: time.Second})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/1"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterZeroDelayNeverBlocks(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for range 20 {
		require.NoError(t, l.Wait(context.Background(), "https://api.github.com"))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterHonoursCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{Delay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Wait(ctx, "https://api.github.com"))
	cancel()
	require.Error(t, l.Wait(ctx, "https://api.github.com"))
}
