package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()
	// 10 RPS with burst 1 means one token every 100ms.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://steamspy.com/api.php"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://steamspy.com/api.php"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_DifferentHosts(t *testing.T) {
	t.Parallel()
	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond, "host b should not be blocked by host a")
}

func TestLimiter_PerHostOverride(t *testing.T) {
	t.Parallel()
	l := New(Config{PerHost: map[string]float64{"SteamSpy.com": 1}})
	ctx := context.Background()

	// Unlisted hosts are unlimited.
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(ctx, "http://store.steampowered.com/api/appdetails/"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, l.Wait(ctx, "https://steamspy.com/api.php"))
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(waitCtx, "https://steamspy.com/api.php"), "second token needs about a second")
}
