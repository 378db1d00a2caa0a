package requester

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_FailuresIncreaseUntilCap(t *testing.T) {
	t.Parallel()
	b := NewBackoff(time.Second)
	prev := b.Current
	for i := 0; i < 12; i++ {
		b = b.OnFailure(DefaultMaxDelay)
		require.True(t, b.Current > prev || b.Current == DefaultMaxDelay,
			"delay must grow or hold at cap: %s -> %s", prev, b.Current)
		require.LessOrEqual(t, b.Current, DefaultMaxDelay)
		require.Zero(t, b.Successes)
		prev = b.Current
	}
	assert.Equal(t, DefaultMaxDelay, b.Current)
}

func TestBackoff_SuccessStreakHalvesDelay(t *testing.T) {
	t.Parallel()
	b := Backoff{Current: 8 * time.Second}
	floor := 1500 * time.Millisecond

	for i := 0; i < DefaultSuccessThreshold; i++ {
		b = b.OnSuccess(floor, DefaultSuccessThreshold)
		assert.Equal(t, 8*time.Second, b.Current, "no change before the streak exceeds the threshold")
	}
	b = b.OnSuccess(floor, DefaultSuccessThreshold)
	assert.Equal(t, 4*time.Second, b.Current)
	assert.Zero(t, b.Successes)

	for i := 0; i < 3*(DefaultSuccessThreshold+1); i++ {
		b = b.OnSuccess(floor, DefaultSuccessThreshold)
	}
	assert.Equal(t, floor, b.Current, "delay holds at the floor")
}

func TestBackoff_FailureResetsStreak(t *testing.T) {
	t.Parallel()
	b := NewBackoff(time.Second)
	b = b.OnSuccess(time.Second, 2)
	b = b.OnSuccess(time.Second, 2)
	require.Equal(t, 2, b.Successes)

	b = b.OnFailure(0)
	assert.Zero(t, b.Successes)
	assert.Equal(t, 2*time.Second, b.Current)
}

func TestBackoff_IsAValue(t *testing.T) {
	t.Parallel()
	a := NewBackoff(time.Second)
	_ = a.OnFailure(DefaultMaxDelay)
	assert.Equal(t, time.Second, a.Current)
}
