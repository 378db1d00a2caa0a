package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/steam-harvester/internal/queue/memory"
)

func TestSliceIterator(t *testing.T) {
	t.Parallel()
	it := NewSliceIterator([]string{"1", "2"})
	assert.Equal(t, 2, it.Len())

	for _, want := range []string{"1", "2"} {
		id, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, id)
	}
	_, ok, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueueIteratorExitWhenEmpty(t *testing.T) {
	t.Parallel()
	q := memory.NewQueue()
	require.NoError(t, q.Push(context.Background(), "1"))
	it := NewQueueIterator(q, true)

	id, ok, err := it.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", id)

	_, ok, err = it.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueueIteratorEndsWhenClosed(t *testing.T) {
	t.Parallel()
	q := memory.NewQueue()
	require.NoError(t, q.Push(context.Background(), "1"))
	require.NoError(t, q.Close())
	it := NewQueueIterator(q, false)

	_, ok, err := it.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = it.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
