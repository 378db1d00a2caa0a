// Package dispatcher contains tests for driver coordination.
package dispatcher

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/steam-harvester/internal/driver"
	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/queue/memory"
	"github.com/JakeFAU/steam-harvester/internal/requester"
	"github.com/JakeFAU/steam-harvester/internal/state"
)

type countingCatalog struct {
	mu    sync.Mutex
	seen  map[string]int
	err   error
	delay time.Duration
}

func (c *countingCatalog) Details(ctx context.Context, id string, _ requester.Policy, state requester.Backoff) ([]byte, requester.Backoff, error) {
	if c.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, state, ctx.Err()
		case <-time.After(c.delay):
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[id]++
	if c.err != nil {
		return nil, state, c.err
	}
	return []byte(`{"success":false}`), state, nil
}

func (c *countingCatalog) Enrichment(context.Context, string, requester.Policy, requester.Backoff) (*harvest.Popularity, requester.Backoff, error) {
	return nil, requester.Backoff{}, nil
}

func drivers(n int, catalog driver.Catalog, store harvest.Store) []*driver.Driver {
	out := make([]*driver.Driver, n)
	for i := range out {
		out[i] = driver.New(catalog, store, driver.Config{}, driver.WithName("w"+strconv.Itoa(i)))
	}
	return out
}

// TestDispatcherVisitsEachIDOnce drains a shared queue with several drivers.
func TestDispatcherVisitsEachIDOnce(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue()
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = strconv.Itoa(i)
	}
	require.NoError(t, q.Push(context.Background(), ids...))

	catalog := &countingCatalog{seen: make(map[string]int)}
	store := state.NewMemory(nil)
	sum, err := New(q, drivers(4, catalog, store), true, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 100, sum.Discarded)
	assert.Len(t, catalog.seen, 100)
	for id, n := range catalog.seen {
		assert.Equal(t, 1, n, "id %s visited more than once", id)
	}
	counts, _ := store.Counts(context.Background())
	assert.Equal(t, 100, counts.Discarded)
}

// TestDispatcherFatalErrorStopsOthers ensures one fatal driver cancels the pool.
func TestDispatcherFatalErrorStopsOthers(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue()
	require.NoError(t, q.Push(context.Background(), "1"))

	catalog := &countingCatalog{seen: make(map[string]int), err: harvest.ErrRetriesExhausted}
	done := make(chan error, 1)
	go func() {
		_, err := New(q, drivers(3, catalog, state.NewMemory(nil)), false, nil).Run(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, harvest.ErrRetriesExhausted))
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after a fatal driver error")
	}
}

// TestDispatcherRequiresDrivers rejects an empty pool.
func TestDispatcherRequiresDrivers(t *testing.T) {
	t.Parallel()
	_, err := New(memory.NewQueue(), nil, true, nil).Run(context.Background())
	require.Error(t, err)
}
