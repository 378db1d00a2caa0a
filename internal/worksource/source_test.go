package worksource

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/queue/memory"
	"github.com/JakeFAU/steam-harvester/internal/requester"
)

type fakeLister struct {
	ids   []string
	err   error
	calls int
}

func (f *fakeLister) AppList(_ context.Context, _ requester.Policy, state requester.Backoff) ([]string, requester.Backoff, error) {
	f.calls++
	return append([]string(nil), f.ids...), state, f.err
}

func seeded() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func TestListReturnsExplicitUnchanged(t *testing.T) {
	t.Parallel()
	lister := &fakeLister{ids: []string{"1"}}
	src := New(lister, Config{Shuffle: true}, seeded(), nil)

	ids, err := src.List(context.Background(), []string{"30", "10", "20"})
	require.NoError(t, err)
	assert.Equal(t, []string{"30", "10", "20"}, ids)
	assert.Zero(t, lister.calls)
}

func TestListFetchesOnceAndCaches(t *testing.T) {
	t.Parallel()
	cache := filepath.Join(t.TempDir(), "applist.json")
	lister := &fakeLister{ids: []string{"10", "20", "30", "40"}}
	src := New(lister, Config{CachePath: cache, Shuffle: true}, seeded(), nil)

	first, err := src.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "20", "30", "40"}, sorted(first))
	assert.Equal(t, 1, lister.calls)

	data, err := os.ReadFile(cache)
	require.NoError(t, err)
	assert.JSONEq(t, `["10","20","30","40"]`, string(data))

	second, err := src.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "20", "30", "40"}, sorted(second))
	assert.Equal(t, 1, lister.calls, "cached listing must not be fetched again")
}

func TestListReadsNumericCache(t *testing.T) {
	t.Parallel()
	cache := filepath.Join(t.TempDir(), "applist.json")
	require.NoError(t, os.WriteFile(cache, []byte(`[10, "20"]`), 0o600))
	src := New(&fakeLister{}, Config{CachePath: cache}, seeded(), nil)

	ids, err := src.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "20"}, ids)
}

func TestListShuffleIsPermutation(t *testing.T) {
	t.Parallel()
	all := make([]string, 50)
	for i := range all {
		all[i] = string(rune('A' + i%26)) + string(rune('a'+i/26))
	}
	src := New(&fakeLister{ids: all}, Config{Shuffle: true}, seeded(), nil)

	ids, err := src.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, sorted(all), sorted(ids))
	assert.NotEqual(t, all, ids)
}

func TestListEmptyIsFatal(t *testing.T) {
	t.Parallel()
	src := New(&fakeLister{}, Config{}, seeded(), nil)
	_, err := src.List(context.Background(), nil)
	require.ErrorIs(t, err, harvest.ErrEmptyWorkSource)
}

func TestListCorruptCache(t *testing.T) {
	t.Parallel()
	cache := filepath.Join(t.TempDir(), "applist.json")
	require.NoError(t, os.WriteFile(cache, []byte(`{not json`), 0o600))
	src := New(&fakeLister{ids: []string{"1"}}, Config{CachePath: cache}, seeded(), nil)

	_, err := src.List(context.Background(), nil)
	require.ErrorIs(t, err, harvest.ErrPersistence)
}

func TestListPropagatesExhaustion(t *testing.T) {
	t.Parallel()
	lister := &fakeLister{err: harvest.ErrRetriesExhausted}
	src := New(lister, Config{}, seeded(), nil)

	_, err := src.List(context.Background(), nil)
	require.True(t, errors.Is(err, harvest.ErrRetriesExhausted))
}

func TestReadIDsFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cases := []struct {
		name    string
		content string
		want    []string
	}{
		{"newline separated", "10\n20\r\n30\n", []string{"10", "20", "30"}},
		{"comma separated", "10,20, 30", []string{"10", "20", "30"}},
		{"csv with header", "appid,name\n10,Space Ducks\n20,\"Moon, Base\"\n", []string{"10", "20"}},
		{"header only column", "AppID\n10\n10\n", []string{"10"}},
	}
	for i, tc := range cases {
		path := filepath.Join(dir, string(rune('a'+i))+".csv")
		require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o600))
		t.Run(tc.name, func(t *testing.T) {
			got, err := ReadIDsFile(path)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ReadIDsFile(filepath.Join(dir, "missing.csv"))
	require.Error(t, err)
}

func TestSeederPushesWhenEmpty(t *testing.T) {
	t.Parallel()
	q := memory.NewQueue()
	src := New(&fakeLister{ids: []string{"1", "2", "3"}}, Config{}, seeded(), nil)
	seeder := NewSeeder(src, q, nil)

	res, err := seeder.Seed(context.Background(), nil, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pushed)
	assert.Equal(t, 3, res.Backlog)
	assert.Len(t, res.Preview, 2)
}

func TestSeederReportsExistingBacklog(t *testing.T) {
	t.Parallel()
	q := memory.NewQueue()
	require.NoError(t, q.Push(context.Background(), "9", "8"))
	lister := &fakeLister{ids: []string{"1"}}
	seeder := NewSeeder(New(lister, Config{}, seeded(), nil), q, nil)

	res, err := seeder.Seed(context.Background(), nil, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Pushed)
	assert.Equal(t, 2, res.Backlog)
	assert.Equal(t, []string{"9", "8"}, res.Preview)
	assert.Zero(t, lister.calls)
}

func TestSeederAlwaysPushesExplicit(t *testing.T) {
	t.Parallel()
	q := memory.NewQueue()
	require.NoError(t, q.Push(context.Background(), "9"))
	seeder := NewSeeder(New(&fakeLister{}, Config{}, seeded(), nil), q, nil)

	res, err := seeder.Seed(context.Background(), []string{"5"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)
	assert.Equal(t, 2, res.Backlog)
}
