package driver

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/progress"
	"github.com/JakeFAU/steam-harvester/internal/requester"
	"github.com/JakeFAU/steam-harvester/internal/state"
	"github.com/JakeFAU/steam-harvester/internal/state/file"
	"github.com/JakeFAU/steam-harvester/internal/steamapi"
)

const (
	releasedGame = `{"success":true,"data":{"type":"game","name":"Space Ducks","developers":["X"],"is_free":true,` +
		`"release_date":{"coming_soon":false,"date":"1 Jan, 2020"}}}`
	comingSoon = `{"success":true,"data":{"type":"game","name":"Space Ducks","developers":["X"],"is_free":true,` +
		`"release_date":{"coming_soon":true,"date":""}}}`
	failed    = `{"success":false}`
	malformed = `{"success":true,"data":[1,2,3]}`
)

type fakeCatalog struct {
	mu          sync.Mutex
	details     map[string]string
	detailErr   error
	popularity  *harvest.Popularity
	enrichErr   error
	detailCalls map[string]int
	enrichCalls int
}

func newFakeCatalog(details map[string]string) *fakeCatalog {
	return &fakeCatalog{details: details, detailCalls: make(map[string]int)}
}

func (f *fakeCatalog) Details(_ context.Context, id string, _ requester.Policy, state requester.Backoff) ([]byte, requester.Backoff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls[id]++
	if f.detailErr != nil {
		return nil, state, f.detailErr
	}
	body, ok := f.details[id]
	if !ok {
		return nil, state, nil
	}
	return []byte(body), state, nil
}

func (f *fakeCatalog) Enrichment(context.Context, string, requester.Policy, requester.Backoff) (*harvest.Popularity, requester.Backoff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrichCalls++
	return f.popularity, requester.Backoff{}, f.enrichErr
}

func (f *fakeCatalog) calls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detailCalls[id]
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
	err    error
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return s.err
}

func fixedRand() *rand.Rand {
	return rand.New(rand.NewPCG(7, 7))
}

func TestRunIdempotentRerun(t *testing.T) {
	t.Parallel()
	st := state.New()
	st.Accept("10", []byte(`{"name":"Space Ducks"}`))
	st.AddDiscarded("20")
	store := state.NewMemory(st)
	catalog := newFakeCatalog(map[string]string{"10": releasedGame, "20": releasedGame})

	d := New(catalog, store, Config{}, WithSleeper(&recordingSleeper{}))
	sum, err := d.Run(context.Background(), NewSliceIterator([]string{"10", "20"}))
	require.NoError(t, err)

	assert.Equal(t, Summary{Skipped: 2}, sum)
	assert.Zero(t, catalog.calls("10"))
	assert.Zero(t, catalog.calls("20"))
	raw, ok := store.Record("10")
	require.True(t, ok)
	assert.Equal(t, `{"name":"Space Ducks"}`, string(raw))
}

func TestRunClassifiesAndRecords(t *testing.T) {
	t.Parallel()
	store := state.NewMemory(nil)
	catalog := newFakeCatalog(map[string]string{"1": releasedGame, "2": comingSoon, "3": failed})
	tracker := progress.NewTracker(nil, nil, 0)

	d := New(catalog, store, Config{}, WithSleeper(&recordingSleeper{}), WithTracker(tracker))
	sum, err := d.Run(context.Background(), NewSliceIterator([]string{"1", "2", "3", "4"}))
	require.NoError(t, err)

	assert.Equal(t, Summary{Accepted: 1, Pending: 1, Discarded: 2}, sum)
	assert.Equal(t, 4, sum.Processed())
	counts, err := store.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, harvest.Counts{Accepted: 1, Pending: 1, Discarded: 2}, counts)
	assert.Equal(t, int64(4), tracker.Snapshot().Processed)
	assert.Zero(t, catalog.enrichCalls)
}

func TestRunPendingMovesToAcceptedOnRerun(t *testing.T) {
	t.Parallel()
	store := state.NewMemory(nil)
	catalog := newFakeCatalog(map[string]string{"7": comingSoon})
	d := New(catalog, store, Config{}, WithSleeper(&recordingSleeper{}))

	_, err := d.Run(context.Background(), NewSliceIterator([]string{"7"}))
	require.NoError(t, err)
	status, _ := store.Status(context.Background(), "7")
	require.Equal(t, harvest.StatusPending, status)

	catalog.details["7"] = releasedGame
	sum, err := d.Run(context.Background(), NewSliceIterator([]string{"7"}))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Accepted)
	status, _ = store.Status(context.Background(), "7")
	assert.Equal(t, harvest.StatusAccepted, status)
	counts, _ := store.Counts(context.Background())
	assert.Zero(t, counts.Pending)
}

func TestRunSkipsPendingWhenConfigured(t *testing.T) {
	t.Parallel()
	st := state.New()
	st.AddPending("7")
	catalog := newFakeCatalog(map[string]string{"7": releasedGame})

	d := New(catalog, state.NewMemory(st), Config{SkipNotReleased: true}, WithSleeper(&recordingSleeper{}))
	sum, err := d.Run(context.Background(), NewSliceIterator([]string{"7"}))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Zero(t, catalog.calls("7"))
}

func TestRunRecheckedPendingIsNotNew(t *testing.T) {
	t.Parallel()
	st := state.New()
	st.AddPending("7")
	store := state.NewMemory(st)
	catalog := newFakeCatalog(map[string]string{"7": comingSoon})

	d := New(catalog, store, Config{Autosave: 1}, WithSleeper(&recordingSleeper{}))
	sum, err := d.Run(context.Background(), NewSliceIterator([]string{"7"}))
	require.NoError(t, err)
	assert.Zero(t, sum.Pending)
	assert.Equal(t, 1, catalog.calls("7"))
	// only the final checkpoint
	assert.Equal(t, 1, store.Checkpoints(harvest.CollectionPending))
}

func TestRunMalformedPayloadLeavesIDUnresolved(t *testing.T) {
	t.Parallel()
	store := state.NewMemory(nil)
	catalog := newFakeCatalog(map[string]string{"1": malformed, "2": releasedGame})

	d := New(catalog, store, Config{}, WithSleeper(&recordingSleeper{}))
	sum, err := d.Run(context.Background(), NewSliceIterator([]string{"1", "2"}))
	require.NoError(t, err)
	assert.Equal(t, Summary{Accepted: 1, Unresolved: 1}, sum)
	status, _ := store.Status(context.Background(), "1")
	assert.Equal(t, harvest.StatusUnvisited, status)
}

func TestRunAutosavePerCategory(t *testing.T) {
	t.Parallel()
	store := state.NewMemory(nil)
	catalog := newFakeCatalog(map[string]string{"1": releasedGame, "2": releasedGame})

	d := New(catalog, store, Config{Autosave: 2}, WithSleeper(&recordingSleeper{}))
	_, err := d.Run(context.Background(), NewSliceIterator([]string{"1", "2", "3", "4", "5"}))
	require.NoError(t, err)

	// two accepted and three discarded: one autosave each, plus the final checkpoint
	assert.Equal(t, 2, store.Checkpoints(harvest.CollectionAccepted))
	assert.Equal(t, 2, store.Checkpoints(harvest.CollectionDiscarded))
	assert.Equal(t, 1, store.Checkpoints(harvest.CollectionPending))
}

func TestRunEnrichment(t *testing.T) {
	t.Parallel()
	store := state.NewMemory(nil)
	catalog := newFakeCatalog(map[string]string{"1": releasedGame, "2": comingSoon})
	catalog.popularity = &harvest.Popularity{Positive: 42, EstimatedOwners: "0 - 20000", Tags: map[string]int{"Indie": 3}}

	d := New(catalog, store, Config{Enrich: true}, WithSleeper(&recordingSleeper{}))
	_, err := d.Run(context.Background(), NewSliceIterator([]string{"1", "2"}))
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.enrichCalls, "only accepted items are enriched")

	raw, ok := store.Record("1")
	require.True(t, ok)
	assert.Contains(t, string(raw), `"positive":42`)
	assert.Contains(t, string(raw), `"estimated_owners":"0 - 20000"`)
}

func TestRunEnrichmentWithoutStatisticsStoresZeroedFields(t *testing.T) {
	t.Parallel()
	store := state.NewMemory(nil)
	catalog := newFakeCatalog(map[string]string{"1": releasedGame})

	d := New(catalog, store, Config{Enrich: true}, WithSleeper(&recordingSleeper{}))
	sum, err := d.Run(context.Background(), NewSliceIterator([]string{"1"}))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Accepted)

	raw, ok := store.Record("1")
	require.True(t, ok)
	assert.Contains(t, string(raw), `"estimated_owners":"0 - 0"`)
}

func TestRunExhaustedEnrichmentStops(t *testing.T) {
	t.Parallel()
	store := state.NewMemory(nil)
	catalog := newFakeCatalog(map[string]string{"1": releasedGame, "2": releasedGame})
	catalog.enrichErr = fmt.Errorf("fetch enrichment for 1: %w", harvest.ErrRetriesExhausted)

	d := New(catalog, store, Config{Enrich: true}, WithSleeper(&recordingSleeper{}))
	sum, err := d.Run(context.Background(), NewSliceIterator([]string{"1", "2"}))
	require.ErrorIs(t, err, harvest.ErrRetriesExhausted)
	assert.Zero(t, sum.Accepted)
	assert.Equal(t, 1, catalog.enrichCalls)
	assert.Zero(t, catalog.calls("2"), "nothing is visited after the fatal error")

	status, err := store.Status(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, harvest.StatusUnvisited, status, "the item is not accepted with zeroed statistics")
	assert.Equal(t, 1, store.Checkpoints(harvest.CollectionAccepted), "state is still flushed on the way out")
}

func TestRunPacingJitter(t *testing.T) {
	t.Parallel()
	catalog := newFakeCatalog(map[string]string{})
	st := state.New()
	st.AddDiscarded("skip")

	always := &recordingSleeper{}
	d := New(catalog, state.NewMemory(st), Config{Sleep: time.Second, JitterProbability: 1},
		WithSleeper(always), WithRand(fixedRand()))
	_, err := d.Run(context.Background(), NewSliceIterator([]string{"1", "skip", "2"}))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, always.delays, "skipped ids are not paced")

	never := &recordingSleeper{}
	d = New(catalog, state.NewMemory(nil), Config{Sleep: time.Second},
		WithSleeper(never), WithRand(fixedRand()))
	_, err = d.Run(context.Background(), NewSliceIterator([]string{"1", "2"}))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, never.delays)
}

func TestRunCancellationStillCheckpoints(t *testing.T) {
	t.Parallel()
	store := state.NewMemory(nil)
	catalog := newFakeCatalog(map[string]string{"1": releasedGame})
	sleeper := &recordingSleeper{err: context.Canceled}

	d := New(catalog, store, Config{Sleep: time.Second}, WithSleeper(sleeper))
	sum, err := d.Run(context.Background(), NewSliceIterator([]string{"1", "2"}))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sum.Accepted)
	assert.Equal(t, 1, store.Checkpoints(harvest.CollectionAccepted))
	assert.Zero(t, catalog.calls("2"))
}

func TestRunFatalDetailsErrorStops(t *testing.T) {
	t.Parallel()
	store := state.NewMemory(nil)
	catalog := newFakeCatalog(nil)
	catalog.detailErr = harvest.ErrRetriesExhausted

	d := New(catalog, store, Config{}, WithSleeper(&recordingSleeper{}))
	_, err := d.Run(context.Background(), NewSliceIterator([]string{"1", "2"}))
	require.ErrorIs(t, err, harvest.ErrRetriesExhausted)
	assert.Equal(t, 1, catalog.calls("1"))
	assert.Zero(t, catalog.calls("2"))
	assert.Equal(t, 1, store.Checkpoints(harvest.CollectionDiscarded))
}

type failingCheckpointStore struct {
	*state.Memory
}

func (failingCheckpointStore) Checkpoint(context.Context, ...harvest.Collection) error {
	return harvest.ErrPersistence
}

func TestRunReportsFinalCheckpointFailure(t *testing.T) {
	t.Parallel()
	store := failingCheckpointStore{state.NewMemory(nil)}
	d := New(newFakeCatalog(nil), store, Config{}, WithSleeper(&recordingSleeper{}))

	_, err := d.Run(context.Background(), NewSliceIterator(nil))
	require.ErrorIs(t, err, harvest.ErrPersistence)
	assert.True(t, harvest.IsFatal(err))
}

// Exhausted retries against the live stack stop the run and flush state to disk.
func TestRunExhaustedRetriesFlushesFileState(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	dir := t.TempDir()
	paths := file.Paths{
		Accepted:  filepath.Join(dir, "games.json"),
		Pending:   filepath.Join(dir, "notreleased.json"),
		Discarded: filepath.Join(dir, "discarted.json"),
	}
	store, err := file.Open(paths)
	require.NoError(t, err)
	require.NoError(t, store.RecordAccepted(context.Background(), "5", harvest.Record{Name: "Earlier"}))
	require.NoError(t, store.RecordPending(context.Background(), "6"))
	require.NoError(t, store.RecordDiscarded(context.Background(), "8"))

	sleeper := &recordingSleeper{}
	req := requester.New(srv.Client(), requester.Config{}, sleeper, nil)
	client := steamapi.New(req, nil, steamapi.Config{DetailsURL: srv.URL}, nil)

	d := New(client, store, Config{Retries: 2, Sleep: time.Second, BackoffCap: 4 * time.Second},
		WithSleeper(&recordingSleeper{}))
	_, err = d.Run(context.Background(), NewSliceIterator([]string{"10", "11"}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, harvest.ErrRetriesExhausted))
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.delays)

	for _, path := range []string{paths.Accepted, paths.Pending, paths.Discarded} {
		_, statErr := os.Stat(path)
		require.NoError(t, statErr, "final checkpoint must write %s", path)
	}
	reloaded, err := file.Open(paths)
	require.NoError(t, err)
	counts, err := reloaded.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, harvest.Counts{Accepted: 1, Pending: 1, Discarded: 1}, counts)
}

func TestRunEnrichmentOutageIsFatal(t *testing.T) {
	t.Parallel()
	var detailHits, enrichHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/details", func(w http.ResponseWriter, r *http.Request) {
		detailHits.Add(1)
		_, _ = fmt.Fprintf(w, `{%q:%s}`, r.URL.Query().Get("appids"), releasedGame)
	})
	mux.HandleFunc("/spy", func(w http.ResponseWriter, _ *http.Request) {
		enrichHits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	req := requester.New(srv.Client(), requester.Config{}, &recordingSleeper{}, nil)
	client := steamapi.New(req, nil, steamapi.Config{DetailsURL: srv.URL + "/details", EnrichmentURL: srv.URL + "/spy"}, nil)
	store := state.NewMemory(nil)

	d := New(client, store, Config{Retries: 2, Enrich: true}, WithSleeper(&recordingSleeper{}))
	sum, err := d.Run(context.Background(), NewSliceIterator([]string{"1", "2", "3"}))
	require.ErrorIs(t, err, harvest.ErrRetriesExhausted)
	assert.Zero(t, sum.Accepted)
	assert.Equal(t, int32(1), detailHits.Load())
	assert.Equal(t, int32(3), enrichHits.Load())

	counts, err := store.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, harvest.Counts{}, counts)
}
