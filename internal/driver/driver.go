// Package driver runs the crawl loop: it pulls ids from an iterator, skips
// resolved ones, fetches and classifies the rest, records the outcome and
// checkpoints the state store.
package driver

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/classify"
	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/metrics"
	"github.com/JakeFAU/steam-harvester/internal/progress"
	"github.com/JakeFAU/steam-harvester/internal/requester"
)

const (
	defaultSleep             = 1500 * time.Millisecond
	defaultBackoffCap        = 4 * time.Second
	defaultJitterProbability = 0.1
)

// Catalog is the remote item catalog.
type Catalog interface {
	Details(ctx context.Context, id string, policy requester.Policy, state requester.Backoff) ([]byte, requester.Backoff, error)
	Enrichment(ctx context.Context, id string, policy requester.Policy, state requester.Backoff) (*harvest.Popularity, requester.Backoff, error)
}

// Config controls pacing, retries and checkpoint cadence.
type Config struct {
	// Sleep is the pause after every processed id.
	Sleep time.Duration
	// BackoffCap bounds the backoff seed, which is min(Sleep, BackoffCap).
	BackoffCap time.Duration
	// Retries after the first failed attempt; 0 retries forever.
	Retries int
	// Autosave checkpoints a collection every N new entries; 0 disables it.
	Autosave        int
	SkipNotReleased bool
	Enrich          bool
	// JitterProbability is the chance that a pause is doubled.
	JitterProbability float64
}

// Summary counts what one run changed.
type Summary struct {
	Accepted   int
	Pending    int
	Discarded  int
	Skipped    int
	Unresolved int
}

// Processed is the number of ids that went to the network.
func (s Summary) Processed() int {
	return s.Accepted + s.Pending + s.Discarded + s.Unresolved
}

// Add merges another summary.
func (s Summary) Add(o Summary) Summary {
	return Summary{
		Accepted:   s.Accepted + o.Accepted,
		Pending:    s.Pending + o.Pending,
		Discarded:  s.Discarded + o.Discarded,
		Skipped:    s.Skipped + o.Skipped,
		Unresolved: s.Unresolved + o.Unresolved,
	}
}

// Option customizes a Driver.
type Option func(*Driver)

// WithSleeper replaces the pacing sleeper.
func WithSleeper(s requester.Sleeper) Option {
	return func(d *Driver) { d.sleeper = s }
}

// WithRand sets the jitter source.
func WithRand(r *rand.Rand) Option {
	return func(d *Driver) { d.rng = r }
}

// WithTracker reports outcomes to a shared progress tracker.
func WithTracker(t *progress.Tracker) Option {
	return func(d *Driver) { d.tracker = t }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithName labels the driver in logs.
func WithName(name string) Option {
	return func(d *Driver) { d.name = name }
}

// Driver is one sequential crawl loop. A Driver is not safe for concurrent
// Run calls; run several drivers instead.
type Driver struct {
	catalog Catalog
	store   harvest.Store
	cfg     Config
	sleeper requester.Sleeper
	rng     *rand.Rand
	tracker *progress.Tracker
	logger  *zap.Logger
	name    string
}

// New constructs a Driver.
func New(catalog Catalog, store harvest.Store, cfg Config, opts ...Option) *Driver {
	if cfg.Sleep < 0 {
		cfg.Sleep = defaultSleep
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaultBackoffCap
	}
	if cfg.JitterProbability < 0 {
		cfg.JitterProbability = defaultJitterProbability
	}
	d := &Driver{
		catalog: catalog,
		store:   store,
		cfg:     cfg,
		sleeper: requester.TimerSleeper{},
		name:    "driver",
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.rng == nil {
		d.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	d.logger = d.logger.With(zap.String("driver", d.name))
	return d
}

type loop struct {
	details requester.Backoff
	enrich  requester.Backoff
	policy  requester.Policy
	sum     Summary
	// new entries per collection since the last autosave
	fresh map[harvest.Collection]int
}

// Run processes ids until the iterator is exhausted, ctx ends or a fatal
// error occurs. A full checkpoint is written on every exit path, detached
// from ctx so an interrupt still flushes state.
func (d *Driver) Run(ctx context.Context, it Iterator) (sum Summary, err error) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	seed := min(d.cfg.Sleep, d.cfg.BackoffCap)
	l := &loop{
		details: requester.NewBackoff(seed),
		enrich:  requester.NewBackoff(seed),
		policy:  requester.Policy{Retries: d.cfg.Retries, Floor: seed},
		fresh:   make(map[harvest.Collection]int),
	}

	defer func() {
		sum = l.sum
		if cpErr := d.store.Checkpoint(context.WithoutCancel(ctx)); cpErr != nil {
			d.logger.Error("final checkpoint failed", zap.Error(cpErr))
			err = errors.Join(err, cpErr)
		}
		d.logger.Info("crawl finished",
			zap.Int("accepted", l.sum.Accepted),
			zap.Int("pending_release", l.sum.Pending),
			zap.Int("discarded", l.sum.Discarded),
			zap.Int("skipped", l.sum.Skipped),
			zap.Int("unresolved", l.sum.Unresolved),
		)
	}()

	for {
		id, ok, err := it.Next(ctx)
		if err != nil {
			return l.sum, fmt.Errorf("next id: %w", err)
		}
		if !ok {
			return l.sum, nil
		}
		if err := d.step(ctx, l, id); err != nil {
			return l.sum, err
		}
	}
}

func (d *Driver) step(ctx context.Context, l *loop, id string) error {
	status, err := d.store.Status(ctx, id)
	if err != nil {
		return err
	}
	if d.skip(status) {
		l.sum.Skipped++
		d.tracker.Skip()
		metrics.ObserveItem("skipped")
		return nil
	}

	outcome, err := d.visit(ctx, l, id)
	switch {
	case errors.Is(err, harvest.ErrMalformedPayload):
		d.logger.Error("could not classify item, leaving it unresolved", zap.String("id", id), zap.Error(err))
		l.sum.Unresolved++
		d.tracker.Unresolved()
		metrics.ObserveItem("unresolved")
	case err != nil:
		return err
	default:
		if err := d.record(ctx, l, id, status, outcome); err != nil {
			return err
		}
	}
	return d.pace(ctx)
}

func (d *Driver) skip(status harvest.Status) bool {
	switch status {
	case harvest.StatusAccepted, harvest.StatusDiscarded:
		return true
	case harvest.StatusPending:
		return d.cfg.SkipNotReleased
	default:
		return false
	}
}

// visit fetches, classifies and optionally enriches one id. Nothing is
// written to the store here.
func (d *Driver) visit(ctx context.Context, l *loop, id string) (harvest.Outcome, error) {
	policy := l.policy
	policy.Endpoint = "details"
	body, next, err := d.catalog.Details(ctx, id, policy, l.details)
	l.details = next
	if err != nil {
		return harvest.Outcome{}, err
	}

	outcome, err := classify.Classify(id, body)
	if err != nil {
		return harvest.Outcome{}, err
	}
	if outcome.Kind != harvest.OutcomeAccepted || !d.cfg.Enrich {
		return outcome, nil
	}

	policy.Endpoint = "enrichment"
	pop, next, err := d.catalog.Enrichment(ctx, id, policy, l.enrich)
	l.enrich = next
	if err != nil {
		return harvest.Outcome{}, err
	}
	if pop == nil {
		d.logger.Debug("no popularity statistics, storing zeroed fields", zap.String("id", id))
	}
	rec := classify.ApplyEnrichment(*outcome.Record, pop)
	outcome.Record = &rec
	return outcome, nil
}

// record applies the outcome. The write is detached from ctx: once an item
// is classified its state change is completed even during shutdown.
func (d *Driver) record(ctx context.Context, l *loop, id string, prior harvest.Status, outcome harvest.Outcome) error {
	wctx := context.WithoutCancel(ctx)
	var (
		col   harvest.Collection
		isNew = true
		err   error
	)
	switch outcome.Kind {
	case harvest.OutcomeAccepted:
		col = harvest.CollectionAccepted
		err = d.store.RecordAccepted(wctx, id, *outcome.Record)
		l.sum.Accepted++
	case harvest.OutcomePending:
		col = harvest.CollectionPending
		err = d.store.RecordPending(wctx, id)
		isNew = prior != harvest.StatusPending
		if isNew {
			l.sum.Pending++
		}
	case harvest.OutcomeDiscarded:
		col = harvest.CollectionDiscarded
		err = d.store.RecordDiscarded(wctx, id)
		l.sum.Discarded++
	default:
		return fmt.Errorf("unknown outcome %q for %s", outcome.Kind, id)
	}
	if err != nil {
		return err
	}
	d.tracker.Observe(outcome.Kind)
	metrics.ObserveItem(string(outcome.Kind))

	if !isNew || d.cfg.Autosave <= 0 {
		return nil
	}
	l.fresh[col]++
	if l.fresh[col]%d.cfg.Autosave != 0 {
		return nil
	}
	d.logger.Debug("autosave", zap.String("collection", string(col)), zap.Int("new", l.fresh[col]))
	return d.store.Checkpoint(wctx, col)
}

// pace sleeps the base interval, doubled with the configured probability.
func (d *Driver) pace(ctx context.Context) error {
	if d.cfg.Sleep <= 0 {
		return nil
	}
	delay := d.cfg.Sleep
	if d.rng.Float64() < d.cfg.JitterProbability {
		delay *= 2
	}
	return d.sleeper.Sleep(ctx, delay)
}
