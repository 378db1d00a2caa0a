// Package app initializes and holds long-lived services, acting as the
// dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/api"
	"github.com/JakeFAU/steam-harvester/internal/archive"
	"github.com/JakeFAU/steam-harvester/internal/clock/system"
	"github.com/JakeFAU/steam-harvester/internal/config"
	"github.com/JakeFAU/steam-harvester/internal/driver"
	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/hash/sha256"
	"github.com/JakeFAU/steam-harvester/internal/id/uuid"
	"github.com/JakeFAU/steam-harvester/internal/metrics"
	"github.com/JakeFAU/steam-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/steam-harvester/internal/progress"
	"github.com/JakeFAU/steam-harvester/internal/publisher"
	"github.com/JakeFAU/steam-harvester/internal/publisher/httpindex"
	pubsubindex "github.com/JakeFAU/steam-harvester/internal/publisher/pubsub"
	queuepg "github.com/JakeFAU/steam-harvester/internal/queue/postgres"
	"github.com/JakeFAU/steam-harvester/internal/requester"
	"github.com/JakeFAU/steam-harvester/internal/state/file"
	statepg "github.com/JakeFAU/steam-harvester/internal/state/postgres"
	"github.com/JakeFAU/steam-harvester/internal/steamapi"
	"github.com/JakeFAU/steam-harvester/internal/storage"
	"github.com/JakeFAU/steam-harvester/internal/storage/gcs"
	"github.com/JakeFAU/steam-harvester/internal/storage/local"
	storagepg "github.com/JakeFAU/steam-harvester/internal/storage/postgres"
	"github.com/JakeFAU/steam-harvester/internal/worksource"
)

// Option customizes an App, mostly for tests.
type Option func(*App)

// WithDB injects the shared database instead of dialing postgres.dsn.
func WithDB(db storagepg.DB) Option {
	return func(a *App) { a.db = db }
}

// WithHTTPClient replaces the client used for catalog and indexing requests.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.httpClient = c }
}

// WithClock replaces the wall clock.
func WithClock(c harvest.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithSleeper replaces the sleeper used for retries and pacing.
func WithSleeper(s requester.Sleeper) Option {
	return func(a *App) { a.sleeper = s }
}

// App holds the shared services of one process. Services that dial out are
// created on first use and released by Close.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	clock      harvest.Clock
	ids        harvest.IDGenerator
	sleeper    requester.Sleeper
	httpClient *http.Client
	tracker    *progress.Tracker
	req        *requester.Requester
	catalog    *steamapi.Client

	mu      sync.Mutex
	db      storagepg.DB
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// New builds an App from cfg. It performs no I/O.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		ids:    uuid.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.clock == nil {
		a.clock = system.New()
	}
	if a.sleeper == nil {
		a.sleeper = requester.TimerSleeper{}
	}
	metrics.Init()

	a.tracker = progress.NewTracker(a.clock, logger.Named("progress"), cfg.Crawl.ProgressEvery)
	a.req = requester.New(a.httpClient, requester.Config{
		Timeout:   cfg.API.Timeout,
		UserAgent: cfg.API.UserAgent,
	}, a.sleeper, logger.Named("requester"))

	var limiter *ratelimit.Limiter
	if cfg.API.EnrichmentRPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			PerHost: map[string]float64{
				metrics.SanitizeHost(cfg.API.EnrichmentURL): cfg.API.EnrichmentRPS,
			},
		})
	}
	a.catalog = steamapi.New(a.req, limiter, steamapi.Config{
		AppListURL:    cfg.API.AppListURL,
		DetailsURL:    cfg.API.DetailsURL,
		EnrichmentURL: cfg.API.EnrichmentURL,
		Currency:      cfg.API.Currency,
		Language:      cfg.API.Language,
	}, logger.Named("steamapi"))
	return a, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Tracker returns the process-wide progress tracker.
func (a *App) Tracker() *progress.Tracker { return a.tracker }

// Catalog returns the catalog API client.
func (a *App) Catalog() *steamapi.Client { return a.catalog }

// WorkSource builds the id source backed by the catalog listing and its cache.
func (a *App) WorkSource() *worksource.Source {
	return worksource.New(a.catalog, worksource.Config{
		CachePath: a.cfg.Crawl.AppListPath,
		Shuffle:   a.cfg.Work.Shuffle,
		Policy:    requester.Policy{Endpoint: "applist", Retries: a.cfg.Crawl.Retries},
		Seed:      min(a.cfg.Crawl.Sleep, a.cfg.Crawl.BackoffCap),
	}, nil, a.logger.Named("worksource"))
}

// ExplicitIDs reads crawl.ids_file, or returns nil when it is unset. A set
// file without any ids is an empty work source, never a full catalog crawl.
func (a *App) ExplicitIDs() ([]string, error) {
	if a.cfg.Crawl.IDsFile == "" {
		return nil, nil
	}
	ids, err := worksource.ReadIDsFile(a.cfg.Crawl.IDsFile)
	if err != nil {
		return nil, fmt.Errorf("read ids file: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: %s holds no ids", harvest.ErrEmptyWorkSource, a.cfg.Crawl.IDsFile)
	}
	return ids, nil
}

// DriverConfig maps the crawl section onto driver settings.
func (a *App) DriverConfig() driver.Config {
	return driver.Config{
		Sleep:             a.cfg.Crawl.Sleep,
		BackoffCap:        a.cfg.Crawl.BackoffCap,
		Retries:           a.cfg.Crawl.Retries,
		Autosave:          a.cfg.Crawl.Autosave,
		SkipNotReleased:   a.cfg.Crawl.SkipNotReleased,
		Enrich:            a.cfg.Crawl.Enrich,
		JitterProbability: a.cfg.Crawl.Jitter,
	}
}

// NewDriver builds one crawl driver over store.
func (a *App) NewDriver(store harvest.Store, name string) *driver.Driver {
	return driver.New(a.catalog, store, a.DriverConfig(),
		driver.WithName(name),
		driver.WithLogger(a.logger),
		driver.WithTracker(a.tracker),
		driver.WithSleeper(a.sleeper),
		driver.WithRand(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))),
	)
}

// Archiver builds the snapshot archiver selected by archive.provider, or nil
// when archiving is disabled.
func (a *App) Archiver(ctx context.Context) (*archive.Archiver, error) {
	var blobs storage.BlobStore
	switch a.cfg.Archive.Provider {
	case config.ArchiveNoop, "":
		return nil, nil
	case config.ArchiveLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive: %w", err)
		}
		blobs = store
	case config.ArchiveGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		a.addCloser("gcs client", client.Close)
		store, err := gcs.New(client, gcs.Config{
			Bucket:   a.cfg.Archive.Bucket,
			Metadata: map[string]string{"source": "steam-harvester"},
		})
		if err != nil {
			return nil, fmt.Errorf("gcs archive: %w", err)
		}
		blobs = store
	default:
		return nil, fmt.Errorf("unknown archive provider %q", a.cfg.Archive.Provider)
	}
	arch, err := archive.New(blobs, a.cfg.Archive.Prefix, a.ids, a.logger.Named("archive"))
	if err != nil {
		return nil, fmt.Errorf("archiver: %w", err)
	}
	a.logger.Info("archiving snapshots",
		zap.String("provider", a.cfg.Archive.Provider),
		zap.String("run_id", arch.RunID()),
	)
	return arch, nil
}

// FileStore opens the three local documents of a single-process crawl.
func (a *App) FileStore(ctx context.Context) (*file.Store, error) {
	opts := []file.Option{file.WithLogger(a.logger.Named("state"))}
	if !a.cfg.Crawl.Backup {
		opts = append(opts, file.WithoutBackup())
	}
	arch, err := a.Archiver(ctx)
	if err != nil {
		return nil, err
	}
	if arch != nil {
		opts = append(opts, file.WithArchiver(arch))
	}
	store, err := file.Open(file.Paths{
		Accepted:  a.cfg.Crawl.DatasetPath,
		Pending:   a.cfg.Crawl.NotReleasedPath,
		Discarded: a.cfg.Crawl.DiscardedPath,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("open crawl state: %w", err)
	}
	return store, nil
}

// DB returns the shared database, dialing it on first use.
func (a *App) DB(ctx context.Context) (storagepg.DB, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		if err := a.cfg.RequirePostgres(); err != nil {
			return nil, err
		}
		pool, err := storagepg.NewPool(ctx, storagepg.Config{
			DSN:      a.cfg.Postgres.DSN,
			MaxConns: a.cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", harvest.ErrPersistence, err)
		}
		a.db = pool
	}
	return a.db, nil
}

// StateStore opens the shared crawl state and ensures its tables exist.
func (a *App) StateStore(ctx context.Context) (*statepg.Store, error) {
	db, err := a.DB(ctx)
	if err != nil {
		return nil, err
	}
	store, err := statepg.NewWithDB(db, sha256.New(), a.logger.Named("state"))
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Queue opens the shared work queue and ensures its table exists.
func (a *App) Queue(ctx context.Context) (*queuepg.Queue, error) {
	db, err := a.DB(ctx)
	if err != nil {
		return nil, err
	}
	q, err := queuepg.New(db, queuepg.Config{
		Name:         a.cfg.Queue.Name,
		PollInterval: a.cfg.Queue.PollInterval,
	})
	if err != nil {
		return nil, err
	}
	if err := q.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

// Indexer builds the sink selected by publish.sink.
func (a *App) Indexer(ctx context.Context) (publisher.Indexer, error) {
	var (
		idx publisher.Indexer
		err error
	)
	switch a.cfg.Publish.Sink {
	case config.SinkHTTP:
		idx, err = httpindex.New(a.req, httpindex.Config{
			Endpoint: a.cfg.Publish.Endpoint,
			Dataset:  a.cfg.Publish.Dataset,
			APIKey:   a.cfg.Publish.APIKey,
			Retries:  a.cfg.Crawl.Retries,
			Backoff:  min(a.cfg.Crawl.Sleep, a.cfg.Crawl.BackoffCap),
		})
	case config.SinkPubSub:
		idx, err = pubsubindex.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic, a.ids)
	case config.SinkNoop, "":
		idx = discardIndexer{logger: a.logger.Named("publisher")}
	default:
		err = fmt.Errorf("unknown publish sink %q", a.cfg.Publish.Sink)
	}
	if err != nil {
		return nil, fmt.Errorf("indexer: %w", err)
	}
	a.addCloser("indexer", idx.Close)
	return idx, nil
}

// Publisher wires the shared state to the configured sink.
func (a *App) Publisher(ctx context.Context) (*publisher.Publisher, error) {
	store, err := a.StateStore(ctx)
	if err != nil {
		return nil, err
	}
	idx, err := a.Indexer(ctx)
	if err != nil {
		return nil, err
	}
	return publisher.New(store, idx, a.clock, publisher.Config{
		BatchSize:    a.cfg.Publish.BatchSize,
		LinkPrefix:   a.cfg.Publish.LinkPrefix,
		Follow:       a.cfg.Publish.Follow,
		PollInterval: a.cfg.Publish.PollInterval,
		BlockedTerms: a.cfg.Publish.BlockedTerms,
	}, a.logger.Named("publisher"))
}

// ServeStatus runs the status server in the background when metrics.addr is
// set. The returned function stops it and waits for shutdown.
func (a *App) ServeStatus(ctx context.Context, store api.Counter, queue harvest.Queue) func() {
	if a.cfg.Metrics.Addr == "" {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	srv := api.NewServer(a.tracker, store, queue, a.logger.Named("api"))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.ListenAndServe(ctx, a.cfg.Metrics.Addr); err != nil {
			a.logger.Error("status server failed", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (a *App) addCloser(name string, fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Close releases every service in reverse order of creation, then the shared
// database.
func (a *App) Close() error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	db := a.db
	a.db = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].close(); err != nil {
			a.logger.Warn("close failed", zap.String("service", closers[i].name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", closers[i].name, err))
		}
	}
	if db != nil {
		db.Close()
	}
	return errors.Join(errs...)
}

// discardIndexer drops every batch. It backs publish.sink=noop dry runs.
type discardIndexer struct {
	logger *zap.Logger
}

func (d discardIndexer) Index(_ context.Context, batch []publisher.Document) error {
	d.logger.Debug("discarding batch", zap.Int("documents", len(batch)))
	return nil
}

func (discardIndexer) Close() error { return nil }
