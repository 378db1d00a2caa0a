// Package publisher drains the newly-accepted notification FIFO, turns the
// accepted records into search documents and sends them to an indexer in
// batches. Notifications are acknowledged only after their batch was sent.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/metrics"
)

const (
	defaultBatchSize    = 50
	defaultLinkPrefix   = "https://store.steampowered.com/app/"
	defaultPollInterval = 5 * time.Second
)

// Source is the shared crawl state seen from the publisher.
type Source interface {
	NextNotifications(ctx context.Context, limit int) ([]harvest.Notification, error)
	AckNotifications(ctx context.Context, seq int64) error
	Records(ctx context.Context, ids []string) (map[string]json.RawMessage, error)
}

// Indexer delivers one batch of documents.
type Indexer interface {
	Index(ctx context.Context, batch []Document) error
	Close() error
}

// Config controls batching.
type Config struct {
	BatchSize  int
	LinkPrefix string
	// Follow keeps polling an empty FIFO instead of returning.
	Follow       bool
	PollInterval time.Duration
	BlockedTerms []string
}

// Stats counts what a Run did.
type Stats struct {
	Batches  int
	Sent     int
	Filtered int
	Missing  int
}

// Publisher moves notifications from a Source to an Indexer.
type Publisher struct {
	source  Source
	indexer Indexer
	filter  *ContentFilter
	clock   harvest.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Publisher.
func New(source Source, indexer Indexer, clock harvest.Clock, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if source == nil || indexer == nil {
		return nil, errors.New("publisher needs a source and an indexer")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.LinkPrefix == "" {
		cfg.LinkPrefix = defaultLinkPrefix
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		source:  source,
		indexer: indexer,
		filter:  NewContentFilter(cfg.BlockedTerms),
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Run publishes until the FIFO is empty, or until ctx ends in follow mode.
func (p *Publisher) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	for {
		notes, err := p.source.NextNotifications(ctx, p.cfg.BatchSize)
		if err != nil {
			return stats, fmt.Errorf("read notifications: %w", err)
		}
		if len(notes) == 0 {
			if !p.cfg.Follow {
				p.logFinished(stats)
				return stats, nil
			}
			if err := wait(ctx, p.cfg.PollInterval); err != nil {
				p.logFinished(stats)
				return stats, err
			}
			continue
		}
		if err := p.publishBatch(ctx, notes, &stats); err != nil {
			return stats, err
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context, notes []harvest.Notification, stats *Stats) error {
	ids := make([]string, 0, len(notes))
	seen := make(map[string]struct{}, len(notes))
	for _, n := range notes {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		ids = append(ids, n.ID)
	}
	records, err := p.source.Records(ctx, ids)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	now := p.now()
	docs := make([]Document, 0, len(ids))
	filtered, missing := 0, 0
	for _, id := range ids {
		raw, ok := records[id]
		if !ok {
			missing++
			continue
		}
		doc, rec, err := buildDocument(id, raw, p.cfg.LinkPrefix, now)
		if err != nil {
			p.logger.Warn("skipping undecodable record", zap.String("id", id), zap.Error(err))
			missing++
			continue
		}
		if p.filter.blocked(rec, tagNames(rec.Tags)) {
			filtered++
			continue
		}
		docs = append(docs, doc)
	}

	if len(docs) > 0 {
		if err := p.indexer.Index(ctx, docs); err != nil {
			metrics.ObservePublished("error", len(docs))
			return fmt.Errorf("index batch of %d: %w", len(docs), err)
		}
	}
	if err := p.source.AckNotifications(context.WithoutCancel(ctx), notes[len(notes)-1].Seq); err != nil {
		return fmt.Errorf("ack notifications: %w", err)
	}

	stats.Batches++
	stats.Sent += len(docs)
	stats.Filtered += filtered
	stats.Missing += missing
	metrics.ObservePublished("sent", len(docs))
	metrics.ObservePublished("filtered", filtered)
	metrics.ObservePublished("missing", missing)
	p.logger.Info("batch published",
		zap.Int("sent", len(docs)),
		zap.Int("filtered", filtered),
		zap.Int("missing", missing),
	)
	return nil
}

func (p *Publisher) now() time.Time {
	if p.clock == nil {
		return time.Now().UTC()
	}
	return p.clock.Now()
}

func (p *Publisher) logFinished(stats Stats) {
	p.logger.Info("publisher finished",
		zap.Int("batches", stats.Batches),
		zap.Int("sent", stats.Sent),
		zap.Int("filtered", stats.Filtered),
		zap.Int("missing", stats.Missing),
	)
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
