package worksource

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
)

// SeedResult describes what Seed did.
type SeedResult struct {
	// Pushed is the number of ids appended by this call.
	Pushed int
	// Backlog is the queue length after seeding.
	Backlog int
	// Preview holds the head of the queue in pop order.
	Preview []string
}

// Seeder fills the shared queue for a distributed campaign.
type Seeder struct {
	source *Source
	queue  harvest.Queue
	logger *zap.Logger
}

// NewSeeder constructs a Seeder.
func NewSeeder(source *Source, queue harvest.Queue, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{source: source, queue: queue, logger: logger}
}

// Seed pushes the full catalog only when the queue is empty; a queue that
// already holds ids is reported as the live backlog. Explicit ids are always
// pushed.
func (s *Seeder) Seed(ctx context.Context, explicit []string, previewLimit int) (SeedResult, error) {
	var res SeedResult
	backlog, err := s.queue.Len(ctx)
	if err != nil {
		return res, fmt.Errorf("queue length: %w", err)
	}

	if backlog == 0 || len(explicit) > 0 {
		ids, err := s.source.List(ctx, explicit)
		if err != nil {
			return res, err
		}
		if err := s.queue.Push(ctx, ids...); err != nil {
			return res, fmt.Errorf("seed queue: %w", err)
		}
		res.Pushed = len(ids)
		s.logger.Info("queue seeded", zap.Int("ids", len(ids)))
	} else {
		s.logger.Info("queue already has a backlog, not seeding", zap.Int("backlog", backlog))
	}

	if res.Backlog, err = s.queue.Len(ctx); err != nil {
		return res, fmt.Errorf("queue length: %w", err)
	}
	if previewLimit > 0 {
		if res.Preview, err = s.queue.Snapshot(ctx, previewLimit); err != nil {
			return res, fmt.Errorf("queue snapshot: %w", err)
		}
	}
	return res, nil
}
