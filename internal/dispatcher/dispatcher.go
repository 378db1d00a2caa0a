// Package dispatcher fans a shared work queue out to several crawl drivers.
package dispatcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/steam-harvester/internal/driver"
	"github.com/JakeFAU/steam-harvester/internal/harvest"
)

// Dispatcher runs drivers concurrently over one queue. The first driver to
// fail cancels the others.
type Dispatcher struct {
	queue         harvest.Queue
	drivers       []*driver.Driver
	exitWhenEmpty bool
	logger        *zap.Logger
}

// New creates a Dispatcher. With exitWhenEmpty each driver stops once the
// queue is empty instead of waiting for more ids.
func New(queue harvest.Queue, drivers []*driver.Driver, exitWhenEmpty bool, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:         queue,
		drivers:       drivers,
		exitWhenEmpty: exitWhenEmpty,
		logger:        logger,
	}
}

// Run blocks until every driver returns and reports their combined summary.
func (d *Dispatcher) Run(ctx context.Context) (driver.Summary, error) {
	if len(d.drivers) == 0 {
		return driver.Summary{}, fmt.Errorf("dispatcher has no drivers")
	}
	summaries := make([]driver.Summary, len(d.drivers))
	g, gctx := errgroup.WithContext(ctx)
	for i, drv := range d.drivers {
		g.Go(func() error {
			sum, err := drv.Run(gctx, driver.NewQueueIterator(d.queue, d.exitWhenEmpty))
			summaries[i] = sum
			if err != nil {
				return fmt.Errorf("driver %d: %w", i, err)
			}
			return nil
		})
	}
	err := g.Wait()

	var total driver.Summary
	for _, s := range summaries {
		total = total.Add(s)
	}
	d.logger.Info("all drivers stopped",
		zap.Int("drivers", len(d.drivers)),
		zap.Int("accepted", total.Accepted),
		zap.Int("pending_release", total.Pending),
		zap.Int("discarded", total.Discarded),
	)
	return total, err
}
