package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/app"
	"github.com/JakeFAU/steam-harvester/internal/dispatcher"
	"github.com/JakeFAU/steam-harvester/internal/driver"
	"github.com/JakeFAU/steam-harvester/internal/harvest"
	queueMemory "github.com/JakeFAU/steam-harvester/internal/queue/memory"
)

// newCrawlCmd creates the single-process crawl over local JSON files.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the catalog into local JSON files",
		Long: `Loads the accepted dataset, the not-yet-released list and the discarded
list, then visits every catalog id that is not already settled. State is
checkpointed every --autosave new entries and once more on exit, including
after an interrupt or a fatal error.`,
		RunE: runCrawlCommand,
	}
	addCrawlFlags(cmd)
	cmd.Flags().String("dataset", "", "accepted dataset path (read and written)")
	cmd.Flags().String("ids-file", "", "CSV or newline separated ids to (re)crawl instead of the full catalog")
	cmd.Flags().Int("workers", 1, "concurrent drivers sharing the local state")
	return cmd
}

// addCrawlFlags registers the pacing and classification flags shared by
// crawl and work.
func addCrawlFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("sleep", 1500*time.Millisecond, "pause after every processed id")
	cmd.Flags().Int("retries", 4, "retries per request (0 retries forever)")
	cmd.Flags().Int("autosave", 100, "checkpoint every N new entries (0 disables)")
	cmd.Flags().Bool("released", true, "skip ids already known to be unreleased")
	cmd.Flags().Bool("enrich", true, "attach popularity statistics to accepted records")
	cmd.Flags().String("currency", "us", "store currency code")
	cmd.Flags().String("language", "en", "store language code")
}

func runCrawlCommand(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()
	a, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a, &err)
	logger := a.Logger()

	store, err := a.FileStore(ctx)
	if err != nil {
		return err
	}
	explicit, err := a.ExplicitIDs()
	if err != nil {
		return err
	}
	ids, err := a.WorkSource().List(ctx, explicit)
	if err != nil {
		return fmt.Errorf("build work list: %w", err)
	}
	a.Tracker().AddTotal(len(ids))

	stopStatus := a.ServeStatus(ctx, store, nil)
	defer stopStatus()

	logger.Info("crawl started",
		zap.Int("ids", len(ids)),
		zap.Int("workers", a.Config().Work.Workers),
		zap.Bool("explicit", len(explicit) > 0),
	)
	sum, err := crawlIDs(ctx, a, store, ids)
	logger.Info("crawl command finished",
		zap.Int("accepted", sum.Accepted),
		zap.Int("pending_release", sum.Pending),
		zap.Int("discarded", sum.Discarded),
		zap.Int("skipped", sum.Skipped),
		zap.Int("unresolved", sum.Unresolved),
	)
	return err
}

// crawlIDs runs one driver over ids, or several drivers fed by an in-memory
// queue when more than one worker is configured.
func crawlIDs(ctx context.Context, a *app.App, store harvest.Store, ids []string) (driver.Summary, error) {
	workers := a.Config().Work.Workers
	if workers <= 1 {
		return a.NewDriver(store, "crawl").Run(ctx, driver.NewSliceIterator(ids))
	}

	queue := queueMemory.NewQueue()
	defer queue.Close() //nolint:errcheck // closing an in-memory queue cannot fail
	if err := queue.Push(ctx, ids...); err != nil {
		return driver.Summary{}, fmt.Errorf("fill local queue: %w", err)
	}
	drivers := make([]*driver.Driver, workers)
	for i := range drivers {
		drivers[i] = a.NewDriver(store, fmt.Sprintf("crawl-%d", i))
	}
	return dispatcher.New(queue, drivers, true, a.Logger()).Run(ctx)
}
