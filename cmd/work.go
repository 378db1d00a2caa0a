package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/dispatcher"
	"github.com/JakeFAU/steam-harvester/internal/driver"
)

// newWorkCmd creates the distributed crawl worker.
func newWorkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Consume the shared queue into the shared crawl state",
		Long: `Runs --workers drivers that pop ids from the shared queue and record each
outcome in Postgres. Every write is durable on its own, so an interrupted
worker loses at most the id it was visiting. Any number of processes may run
against the same queue; each id is handed to exactly one of them.`,
		RunE: runWorkCommand,
	}
	addCrawlFlags(cmd)
	cmd.Flags().String("dsn", "", "Postgres connection string")
	cmd.Flags().String("queue", "", "queue name")
	cmd.Flags().Int("workers", 1, "drivers in this process")
	cmd.Flags().Bool("exit-empty", false, "stop once the queue is empty instead of waiting")
	return cmd
}

func runWorkCommand(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()
	a, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a, &err)
	cfg := a.Config()

	store, err := a.StateStore(ctx)
	if err != nil {
		return err
	}
	queue, err := a.Queue(ctx)
	if err != nil {
		return err
	}
	if backlog, lerr := queue.Len(ctx); lerr == nil {
		a.Tracker().AddTotal(backlog)
	}

	stopStatus := a.ServeStatus(ctx, store, queue)
	defer stopStatus()

	drivers := make([]*driver.Driver, cfg.Work.Workers)
	for i := range drivers {
		drivers[i] = a.NewDriver(store, fmt.Sprintf("worker-%d", i))
	}
	a.Logger().Info("workers started",
		zap.String("queue", cfg.Queue.Name),
		zap.Int("workers", len(drivers)),
		zap.Bool("exit_when_empty", cfg.Work.ExitWhenEmpty),
	)
	_, err = dispatcher.New(queue, drivers, cfg.Work.ExitWhenEmpty, a.Logger()).Run(ctx)
	return err
}
