package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/worksource"
)

// newEnqueueCmd creates the command that seeds the shared work queue.
func newEnqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Seed the shared work queue with catalog ids",
		Long: `Pushes the shuffled catalog listing onto the shared queue when it is empty.
A queue that already holds ids is left alone and its backlog is reported.
Ids given with --ids-file are always pushed.`,
		RunE: runEnqueueCommand,
	}
	cmd.Flags().String("dsn", "", "Postgres connection string")
	cmd.Flags().String("queue", "", "queue name")
	cmd.Flags().String("ids-file", "", "CSV or newline separated ids to push")
	cmd.Flags().Int("preview", 10, "number of queued ids to print")
	return cmd
}

func runEnqueueCommand(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()
	a, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a, &err)

	queue, err := a.Queue(ctx)
	if err != nil {
		return err
	}
	explicit, err := a.ExplicitIDs()
	if err != nil {
		return err
	}
	preview, err := cmd.Flags().GetInt("preview")
	if err != nil {
		return fmt.Errorf("read --preview: %w", err)
	}

	res, err := worksource.NewSeeder(a.WorkSource(), queue, a.Logger().Named("seeder")).Seed(ctx, explicit, preview)
	if err != nil {
		return err
	}
	a.Logger().Info("enqueue finished",
		zap.String("queue", a.Config().Queue.Name),
		zap.Int("pushed", res.Pushed),
		zap.Int("backlog", res.Backlog),
		zap.Strings("head", res.Preview),
	)
	return nil
}
