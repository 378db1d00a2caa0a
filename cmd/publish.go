package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newPublishCmd creates the downstream publisher command.
func newPublishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Send newly accepted records to the search index",
		Long: `Drains the newly-accepted FIFO in batches of --batch-size, drops adult
content, converts the remaining records into index documents and hands each
batch to the configured sink (http, pubsub or noop). A batch is removed from
the FIFO only after the sink accepted it.`,
		RunE: runPublishCommand,
	}
	cmd.Flags().String("dsn", "", "Postgres connection string")
	cmd.Flags().Int("batch-size", 50, "documents per batch")
	cmd.Flags().String("sink", "", "http, pubsub or noop")
	cmd.Flags().Bool("follow", false, "keep polling once the FIFO is empty")
	return cmd
}

func runPublishCommand(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()
	a, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a, &err)

	pub, err := a.Publisher(ctx)
	if err != nil {
		return err
	}
	stats, err := pub.Run(ctx)
	a.Logger().Info("publish finished",
		zap.String("sink", a.Config().Publish.Sink),
		zap.Int("batches", stats.Batches),
		zap.Int("sent", stats.Sent),
		zap.Int("filtered", stats.Filtered),
		zap.Int("missing", stats.Missing),
	)
	return err
}
