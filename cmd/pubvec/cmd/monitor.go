package cmd

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pubvec/pubvec/internal/monitor"
)

func newMonitorCmd() *cobra.Command {
	var (
		checkpoint string
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Follow a running ingestion from its checkpoint file",
		Long: `Watch the checkpoint file of a scale or bulk run and render progress:
jobs done, articles and chunks stored, errors, and an ETA. Read-only, so
it can run in a second terminal alongside the ingesting process.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := checkpoint
			if path == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				path = cfg.Pipeline.CheckpointPath
			}

			m, err := monitor.New(monitor.Options{
				CheckpointPath: path,
				Interval:       interval,
				Output:         os.Stdout,
			})
			if err != nil {
				return err
			}

			err = m.Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "Checkpoint file path (default from config)")
	cmd.Flags().DurationVar(&interval, "interval", monitor.DefaultInterval, "Polling interval")

	return cmd
}
