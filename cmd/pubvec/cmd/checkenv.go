package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pubvec/pubvec/internal/preflight"
)

func newCheckEnvCmd() *cobra.Command {
	var (
		probe   bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "check-env",
		Short: "Verify credentials and configuration before a run",
		Long: `Check that DATABASE_URL and OPENAI_API_KEY are set and well-formed and
that the checkpoint directory is writable. With --probe, additionally
connect to the database, the embedding API and PubMed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			checker := preflight.New(cfg,
				preflight.WithProbe(probe),
				preflight.WithVerbose(verbose),
				preflight.WithOutput(cmd.OutOrStdout()),
			)
			results := checker.RunAll(cmd.Context())
			checker.PrintResults(results)

			if checker.HasCriticalFailures(results) {
				return fmt.Errorf("environment check failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "Run live connectivity probes")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show check details")

	return cmd
}
