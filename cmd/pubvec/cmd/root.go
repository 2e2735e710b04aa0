// Package cmd provides the CLI commands for pubvec.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pubvec/pubvec/internal/config"
	"github.com/pubvec/pubvec/internal/logging"
	"github.com/pubvec/pubvec/internal/ui"
	"github.com/pubvec/pubvec/pkg/version"
)

var (
	debugMode      bool
	plainOutput    bool
	noColor        bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the pubvec CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pubvec",
		Short: "PubMed evidence ingestion pipeline for pgvector",
		Long: `PubVec ingests medical literature from PubMed into a Postgres/pgvector
evidence base: it searches or reads article identifiers, fetches and parses
the XML records, classifies evidence levels, chunks abstracts with their
citation context, embeds the chunks, and upserts everything keyed on
(pmid, chunk_index).

Credentials come from the environment (or a .env file in the working
directory): DATABASE_URL and OPENAI_API_KEY are required, NCBI_API_KEY is
optional but raises the PubMed rate limit from 3 to 10 requests/second.

Run 'pubvec check-env' first to verify the setup.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("pubvec version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.pubvec/logs/")
	cmd.PersistentFlags().BoolVar(&plainOutput, "plain", false, "Force plain text progress output")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newScaleCmd())
	cmd.AddCommand(newBulkCmd())
	cmd.AddCommand(newMonitorCmd())
	cmd.AddCommand(newCheckEnvCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command with signal-aware context cancellation.
// Ctrl+C cancels the run; the pool saves a final checkpoint on the way out.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return NewRootCmd().ExecuteContext(ctx)
}

func startLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}
	if v := os.Getenv("PUBVEC_LOG_LEVEL"); v != "" && !debugMode {
		cfg.Level = v
	}

	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("pubvec starting",
		slog.String("version", version.Version),
		slog.String("log_file", cfg.FilePath))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// loadConfig loads configuration from the working directory.
func loadConfig() (*config.Config, error) {
	return config.Load(".")
}

// newRenderer builds the progress renderer honoring the global flags.
func newRenderer() ui.Renderer {
	return ui.NewRenderer(ui.NewConfig(os.Stdout,
		ui.WithForcePlain(plainOutput),
		ui.WithNoColor(noColor || ui.DetectNoColor()),
	))
}
