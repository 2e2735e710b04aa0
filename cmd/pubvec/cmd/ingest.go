package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pubvec/pubvec/internal/config"
	"github.com/pubvec/pubvec/internal/ingest"
)

func newIngestCmd() *cobra.Command {
	var (
		topics       []string
		topicsFile   string
		recommended  bool
		maxResults   int
		fromYear     int
		toYear       int
		highEvidence bool
		dryRun       bool
		ncbiKey      string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest PubMed articles for one or more topics",
		Long: `Search PubMed for each topic, then fetch, parse, chunk, embed and store
the results. Topics come from --topic flags, a --topics-file, or the
built-in --recommended list.

Examples:
  pubvec ingest --topic "heart failure" --max 200
  pubvec ingest --topic "sepsis" --topic "stroke" --high-evidence
  pubvec ingest --topics-file topics.yaml --from-year 2015
  pubvec ingest --recommended --dry-run`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd.Context(), ingestOptions{
				topics:       topics,
				topicsFile:   topicsFile,
				recommended:  recommended,
				maxResults:   maxResults,
				fromYear:     fromYear,
				toYear:       toYear,
				highEvidence: highEvidence,
				dryRun:       dryRun,
				ncbiKey:      ncbiKey,
			})
		},
	}

	cmd.Flags().StringArrayVar(&topics, "topic", nil, "Topic to ingest (repeatable)")
	cmd.Flags().StringVar(&topicsFile, "topics-file", "", "File with one topic per line (or YAML list)")
	cmd.Flags().BoolVar(&recommended, "recommended", false, "Use the built-in recommended topic list")
	cmd.Flags().IntVar(&maxResults, "max", 100, "Maximum articles per topic")
	cmd.Flags().IntVar(&fromYear, "from-year", 0, "Only articles published in or after this year")
	cmd.Flags().IntVar(&toYear, "to-year", 0, "Only articles published in or before this year")
	cmd.Flags().BoolVar(&highEvidence, "high-evidence", false, "Restrict to high-evidence publication types")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Stop after chunking; no embedding, no writes")
	cmd.Flags().StringVar(&ncbiKey, "ncbi-key", "", "NCBI API key (overrides NCBI_API_KEY)")

	return cmd
}

type ingestOptions struct {
	topics       []string
	topicsFile   string
	recommended  bool
	maxResults   int
	fromYear     int
	toYear       int
	highEvidence bool
	dryRun       bool
	ncbiKey      string
}

func runIngest(ctx context.Context, opts ingestOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyIngestOverrides(cfg, opts)

	topics, err := resolveTopics(opts.topics, opts.topicsFile, opts.recommended)
	if err != nil {
		return err
	}

	renderer := newRenderer()
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	deps, cleanup, err := buildDependencies(ctx, cfg, renderer, opts.dryRun)
	if err != nil {
		return err
	}
	defer cleanup()

	orch, err := ingest.NewOrchestrator(deps)
	if err != nil {
		return err
	}

	pool := ingest.NewPool(ingest.PoolOptions{
		Orchestrator: orch,
		Renderer:     renderer,
		Workers:      cfg.Pipeline.Workers,
	})

	cp := ingest.NewCheckpoint(ingest.TopicJobs(topics, opts.maxResults))
	_, err = pool.Run(ctx, cp)
	if err != nil {
		return err
	}

	_ = renderer.Stop()
	printJobSummaries(os.Stdout, cp.Jobs())
	if n := totalErrors(cp.Jobs()); n > 0 {
		return fmt.Errorf("%d errors during ingestion", n)
	}
	return nil
}

func applyIngestOverrides(cfg *config.Config, opts ingestOptions) {
	if opts.ncbiKey != "" {
		cfg.Pipeline.NCBIAPIKey = opts.ncbiKey
	}
	applySearchOverrides(cfg, opts.fromYear, opts.toYear, opts.highEvidence)
}

func resolveTopics(flags []string, file string, recommended bool) ([]string, error) {
	topics := append([]string(nil), flags...)
	if file != "" {
		fromFile, err := config.LoadTopicsFile(file)
		if err != nil {
			return nil, err
		}
		topics = append(topics, fromFile...)
	}
	if recommended {
		topics = append(topics, ingest.RecommendedTopics...)
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("no topics given: use --topic, --topics-file or --recommended")
	}

	// Drop duplicates but keep first-seen order.
	seen := make(map[string]bool, len(topics))
	out := topics[:0]
	for _, t := range topics {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out, nil
}
