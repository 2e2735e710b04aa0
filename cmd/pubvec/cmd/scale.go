package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pubvec/pubvec/internal/config"
	"github.com/pubvec/pubvec/internal/ingest"
)

func newScaleCmd() *cobra.Command {
	var (
		topicsFile   string
		workers      int
		maxPerTopic  int
		fromYear     int
		toYear       int
		highEvidence bool
		checkpoint   string
		resume       bool
		ncbiKey      string
	)

	cmd := &cobra.Command{
		Use:   "scale",
		Short: "Run a large checkpointed ingestion across many topics",
		Long: `Process a long topic list with a worker pool and a checkpoint file.
Progress is saved after every wave of workers; an interrupted run
continues where it left off with --resume.

Examples:
  pubvec scale --topics-file topics.yaml --workers 5 --max-per-topic 5000
  pubvec scale --topics-file topics.yaml --resume
  pubvec monitor   # in a second terminal`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScale(cmd.Context(), scaleOptions{
				topicsFile:   topicsFile,
				workers:      workers,
				maxPerTopic:  maxPerTopic,
				fromYear:     fromYear,
				toYear:       toYear,
				highEvidence: highEvidence,
				checkpoint:   checkpoint,
				resume:       resume,
				ncbiKey:      ncbiKey,
			})
		},
	}

	cmd.Flags().StringVar(&topicsFile, "topics-file", "", "File with one topic per line (or YAML list)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel workers (default from config)")
	cmd.Flags().IntVar(&maxPerTopic, "max-per-topic", 5000, "Maximum articles per topic")
	cmd.Flags().IntVar(&fromYear, "from-year", 0, "Only articles published in or after this year")
	cmd.Flags().IntVar(&toYear, "to-year", 0, "Only articles published in or before this year")
	cmd.Flags().BoolVar(&highEvidence, "high-evidence", false, "Restrict to high-evidence publication types")
	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "Checkpoint file path (default from config)")
	cmd.Flags().BoolVar(&resume, "resume", false, "Resume from an existing checkpoint")
	cmd.Flags().StringVar(&ncbiKey, "ncbi-key", "", "NCBI API key (overrides NCBI_API_KEY)")

	return cmd
}

type scaleOptions struct {
	topicsFile   string
	workers      int
	maxPerTopic  int
	fromYear     int
	toYear       int
	highEvidence bool
	checkpoint   string
	resume       bool
	ncbiKey      string
}

func runScale(ctx context.Context, opts scaleOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.ncbiKey != "" {
		cfg.Pipeline.NCBIAPIKey = opts.ncbiKey
	}
	if opts.workers > 0 {
		cfg.Pipeline.Workers = opts.workers
	}
	if opts.checkpoint != "" {
		cfg.Pipeline.CheckpointPath = opts.checkpoint
	}
	applySearchOverrides(cfg, opts.fromYear, opts.toYear, opts.highEvidence)

	var jobs []*ingest.Job
	if opts.topicsFile != "" {
		topics, err := config.LoadTopicsFile(opts.topicsFile)
		if err != nil {
			return err
		}
		jobs = ingest.TopicJobs(topics, opts.maxPerTopic)
	} else if !opts.resume {
		return fmt.Errorf("no topics given: use --topics-file (or --resume an existing run)")
	}

	cf := ingest.NewCheckpointFile(cfg.Pipeline.CheckpointPath)
	if err := cf.Acquire(); err != nil {
		return err
	}
	defer func() { _ = cf.Release() }()

	cp, err := resolveCheckpoint(cf, jobs, opts.resume)
	if err != nil {
		return err
	}

	renderer := newRenderer()
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	deps, cleanup, err := buildDependencies(ctx, cfg, renderer, false)
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
		Checkpoint:   cf,
		Renderer:     renderer,
		Workers:      cfg.Pipeline.Workers,
	})

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

// resolveCheckpoint reconciles the requested jobs with any existing
// checkpoint. Without --resume an existing checkpoint is an error rather
// than something to silently overwrite.
func resolveCheckpoint(cf *ingest.CheckpointFile, jobs []*ingest.Job, resume bool) (*ingest.Checkpoint, error) {
	existing, err := cf.Load()
	if err != nil {
		return nil, err
	}
	if !resume {
		if existing != nil {
			return nil, fmt.Errorf("checkpoint %s already exists: pass --resume to continue it or remove the file", cf.Path())
		}
		return ingest.NewCheckpoint(jobs), nil
	}
	if existing == nil && len(jobs) == 0 {
		return nil, fmt.Errorf("nothing to resume: %s does not exist", cf.Path())
	}
	return ingest.MergeForResume(existing, jobs), nil
}
