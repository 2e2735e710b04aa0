package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pubvec/pubvec/internal/ingest"
)

func newBulkCmd() *cobra.Command {
	var (
		file         string
		dir          string
		workers      int
		fromYear     int
		toYear       int
		highEvidence bool
		batchSize    int
		embedBatch   int
		checkpoint   string
		resume       bool
	)

	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Ingest already-downloaded PubMed XML files",
		Long: `Process PubMed baseline or update files from disk instead of the live
API. Files are streamed one article at a time, so multi-gigabyte baseline
files work in constant memory.

Examples:
  pubvec bulk --file pubmed24n0001.xml
  pubvec bulk --dir ./baseline --workers 3 --resume`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBulk(cmd.Context(), bulkOptions{
				file:         file,
				dir:          dir,
				workers:      workers,
				fromYear:     fromYear,
				toYear:       toYear,
				highEvidence: highEvidence,
				batchSize:    batchSize,
				embedBatch:   embedBatch,
				checkpoint:   checkpoint,
				resume:       resume,
			})
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Single PubMed XML file to ingest")
	cmd.Flags().StringVar(&dir, "dir", "", "Directory of PubMed XML files to ingest")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel workers (default from config)")
	cmd.Flags().IntVar(&fromYear, "from-year", 0, "Only articles published in or after this year")
	cmd.Flags().IntVar(&toYear, "to-year", 0, "Only articles published in or before this year")
	cmd.Flags().BoolVar(&highEvidence, "high-evidence", false, "Restrict to high-evidence publication types")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Articles per pipeline batch (default from config)")
	cmd.Flags().IntVar(&embedBatch, "embedding-batch-size", 0, "Inputs per embedding request (default from config)")
	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "Checkpoint file path (default from config)")
	cmd.Flags().BoolVar(&resume, "resume", false, "Resume from an existing checkpoint")

	return cmd
}

type bulkOptions struct {
	file         string
	dir          string
	workers      int
	fromYear     int
	toYear       int
	highEvidence bool
	batchSize    int
	embedBatch   int
	checkpoint   string
	resume       bool
}

func runBulk(ctx context.Context, opts bulkOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.workers > 0 {
		cfg.Pipeline.Workers = opts.workers
	}
	if opts.batchSize > 0 {
		cfg.Pipeline.FetchBatchSize = opts.batchSize
	}
	if opts.embedBatch > 0 {
		cfg.Embedding.BatchSize = opts.embedBatch
	}
	if opts.checkpoint != "" {
		cfg.Pipeline.CheckpointPath = opts.checkpoint
	}
	applySearchOverrides(cfg, opts.fromYear, opts.toYear, opts.highEvidence)

	paths, err := collectXMLFiles(opts.file, opts.dir)
	if err != nil {
		return err
	}

	jobs := make([]*ingest.Job, 0, len(paths))
	for _, p := range paths {
		jobs = append(jobs, ingest.NewFileJob(p))
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

// collectXMLFiles expands --file/--dir into a sorted list of XML paths.
// Exactly one of the two must be given.
func collectXMLFiles(file, dir string) ([]string, error) {
	switch {
	case file != "" && dir != "":
		return nil, fmt.Errorf("--file and --dir are mutually exclusive")
	case file != "":
		if _, err := os.Stat(file); err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", file, err)
		}
		return []string{file}, nil
	case dir != "":
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", dir, err)
		}
		var paths []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := strings.ToLower(e.Name())
			if strings.HasSuffix(name, ".xml") {
				paths = append(paths, filepath.Join(dir, e.Name()))
			}
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("no .xml files in %s", dir)
		}
		sort.Strings(paths)
		return paths, nil
	default:
		return nil, fmt.Errorf("no input given: use --file or --dir")
	}
}
