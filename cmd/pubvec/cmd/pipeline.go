package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pubvec/pubvec/internal/chunker"
	"github.com/pubvec/pubvec/internal/config"
	"github.com/pubvec/pubvec/internal/dedupe"
	"github.com/pubvec/pubvec/internal/embed"
	"github.com/pubvec/pubvec/internal/ingest"
	"github.com/pubvec/pubvec/internal/pubmed"
	"github.com/pubvec/pubvec/internal/ratelimit"
	"github.com/pubvec/pubvec/internal/store"
	"github.com/pubvec/pubvec/internal/ui"
)

// buildDependencies assembles the pipeline from configuration. The returned
// cleanup closes the embedder and the database pool; call it when the run
// finishes. Dry runs skip the embedding and storage clients entirely.
func buildDependencies(ctx context.Context, cfg *config.Config, renderer ui.Renderer, dryRun bool) (ingest.Dependencies, func(), error) {
	logger := slog.Default()

	limiter := ratelimit.NewDefault(cfg.Pipeline.NCBIAPIKey != "", float64(cfg.Embedding.MaxParallel))

	client := pubmed.NewClient(pubmed.ClientOptions{
		APIKey:       cfg.Pipeline.NCBIAPIKey,
		Limiter:      limiter,
		SubBatchSize: cfg.Pipeline.EfetchSubBatch,
		Logger:       logger,
	})

	ch := chunker.New(chunker.Options{
		Strategy:         chunker.Strategy(cfg.Chunking.Strategy),
		MaxChunkTokens:   cfg.Chunking.MaxChunkTokens,
		MinChunkTokens:   cfg.Chunking.MinChunkTokens,
		OverlapTokens:    cfg.Chunking.OverlapTokens,
		IncludeTitle:     cfg.Chunking.IncludeTitle,
		IncludeMeSH:      cfg.Chunking.IncludeMeSH,
		IncludeStudyInfo: cfg.Chunking.IncludeStudyInfo,
	})

	deps := ingest.Dependencies{
		Client:           client,
		Chunker:          ch,
		Renderer:         renderer,
		Logger:           logger,
		Filter:           queryFilter(cfg),
		MinEvidenceLevel: cfg.Search.MinEvidenceLevel,
		FetchBatchSize:   cfg.Pipeline.FetchBatchSize,
		DryRun:           dryRun,
	}

	if dryRun {
		return deps, func() {}, nil
	}

	embedder, err := embed.NewOpenAI(embed.Options{
		BaseURL:     cfg.Embedding.BaseURL,
		APIKey:      cfg.Embedding.APIKey,
		Model:       cfg.Embedding.Model,
		Dimensions:  cfg.Embedding.Dimensions,
		BatchSize:   cfg.Embedding.BatchSize,
		MaxParallel: cfg.Embedding.MaxParallel,
		Logger:      logger,
	})
	if err != nil {
		return deps, nil, err
	}

	pg, err := store.New(ctx, store.Options{
		DatabaseURL:         cfg.Storage.DatabaseURL,
		Dimensions:          cfg.Embedding.Dimensions,
		BatchSize:           cfg.Storage.BatchSize,
		MinBatchSize:        cfg.Storage.MinBatchSize,
		MaxRetries:          cfg.Storage.MaxRetries,
		MaxConcurrentWrites: cfg.Storage.MaxConcurrentWrites,
		Logger:              logger,
	})
	if err != nil {
		_ = embedder.Close()
		return deps, nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		_ = embedder.Close()
		_ = pg.Close()
		return deps, nil, err
	}

	deduper, err := dedupe.New(pg, dedupe.DefaultCacheSize, logger)
	if err != nil {
		_ = embedder.Close()
		_ = pg.Close()
		return deps, nil, err
	}

	deps.Embedder = embedder
	deps.Store = pg
	deps.Deduper = deduper

	cleanup := func() {
		_ = embedder.Close()
		_ = pg.Close()
	}
	return deps, cleanup, nil
}

// applySearchOverrides narrows the configured query filter from CLI flags.
// Zero values leave the configuration untouched.
func applySearchOverrides(cfg *config.Config, fromYear, toYear int, highEvidence bool) {
	if fromYear != 0 {
		cfg.Search.FromYear = fromYear
	}
	if toYear != 0 {
		cfg.Search.ToYear = toYear
	}
	if highEvidence {
		cfg.Search.PublicationTypes = pubmed.HighEvidenceTypes
	}
}

func queryFilter(cfg *config.Config) pubmed.QueryFilter {
	return pubmed.QueryFilter{
		FromYear:         cfg.Search.FromYear,
		ToYear:           cfg.Search.ToYear,
		Languages:        cfg.Search.Languages,
		RequireAbstract:  cfg.Search.RequireAbstract,
		HumansOnly:       cfg.Search.HumansOnly,
		PublicationTypes: cfg.Search.PublicationTypes,
	}
}

// printJobSummaries writes one line per job after a run.
func printJobSummaries(w io.Writer, jobs []*ingest.Job) {
	for _, job := range jobs {
		status := "ok"
		if job.Status == ingest.StatusFailed {
			status = "FAILED"
		}
		fmt.Fprintf(w, "%-8s %s: %d articles, %d chunks, %d errors%s\n",
			status, job.Name(), job.ArticlesProcessed, job.ChunksCreated, len(job.Errors),
			levelSummary(job))
	}
}

// levelSummary renders the evidence-level tally, e.g. " [L1=2 L2=14 L5=3]".
func levelSummary(job *ingest.Job) string {
	if len(job.LevelCounts) == 0 {
		return ""
	}
	var parts []string
	for level := 1; level <= 5; level++ {
		if n := job.LevelCounts[strconv.Itoa(level)]; n > 0 {
			parts = append(parts, fmt.Sprintf("L%d=%d", level, n))
		}
	}
	return " [" + strings.Join(parts, " ") + "]"
}

// totalErrors sums recorded job errors; a non-zero total makes the process
// exit non-zero so shell scripts can detect partial failures.
func totalErrors(jobs []*ingest.Job) int {
	n := 0
	for _, job := range jobs {
		n += len(job.Errors)
	}
	return n
}
