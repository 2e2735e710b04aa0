package ingest

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pubvec/pubvec/internal/ui"
)

const (
	// DefaultWorkers is the wave size for scale and bulk runs.
	DefaultWorkers = 5
	// waveDelay spaces waves apart so sustained runs stay polite to the
	// upstream APIs even when every worker finishes quickly.
	waveDelay = 3 * time.Second
)

// Pool runs checkpointed jobs in waves of workers. Each wave processes up
// to `workers` jobs concurrently; the checkpoint is saved after every wave
// so an interrupted run resumes at a wave boundary.
type Pool struct {
	orch       *Orchestrator
	checkpoint *CheckpointFile
	renderer   ui.Renderer
	logger     *slog.Logger
	workers    int
}

// PoolOptions configures a Pool. Orchestrator is required; Checkpoint is
// optional (nil disables persistence, used by plain ingest runs).
type PoolOptions struct {
	Orchestrator *Orchestrator
	Checkpoint   *CheckpointFile
	Renderer     ui.Renderer
	Logger       *slog.Logger
	Workers      int
}

// NewPool builds a pool from opts.
func NewPool(opts PoolOptions) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Renderer == nil {
		opts.Renderer = nopRenderer{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pool{
		orch:       opts.Orchestrator,
		checkpoint: opts.Checkpoint,
		renderer:   opts.Renderer,
		logger:     opts.Logger,
		workers:    opts.Workers,
	}
}

// Run processes every pending job in cp and reports the final stats. On
// context cancellation the checkpoint is saved one last time so completed
// work survives; the context error is returned.
func (p *Pool) Run(ctx context.Context, cp *Checkpoint) (Stats, error) {
	began := time.Now()
	pending := pendingJobs(cp)
	p.logger.Info("run starting",
		"jobs", len(cp.Jobs()),
		"pending", len(pending),
		"workers", p.workers)

	var runErr error
	for start := 0; start < len(pending); start += p.workers {
		end := start + p.workers
		if end > len(pending) {
			end = len(pending)
		}
		wave := pending[start:end]

		g, gctx := errgroup.WithContext(ctx)
		for _, job := range wave {
			g.Go(func() error {
				// Job-level failures land in job.Errors; only
				// cancellation propagates and stops the run.
				err := p.orch.RunJob(gctx, job)
				if err != nil && gctx.Err() != nil {
					return gctx.Err()
				}
				return nil
			})
		}
		waveErr := g.Wait()

		if err := p.save(cp); err != nil {
			p.logger.Error("checkpoint save failed", "error", err)
		}
		if waveErr != nil {
			runErr = waveErr
			break
		}
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}

		if end < len(pending) {
			select {
			case <-ctx.Done():
				runErr = ctx.Err()
			case <-time.After(waveDelay):
			}
			if runErr != nil {
				break
			}
		}
	}

	cp.Recount()
	stats := cp.Stats
	p.renderer.Complete(completionStats(stats, time.Since(began)))
	return stats, runErr
}

func (p *Pool) save(cp *Checkpoint) error {
	if p.checkpoint == nil {
		return nil
	}
	return p.checkpoint.Save(cp)
}

func pendingJobs(cp *Checkpoint) []*Job {
	var out []*Job
	for _, j := range cp.Jobs() {
		if !j.Done() {
			out = append(out, j)
		}
	}
	return out
}

func completionStats(s Stats, elapsed time.Duration) ui.CompletionStats {
	rate := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(s.TotalChunks) / secs
	}
	return ui.CompletionStats{
		Jobs:     s.TotalJobs,
		Articles: s.TotalArticles,
		Chunks:   s.TotalChunks,
		Errors:   s.TotalErrors,
		Duration: elapsed.Round(time.Second),
		Rate:     rate,
	}
}
