// Package monitor renders a read-only live view of a checkpoint file,
// letting a second terminal follow a long scale or bulk run.
package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	pverrors "github.com/pubvec/pubvec/internal/errors"
	"github.com/pubvec/pubvec/internal/ingest"
	"github.com/pubvec/pubvec/internal/ui"
)

// DefaultInterval is the polling fallback period.
const DefaultInterval = 5 * time.Second

// recentJobs caps the completed/failed job lists in the rendered view.
const recentJobs = 5

// Options configures a Monitor. CheckpointPath is required.
type Options struct {
	CheckpointPath string
	Interval       time.Duration
	Output         io.Writer
	Logger         *slog.Logger
}

// Monitor tails a checkpoint file. It never writes the checkpoint and
// never takes its lock, so it can run alongside the ingesting process.
type Monitor struct {
	path     string
	interval time.Duration
	out      io.Writer
	tty      bool
	logger   *slog.Logger
}

// New builds a monitor from opts.
func New(opts Options) (*Monitor, error) {
	if opts.CheckpointPath == "" {
		return nil, pverrors.ConfigError("monitor requires a checkpoint path", nil)
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Monitor{
		path:     opts.CheckpointPath,
		interval: opts.Interval,
		out:      opts.Output,
		tty:      ui.IsTTY(opts.Output),
		logger:   opts.Logger,
	}, nil
}

// Run renders the checkpoint now and then on every change until ctx is
// cancelled. File events come from fsnotify; a ticker covers editors and
// filesystems that do not deliver events for atomic renames.
func (m *Monitor) Run(ctx context.Context) error {
	m.refresh()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.logger.Warn("file watching unavailable, polling only", "error", err)
		return m.pollOnly(ctx)
	}
	defer watcher.Close()

	// Watch the directory: checkpoint saves are atomic renames, which
	// replace the inode a file-level watch would be pinned to.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		m.logger.Warn("watching checkpoint directory failed, polling only", "error", err)
		return m.pollOnly(ctx)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	base := filepath.Base(m.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return m.pollOnly(ctx)
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			m.refresh()
		case werr, ok := <-watcher.Errors:
			if !ok {
				return m.pollOnly(ctx)
			}
			m.logger.Warn("watch error", "error", werr)
		case <-ticker.C:
			m.refresh()
		}
	}
}

func (m *Monitor) pollOnly(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.refresh()
		}
	}
}

func (m *Monitor) refresh() {
	cp, err := ingest.NewCheckpointFile(m.path).Load()
	if err != nil {
		fmt.Fprintf(m.out, "cannot read %s: %v\n", m.path, err)
		return
	}
	if cp == nil {
		fmt.Fprintf(m.out, "waiting for %s to appear...\n", m.path)
		return
	}
	if m.tty {
		// Redraw in place so the terminal shows one live dashboard
		// instead of an append-only scroll.
		fmt.Fprint(m.out, "\033[2J\033[H")
	}
	fmt.Fprint(m.out, Render(cp, time.Now()))
}

// Render formats one checkpoint snapshot. Split out from the monitor loop
// so the view can be tested without a filesystem.
func Render(cp *ingest.Checkpoint, now time.Time) string {
	var b strings.Builder
	s := cp.Stats

	fmt.Fprintf(&b, "=== Ingestion run started %s ===\n",
		cp.StartTime.Local().Format("2006-01-02 15:04:05"))

	pct := 0.0
	if s.TotalJobs > 0 {
		pct = float64(s.CompletedJobs) / float64(s.TotalJobs) * 100
	}
	fmt.Fprintf(&b, "Jobs:     %d/%d (%.0f%%)\n", s.CompletedJobs, s.TotalJobs, pct)
	fmt.Fprintf(&b, "Articles: %d\n", s.TotalArticles)
	fmt.Fprintf(&b, "Chunks:   %d\n", s.TotalChunks)
	fmt.Fprintf(&b, "Errors:   %d\n", s.TotalErrors)

	elapsed := now.Sub(cp.StartTime).Round(time.Second)
	fmt.Fprintf(&b, "Elapsed:  %s\n", elapsed)
	if eta := estimateETA(cp, now); eta > 0 {
		fmt.Fprintf(&b, "ETA:      %s\n", eta.Round(time.Second))
	}
	if !cp.LastUpdate.IsZero() {
		fmt.Fprintf(&b, "Updated:  %s ago\n", now.Sub(cp.LastUpdate).Round(time.Second))
	}

	var active, completed, failed []*ingest.Job
	for _, j := range cp.Jobs() {
		switch j.Status {
		case ingest.StatusProcessing:
			active = append(active, j)
		case ingest.StatusCompleted:
			completed = append(completed, j)
		case ingest.StatusFailed:
			failed = append(failed, j)
		}
	}

	if len(active) > 0 {
		b.WriteString("\nActive:\n")
		for _, j := range active {
			fmt.Fprintf(&b, "  %s (%d articles, %d chunks)\n",
				j.Name(), j.ArticlesProcessed, j.ChunksCreated)
		}
	}
	if len(completed) > 0 {
		b.WriteString("\nRecently completed:\n")
		start := len(completed) - recentJobs
		if start < 0 {
			start = 0
		}
		for _, j := range completed[start:] {
			fmt.Fprintf(&b, "  %s (%d articles, %d chunks)\n",
				j.Name(), j.ArticlesProcessed, j.ChunksCreated)
		}
	}
	if len(failed) > 0 {
		b.WriteString("\nFailed:\n")
		for _, j := range failed {
			reason := ""
			if len(j.Errors) > 0 {
				reason = " - " + j.Errors[0]
			}
			fmt.Fprintf(&b, "  %s (%d errors)%s\n", j.Name(), len(j.Errors), reason)
		}
	}

	b.WriteString("\n")
	return b.String()
}

// estimateETA projects remaining time from the completed-job rate. Zero
// when nothing has finished yet.
func estimateETA(cp *ingest.Checkpoint, now time.Time) time.Duration {
	s := cp.Stats
	if s.CompletedJobs == 0 || s.TotalJobs <= s.CompletedJobs {
		return 0
	}
	elapsed := now.Sub(cp.StartTime)
	if elapsed <= 0 {
		return 0
	}
	perJob := elapsed / time.Duration(s.CompletedJobs)
	return perJob * time.Duration(s.TotalJobs-s.CompletedJobs)
}
