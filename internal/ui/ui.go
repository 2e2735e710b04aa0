// Package ui renders ingestion progress: a live TUI on interactive
// terminals, line-oriented plain text everywhere else.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage represents a pipeline stage for display purposes.
type Stage int

const (
	// StageSearch is the PubMed esearch stage.
	StageSearch Stage = iota
	// StageFetch is the efetch stage.
	StageFetch
	// StageParse is XML parsing.
	StageParse
	// StageChunk is abstract chunking.
	StageChunk
	// StageEmbed is embedding generation.
	StageEmbed
	// StageStore is the Postgres write stage.
	StageStore
	// StageDone indicates the run is complete.
	StageDone
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageSearch:
		return "Searching"
	case StageFetch:
		return "Fetching"
	case StageParse:
		return "Parsing"
	case StageChunk:
		return "Chunking"
	case StageEmbed:
		return "Embedding"
	case StageStore:
		return "Storing"
	case StageDone:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageSearch:
		return "SEARCH"
	case StageFetch:
		return "FETCH"
	case StageParse:
		return "PARSE"
	case StageChunk:
		return "CHUNK"
	case StageEmbed:
		return "EMBED"
	case StageStore:
		return "STORE"
	case StageDone:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent is one progress update.
type ProgressEvent struct {
	Stage   Stage
	Current int
	Total   int
	Topic   string
	Message string
}

// ErrorEvent reports a pipeline error or warning for display.
type ErrorEvent struct {
	PMID   string
	Err    error
	IsWarn bool
}

// CompletionStats summarizes a finished run.
type CompletionStats struct {
	Jobs     int
	Articles int
	Chunks   int
	Errors   int
	Warnings int
	Duration time.Duration
	// Rate is chunks stored per second over the whole run.
	Rate float64
}

// Renderer defines the interface for progress display.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates the progress display.
	UpdateProgress(event ProgressEvent)

	// AddError adds an error or warning to the display.
	AddError(event ErrorEvent)

	// Complete marks rendering as complete with a summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
}

// ConfigOption modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// NewConfig creates a Config for the given output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks a renderer for the environment: TUI on interactive
// terminals, plain text for pipes, CI, or when --plain is given.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain {
		return NewPlainRenderer(cfg)
	}
	if !IsTTY(cfg.Output) {
		return NewPlainRenderer(cfg)
	}
	if DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
