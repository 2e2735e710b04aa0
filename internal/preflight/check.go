// Package preflight validates the environment before a run: required
// environment variables, checkpoint directory permissions, and optional
// live probes against the database, the embedding API and PubMed.
package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5"

	"github.com/pubvec/pubvec/internal/config"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker performs preflight validation against a loaded configuration.
type Checker struct {
	cfg     *config.Config
	prober  Prober
	probe   bool
	verbose bool
	output  io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithProbe enables live connectivity probes.
func WithProbe(probe bool) Option {
	return func(c *Checker) {
		c.probe = probe
	}
}

// WithProber overrides the live prober; tests inject fakes here.
func WithProber(p Prober) Option {
	return func(c *Checker) {
		c.prober = p
	}
}

// WithVerbose enables verbose output.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// New creates a Checker for cfg with the given options.
func New(cfg *config.Config, opts ...Option) *Checker {
	c := &Checker{
		cfg:    cfg,
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.prober == nil {
		c.prober = &liveProber{cfg: cfg}
	}
	return c
}

// RunAll runs all preflight checks and returns the results.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	results := []CheckResult{
		c.CheckDatabaseURL(),
		c.CheckOpenAIKey(),
		c.CheckNCBIKey(),
		c.CheckCheckpointDir(),
	}

	if c.probe {
		results = append(results,
			c.probeResult(ctx, "database_connection", true, c.prober.ProbeDatabase),
			c.probeResult(ctx, "embedding_api", true, c.prober.ProbeEmbedding),
			c.probeResult(ctx, "pubmed_api", true, c.prober.ProbePubMed),
		)
	}

	return results
}

// CheckDatabaseURL verifies DATABASE_URL is present and parseable.
func (c *Checker) CheckDatabaseURL() CheckResult {
	result := CheckResult{Name: "database_url", Required: true}

	url := c.cfg.Storage.DatabaseURL
	if url == "" {
		result.Status = StatusFail
		result.Message = "DATABASE_URL is not set"
		return result
	}
	pg, err := pgx.ParseConfig(url)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("DATABASE_URL is not a valid connection string: %v", err)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s/%s", pg.Host, pg.Database)
	return result
}

// CheckOpenAIKey verifies the embedding API key is present.
func (c *Checker) CheckOpenAIKey() CheckResult {
	result := CheckResult{Name: "openai_api_key", Required: true}

	key := c.cfg.Embedding.APIKey
	if key == "" {
		result.Status = StatusFail
		result.Message = "OPENAI_API_KEY is not set"
		return result
	}

	result.Status = StatusPass
	result.Message = config.Fingerprint(key)
	result.Details = fmt.Sprintf("model %s, %d dimensions", c.cfg.Embedding.Model, c.cfg.Embedding.Dimensions)
	return result
}

// CheckNCBIKey reports the PubMed rate limit the run will get. The key is
// optional; without it NCBI allows 3 requests per second instead of 10.
func (c *Checker) CheckNCBIKey() CheckResult {
	result := CheckResult{Name: "ncbi_api_key", Required: false}

	if c.cfg.Pipeline.NCBIAPIKey == "" {
		result.Status = StatusWarn
		result.Message = "NCBI_API_KEY is not set; PubMed limited to 3 requests/second"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s (10 requests/second)", config.Fingerprint(c.cfg.Pipeline.NCBIAPIKey))
	return result
}

// CheckCheckpointDir verifies the checkpoint directory is writable.
func (c *Checker) CheckCheckpointDir() CheckResult {
	result := CheckResult{Name: "checkpoint_dir", Required: true}

	dir := filepath.Dir(c.cfg.Pipeline.CheckpointPath)
	testFile := filepath.Join(dir, ".pubvec-preflight-test")
	f, err := os.Create(testFile)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot write to %s: %v", dir, err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	result.Status = StatusPass
	result.Message = dir
	return result
}

func (c *Checker) probeResult(ctx context.Context, name string, required bool, probe func(context.Context) error) CheckResult {
	result := CheckResult{Name: name, Required: required}
	if err := probe(ctx); err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns a summary status string for the results.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	hasCriticalFailure := false

	for _, r := range results {
		if r.IsCritical() {
			hasCriticalFailure = true
		}
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			hasWarnings = true
		}
	}

	if hasCriticalFailure {
		return "failed"
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "pubvec Environment Check")
	_, _ = fmt.Fprintln(c.output, "========================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", c.SummaryStatus(results))

	var warnings, errors []string
	for _, r := range results {
		if r.IsCritical() {
			errors = append(errors, r.Name+": "+r.Message)
		} else if r.Status == StatusWarn {
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}

	if len(errors) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d error(s):\n", len(errors))
		for _, e := range errors {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", e)
		}
	}

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d warning(s):\n", len(warnings))
		for _, w := range warnings {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", w)
		}
	}
}
