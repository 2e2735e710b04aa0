// Package config loads and validates PubVec configuration.
//
// Configuration is applied in order of increasing precedence:
//  1. Hardcoded defaults
//  2. Project config (.pubvec.yaml in the working directory)
//  3. Environment variables (DATABASE_URL, OPENAI_API_KEY, PUBVEC_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ChunkStrategy selects how article abstracts are split into chunks.
type ChunkStrategy string

const (
	StrategySection  ChunkStrategy = "section"
	StrategySentence ChunkStrategy = "sentence"
	StrategySliding  ChunkStrategy = "sliding"
	StrategyHybrid   ChunkStrategy = "hybrid"
)

// IsValid reports whether s is a known chunking strategy.
func (s ChunkStrategy) IsValid() bool {
	switch s {
	case StrategySection, StrategySentence, StrategySliding, StrategyHybrid:
		return true
	}
	return false
}

// Config is the complete PubVec configuration.
type Config struct {
	Version   int             `yaml:"version"`
	Search    SearchConfig    `yaml:"search"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Storage   StorageConfig   `yaml:"storage"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SearchConfig holds the PubMed query filters applied to every topic.
type SearchConfig struct {
	// MaxPerTopic caps esearch results per topic query.
	MaxPerTopic int `yaml:"max_per_topic"`

	// FromYear/ToYear restrict publication dates ([from:to[dp]]). Zero means open.
	FromYear int `yaml:"from_year"`
	ToYear   int `yaml:"to_year"`

	// Languages filters by [Language] terms.
	Languages []string `yaml:"languages"`

	// RequireAbstract adds hasabstract[text] to every query.
	RequireAbstract bool `yaml:"require_abstract"`

	// HumansOnly adds humans[MeSH Terms] to every query.
	HumansOnly bool `yaml:"humans_only"`

	// PublicationTypes is an optional OR-joined allow-list of publication types.
	PublicationTypes []string `yaml:"publication_types"`

	// MinEvidenceLevel drops parsed articles with a weaker (numerically higher)
	// evidence level. Zero disables the filter.
	MinEvidenceLevel int `yaml:"min_evidence_level"`
}

// ChunkingConfig mirrors the chunker options.
type ChunkingConfig struct {
	Strategy         ChunkStrategy `yaml:"strategy"`
	MaxChunkTokens   int           `yaml:"max_chunk_tokens"`
	MinChunkTokens   int           `yaml:"min_chunk_tokens"`
	OverlapTokens    int           `yaml:"overlap_tokens"`
	IncludeTitle     bool          `yaml:"include_title"`
	IncludeMeSH      bool          `yaml:"include_mesh"`
	IncludeStudyInfo bool          `yaml:"include_study_info"`
}

// EmbeddingConfig configures the embedding client.
type EmbeddingConfig struct {
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`

	// MaxParallel is the ceiling for adaptive batch-group parallelism.
	MaxParallel int `yaml:"max_parallel"`

	// BaseURL overrides the embeddings endpoint (OPENAI_BASE_URL).
	BaseURL string `yaml:"base_url"`

	// APIKey comes from OPENAI_API_KEY; never read from the YAML file.
	APIKey string `yaml:"-"`
}

// StorageConfig configures the Postgres writer.
type StorageConfig struct {
	// DatabaseURL comes from DATABASE_URL; never read from the YAML file.
	DatabaseURL string `yaml:"-"`

	// BatchSize is the upsert batch size. Small on purpose: each batch is one
	// transaction and must fit the server's statement timeout.
	BatchSize int `yaml:"batch_size"`

	// MinBatchSize is the floor for recursive batch splitting.
	MinBatchSize int `yaml:"min_batch_size"`

	// MaxRetries is the per-batch retry budget for retryable store errors.
	MaxRetries int `yaml:"max_retries"`

	// MaxConcurrentWrites limits simultaneous upsert operations process-wide.
	MaxConcurrentWrites int `yaml:"max_concurrent_writes"`
}

// PipelineConfig configures the orchestrator and worker pool.
type PipelineConfig struct {
	// Workers is the number of parallel orchestrator instances.
	Workers int `yaml:"workers"`

	// FetchBatchSize is the outer identifier batch per fetch+parse+chunk cycle.
	FetchBatchSize int `yaml:"fetch_batch_size"`

	// EfetchSubBatch caps ids per efetch HTTP call (NCBI limit is 500 via GET).
	EfetchSubBatch int `yaml:"efetch_sub_batch"`

	// CheckpointPath is the checkpoint file for scale and bulk runs.
	CheckpointPath string `yaml:"checkpoint_path"`

	// NCBIAPIKey comes from NCBI_API_KEY; raises the PubMed rate from 3 to 10 rps.
	NCBIAPIKey string `yaml:"-"`
}

// LoggingConfig configures the slog setup.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// NewConfig creates a Config with production defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Search: SearchConfig{
			MaxPerTopic:     100,
			Languages:       []string{"english"},
			RequireAbstract: true,
			HumansOnly:      true,
		},
		Chunking: ChunkingConfig{
			Strategy:         StrategyHybrid,
			MaxChunkTokens:   512,
			MinChunkTokens:   100,
			OverlapTokens:    50,
			IncludeTitle:     true,
			IncludeMeSH:      true,
			IncludeStudyInfo: true,
		},
		Embedding: EmbeddingConfig{
			Model:       "text-embedding-3-small",
			Dimensions:  1536,
			BatchSize:   200,
			MaxParallel: 3,
		},
		Storage: StorageConfig{
			BatchSize:           15,
			MinBatchSize:        5,
			MaxRetries:          5,
			MaxConcurrentWrites: 3,
		},
		Pipeline: PipelineConfig{
			Workers:        5,
			FetchBatchSize: 200,
			EfetchSubBatch: 500,
			CheckpointPath: "ingestion-checkpoint.json",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the given directory.
// A missing .pubvec.yaml is fine; defaults plus env apply.
func Load(dir string) (*Config, error) {
	// .env never overrides real environment variables.
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load .pubvec.yaml or .pubvec.yml from dir.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".pubvec.yaml", ".pubvec.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML unmarshals a YAML file over the current values, so fields absent
// from the file keep their defaults.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies environment variables (highest precedence).
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.DatabaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.Embedding.BaseURL = v
	}
	if v := os.Getenv("NCBI_API_KEY"); v != "" {
		c.Pipeline.NCBIAPIKey = v
	}
	if v := os.Getenv("PUBVEC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PUBVEC_EMBED_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("PUBVEC_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Pipeline.Workers = n
		}
	}
}

// Validate checks the final configuration for internal consistency.
func (c *Config) Validate() error {
	if !c.Chunking.Strategy.IsValid() {
		return fmt.Errorf("chunking.strategy: unknown strategy %q", c.Chunking.Strategy)
	}
	if c.Chunking.MaxChunkTokens <= 0 {
		return fmt.Errorf("chunking.max_chunk_tokens must be positive, got %d", c.Chunking.MaxChunkTokens)
	}
	if c.Chunking.MinChunkTokens < 0 || c.Chunking.MinChunkTokens > c.Chunking.MaxChunkTokens {
		return fmt.Errorf("chunking.min_chunk_tokens %d must be in [0, %d]",
			c.Chunking.MinChunkTokens, c.Chunking.MaxChunkTokens)
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.MaxChunkTokens {
		return fmt.Errorf("chunking.overlap_tokens %d must be in [0, %d)",
			c.Chunking.OverlapTokens, c.Chunking.MaxChunkTokens)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	if c.Embedding.MaxParallel <= 0 {
		return fmt.Errorf("embedding.max_parallel must be positive, got %d", c.Embedding.MaxParallel)
	}
	if c.Storage.BatchSize <= 0 {
		return fmt.Errorf("storage.batch_size must be positive, got %d", c.Storage.BatchSize)
	}
	if c.Storage.MinBatchSize <= 0 || c.Storage.MinBatchSize > c.Storage.BatchSize {
		return fmt.Errorf("storage.min_batch_size %d must be in [1, %d]",
			c.Storage.MinBatchSize, c.Storage.BatchSize)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.EfetchSubBatch <= 0 || c.Pipeline.EfetchSubBatch > 500 {
		return fmt.Errorf("pipeline.efetch_sub_batch %d must be in [1, 500]", c.Pipeline.EfetchSubBatch)
	}
	if c.Search.MinEvidenceLevel < 0 || c.Search.MinEvidenceLevel > 5 {
		return fmt.Errorf("search.min_evidence_level %d must be in [0, 5]", c.Search.MinEvidenceLevel)
	}
	if c.Search.FromYear != 0 && c.Search.ToYear != 0 && c.Search.FromYear > c.Search.ToYear {
		return fmt.Errorf("search.from_year %d is after search.to_year %d", c.Search.FromYear, c.Search.ToYear)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file (used by --dry-run docs
// and tests; secrets are excluded by the yaml:"-" tags).
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Fingerprint returns a redacted form of a secret for display: first and
// last 4 characters with the middle elided. Short values are fully masked.
func Fingerprint(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + "…" + secret[len(secret)-4:]
}
