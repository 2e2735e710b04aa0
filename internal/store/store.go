// Package store persists embedded chunks into Postgres with pgvector.
package store

import (
	"context"

	"github.com/pubvec/pubvec/internal/chunker"
)

// Record pairs a chunk with its embedding vector.
type Record struct {
	Chunk     *chunker.Chunk
	Embedding []float32
}

// StoreResult summarizes one Store call. Success means every record was
// written; Errors holds the terminal per-batch failures otherwise.
type StoreResult struct {
	Success bool
	Stored  int
	Errors  []error
}

// EvidenceStore is the persistence boundary of the pipeline.
type EvidenceStore interface {
	// Store upserts records keyed on (pmid, chunk_index). Failed batches are
	// reported in the result; an error return means nothing was attempted.
	Store(ctx context.Context, records []Record) (*StoreResult, error)

	// ExistingPMIDs reports which of the given PMIDs already have chunks
	// stored. May return partial results alongside an error.
	ExistingPMIDs(ctx context.Context, pmids []string) (map[string]bool, error)

	// EnsureSchema creates the table, extension and indexes if missing.
	EnsureSchema(ctx context.Context) error

	// Close releases the connection pool.
	Close() error
}
