package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/semaphore"

	pverrors "github.com/pubvec/pubvec/internal/errors"
)

// Defaults for the Postgres writer.
const (
	DefaultBatchSize           = 15
	DefaultMinBatchSize        = 5
	DefaultMaxRetries          = 5
	DefaultMaxConcurrentWrites = 3

	// existingPMIDsSlice caps ids per ANY($1) lookup.
	existingPMIDsSlice = 1000
)

// Options configures a PostgresStore.
type Options struct {
	DatabaseURL         string
	Dimensions          int
	BatchSize           int
	MinBatchSize        int
	MaxRetries          int
	MaxConcurrentWrites int
	Logger              *slog.Logger
}

// PostgresStore writes chunks into the medical_evidence table. Writes run
// in small transactional batches; a failing batch is retried with backoff
// and recursively halved before any records are given up on.
type PostgresStore struct {
	pool     *pgxpool.Pool
	dims     int
	batch    int
	minBat   int
	retries  int
	writeSem *semaphore.Weighted
	logger   *slog.Logger
}

var _ EvidenceStore = (*PostgresStore)(nil)

// New connects to Postgres and verifies the connection.
func New(ctx context.Context, opts Options) (*PostgresStore, error) {
	if opts.DatabaseURL == "" {
		return nil, pverrors.ConfigError("DATABASE_URL is required", nil)
	}
	if opts.Dimensions <= 0 {
		return nil, pverrors.ConfigError("embedding dimensions must be positive", nil)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MinBatchSize <= 0 {
		opts.MinBatchSize = DefaultMinBatchSize
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.MaxConcurrentWrites <= 0 {
		opts.MaxConcurrentWrites = DefaultMaxConcurrentWrites
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(opts.DatabaseURL)
	if err != nil {
		return nil, pverrors.ConfigError("invalid DATABASE_URL", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, pverrors.StoreError("connecting to postgres failed", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, pverrors.StoreError("postgres ping failed", err)
	}

	return &PostgresStore{
		pool:     pool,
		dims:     opts.Dimensions,
		batch:    opts.BatchSize,
		minBat:   opts.MinBatchSize,
		retries:  opts.MaxRetries,
		writeSem: semaphore.NewWeighted(int64(opts.MaxConcurrentWrites)),
		logger:   opts.Logger,
	}, nil
}

// Close implements EvidenceStore.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Store implements EvidenceStore.
func (s *PostgresStore) Store(ctx context.Context, records []Record) (*StoreResult, error) {
	result := &StoreResult{}
	if len(records) == 0 {
		result.Success = true
		return result, nil
	}

	for i, r := range records {
		if r.Chunk == nil {
			return nil, pverrors.StoreError(fmt.Sprintf("record %d has no chunk", i), nil)
		}
		if len(r.Embedding) != s.dims {
			return nil, pverrors.New(pverrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("record %d: expected %d dimensions, got %d",
					i, s.dims, len(r.Embedding)), nil).WithPMID(r.Chunk.PMID)
		}
	}

	consecutiveFailures := 0
	for start := 0; start < len(records); start += s.batch {
		end := start + s.batch
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		if start > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(interBatchDelay(len(batch), consecutiveFailures)):
			}
		}

		if err := s.storeResilient(ctx, batch, result); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			consecutiveFailures++
		} else {
			consecutiveFailures = 0
		}
	}

	result.Success = len(result.Errors) == 0
	return result, nil
}

// storeResilient writes one batch with retries, then recursively halves it
// on persistent retryable failure. Batches at or below the minimum size are
// terminal: their error lands in the result.
func (s *PostgresStore) storeResilient(ctx context.Context, batch []Record, result *StoreResult) error {
	err := s.storeWithRetry(ctx, batch)
	if err == nil {
		result.Stored += len(batch)
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	if isRetryableError(err) && len(batch) > s.minBat {
		mid := len(batch) / 2
		s.logger.Warn("splitting failing batch",
			"size", len(batch), "error", err)

		firstErr := s.storeResilient(ctx, batch[:mid], result)

		// Let the server breathe between the halves.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(splitPause()):
		}

		secondErr := s.storeResilient(ctx, batch[mid:], result)
		if firstErr != nil {
			return firstErr
		}
		return secondErr
	}

	pmids := make([]string, 0, len(batch))
	for _, r := range batch {
		pmids = append(pmids, r.Chunk.PMID)
	}
	terminal := pverrors.New(pverrors.ErrCodeStoreFailed,
		fmt.Sprintf("batch of %d records dropped (pmids %s)",
			len(batch), strings.Join(pmids, ",")), err)
	result.Errors = append(result.Errors, terminal)
	s.logger.Error("dropping batch after exhausting retries",
		"size", len(batch), "error", err)
	return terminal
}

// storeWithRetry upserts one batch, retrying retryable failures with the
// 2/4/8/16/32s backoff ladder.
func (s *PostgresStore) storeWithRetry(ctx context.Context, batch []Record) error {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			delay := retryBackoff(attempt)
			s.logger.Debug("retrying batch write",
				"attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := s.storeBatch(ctx, batch)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return err
		}
	}
	return lastErr
}

// storeBatch writes one batch in a single transaction.
func (s *PostgresStore) storeBatch(ctx context.Context, batch []Record) error {
	if err := s.writeSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.writeSem.Release(1)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, r := range batch {
		c := r.Chunk
		_, err := tx.Exec(ctx, upsertChunkSQL,
			c.PMID,
			c.ChunkIndex,
			c.Content,
			c.ContentWithContext,
			c.SectionType,
			c.Title,
			c.Journal,
			c.Year,
			c.Authors,
			c.MeshTerms,
			c.MajorMeshTerms,
			c.Chemicals,
			c.Keywords,
			c.EvidenceLevel,
			c.StudyDesign,
			nullableInt(c.SampleSize),
			c.DOI,
			c.URL,
			c.TokenEstimate,
			pgvector.NewVector(r.Embedding),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ExistingPMIDs implements EvidenceStore. Lookups run in slices so arbitrary
// id counts never exceed parameter limits; on failure the PMIDs resolved so
// far are returned together with the error.
func (s *PostgresStore) ExistingPMIDs(ctx context.Context, pmids []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	var errs []error

	for start := 0; start < len(pmids); start += existingPMIDsSlice {
		end := start + existingPMIDsSlice
		if end > len(pmids) {
			end = len(pmids)
		}

		rows, err := s.pool.Query(ctx,
			`SELECT DISTINCT pmid FROM medical_evidence WHERE pmid = ANY($1)`,
			pmids[start:end])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for rows.Next() {
			var pmid string
			if err := rows.Scan(&pmid); err != nil {
				errs = append(errs, err)
				break
			}
			existing[pmid] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return existing, pverrors.StoreError("existing-pmid lookup incomplete", errors.Join(errs...))
	}
	return existing, nil
}

func nullableInt(n int) any {
	if n <= 0 {
		return nil
	}
	return n
}

// retryBackoff returns the delay before retry attempt n (1-based):
// 2s, 4s, 8s, 16s, then 32s capped.
func retryBackoff(attempt int) time.Duration {
	d := 2 * time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= 32*time.Second {
			return 32 * time.Second
		}
	}
	return d
}

// interBatchDelay paces writes between batches: smaller batches wait less,
// and consecutive failures stretch the pause up to 20s extra. A little
// jitter keeps parallel workers out of lockstep.
func interBatchDelay(batchSize, consecutiveFailures int) time.Duration {
	baseMs := 3000 - 10*batchSize
	if baseMs < 1000 {
		baseMs = 1000
	}
	penalty := time.Duration(consecutiveFailures) * 5 * time.Second
	if penalty > 20*time.Second {
		penalty = 20 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(500 * time.Millisecond)))
	return time.Duration(baseMs)*time.Millisecond + penalty + jitter
}

// splitPause is the settle time between the two halves of a split batch.
func splitPause() time.Duration {
	return 3*time.Second + time.Duration(rand.Int63n(int64(time.Second)))
}

// isRetryableError reports whether a write failure is worth retrying:
// timeouts, connection drops, deadlocks, and the 520/Cloudflare noise a
// proxied database emits under load.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "57014", // query_canceled (statement timeout)
			"57P03", // cannot_connect_now
			"53300", // too_many_connections
			"40001", // serialization_failure
			"40P01", // deadlock_detected
			"08006", // connection_failure
			"08003": // connection_does_not_exist
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout",
		"timed out",
		"connection reset",
		"broken pipe",
		"connection refused",
		"520",
		"cloudflare",
		"fetch failed",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
