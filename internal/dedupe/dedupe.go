// Package dedupe skips PMIDs whose chunks are already stored, so re-running
// a topic only pays for articles that are actually new.
package dedupe

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the positive-cache capacity. A PMID is 8 bytes or so;
// 100k entries is a trivial footprint for a big saving in lookups.
const DefaultCacheSize = 100_000

// Lookup is the slice of the store the deduper needs.
type Lookup interface {
	ExistingPMIDs(ctx context.Context, pmids []string) (map[string]bool, error)
}

// Deduper filters out already-ingested PMIDs. Confirmed-present ids are
// cached so repeated topics skip the database entirely; absence is never
// cached, since another worker may store the article at any moment.
type Deduper struct {
	store  Lookup
	cache  *lru.Cache[string, struct{}]
	logger *slog.Logger
}

// New creates a Deduper with the given positive-cache size.
func New(store Lookup, cacheSize int, logger *slog.Logger) (*Deduper, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, struct{}](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Deduper{store: store, cache: cache, logger: logger}, nil
}

// Filter returns the PMIDs not yet stored, preserving input order, along
// with how many were skipped as duplicates.
func (d *Deduper) Filter(ctx context.Context, pmids []string) (fresh []string, skipped int, err error) {
	var unknown []string
	for _, pmid := range pmids {
		if _, ok := d.cache.Get(pmid); ok {
			skipped++
		} else {
			unknown = append(unknown, pmid)
		}
	}
	if len(unknown) == 0 {
		return nil, skipped, nil
	}

	existing, err := d.store.ExistingPMIDs(ctx, unknown)
	if err != nil {
		return nil, skipped, err
	}

	for _, pmid := range unknown {
		if existing[pmid] {
			d.cache.Add(pmid, struct{}{})
			skipped++
		} else {
			fresh = append(fresh, pmid)
		}
	}

	if skipped > 0 {
		d.logger.Debug("deduplicated pmids", "skipped", skipped, "fresh", len(fresh))
	}
	return fresh, skipped, nil
}

// MarkStored records PMIDs as present after a successful write, keeping the
// cache warm within a single run.
func (d *Deduper) MarkStored(pmids ...string) {
	for _, pmid := range pmids {
		d.cache.Add(pmid, struct{}{})
	}
}
