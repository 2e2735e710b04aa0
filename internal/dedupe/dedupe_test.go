package dedupe

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLookup records queries and answers from a fixed set.
type fakeLookup struct {
	present map[string]bool
	queries [][]string
	err     error
}

func (f *fakeLookup) ExistingPMIDs(_ context.Context, pmids []string) (map[string]bool, error) {
	f.queries = append(f.queries, append([]string(nil), pmids...))
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]bool)
	for _, p := range pmids {
		if f.present[p] {
			out[p] = true
		}
	}
	return out, nil
}

func newDeduper(t *testing.T, store Lookup) *Deduper {
	t.Helper()
	d, err := New(store, 16, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return d
}

func TestFilter_SplitsFreshFromStored(t *testing.T) {
	store := &fakeLookup{present: map[string]bool{"2": true, "4": true}}
	d := newDeduper(t, store)

	fresh, skipped, err := d.Filter(context.Background(), []string{"1", "2", "3", "4", "5"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3", "5"}, fresh)
	assert.Equal(t, 2, skipped)
}

func TestFilter_CachesPositiveHits(t *testing.T) {
	store := &fakeLookup{present: map[string]bool{"2": true}}
	d := newDeduper(t, store)

	_, _, err := d.Filter(context.Background(), []string{"1", "2"})
	require.NoError(t, err)

	// Second round: "2" is served from cache, only "1" and "3" hit the store.
	fresh, skipped, err := d.Filter(context.Background(), []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, fresh)
	assert.Equal(t, 1, skipped)
	require.Len(t, store.queries, 2)
	assert.Equal(t, []string{"1", "3"}, store.queries[1])
}

func TestFilter_AbsenceIsNotCached(t *testing.T) {
	store := &fakeLookup{present: map[string]bool{}}
	d := newDeduper(t, store)

	_, _, err := d.Filter(context.Background(), []string{"9"})
	require.NoError(t, err)

	// Another worker stores "9" between calls.
	store.present["9"] = true
	fresh, skipped, err := d.Filter(context.Background(), []string{"9"})
	require.NoError(t, err)
	assert.Empty(t, fresh)
	assert.Equal(t, 1, skipped)
}

func TestFilter_PropagatesStoreError(t *testing.T) {
	store := &fakeLookup{err: errors.New("connection refused")}
	d := newDeduper(t, store)

	_, _, err := d.Filter(context.Background(), []string{"1"})
	assert.Error(t, err)
}

func TestMarkStored_WarmsCache(t *testing.T) {
	store := &fakeLookup{present: map[string]bool{}}
	d := newDeduper(t, store)

	d.MarkStored("7", "8")
	fresh, skipped, err := d.Filter(context.Background(), []string{"7", "8"})
	require.NoError(t, err)
	assert.Empty(t, fresh)
	assert.Equal(t, 2, skipped)
	assert.Empty(t, store.queries, "fully cached input never hits the store")
}
