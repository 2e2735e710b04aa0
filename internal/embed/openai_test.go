package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pverrors "github.com/pubvec/pubvec/internal/errors"
)

// embedServer answers /v1/embeddings with deterministic vectors: every
// component is the input's length. before, when set, can hijack a request.
type embedServer struct {
	mu       sync.Mutex
	requests [][]string
	dims     int
	before   func(n int, w http.ResponseWriter) bool // true = handled
}

func (s *embedServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.requests = append(s.requests, req.Input)
		n := len(s.requests)
		s.mu.Unlock()

		if s.before != nil && s.before(n, w) {
			return
		}

		// Reverse order on purpose; the client must realign by index.
		var data []map[string]any
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, s.dims)
			for d := range vec {
				vec[d] = float32(len(req.Input[i]))
			}
			data = append(data, map[string]any{"index": i, "embedding": vec})
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}
}

func (s *embedServer) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newTestEmbedder(t *testing.T, srv *httptest.Server, opts Options) *OpenAIEmbedder {
	t.Helper()
	opts.BaseURL = srv.URL
	if opts.APIKey == "" {
		opts.APIKey = "test-key"
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	e, err := NewOpenAI(opts)
	require.NoError(t, err)
	return e
}

func TestNewOpenAI_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAI(Options{})
	require.Error(t, err)
	assert.Equal(t, pverrors.ErrCodeConfigInvalid, pverrors.GetCode(err))
}

func TestEmbedBatch_AlignsResultsWithInputs(t *testing.T) {
	backend := &embedServer{dims: 3}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	e := newTestEmbedder(t, srv, Options{Dimensions: 3})

	inputs := []string{"a", "bb", "ccc"}
	vectors, err := e.EmbedBatch(context.Background(), inputs)
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	// The server responds in reverse index order; alignment must hold.
	for i, in := range inputs {
		require.Len(t, vectors[i], 3)
		assert.Equal(t, float32(len(in)), vectors[i][0], "input %d", i)
	}
}

func TestEmbedBatch_EmptyInputsBecomeZeroVectors(t *testing.T) {
	backend := &embedServer{dims: 3}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	e := newTestEmbedder(t, srv, Options{Dimensions: 3})

	vectors, err := e.EmbedBatch(context.Background(), []string{"", "real text", "   "})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	assert.Equal(t, []float32{0, 0, 0}, vectors[0])
	assert.Equal(t, []float32{0, 0, 0}, vectors[2])
	assert.Equal(t, float32(len("real text")), vectors[1][0])

	// Only the non-blank input reached the API.
	require.Equal(t, 1, backend.requestCount())
	assert.Equal(t, []string{"real text"}, backend.requests[0])
}

func TestEmbedBatch_AllBlankSkipsAPI(t *testing.T) {
	backend := &embedServer{dims: 3}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	e := newTestEmbedder(t, srv, Options{Dimensions: 3})

	vectors, err := e.EmbedBatch(context.Background(), []string{"", "  "})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0}, vectors[0])
	assert.Equal(t, 0, backend.requestCount())
}

func TestEmbedBatch_SplitsIntoAPIBatches(t *testing.T) {
	backend := &embedServer{dims: 2}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	e := newTestEmbedder(t, srv, Options{Dimensions: 2, BatchSize: 2})

	inputs := []string{"one", "two", "three", "four", "five"}
	vectors, err := e.EmbedBatch(context.Background(), inputs)
	require.NoError(t, err)
	require.Len(t, vectors, 5)
	assert.Equal(t, 3, backend.requestCount())
	for i, in := range inputs {
		assert.Equal(t, float32(len(in)), vectors[i][0], "input %d", i)
	}
}

func TestEmbedBatch_RateLimitedThenRecovers(t *testing.T) {
	backend := &embedServer{dims: 2}
	backend.before = func(n int, w http.ResponseWriter) bool {
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"Rate limit reached. Please try again in 0.01s.","type":"rate_limit_exceeded"}}`)
			return true
		}
		return false
	}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	e := newTestEmbedder(t, srv, Options{Dimensions: 2})

	vectors, err := e.EmbedBatch(context.Background(), []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, float32(5), vectors[0][0])
	assert.Equal(t, 2, backend.requestCount())
}

func TestEmbedBatch_PersistentRateLimitFails(t *testing.T) {
	backend := &embedServer{dims: 2}
	backend.before = func(n int, w http.ResponseWriter) bool {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"try again in 0.001s","type":"rate_limit_exceeded"}}`)
		return true
	}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	e := newTestEmbedder(t, srv, Options{Dimensions: 2})

	_, err := e.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, pverrors.ErrCodeEmbedFailed, pverrors.GetCode(err))
	assert.Equal(t, maxAttempts, backend.requestCount())
}

func TestEmbedBatch_ClientErrorFailsFast(t *testing.T) {
	backend := &embedServer{dims: 2}
	backend.before = func(n int, w http.ResponseWriter) bool {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key","type":"invalid_request_error"}}`)
		return true
	}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	e := newTestEmbedder(t, srv, Options{Dimensions: 2})

	_, err := e.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, 1, backend.requestCount())
}

func TestEmbedBatch_DimensionMismatchFails(t *testing.T) {
	backend := &embedServer{dims: 7} // server disagrees with the client's 3
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	e := newTestEmbedder(t, srv, Options{Dimensions: 3})

	_, err := e.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
}

func TestRateLimitWait_ParsesServerHint(t *testing.T) {
	w := rateLimitWait("Rate limit reached. Please try again in 2.0s.")
	// 2.0s padded 10% plus up to 500ms jitter.
	assert.GreaterOrEqual(t, w.Seconds(), 2.2)
	assert.Less(t, w.Seconds(), 2.8)

	w = rateLimitWait("no hint at all")
	assert.GreaterOrEqual(t, w.Seconds(), 2.0)
}

func TestAdaptiveState_HalvesAfterRepeatedRateLimits(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	var s adaptiveState
	s.init(4)
	require.Equal(t, 4, s.parallelism())

	s.noteRateLimit(logger)
	assert.Equal(t, 4, s.parallelism(), "one hit is tolerated")

	s.noteRateLimit(logger)
	assert.Equal(t, 2, s.parallelism(), "second consecutive hit halves")

	s.noteRateLimit(logger)
	s.noteRateLimit(logger)
	assert.Equal(t, 1, s.parallelism())

	s.noteRateLimit(logger)
	s.noteRateLimit(logger)
	assert.Equal(t, 1, s.parallelism(), "floor is 1")
}

func TestAdaptiveState_SuccessResetsStreak(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	var s adaptiveState
	s.init(4)

	s.noteRateLimit(logger)
	s.noteSuccess(logger)
	s.noteRateLimit(logger)
	assert.Equal(t, 4, s.parallelism(), "non-consecutive hits never halve")
}

func TestAdaptiveState_RecoveryIsGradual(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	var s adaptiveState
	s.init(4)

	s.noteRateLimit(logger)
	s.noteRateLimit(logger)
	require.Equal(t, 2, s.parallelism())

	// A success right after the hit must not raise parallelism: the clean
	// window has not elapsed.
	s.noteSuccess(logger)
	assert.Equal(t, 2, s.parallelism())
}
