package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	pverrors "github.com/pubvec/pubvec/internal/errors"
)

// Defaults for the OpenAI-compatible embeddings client.
const (
	DefaultBaseURL     = "https://api.openai.com"
	DefaultModel       = "text-embedding-3-small"
	DefaultDimensions  = 1536
	DefaultBatchSize   = 200
	DefaultMaxParallel = 3

	// maxAttempts bounds retries for a single API batch.
	maxAttempts = 5

	// launchStagger spaces out parallel batch launches so a burst of
	// requests does not trip the provider's rate limiter immediately.
	launchStagger = 200 * time.Millisecond
)

// Options configures an OpenAIEmbedder. Zero values take defaults.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Dimensions  int
	BatchSize   int
	MaxParallel int
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// OpenAIEmbedder calls a /v1/embeddings endpoint. Parallelism across API
// batches is adaptive: repeated rate limiting halves it, a clean minute
// restores it one step at a time.
type OpenAIEmbedder struct {
	baseURL   string
	apiKey    string
	model     string
	dims      int
	batchSize int
	maxPar    int
	http      *http.Client
	logger    *slog.Logger

	state adaptiveState
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAI creates an embedder. The API key is required.
func NewOpenAI(opts Options) (*OpenAIEmbedder, error) {
	if opts.APIKey == "" {
		return nil, pverrors.ConfigError("embedding API key is required", nil)
	}
	e := &OpenAIEmbedder{
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:    opts.APIKey,
		model:     opts.Model,
		dims:      opts.Dimensions,
		batchSize: opts.BatchSize,
		maxPar:    opts.MaxParallel,
		http:      opts.HTTPClient,
		logger:    opts.Logger,
	}
	if e.baseURL == "" {
		e.baseURL = DefaultBaseURL
	}
	if e.model == "" {
		e.model = DefaultModel
	}
	if e.dims <= 0 {
		e.dims = DefaultDimensions
	}
	if e.batchSize <= 0 {
		e.batchSize = DefaultBatchSize
	}
	if e.maxPar <= 0 {
		e.maxPar = DefaultMaxParallel
	}
	if e.http == nil {
		e.http = &http.Client{Timeout: 120 * time.Second}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.state.init(e.maxPar)
	return e, nil
}

// Dimensions implements Embedder.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// ModelName implements Embedder.
func (e *OpenAIEmbedder) ModelName() string { return e.model }

// Close implements Embedder.
func (e *OpenAIEmbedder) Close() error {
	e.http.CloseIdleConnections()
	return nil
}

// EmbedBatch implements Embedder. Inputs are split into API batches which
// run in parallel under the adaptive limit; results come back aligned with
// the input slice.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	results := make([][]float32, len(inputs))
	if len(inputs) == 0 {
		return results, nil
	}

	// Blank inputs never reach the API.
	type span struct{ start, end int } // index range into inputs
	var spans []span
	nonEmpty := 0
	for i, in := range inputs {
		if strings.TrimSpace(in) == "" {
			results[i] = zeroVector(e.dims)
		} else {
			nonEmpty++
		}
	}
	for start := 0; start < len(inputs); start += e.batchSize {
		end := start + e.batchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		spans = append(spans, span{start, end})
	}
	if nonEmpty == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.state.parallelism())

	for bi, sp := range spans {
		if bi > 0 {
			select {
			case <-gctx.Done():
				return nil, gctx.Err()
			case <-time.After(launchStagger):
			}
		}
		sp := sp
		g.Go(func() error {
			return e.embedSpan(gctx, inputs[sp.start:sp.end], results[sp.start:sp.end])
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// embedSpan embeds one API batch, writing vectors into out (already aligned
// with in). Blank inputs were pre-filled with zero vectors.
func (e *OpenAIEmbedder) embedSpan(ctx context.Context, in []string, out [][]float32) error {
	texts := make([]string, 0, len(in))
	positions := make([]int, 0, len(in))
	for i, s := range in {
		if strings.TrimSpace(s) != "" {
			texts = append(texts, s)
			positions = append(positions, i)
		}
	}
	if len(texts) == 0 {
		return nil
	}

	vectors, err := e.callWithRetry(ctx, texts)
	if err != nil {
		return err
	}
	for i, v := range vectors {
		out[positions[i]] = v
	}
	return nil
}

// rateLimitHintRe pulls the server's suggested wait out of a 429 body, e.g.
// "Rate limit reached ... Please try again in 2.347s."
var rateLimitHintRe = regexp.MustCompile(`try again in ([\d.]+)s`)

// callWithRetry runs one embeddings request with up to maxAttempts tries.
// Rate limits honor the server's wait hint (padded 10% plus jitter); network
// failures back off exponentially. Other API errors fail immediately.
func (e *OpenAIEmbedder) callWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	networkDelay := time.Second
	warned := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		vectors, err := e.callOnce(ctx, texts)
		if err == nil {
			e.state.noteSuccess(e.logger)
			return vectors, nil
		}
		lastErr = err

		var wait time.Duration
		switch {
		case pverrors.GetCode(err) == pverrors.ErrCodeRateLimited:
			e.state.noteRateLimit(e.logger)
			wait = rateLimitWait(err.Error())
			if !warned {
				// One warning per batch is enough; retries at debug.
				e.logger.Warn("embedding rate limited",
					"wait", wait.Round(time.Millisecond),
					"attempt", attempt)
				warned = true
			} else {
				e.logger.Debug("embedding rate limited again",
					"wait", wait.Round(time.Millisecond),
					"attempt", attempt)
			}
		case pverrors.IsRetryable(err):
			wait = networkDelay
			networkDelay *= 2
			e.logger.Debug("embedding request failed, retrying",
				"error", err, "wait", wait, "attempt", attempt)
		default:
			return nil, err
		}

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, pverrors.New(pverrors.ErrCodeEmbedFailed,
		fmt.Sprintf("batch of %d inputs failed after %d attempts", len(texts), maxAttempts),
		lastErr)
}

// rateLimitWait computes how long to sleep after a 429: the server's hint
// padded by 10%, plus up to 500ms of jitter. Without a hint, 2s base.
func rateLimitWait(message string) time.Duration {
	base := 2 * time.Second
	if m := rateLimitHintRe.FindStringSubmatch(message); m != nil {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil && secs > 0 {
			base = time.Duration(secs * 1.1 * float64(time.Second))
		}
	}
	return base + time.Duration(rand.Int63n(int64(500*time.Millisecond)))
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (e *OpenAIEmbedder) callOnce(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embeddingRequest{
		Model:      e.model,
		Input:      texts,
		Dimensions: e.dims,
	})
	if err != nil {
		return nil, pverrors.EmbedError("encoding embeddings request failed", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, pverrors.EmbedError("building embeddings request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, pverrors.NetworkError("embeddings request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pverrors.NetworkError("reading embeddings response failed", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests ||
		strings.Contains(string(body), "rate_limit") {
		return nil, pverrors.New(pverrors.ErrCodeRateLimited,
			fmt.Sprintf("embeddings endpoint rate limited: %s", strings.TrimSpace(string(body))), nil)
	}
	if resp.StatusCode >= 500 {
		return nil, pverrors.NetworkError(
			fmt.Sprintf("embeddings endpoint returned HTTP %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, pverrors.New(pverrors.ErrCodeEmbedFailed,
			fmt.Sprintf("embeddings endpoint returned HTTP %d: %s",
				resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, pverrors.EmbedError("embeddings response is not valid JSON", err)
	}
	if parsed.Error != nil {
		return nil, pverrors.EmbedError(parsed.Error.Message, nil)
	}
	if len(parsed.Data) != len(texts) {
		return nil, pverrors.EmbedError(
			fmt.Sprintf("requested %d embeddings, got %d", len(texts), len(parsed.Data)), nil)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, pverrors.EmbedError(
				fmt.Sprintf("embedding index %d out of range", d.Index), nil)
		}
		if len(d.Embedding) != e.dims {
			return nil, pverrors.New(pverrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("expected %d dimensions, got %d", e.dims, len(d.Embedding)), nil)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}
