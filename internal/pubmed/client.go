package pubmed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	pverrors "github.com/pubvec/pubvec/internal/errors"
	"github.com/pubvec/pubvec/internal/ratelimit"
)

// DefaultBaseURL is the NCBI E-utilities endpoint.
const DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// DefaultSubBatchSize caps PMIDs per efetch GET. NCBI rejects longer URLs.
const DefaultSubBatchSize = 500

// ClientOptions configures a Client. Zero-value fields get defaults.
type ClientOptions struct {
	BaseURL      string
	APIKey       string // NCBI API key; raises the allowed request rate
	HTTPClient   *http.Client
	Limiter      *ratelimit.Limiter
	SubBatchSize int
	Logger       *slog.Logger
}

// Client is an NCBI esearch/efetch client. All outbound requests pass
// through the shared rate limiter.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	limiter  *ratelimit.Limiter
	subBatch int
	logger   *slog.Logger
}

// NewClient creates a PubMed client.
func NewClient(opts ClientOptions) *Client {
	c := &Client{
		baseURL:  strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:   opts.APIKey,
		http:     opts.HTTPClient,
		limiter:  opts.Limiter,
		subBatch: opts.SubBatchSize,
		logger:   opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 60 * time.Second}
	}
	if c.limiter == nil {
		c.limiter = ratelimit.NewDefault(c.apiKey != "", 1)
	}
	if c.subBatch <= 0 || c.subBatch > DefaultSubBatchSize {
		c.subBatch = DefaultSubBatchSize
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// esearchResponse is the retmode=json envelope; only the fields we read.
type esearchResponse struct {
	ESearchResult struct {
		Count  string   `json:"count"`
		IdList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// Search runs an esearch query and returns up to maxResults PMIDs in
// relevance order. No matches is an empty slice, not an error.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]string, error) {
	if maxResults <= 0 {
		maxResults = 100
	}

	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("term", query)
	q.Set("retmax", strconv.Itoa(maxResults))
	q.Set("retmode", "json")
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}

	body, err := c.get(ctx, c.baseURL+"/esearch.fcgi?"+q.Encode())
	if err != nil {
		if pe, ok := err.(*pverrors.PipelineError); ok {
			return nil, pe
		}
		return nil, pverrors.New(pverrors.ErrCodeSearchFailed, "esearch request failed", err)
	}

	var resp esearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, pverrors.New(pverrors.ErrCodeProtocol, "esearch returned malformed JSON", err)
	}

	ids := resp.ESearchResult.IdList
	if ids == nil {
		ids = []string{}
	}
	c.logger.Debug("esearch complete",
		"query", query,
		"count", resp.ESearchResult.Count,
		"returned", len(ids))
	return ids, nil
}

// Fetch retrieves full records for the given PMIDs as raw efetch XML.
// PMIDs are fetched in sub-batches and the response bodies concatenated;
// ParseArticles accepts the concatenated form. Order follows the input.
func (c *Client) Fetch(ctx context.Context, pmids []string) ([]byte, error) {
	if len(pmids) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	for start := 0; start < len(pmids); start += c.subBatch {
		end := start + c.subBatch
		if end > len(pmids) {
			end = len(pmids)
		}

		q := url.Values{}
		q.Set("db", "pubmed")
		q.Set("id", strings.Join(pmids[start:end], ","))
		q.Set("retmode", "xml")
		q.Set("rettype", "abstract")
		if c.apiKey != "" {
			q.Set("api_key", c.apiKey)
		}

		body, err := c.get(ctx, c.baseURL+"/efetch.fcgi?"+q.Encode())
		if err != nil {
			return nil, err
		}
		buf.Write(body)
		buf.WriteByte('\n')
	}

	c.logger.Debug("efetch complete", "pmids", len(pmids), "bytes", buf.Len())
	return buf.Bytes(), nil
}

// get performs a rate-limited GET and returns the response body.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.limiter.Acquire(ctx, ratelimit.EndpointPubMed); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, pverrors.New(pverrors.ErrCodeProtocol, "building request failed", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pverrors.NetworkError("pubmed request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pverrors.NetworkError("reading pubmed response failed", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, pverrors.New(pverrors.ErrCodeRateLimited,
			"pubmed rate limit exceeded", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, pverrors.New(pverrors.ErrCodeProtocol,
			fmt.Sprintf("pubmed returned HTTP %d", resp.StatusCode), nil)
	}
	return body, nil
}

// CanonicalURL returns the public article URL for a PMID.
func CanonicalURL(pmid string) string {
	return fmt.Sprintf("https://pubmed.ncbi.nlm.nih.gov/%s/", pmid)
}

// PMCFullTextURL returns the PMC full-text URL for a PMCID such as "PMC12345".
func PMCFullTextURL(pmcid string) string {
	return fmt.Sprintf("https://www.ncbi.nlm.nih.gov/pmc/articles/%s/", pmcid)
}
