package pubmed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pverrors "github.com/pubvec/pubvec/internal/errors"
	"github.com/pubvec/pubvec/internal/ratelimit"
)

// testLimiter returns a limiter that never blocks, so tests run fast.
func testLimiter() *ratelimit.Limiter {
	l := ratelimit.New()
	l.Register(ratelimit.EndpointPubMed, 10_000, 10_000)
	return l
}

func TestSearch_ReturnsPMIDs(t *testing.T) {
	var gotPath, gotTerm, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTerm = r.URL.Query().Get("term")
		gotKey = r.URL.Query().Get("api_key")
		w.Write([]byte(`{"esearchresult":{"count":"3","idlist":["111","222","333"]}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{
		BaseURL: srv.URL,
		APIKey:  "secret-key",
		Limiter: testLimiter(),
	})

	ids, err := c.Search(context.Background(), "(aspirin[Title/Abstract])", 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"111", "222", "333"}, ids)
	assert.Equal(t, "/esearch.fcgi", gotPath)
	assert.Equal(t, "(aspirin[Title/Abstract])", gotTerm)
	assert.Equal(t, "secret-key", gotKey)
}

func TestSearch_NoMatchesIsEmptyNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"esearchresult":{"count":"0","idlist":[]}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, Limiter: testLimiter()})
	ids, err := c.Search(context.Background(), "no such topic", 10)
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestSearch_MalformedJSONIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, Limiter: testLimiter()})
	_, err := c.Search(context.Background(), "x", 10)
	require.Error(t, err)
	assert.Equal(t, pverrors.ErrCodeProtocol, pverrors.GetCode(err))
}

func TestSearch_ServerErrorIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, Limiter: testLimiter()})
	_, err := c.Search(context.Background(), "x", 10)
	require.Error(t, err)
	assert.Equal(t, pverrors.ErrCodeProtocol, pverrors.GetCode(err))
	assert.False(t, pverrors.IsRetryable(err))
}

func TestSearch_TooManyRequestsIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, Limiter: testLimiter()})
	_, err := c.Search(context.Background(), "x", 10)
	require.Error(t, err)
	assert.Equal(t, pverrors.ErrCodeRateLimited, pverrors.GetCode(err))
	assert.True(t, pverrors.IsRetryable(err))
}

func TestFetch_SubBatchesAndConcatenates(t *testing.T) {
	// Given: 5 PMIDs and a sub-batch size of 2
	var batches []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/efetch.fcgi", r.URL.Path)
		ids := r.URL.Query().Get("id")
		batches = append(batches, ids)
		w.Write([]byte("<PubmedArticleSet><!-- " + ids + " --></PubmedArticleSet>"))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{
		BaseURL:      srv.URL,
		Limiter:      testLimiter(),
		SubBatchSize: 2,
	})

	// When
	data, err := c.Fetch(context.Background(), []string{"1", "2", "3", "4", "5"})

	// Then: three requests in input order, bodies concatenated
	require.NoError(t, err)
	assert.Equal(t, []string{"1,2", "3,4", "5"}, batches)
	body := string(data)
	assert.Less(t, strings.Index(body, "1,2"), strings.Index(body, "3,4"))
	assert.Less(t, strings.Index(body, "3,4"), strings.Index(body, "5 "))
}

func TestFetch_EmptyInput(t *testing.T) {
	c := NewClient(ClientOptions{Limiter: testLimiter()})
	data, err := c.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestFetch_NetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewClient(ClientOptions{BaseURL: srv.URL, Limiter: testLimiter()})
	_, err := c.Fetch(context.Background(), []string{"1"})
	require.Error(t, err)
	assert.Equal(t, pverrors.ErrCodeNetwork, pverrors.GetCode(err))
	assert.True(t, pverrors.IsRetryable(err))
}
