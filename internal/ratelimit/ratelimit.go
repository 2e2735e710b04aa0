// Package ratelimit gates outbound calls to third-party endpoints.
//
// Each endpoint gets a token bucket; callers block in Acquire until a slot
// is available or the context is cancelled. NCBI allows 3 requests/second
// without an API key and 10 with one; the embedding endpoint is paced at
// batch-group granularity by the embedding client itself.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Well-known endpoint names.
const (
	EndpointPubMed = "pubmed"
	EndpointEmbed  = "embed"
)

// PubMed request-per-second ceilings per NCBI usage policy.
const (
	PubMedRPS        = 3
	PubMedRPSWithKey = 10
)

// Limiter is a registry of per-endpoint token buckets.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates an empty Limiter. Endpoints must be registered before use.
func New() *Limiter {
	return &Limiter{buckets: make(map[string]*rate.Limiter)}
}

// NewDefault creates a Limiter with the standard PubVec endpoints registered.
// hasNCBIKey selects the authenticated PubMed rate.
func NewDefault(hasNCBIKey bool, embedGroupsPerSecond float64) *Limiter {
	l := New()

	rps := float64(PubMedRPS)
	if hasNCBIKey {
		rps = PubMedRPSWithKey
	}
	l.Register(EndpointPubMed, rps, 1)

	if embedGroupsPerSecond <= 0 {
		embedGroupsPerSecond = 1
	}
	l.Register(EndpointEmbed, embedGroupsPerSecond, 1)

	return l
}

// Register installs a token bucket for endpoint at the given rate.
// Re-registering replaces the previous bucket.
func (l *Limiter) Register(endpoint string, rps float64, burst int) {
	if burst < 1 {
		burst = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[endpoint] = rate.NewLimiter(rate.Limit(rps), burst)
}

// Acquire blocks until a request slot for endpoint is available or ctx is
// cancelled. Unknown endpoints are an error rather than an unlimited pass.
func (l *Limiter) Acquire(ctx context.Context, endpoint string) error {
	l.mu.Lock()
	bucket, ok := l.buckets[endpoint]
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("ratelimit: unknown endpoint %q", endpoint)
	}
	return bucket.Wait(ctx)
}

// Rate returns the configured requests-per-second for endpoint, or 0 if the
// endpoint is not registered.
func (l *Limiter) Rate(endpoint string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bucket, ok := l.buckets[endpoint]; ok {
		return float64(bucket.Limit())
	}
	return 0
}
