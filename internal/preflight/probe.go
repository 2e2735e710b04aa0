package preflight

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pubvec/pubvec/internal/config"
	"github.com/pubvec/pubvec/internal/embed"
	"github.com/pubvec/pubvec/internal/pubmed"
)

// probeTimeout bounds each live probe individually.
const probeTimeout = 15 * time.Second

// Prober runs live connectivity checks. Each probe returns nil when the
// service answered.
type Prober interface {
	ProbeDatabase(ctx context.Context) error
	ProbeEmbedding(ctx context.Context) error
	ProbePubMed(ctx context.Context) error
}

// liveProber talks to the real services using the loaded configuration.
type liveProber struct {
	cfg *config.Config
}

var _ Prober = (*liveProber)(nil)

func (p *liveProber) ProbeDatabase(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	conn, err := pgx.Connect(ctx, p.cfg.Storage.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	return conn.Ping(ctx)
}

func (p *liveProber) ProbeEmbedding(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	embedder, err := embed.NewOpenAI(embed.Options{
		BaseURL:    p.cfg.Embedding.BaseURL,
		APIKey:     p.cfg.Embedding.APIKey,
		Model:      p.cfg.Embedding.Model,
		Dimensions: p.cfg.Embedding.Dimensions,
	})
	if err != nil {
		return err
	}
	defer embedder.Close()

	_, err = embedder.EmbedBatch(ctx, []string{"connectivity probe"})
	return err
}

func (p *liveProber) ProbePubMed(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	client := pubmed.NewClient(pubmed.ClientOptions{
		APIKey: p.cfg.Pipeline.NCBIAPIKey,
	})
	_, err := client.Search(ctx, "medicine", 1)
	return err
}
