package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pubvec/pubvec/internal/chunker"
	"github.com/pubvec/pubvec/internal/embed"
	pverrors "github.com/pubvec/pubvec/internal/errors"
	"github.com/pubvec/pubvec/internal/pubmed"
	"github.com/pubvec/pubvec/internal/store"
	"github.com/pubvec/pubvec/internal/ui"
)

// DefaultFetchBatchSize is the identifier batch per fetch+parse+chunk cycle.
const DefaultFetchBatchSize = 200

// PubMedClient is the search/fetch surface the orchestrator needs.
type PubMedClient interface {
	Search(ctx context.Context, query string, maxResults int) ([]string, error)
	Fetch(ctx context.Context, pmids []string) ([]byte, error)
}

// Deduper filters already-stored PMIDs. Optional.
type Deduper interface {
	Filter(ctx context.Context, pmids []string) (fresh []string, skipped int, err error)
	MarkStored(pmids ...string)
}

// Dependencies wires an Orchestrator. Client, Chunker, Embedder and Store
// are required; the rest default sensibly.
type Dependencies struct {
	Client   PubMedClient
	Chunker  *chunker.Chunker
	Embedder embed.Embedder
	Store    store.EvidenceStore
	Deduper  Deduper
	Renderer ui.Renderer
	Logger   *slog.Logger

	// Filter shapes topic queries; its year and publication-type
	// constraints are also applied to articles parsed from files.
	Filter pubmed.QueryFilter

	// MinEvidenceLevel drops parsed articles with a numerically higher
	// (weaker) level. Zero disables the filter.
	MinEvidenceLevel int

	// FetchBatchSize is the outer pipeline batch. Defaults to 200.
	FetchBatchSize int

	// DryRun stops each job after chunking: no embedding, no writes.
	DryRun bool
}

// Orchestrator runs one job at a time through the five pipeline stages.
// Multiple orchestrator calls may run concurrently; shared components
// (embedder, store, deduper) carry their own synchronization.
type Orchestrator struct {
	deps Dependencies
}

// NewOrchestrator validates dependencies and builds an orchestrator.
func NewOrchestrator(deps Dependencies) (*Orchestrator, error) {
	if deps.Client == nil {
		return nil, pverrors.ConfigError("orchestrator requires a pubmed client", nil)
	}
	if deps.Chunker == nil {
		return nil, pverrors.ConfigError("orchestrator requires a chunker", nil)
	}
	if !deps.DryRun && deps.Embedder == nil {
		return nil, pverrors.ConfigError("orchestrator requires an embedder", nil)
	}
	if !deps.DryRun && deps.Store == nil {
		return nil, pverrors.ConfigError("orchestrator requires a store", nil)
	}
	if deps.Renderer == nil {
		deps.Renderer = nopRenderer{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FetchBatchSize <= 0 {
		deps.FetchBatchSize = DefaultFetchBatchSize
	}
	return &Orchestrator{deps: deps}, nil
}

// RunJob executes one job to completion. The job's status, counters and
// errors are updated in place; the returned error reflects only a failure
// that aborted the job outright.
func (o *Orchestrator) RunJob(ctx context.Context, job *Job) error {
	job.markProcessing()
	o.deps.Logger.Info("job started", "job", job.Name(), "type", job.Type)

	var err error
	switch job.Type {
	case JobTopic:
		err = o.runTopicJob(ctx, job)
	case JobFile:
		err = o.runFileJob(ctx, job)
	default:
		err = fmt.Errorf("unknown job type %q", job.Type)
	}

	if err != nil {
		job.Errors = append(job.Errors, err.Error())
	}
	job.markFinished()
	o.deps.Logger.Info("job finished",
		"job", job.Name(),
		"status", job.Status,
		"articles", job.ArticlesProcessed,
		"chunks", job.ChunksCreated,
		"errors", len(job.Errors))
	return err
}

func (o *Orchestrator) runTopicJob(ctx context.Context, job *Job) error {
	query := pubmed.BuildQuery(job.Topic, o.deps.Filter)
	o.progress(ui.ProgressEvent{Stage: ui.StageSearch, Topic: job.Topic, Message: "searching PubMed"})

	pmids, err := o.deps.Client.Search(ctx, query, job.MaxResults)
	if err != nil {
		return pverrors.New(pverrors.ErrCodeSearchFailed,
			fmt.Sprintf("search for %q failed", job.Topic), err)
	}
	if len(pmids) == 0 {
		o.deps.Logger.Info("no results", "topic", job.Topic)
		return nil
	}

	pmids = o.dedupe(ctx, job, pmids)
	return o.processPMIDs(ctx, job, pmids)
}

func (o *Orchestrator) runFileJob(ctx context.Context, job *Job) error {
	f, err := os.Open(job.Path)
	if err != nil {
		return pverrors.New(pverrors.ErrCodeFetchFailed,
			fmt.Sprintf("opening %s failed", job.Path), err)
	}
	defer f.Close()

	// Stream one article at a time; baseline files run to gigabytes.
	scanner := pubmed.NewArticleScanner(f)
	batch := make([]*pubmed.Article, 0, o.deps.FetchBatchSize)
	scanned := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		articles := o.dedupeArticles(ctx, job, batch)
		err := o.processArticles(ctx, job, articles)
		batch = batch[:0]
		return err
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		article, perr := pubmed.ParseArticle(scanner.Bytes())
		if perr != nil {
			job.Errors = append(job.Errors, perr.Error())
			o.warn(ui.ErrorEvent{Err: perr})
			continue
		}
		scanned++
		batch = append(batch, article)

		o.progress(ui.ProgressEvent{
			Stage: ui.StageParse, Topic: job.Name(),
			Current: scanned, Message: fmt.Sprintf("parsed %d articles", scanned),
		})

		if len(batch) >= o.deps.FetchBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return pverrors.New(pverrors.ErrCodeParseFailed,
			fmt.Sprintf("reading %s failed", job.Path), err)
	}
	for _, w := range scanner.Warnings() {
		job.Errors = append(job.Errors, w)
		o.warn(ui.ErrorEvent{Err: fmt.Errorf("%s: %s", job.Path, w), IsWarn: true})
	}
	return flush()
}

// dedupe filters PMIDs through the deduper, tolerating lookup failures: on
// error everything is processed and the upsert absorbs duplicates.
func (o *Orchestrator) dedupe(ctx context.Context, job *Job, pmids []string) []string {
	if o.deps.Deduper == nil {
		return pmids
	}
	fresh, skipped, err := o.deps.Deduper.Filter(ctx, pmids)
	if err != nil {
		o.deps.Logger.Warn("dedupe lookup failed, processing all ids",
			"job", job.Name(), "error", err)
		return pmids
	}
	if skipped > 0 {
		// Already-stored articles still count as processed; only the
		// fetch and downstream stages are saved.
		job.ArticlesProcessed += skipped
		o.deps.Logger.Info("skipping already-stored articles",
			"job", job.Name(), "skipped", skipped, "fresh", len(fresh))
	}
	return fresh
}

func (o *Orchestrator) dedupeArticles(ctx context.Context, job *Job, articles []*pubmed.Article) []*pubmed.Article {
	if o.deps.Deduper == nil {
		return articles
	}
	byPMID := make(map[string]*pubmed.Article, len(articles))
	pmids := make([]string, 0, len(articles))
	for _, a := range articles {
		byPMID[a.PMID] = a
		pmids = append(pmids, a.PMID)
	}
	fresh := o.dedupe(ctx, job, pmids)
	out := make([]*pubmed.Article, 0, len(fresh))
	for _, pmid := range fresh {
		out = append(out, byPMID[pmid])
	}
	return out
}

// processPMIDs runs fetch+parse+chunk+embed+store over identifier batches.
// A failing batch records its errors and the job moves on; only context
// cancellation stops the loop.
func (o *Orchestrator) processPMIDs(ctx context.Context, job *Job, pmids []string) error {
	total := len(pmids)
	done := 0

	for start := 0; start < total; start += o.deps.FetchBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + o.deps.FetchBatchSize
		if end > total {
			end = total
		}
		batch := pmids[start:end]

		o.progress(ui.ProgressEvent{
			Stage: ui.StageFetch, Topic: job.Name(),
			Current: done, Total: total,
		})

		retryCfg := pverrors.DefaultRetryConfig()
		data, err := pverrors.RetryWithResult(ctx, retryCfg, func() ([]byte, error) {
			return o.deps.Client.Fetch(ctx, batch)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			msg := fmt.Sprintf("fetch of %d ids failed: %v", len(batch), err)
			job.Errors = append(job.Errors, msg)
			o.warn(ui.ErrorEvent{Err: fmt.Errorf("%s", msg)})
			done += len(batch)
			continue
		}

		articles, parseErrs := pubmed.ParseArticles(data)
		for _, perr := range parseErrs {
			job.Errors = append(job.Errors, perr.Error())
			o.warn(ui.ErrorEvent{Err: perr})
		}

		if err := o.processArticles(ctx, job, articles); err != nil {
			return err
		}
		done += len(batch)
	}
	return nil
}

// processArticles chunks, embeds and stores one batch of parsed articles.
func (o *Orchestrator) processArticles(ctx context.Context, job *Job, articles []*pubmed.Article) error {
	var chunks []*chunker.Chunk

	for _, a := range articles {
		if !o.matchesFilter(a) {
			continue
		}
		if o.deps.MinEvidenceLevel > 0 && a.EvidenceLevel > o.deps.MinEvidenceLevel {
			continue
		}

		o.progress(ui.ProgressEvent{
			Stage: ui.StageChunk, Topic: job.Name(),
			Message: fmt.Sprintf("chunking pmid %s", a.PMID),
		})

		cs, err := o.deps.Chunker.Chunk(a)
		if err != nil {
			// Abstract-less articles are routine; anything else counts.
			if pverrors.GetCode(err) == pverrors.ErrCodeEmptyAbstract {
				o.warn(ui.ErrorEvent{PMID: a.PMID, Err: err, IsWarn: true})
			} else {
				job.Errors = append(job.Errors, err.Error())
				o.warn(ui.ErrorEvent{PMID: a.PMID, Err: err})
			}
			continue
		}
		for _, w := range chunker.Validate(cs) {
			o.warn(ui.ErrorEvent{PMID: a.PMID, Err: fmt.Errorf("%s", w), IsWarn: true})
		}
		chunks = append(chunks, cs...)
		job.ArticlesProcessed++
		job.noteLevel(a.EvidenceLevel)
	}

	if len(chunks) == 0 {
		return nil
	}
	if o.deps.DryRun {
		job.ChunksCreated += len(chunks)
		return nil
	}

	o.progress(ui.ProgressEvent{
		Stage: ui.StageEmbed, Topic: job.Name(),
		Total: len(chunks), Message: fmt.Sprintf("embedding %d chunks", len(chunks)),
	})

	inputs := make([]string, len(chunks))
	for i, c := range chunks {
		inputs[i] = c.ContentWithContext
	}
	vectors, err := o.deps.Embedder.EmbedBatch(ctx, inputs)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Chunks from a failed embed group are dropped, not re-queued;
		// a later run picks the articles up again via dedupe-miss.
		msg := fmt.Sprintf("embedding %d chunks failed: %v", len(chunks), err)
		job.Errors = append(job.Errors, msg)
		o.warn(ui.ErrorEvent{Err: fmt.Errorf("%s", msg)})
		return nil
	}

	records := make([]store.Record, len(chunks))
	for i, c := range chunks {
		records[i] = store.Record{Chunk: c, Embedding: vectors[i]}
	}

	o.progress(ui.ProgressEvent{
		Stage: ui.StageStore, Topic: job.Name(),
		Total: len(records), Message: fmt.Sprintf("storing %d chunks", len(records)),
	})

	result, err := o.deps.Store.Store(ctx, records)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := fmt.Sprintf("storing %d chunks failed: %v", len(records), err)
		job.Errors = append(job.Errors, msg)
		o.warn(ui.ErrorEvent{Err: fmt.Errorf("%s", msg)})
		return nil
	}
	for _, serr := range result.Errors {
		job.Errors = append(job.Errors, serr.Error())
		o.warn(ui.ErrorEvent{Err: serr})
	}
	job.ChunksCreated += result.Stored

	if o.deps.Deduper != nil && result.Success {
		seen := make(map[string]bool)
		for _, c := range chunks {
			if !seen[c.PMID] {
				seen[c.PMID] = true
				o.deps.Deduper.MarkStored(c.PMID)
			}
		}
	}
	return nil
}

// matchesFilter checks the year and publication-type constraints against a
// parsed article. Topic searches filter server-side already; file jobs have
// no query, so this is where their filter flags take effect.
func (o *Orchestrator) matchesFilter(a *pubmed.Article) bool {
	f := o.deps.Filter
	if f.FromYear > 0 && a.PubDate.Year < f.FromYear {
		return false
	}
	if f.ToYear > 0 && a.PubDate.Year > f.ToYear {
		return false
	}
	if len(f.PublicationTypes) > 0 {
		match := false
		for _, pt := range a.PublicationTypes {
			for _, want := range f.PublicationTypes {
				if strings.EqualFold(pt.Name, want) {
					match = true
				}
			}
		}
		if !match {
			return false
		}
	}
	return true
}

func (o *Orchestrator) progress(event ui.ProgressEvent) {
	o.deps.Renderer.UpdateProgress(event)
}

func (o *Orchestrator) warn(event ui.ErrorEvent) {
	o.deps.Renderer.AddError(event)
}

// nopRenderer drops all events; used when no renderer is wired.
type nopRenderer struct{}

func (nopRenderer) Start(context.Context) error     { return nil }
func (nopRenderer) UpdateProgress(ui.ProgressEvent) {}
func (nopRenderer) AddError(ui.ErrorEvent)          {}
func (nopRenderer) Complete(ui.CompletionStats)     {}
func (nopRenderer) Stop() error                     { return nil }

var _ ui.Renderer = nopRenderer{}
