package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pubvec/pubvec/internal/chunker"
	pverrors "github.com/pubvec/pubvec/internal/errors"
	"github.com/pubvec/pubvec/internal/pubmed"
	"github.com/pubvec/pubvec/internal/store"
	"github.com/pubvec/pubvec/internal/ui"
)

// --- fixtures ---

func articleXML(pmid, title, abstract string) string {
	return articleXMLWithType(pmid, title, abstract, "")
}

func articleXMLWithType(pmid, title, abstract, pubType string) string {
	typeList := ""
	if pubType != "" {
		typeList = fmt.Sprintf(`<PublicationTypeList><PublicationType UI="D016449">%s</PublicationType></PublicationTypeList>`, pubType)
	}
	return fmt.Sprintf(`<PubmedArticle>
  <MedlineCitation>
    <PMID Version="1">%s</PMID>
    <Article>
      <Journal>
        <ISSN IssnType="Electronic">1533-4406</ISSN>
        <JournalIssue CitedMedium="Internet">
          <PubDate><Year>2021</Year><Month>Mar</Month></PubDate>
        </JournalIssue>
        <Title>Journal of Testing</Title>
        <ISOAbbreviation>J Test</ISOAbbreviation>
      </Journal>
      <ArticleTitle>%s</ArticleTitle>
      <Abstract><AbstractText>%s</AbstractText></Abstract>
      %s
    </Article>
  </MedlineCitation>
</PubmedArticle>`, pmid, title, abstract, typeList)
}

func articleSetXML(articles ...string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?><PubmedArticleSet>` +
		strings.Join(articles, "\n") + `</PubmedArticleSet>`)
}

// --- fakes ---

type fakeClient struct {
	mu          sync.Mutex
	searchPMIDs []string
	searchErr   error
	searched    []string
	fetchCalls  [][]string
	xmlByPMID   map[string]string
}

func (f *fakeClient) Search(ctx context.Context, query string, maxResults int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searched = append(f.searched, query)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchPMIDs, nil
}

func (f *fakeClient) Fetch(ctx context.Context, pmids []string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls = append(f.fetchCalls, append([]string(nil), pmids...))
	articles := make([]string, 0, len(pmids))
	for _, pmid := range pmids {
		if x, ok := f.xmlByPMID[pmid]; ok {
			articles = append(articles, x)
		}
	}
	return articleSetXML(articles...), nil
}

type fakeEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string(nil), inputs...))
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{1, 2, 3, 4}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int   { return 4 }
func (f *fakeEmbedder) ModelName() string { return "fake-embedder" }
func (f *fakeEmbedder) Close() error      { return nil }

type fakeStore struct {
	mu       sync.Mutex
	records  []store.Record
	storeErr error
}

func (f *fakeStore) Store(ctx context.Context, records []store.Record) (*store.StoreResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	f.records = append(f.records, records...)
	return &store.StoreResult{Success: true, Stored: len(records)}, nil
}

func (f *fakeStore) ExistingPMIDs(ctx context.Context, pmids []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (f *fakeStore) EnsureSchema(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                           { return nil }

type fakeDeduper struct {
	mu       sync.Mutex
	existing map[string]bool
	marked   []string
}

func (f *fakeDeduper) Filter(ctx context.Context, pmids []string) ([]string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var fresh []string
	skipped := 0
	for _, pmid := range pmids {
		if f.existing[pmid] {
			skipped++
			continue
		}
		fresh = append(fresh, pmid)
	}
	return fresh, skipped, nil
}

func (f *fakeDeduper) MarkStored(pmids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, pmids...)
}

type recordingRenderer struct {
	mu     sync.Mutex
	events []ui.ProgressEvent
	errors []ui.ErrorEvent
}

func (r *recordingRenderer) Start(context.Context) error { return nil }
func (r *recordingRenderer) Stop() error                 { return nil }
func (r *recordingRenderer) Complete(ui.CompletionStats) {}

func (r *recordingRenderer) UpdateProgress(e ui.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingRenderer) AddError(e ui.ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, e)
}

func (r *recordingRenderer) warnings() []ui.ErrorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ui.ErrorEvent
	for _, e := range r.errors {
		if e.IsWarn {
			out = append(out, e)
		}
	}
	return out
}

// --- helpers ---

func testDeps(t *testing.T, client *fakeClient) (Dependencies, *fakeEmbedder, *fakeStore) {
	t.Helper()
	embedder := &fakeEmbedder{}
	st := &fakeStore{}
	return Dependencies{
		Client:   client,
		Chunker:  chunker.New(chunker.DefaultOptions()),
		Embedder: embedder,
		Store:    st,
		Logger:   slog.New(slog.DiscardHandler),
	}, embedder, st
}

const testAbstract = "Treatment with the intervention reduced the primary endpoint. " +
	"The effect was consistent across all prespecified subgroups."

// --- tests ---

func TestOrchestrator_TopicJobHappyPath(t *testing.T) {
	// Given a topic whose search yields three articles, one already stored
	client := &fakeClient{
		searchPMIDs: []string{"100", "200", "300"},
		xmlByPMID: map[string]string{
			"100": articleXML("100", "First study", testAbstract),
			"300": articleXML("300", "Third study", testAbstract),
		},
	}
	deps, embedder, st := testDeps(t, client)
	deduper := &fakeDeduper{existing: map[string]bool{"200": true}}
	deps.Deduper = deduper

	orch, err := NewOrchestrator(deps)
	require.NoError(t, err)

	// When the job runs
	job := NewTopicJob("heart failure", 50)
	require.NoError(t, orch.RunJob(context.Background(), job))

	// Then the two fresh articles flow through embed and store, and the
	// deduped one still counts as processed
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 3, job.ArticlesProcessed)
	assert.Equal(t, 2, job.ChunksCreated)
	assert.Empty(t, job.Errors)

	require.Len(t, client.fetchCalls, 1)
	assert.Equal(t, []string{"100", "300"}, client.fetchCalls[0])

	require.Len(t, embedder.batches, 1)
	require.Len(t, embedder.batches[0], 2)
	assert.Contains(t, embedder.batches[0][0], "[Title: First study]")

	require.Len(t, st.records, 2)
	assert.Equal(t, "100", st.records[0].Chunk.PMID)
	assert.Equal(t, []float32{1, 2, 3, 4}, st.records[0].Embedding)

	assert.ElementsMatch(t, []string{"100", "300"}, deduper.marked)
}

func TestOrchestrator_AllDuplicatesStillCountAsProcessed(t *testing.T) {
	// Given a topic whose every result is already stored
	client := &fakeClient{searchPMIDs: []string{"111", "222"}}
	deps, embedder, st := testDeps(t, client)
	deps.Deduper = &fakeDeduper{existing: map[string]bool{"111": true, "222": true}}

	orch, err := NewOrchestrator(deps)
	require.NoError(t, err)

	job := NewTopicJob("hypertension", 10)
	require.NoError(t, orch.RunJob(context.Background(), job))

	// Then nothing is fetched or written, but the counters reflect both
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 2, job.ArticlesProcessed)
	assert.Zero(t, job.ChunksCreated)
	assert.Empty(t, client.fetchCalls)
	assert.Empty(t, embedder.batches)
	assert.Empty(t, st.records)
}

func TestOrchestrator_FetchBatching(t *testing.T) {
	client := &fakeClient{
		searchPMIDs: []string{"1", "2", "3"},
		xmlByPMID: map[string]string{
			"1": articleXML("1", "A", testAbstract),
			"2": articleXML("2", "B", testAbstract),
			"3": articleXML("3", "C", testAbstract),
		},
	}
	deps, _, _ := testDeps(t, client)
	deps.FetchBatchSize = 2

	orch, err := NewOrchestrator(deps)
	require.NoError(t, err)
	require.NoError(t, orch.RunJob(context.Background(), NewTopicJob("sepsis", 10)))

	require.Len(t, client.fetchCalls, 2)
	assert.Equal(t, []string{"1", "2"}, client.fetchCalls[0])
	assert.Equal(t, []string{"3"}, client.fetchCalls[1])
}

func TestOrchestrator_SearchFailureFailsJob(t *testing.T) {
	client := &fakeClient{
		searchErr: pverrors.New(pverrors.ErrCodeProtocol, "esearch returned status 500", nil),
	}
	deps, _, _ := testDeps(t, client)

	orch, err := NewOrchestrator(deps)
	require.NoError(t, err)

	job := NewTopicJob("stroke", 10)
	err = orch.RunJob(context.Background(), job)

	require.Error(t, err)
	assert.Equal(t, pverrors.ErrCodeSearchFailed, pverrors.GetCode(err))
	assert.Equal(t, StatusFailed, job.Status)
	require.Len(t, job.Errors, 1)
	assert.Contains(t, job.Errors[0], "stroke")
}

func TestOrchestrator_EmbedFailureDropsChunks(t *testing.T) {
	client := &fakeClient{
		searchPMIDs: []string{"1"},
		xmlByPMID:   map[string]string{"1": articleXML("1", "A", testAbstract)},
	}
	deps, embedder, st := testDeps(t, client)
	embedder.err = pverrors.New(pverrors.ErrCodeEmbedFailed, "embedding failed after 5 attempts", nil)

	orch, err := NewOrchestrator(deps)
	require.NoError(t, err)

	job := NewTopicJob("copd", 10)
	require.NoError(t, orch.RunJob(context.Background(), job))

	// The job records the failure but keeps going; nothing reaches storage.
	assert.Equal(t, StatusFailed, job.Status)
	require.Len(t, job.Errors, 1)
	assert.Contains(t, job.Errors[0], "embedding")
	assert.Empty(t, st.records)
	assert.Zero(t, job.ChunksCreated)
}

func TestOrchestrator_MinEvidenceLevelFilter(t *testing.T) {
	client := &fakeClient{
		searchPMIDs: []string{"1", "2"},
		xmlByPMID: map[string]string{
			"1": articleXMLWithType("1", "Trial", testAbstract, "Randomized Controlled Trial"),
			"2": articleXML("2", "Case report", testAbstract),
		},
	}
	deps, _, st := testDeps(t, client)
	deps.MinEvidenceLevel = 2

	orch, err := NewOrchestrator(deps)
	require.NoError(t, err)

	job := NewTopicJob("diabetes", 10)
	require.NoError(t, orch.RunJob(context.Background(), job))

	// Only the level-2 RCT passes; the unclassified article is level 5.
	assert.Equal(t, 1, job.ArticlesProcessed)
	require.Len(t, st.records, 1)
	assert.Equal(t, "1", st.records[0].Chunk.PMID)
}

func TestOrchestrator_PublicationTypeFilterAppliesToParsedArticles(t *testing.T) {
	client := &fakeClient{
		searchPMIDs: []string{"1", "2"},
		xmlByPMID: map[string]string{
			"1": articleXMLWithType("1", "Trial", testAbstract, "Randomized Controlled Trial"),
			"2": articleXML("2", "Narrative review", testAbstract),
		},
	}
	deps, _, st := testDeps(t, client)
	deps.Filter = pubmed.QueryFilter{PublicationTypes: []string{"Randomized Controlled Trial"}}

	orch, err := NewOrchestrator(deps)
	require.NoError(t, err)

	job := NewTopicJob("hypertension", 10)
	require.NoError(t, orch.RunJob(context.Background(), job))

	assert.Equal(t, 1, job.ArticlesProcessed)
	require.Len(t, st.records, 1)
	assert.Equal(t, "1", st.records[0].Chunk.PMID)
}

func TestOrchestrator_YearFilterDropsOldArticles(t *testing.T) {
	client := &fakeClient{
		searchPMIDs: []string{"1"},
		xmlByPMID:   map[string]string{"1": articleXML("1", "A", testAbstract)},
	}
	deps, _, st := testDeps(t, client)
	deps.Filter = pubmed.QueryFilter{FromYear: 2022} // fixture articles are from 2021

	orch, err := NewOrchestrator(deps)
	require.NoError(t, err)

	job := NewTopicJob("asthma", 10)
	require.NoError(t, orch.RunJob(context.Background(), job))

	assert.Zero(t, job.ArticlesProcessed)
	assert.Empty(t, st.records)
}

func TestOrchestrator_DryRunStopsAfterChunking(t *testing.T) {
	client := &fakeClient{
		searchPMIDs: []string{"1"},
		xmlByPMID:   map[string]string{"1": articleXML("1", "A", testAbstract)},
	}
	renderer := &recordingRenderer{}
	deps := Dependencies{
		Client:   client,
		Chunker:  chunker.New(chunker.DefaultOptions()),
		Renderer: renderer,
		Logger:   slog.New(slog.DiscardHandler),
		DryRun:   true,
	}

	orch, err := NewOrchestrator(deps)
	require.NoError(t, err)

	job := NewTopicJob("asthma", 10)
	require.NoError(t, orch.RunJob(context.Background(), job))

	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 1, job.ArticlesProcessed)
	assert.Equal(t, 1, job.ChunksCreated)
	for _, e := range renderer.events {
		assert.NotEqual(t, ui.StageEmbed, e.Stage)
		assert.NotEqual(t, ui.StageStore, e.Stage)
	}
}

func TestOrchestrator_EmptyAbstractIsWarningNotError(t *testing.T) {
	client := &fakeClient{
		searchPMIDs: []string{"1", "2"},
		xmlByPMID: map[string]string{
			"1": articleXML("1", "No abstract here", "  "),
			"2": articleXML("2", "Real study", testAbstract),
		},
	}
	deps, _, st := testDeps(t, client)
	renderer := &recordingRenderer{}
	deps.Renderer = renderer

	orch, err := NewOrchestrator(deps)
	require.NoError(t, err)

	job := NewTopicJob("pneumonia", 10)
	require.NoError(t, orch.RunJob(context.Background(), job))

	assert.Equal(t, StatusCompleted, job.Status)
	assert.Empty(t, job.Errors)
	assert.Equal(t, 1, job.ArticlesProcessed)
	require.Len(t, st.records, 1)
	assert.NotEmpty(t, renderer.warnings())
}

func TestOrchestrator_FileJob(t *testing.T) {
	// Given an on-disk XML file with two articles and one truncated element
	dir := t.TempDir()
	path := filepath.Join(dir, "pubmed24n0001.xml")
	content := string(articleSetXML(
		articleXML("10", "First", testAbstract),
		articleXML("20", "Second", testAbstract),
	))
	content = strings.TrimSuffix(content, "</PubmedArticleSet>") +
		"<PubmedArticle><MedlineCitation><PMID>30</PMID>"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	client := &fakeClient{}
	deps, _, st := testDeps(t, client)
	renderer := &recordingRenderer{}
	deps.Renderer = renderer

	orch, err := NewOrchestrator(deps)
	require.NoError(t, err)

	// When the file job runs
	job := NewFileJob(path)
	require.NoError(t, orch.RunJob(context.Background(), job))

	// Then both complete articles are stored and the truncation is recorded
	assert.Equal(t, 2, job.ArticlesProcessed)
	require.Len(t, st.records, 2)
	assert.Empty(t, client.searched, "file jobs never hit the search API")
	require.NotEmpty(t, job.Errors)
	assert.Contains(t, job.Errors[len(job.Errors)-1], "incomplete")
	assert.Equal(t, StatusFailed, job.Status)
}

func TestNewOrchestrator_Validation(t *testing.T) {
	_, err := NewOrchestrator(Dependencies{})
	require.Error(t, err)
	assert.Equal(t, pverrors.ErrCodeConfigInvalid, pverrors.GetCode(err))

	// Dry run needs neither embedder nor store.
	_, err = NewOrchestrator(Dependencies{
		Client:  &fakeClient{},
		Chunker: chunker.New(chunker.DefaultOptions()),
		DryRun:  true,
	})
	assert.NoError(t, err)
}
