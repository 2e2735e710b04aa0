// Package chunker splits article abstracts into embedding-sized chunks while
// preserving citation context. Every chunk carries a bracketed context prefix
// (title, study design, journal, MeSH terms) so the embedded text stays
// meaningful on its own.
package chunker

import (
	"strings"

	pverrors "github.com/pubvec/pubvec/internal/errors"
	"github.com/pubvec/pubvec/internal/pubmed"
)

// Strategy selects how abstracts are split.
type Strategy string

const (
	// StrategySection chunks structured abstracts along their labeled sections.
	StrategySection Strategy = "section"
	// StrategySentence greedily packs sentences with overlap carry.
	StrategySentence Strategy = "sentence"
	// StrategySliding uses fixed windows advancing by half a window.
	StrategySliding Strategy = "sliding"
	// StrategyHybrid picks section for structured abstracts, sentence otherwise.
	StrategyHybrid Strategy = "hybrid"
)

// Section types a chunk can carry.
const (
	SectionTitle        = "title"
	SectionAbstract     = "abstract"
	SectionBackground   = "background"
	SectionObjective    = "objective"
	SectionMethods      = "methods"
	SectionResults      = "results"
	SectionConclusions  = "conclusions"
	SectionDiscussion   = "discussion"
	SectionFullAbstract = "full_abstract"
)

// Chunk is one embeddable unit of an article. Metadata is denormalized onto
// every chunk so the store row is self-contained.
type Chunk struct {
	PMID       string
	ChunkIndex int

	// Content is the chunk text alone; ContentWithContext prepends the
	// bracketed context prefix and is what gets embedded.
	Content            string
	ContentWithContext string
	SectionType        string

	Title          string
	Journal        string
	Year           int
	Authors        []string
	MeshTerms      []string
	MajorMeshTerms []string
	Chemicals      []string
	Keywords       []string
	EvidenceLevel  int
	StudyDesign    string
	SampleSize     int
	DOI            string
	URL            string

	// TokenEstimate covers ContentWithContext.
	TokenEstimate int
}

// Options tunes the chunker. Zero values take the defaults below.
type Options struct {
	Strategy         Strategy
	MaxChunkTokens   int
	MinChunkTokens   int
	OverlapTokens    int
	IncludeTitle     bool
	IncludeMeSH      bool
	IncludeStudyInfo bool
}

// DefaultOptions matches the pipeline defaults.
func DefaultOptions() Options {
	return Options{
		Strategy:         StrategyHybrid,
		MaxChunkTokens:   512,
		MinChunkTokens:   100,
		OverlapTokens:    50,
		IncludeTitle:     true,
		IncludeMeSH:      true,
		IncludeStudyInfo: true,
	}
}

// EstimateTokens approximates the token count of s as ceil(len/4), the
// usual heuristic for English text under cl100k-style tokenizers.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// Chunker splits articles according to its options. Safe for concurrent use.
type Chunker struct {
	opts Options
}

// New creates a Chunker, filling unset options with defaults.
func New(opts Options) *Chunker {
	def := DefaultOptions()
	if opts.Strategy == "" {
		opts.Strategy = def.Strategy
	}
	if opts.MaxChunkTokens <= 0 {
		opts.MaxChunkTokens = def.MaxChunkTokens
	}
	if opts.MinChunkTokens <= 0 {
		opts.MinChunkTokens = def.MinChunkTokens
	}
	if opts.OverlapTokens < 0 {
		opts.OverlapTokens = def.OverlapTokens
	}
	return &Chunker{opts: opts}
}

// block is an intermediate chunk before metadata assembly.
type block struct {
	text        string
	sectionType string
}

// Chunk splits one article. Chunk indices are dense and 0-based; an article
// with no abstract text is an error, not an empty result.
func (c *Chunker) Chunk(article *pubmed.Article) ([]*Chunk, error) {
	abstract := strings.TrimSpace(article.Abstract)
	if abstract == "" {
		return nil, pverrors.New(pverrors.ErrCodeEmptyAbstract,
			"article has no abstract to chunk", nil).WithPMID(article.PMID)
	}

	var blocks []block

	// An unstructured abstract that fits in a single chunk bypasses the
	// strategy. Structured abstracts keep their per-section chunks even
	// when the whole text would fit.
	strategy := c.resolveStrategy(article)
	if strategy != StrategySection && EstimateTokens(abstract) <= c.opts.MaxChunkTokens {
		blocks = []block{{text: abstract, sectionType: SectionFullAbstract}}
	} else {
		switch strategy {
		case StrategySection:
			blocks = c.sectionBlocks(article.AbstractSections)
		case StrategySliding:
			blocks = c.slidingBlocks(abstract)
		default:
			blocks = c.sentenceBlocks(abstract)
		}
	}

	prefix := c.contextPrefix(article)
	chunks := make([]*Chunk, 0, len(blocks))
	for _, b := range blocks {
		text := strings.TrimSpace(b.text)
		if text == "" {
			continue
		}
		withContext := prefix + text
		chunks = append(chunks, &Chunk{
			PMID:               article.PMID,
			ChunkIndex:         len(chunks),
			Content:            text,
			ContentWithContext: withContext,
			SectionType:        b.sectionType,
			Title:              article.Title,
			Journal:            journalName(article),
			Year:               article.PubDate.Year,
			Authors:            authorNames(article),
			MeshTerms:          article.MeshDescriptors(),
			MajorMeshTerms:     article.MajorMeshDescriptors(),
			Chemicals:          article.ChemicalNames(),
			Keywords:           article.Keywords,
			EvidenceLevel:      article.EvidenceLevel,
			StudyDesign:        article.StudyDesign,
			SampleSize:         article.SampleSize,
			DOI:                article.DOI,
			URL:                article.URL,
			TokenEstimate:      EstimateTokens(withContext),
		})
	}

	if len(chunks) == 0 {
		return nil, pverrors.New(pverrors.ErrCodeChunkFailed,
			"chunking produced no usable text", nil).WithPMID(article.PMID)
	}
	return chunks, nil
}

// resolveStrategy lowers hybrid to a concrete strategy per article: section
// when the abstract is structured, sentence otherwise.
func (c *Chunker) resolveStrategy(article *pubmed.Article) Strategy {
	s := c.opts.Strategy
	if s == StrategyHybrid {
		if len(article.AbstractSections) >= 2 {
			return StrategySection
		}
		return StrategySentence
	}
	if s == StrategySection && len(article.AbstractSections) < 2 {
		return StrategySentence
	}
	return s
}

func journalName(a *pubmed.Article) string {
	if a.Journal.ISOAbbreviation != "" {
		return a.Journal.ISOAbbreviation
	}
	return a.Journal.Title
}

func authorNames(a *pubmed.Article) []string {
	names := make([]string, 0, len(a.Authors))
	for _, au := range a.Authors {
		if n := au.Name(); n != "" {
			names = append(names, n)
		}
	}
	return names
}
