package chunker

import (
	"strings"

	"github.com/pubvec/pubvec/internal/pubmed"
)

// sectionTypeByCategory maps NLM structured-abstract categories.
var sectionTypeByCategory = map[string]string{
	"BACKGROUND":  SectionBackground,
	"OBJECTIVE":   SectionObjective,
	"METHODS":     SectionMethods,
	"RESULTS":     SectionResults,
	"CONCLUSIONS": SectionConclusions,
}

// sectionTypeByLabel matches free-form labels by substring, checked in order.
var sectionTypeByLabel = []struct {
	match string
	typ   string
}{
	{"background", SectionBackground},
	{"introduction", SectionBackground},
	{"context", SectionBackground},
	{"objective", SectionObjective},
	{"aim", SectionObjective},
	{"purpose", SectionObjective},
	{"method", SectionMethods},
	{"design", SectionMethods},
	{"setting", SectionMethods},
	{"participants", SectionMethods},
	{"result", SectionResults},
	{"finding", SectionResults},
	{"outcome", SectionResults},
	{"conclusion", SectionConclusions},
	{"interpretation", SectionConclusions},
	{"discussion", SectionDiscussion},
}

func sectionTypeFor(s pubmed.AbstractSection) string {
	if t, ok := sectionTypeByCategory[strings.ToUpper(s.NlmCategory)]; ok {
		return t
	}
	label := strings.ToLower(s.Label)
	for _, row := range sectionTypeByLabel {
		if strings.Contains(label, row.match) {
			return row.typ
		}
	}
	return SectionAbstract
}

// sectionBlocks chunks a structured abstract along its labeled sections:
// one block per section. Only a section under MinChunkTokens folds into its
// neighbor; an oversized one is split by sentences with its "LABEL: "
// prefix repeated on each continuation so no piece loses its framing.
func (c *Chunker) sectionBlocks(sections []pubmed.AbstractSection) []block {
	var blocks []block

	for _, s := range sections {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		typ := sectionTypeFor(s)
		if s.Label != "" {
			text = s.Label + ": " + text
		}
		t := EstimateTokens(text)

		if t > c.opts.MaxChunkTokens {
			blocks = append(blocks, c.splitSection(s.Label, s.Text, typ)...)
			continue
		}

		// A sub-minimum section folds into the previous block when the
		// pair still fits.
		if n := len(blocks); n > 0 && t < c.opts.MinChunkTokens &&
			EstimateTokens(blocks[n-1].text)+t <= c.opts.MaxChunkTokens {
			blocks[n-1] = mergeBlocks(blocks[n-1], block{text: text, sectionType: typ})
			continue
		}
		blocks = append(blocks, block{text: text, sectionType: typ})
	}

	// A sub-minimum opening section had no previous block to fold into;
	// merge it forward instead.
	if len(blocks) >= 2 &&
		EstimateTokens(blocks[0].text) < c.opts.MinChunkTokens &&
		EstimateTokens(blocks[0].text)+EstimateTokens(blocks[1].text) <= c.opts.MaxChunkTokens {
		blocks = append([]block{mergeBlocks(blocks[0], blocks[1])}, blocks[2:]...)
	}

	return blocks
}

// mergeBlocks joins two blocks; mixed section types degrade to the generic
// abstract type.
func mergeBlocks(a, b block) block {
	merged := block{
		text:        a.text + "\n\n" + b.text,
		sectionType: SectionAbstract,
	}
	if a.sectionType == b.sectionType {
		merged.sectionType = a.sectionType
	}
	return merged
}

// splitSection breaks one oversized section into sentence-packed pieces,
// each carrying the section's label prefix.
func (c *Chunker) splitSection(label, text, typ string) []block {
	prefix := ""
	if label != "" {
		prefix = label + ": "
	}
	budget := c.opts.MaxChunkTokens - EstimateTokens(prefix)
	if budget < 1 {
		budget = c.opts.MaxChunkTokens
	}

	sub := New(Options{
		Strategy:       StrategySentence,
		MaxChunkTokens: budget,
		MinChunkTokens: c.opts.MinChunkTokens,
		OverlapTokens:  c.opts.OverlapTokens,
	})

	var blocks []block
	for _, b := range sub.sentenceBlocks(text) {
		blocks = append(blocks, block{
			text:        prefix + b.text,
			sectionType: typ,
		})
	}
	return blocks
}
