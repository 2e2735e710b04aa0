package pubmed

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

const (
	articleOpen  = "<PubmedArticle"
	articleClose = "</PubmedArticle>"

	// maxArticleBytes bounds a single element. PubMed records are a few
	// hundred KB at most; anything larger means broken input.
	maxArticleBytes = 16 * 1024 * 1024
)

// ArticleScanner reads an arbitrarily large efetch/baseline XML file and
// emits one complete <PubmedArticle> element per Scan call, without ever
// holding the whole file in memory. An element left open at EOF is discarded
// and reported via Warnings.
type ArticleScanner struct {
	scanner  *bufio.Scanner
	splitter *articleSplitter
}

// NewArticleScanner wraps r for streaming article extraction.
func NewArticleScanner(r io.Reader) *ArticleScanner {
	sp := &articleSplitter{}
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxArticleBytes)
	s.Split(sp.split)
	return &ArticleScanner{scanner: s, splitter: sp}
}

// Scan advances to the next complete article element. It returns false at
// end of input or on error.
func (s *ArticleScanner) Scan() bool {
	return s.scanner.Scan()
}

// Bytes returns the current element, opening tag through closing tag
// inclusive. Valid until the next Scan call.
func (s *ArticleScanner) Bytes() []byte {
	return s.scanner.Bytes()
}

// Err returns the first error encountered, excluding io.EOF.
func (s *ArticleScanner) Err() error {
	return s.scanner.Err()
}

// Warnings reports non-fatal problems, such as an element still open when
// the input ended.
func (s *ArticleScanner) Warnings() []string {
	return s.splitter.warnings
}

// articleSplitter is the bufio.SplitFunc state. It scans for balanced
// <PubmedArticle>...</PubmedArticle> elements, tracking nesting depth so a
// pathological nested element cannot terminate a token early.
type articleSplitter struct {
	warnings []string
}

func (sp *articleSplitter) split(data []byte, atEOF bool) (int, []byte, error) {
	start := indexArticleOpen(data, 0)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a tail that could hold a partial opening tag.
		if keep := len(articleOpen) - 1; len(data) > keep {
			return len(data) - keep, nil, nil
		}
		return 0, nil, nil
	}

	depth := 1
	i := start + len(articleOpen)
	for {
		nextOpen := indexArticleOpen(data, i)
		nextClose := bytes.Index(data[i:], []byte(articleClose))
		if nextClose < 0 {
			break
		}
		nextClose += i

		if nextOpen >= 0 && nextOpen < nextClose {
			depth++
			i = nextOpen + len(articleOpen)
			continue
		}

		depth--
		i = nextClose + len(articleClose)
		if depth == 0 {
			return i, data[start:i], nil
		}
	}

	if atEOF {
		sp.warnings = append(sp.warnings, fmt.Sprintf(
			"discarded incomplete <PubmedArticle> element (%d bytes) at end of input",
			len(data)-start))
		return len(data), nil, nil
	}
	// Incomplete element: drop the prefix, ask for more data.
	return start, nil, nil
}

// indexArticleOpen finds the next "<PubmedArticle" occurrence at or after
// from that is a real opening tag, not a prefix of "<PubmedArticleSet".
func indexArticleOpen(data []byte, from int) int {
	for {
		idx := bytes.Index(data[from:], []byte(articleOpen))
		if idx < 0 {
			return -1
		}
		idx += from

		end := idx + len(articleOpen)
		if end >= len(data) {
			// Tag boundary not visible yet; treat as a candidate so the
			// caller requests more data rather than skipping it.
			return idx
		}
		switch data[end] {
		case '>', ' ', '\t', '\n', '\r':
			return idx
		}
		from = end
	}
}
