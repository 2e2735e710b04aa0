package pubmed

import (
	"fmt"
	"strings"
	"time"
)

// QueryFilter narrows an esearch term beyond the free-text topic.
// The zero value applies no filters at all.
type QueryFilter struct {
	// FromYear/ToYear bound the publication date. Either side may be 0; the
	// open side defaults to 1800 or the current year respectively.
	FromYear int
	ToYear   int

	// Languages restricts results by [Language] terms, OR-joined.
	Languages []string

	// RequireAbstract adds hasabstract[text].
	RequireAbstract bool

	// HumansOnly adds humans[MeSH Terms].
	HumansOnly bool

	// PublicationTypes restricts by [Publication Type] terms, OR-joined.
	PublicationTypes []string
}

// HighEvidenceTypes is the publication-type filter used by --high-evidence:
// only designs at CEBM level 1-2.
var HighEvidenceTypes = []string{
	"Meta-Analysis",
	"Systematic Review",
	"Randomized Controlled Trial",
	"Practice Guideline",
}

// BuildQuery assembles the full esearch term for a topic. The topic matches
// Title/Abstract; every filter ANDs onto it. A typical result:
//
//	(heart failure[Title/Abstract]) AND (2015:2025[dp]) AND (english[Language])
//	AND hasabstract[text] AND humans[MeSH Terms]
func BuildQuery(topic string, f QueryFilter) string {
	parts := []string{fmt.Sprintf("(%s[Title/Abstract])", strings.TrimSpace(topic))}

	if f.FromYear > 0 || f.ToYear > 0 {
		from, to := f.FromYear, f.ToYear
		if from == 0 {
			from = 1800
		}
		if to == 0 {
			to = time.Now().Year()
		}
		parts = append(parts, fmt.Sprintf("(%d:%d[dp])", from, to))
	}

	if clause := orClause(f.Languages, "Language"); clause != "" {
		parts = append(parts, clause)
	}

	if f.RequireAbstract {
		parts = append(parts, "hasabstract[text]")
	}

	if f.HumansOnly {
		parts = append(parts, "humans[MeSH Terms]")
	}

	if clause := orClause(f.PublicationTypes, "Publication Type"); clause != "" {
		parts = append(parts, clause)
	}

	return strings.Join(parts, " AND ")
}

// orClause renders `(a[field] OR b[field])`, quoting multi-word terms.
func orClause(terms []string, field string) string {
	cleaned := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if strings.ContainsRune(t, ' ') {
			t = `"` + t + `"`
		}
		cleaned = append(cleaned, fmt.Sprintf("%s[%s]", t, field))
	}
	if len(cleaned) == 0 {
		return ""
	}
	if len(cleaned) == 1 {
		return "(" + cleaned[0] + ")"
	}
	return "(" + strings.Join(cleaned, " OR ") + ")"
}
