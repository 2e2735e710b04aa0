package chunker

import (
	"fmt"
	"strings"

	"github.com/pubvec/pubvec/internal/pubmed"
)

// maxContextMeshTerms caps how many major MeSH descriptors go into the
// context prefix.
const maxContextMeshTerms = 5

// contextPrefix builds the bracketed header prepended to every chunk:
//
//	[Title: Dapagliflozin in Patients with Heart Failure]
//	[Study: Randomized Controlled Trial | n=4744]
//	[N Engl J Med, 2019]
//	[MeSH: Heart Failure, Sodium-Glucose Transporter 2 Inhibitors]
//
// followed by a blank line. Lines with no data are omitted; the prefix can
// be entirely empty.
func (c *Chunker) contextPrefix(article *pubmed.Article) string {
	var lines []string

	if c.opts.IncludeTitle && article.Title != "" {
		lines = append(lines, fmt.Sprintf("[Title: %s]", article.Title))
	}

	if c.opts.IncludeStudyInfo {
		if line := studyLine(article); line != "" {
			lines = append(lines, line)
		}
	}

	if journal := journalName(article); journal != "" && article.PubDate.Year > 0 {
		lines = append(lines, fmt.Sprintf("[%s, %d]", journal, article.PubDate.Year))
	}

	if c.opts.IncludeMeSH {
		terms := article.MajorMeshDescriptors()
		if len(terms) > maxContextMeshTerms {
			terms = terms[:maxContextMeshTerms]
		}
		if len(terms) > 0 {
			lines = append(lines, fmt.Sprintf("[MeSH: %s]", strings.Join(terms, ", ")))
		}
	}

	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n\n"
}

func studyLine(article *pubmed.Article) string {
	switch {
	case article.StudyDesign != "" && article.SampleSize > 0:
		return fmt.Sprintf("[Study: %s | n=%d]", article.StudyDesign, article.SampleSize)
	case article.StudyDesign != "":
		return fmt.Sprintf("[Study: %s]", article.StudyDesign)
	case article.SampleSize > 0:
		return fmt.Sprintf("[Study: n=%d]", article.SampleSize)
	default:
		return ""
	}
}
