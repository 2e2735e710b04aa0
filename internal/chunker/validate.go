package chunker

import (
	"fmt"
	"regexp"
	"strings"
)

// Patterns for statistical statements cut off at a chunk boundary.
var (
	danglingComparatorRe = regexp.MustCompile(`(?i)\bp\s*[=<>]\s*$`)
	danglingCIRe         = regexp.MustCompile(`(?i)\b(?:95%\s*)?CI[:,]?\s*$`)
	respectivelyRe       = regexp.MustCompile(`(?i)\brespectively\b`)
	digitRe              = regexp.MustCompile(`\d`)
)

// Validate inspects chunks for statistical statements that a split may have
// severed from their values. The warnings are advisory: the chunks are still
// stored, but the log points at text worth re-chunking with different
// options.
func Validate(chunks []*Chunk) []string {
	var warnings []string
	for _, ch := range chunks {
		content := strings.TrimSpace(ch.Content)

		if danglingComparatorRe.MatchString(content) {
			warnings = append(warnings, fmt.Sprintf(
				"pmid %s chunk %d ends with a p-value comparator and no value",
				ch.PMID, ch.ChunkIndex))
		}
		if danglingCIRe.MatchString(content) {
			warnings = append(warnings, fmt.Sprintf(
				"pmid %s chunk %d ends with a confidence interval and no bounds",
				ch.PMID, ch.ChunkIndex))
		}
		if respectivelyRe.MatchString(content) && !digitRe.MatchString(content) {
			warnings = append(warnings, fmt.Sprintf(
				"pmid %s chunk %d says \"respectively\" but carries no numbers",
				ch.PMID, ch.ChunkIndex))
		}
	}
	return warnings
}
