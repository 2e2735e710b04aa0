package chunker

import (
	"strings"
	"unicode"
)

// abbreviations that end with a period without ending a sentence. Matched
// against the lowercased word preceding the period.
var abbreviations = map[string]bool{
	"dr": true, "mr": true, "mrs": true, "ms": true, "prof": true,
	"fig": true, "figs": true, "tab": true, "vol": true, "no": true,
	"al": true, "vs": true, "etc": true, "approx": true, "resp": true,
	"i.e": true, "e.g": true, "cf": true, "st": true, "jr": true,
	"p": true, "n": true, "ca": true,
}

// splitSentences breaks text on sentence boundaries while surviving the
// hazards of medical prose: "et al.", "vs.", "Fig. 2", decimal numbers
// ("p=0.05"), and author initials ("J. Smith").
func splitSentences(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var sentences []string
	start := 0

	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		if ch != '.' && ch != '!' && ch != '?' {
			continue
		}
		if i+1 >= len(runes) {
			break
		}
		if !unicode.IsSpace(runes[i+1]) {
			continue
		}

		// Next non-space rune must plausibly start a sentence.
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j >= len(runes) {
			break
		}
		next := runes[j]
		if !unicode.IsUpper(next) && !unicode.IsDigit(next) && next != '(' && next != '[' {
			continue
		}

		if ch == '.' {
			word := precedingWord(runes, i)
			lower := strings.ToLower(word)
			if abbreviations[lower] {
				continue
			}
			// Single uppercase letters are initials: "J. Smith".
			if len(word) == 1 && unicode.IsUpper([]rune(word)[0]) {
				continue
			}
		}

		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			sentences = append(sentences, s)
		}
		start = j
		i = j - 1
	}

	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

// precedingWord returns the word immediately before position i, which holds
// a period. Periods inside the word are kept so "i.e." resolves to "i.e".
func precedingWord(runes []rune, i int) string {
	end := i
	startW := end
	for startW > 0 {
		r := runes[startW-1]
		if unicode.IsSpace(r) || r == '(' || r == '[' || r == ',' || r == ';' {
			break
		}
		startW--
	}
	return string(runes[startW:end])
}

// sentenceBlocks greedily packs sentences up to MaxChunkTokens, carrying
// trailing sentences worth up to OverlapTokens into the next chunk so no
// finding is orphaned at a boundary.
func (c *Chunker) sentenceBlocks(text string) []block {
	sentences := splitSentences(text)
	var blocks []block

	var cur []string
	curTokens := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		blocks = append(blocks, block{
			text:        strings.Join(cur, " "),
			sectionType: SectionAbstract,
		})
	}

	for _, s := range sentences {
		st := EstimateTokens(s)

		// A single oversized sentence gets hard-split on its own.
		if st > c.opts.MaxChunkTokens {
			flush()
			cur, curTokens = nil, 0
			for _, part := range hardSplit(s, c.opts.MaxChunkTokens) {
				blocks = append(blocks, block{text: part, sectionType: SectionAbstract})
			}
			continue
		}

		if curTokens+st > c.opts.MaxChunkTokens && len(cur) > 0 {
			flush()
			// Overlap never pushes the next chunk past the max.
			budget := c.opts.OverlapTokens
			if rem := c.opts.MaxChunkTokens - st; rem < budget {
				budget = rem
			}
			overlap := tailByTokens(cur, budget)
			cur = append([]string{}, overlap...)
			curTokens = sumTokens(cur)
		}
		cur = append(cur, s)
		curTokens += st
	}
	flush()

	return blocks
}

// slidingBlocks emits fixed-size windows advancing by half a window, giving
// roughly 50% overlap between neighbors.
func (c *Chunker) slidingBlocks(text string) []block {
	sentences := splitSentences(text)
	var blocks []block

	i := 0
	for i < len(sentences) {
		j := i
		windowTokens := 0
		for j < len(sentences) {
			st := EstimateTokens(sentences[j])
			if windowTokens+st > c.opts.MaxChunkTokens && j > i {
				break
			}
			windowTokens += st
			j++
		}

		if j == i {
			// Oversized sentence.
			for _, part := range hardSplit(sentences[i], c.opts.MaxChunkTokens) {
				blocks = append(blocks, block{text: part, sectionType: SectionAbstract})
			}
			i++
			continue
		}

		blocks = append(blocks, block{
			text:        strings.Join(sentences[i:j], " "),
			sectionType: SectionAbstract,
		})
		if j >= len(sentences) {
			break
		}

		advanced := 0
		for i < j && advanced < windowTokens/2 {
			advanced += EstimateTokens(sentences[i])
			i++
		}
	}

	return blocks
}

// tailByTokens returns the longest suffix of sentences whose combined
// estimate stays within budget.
func tailByTokens(sentences []string, budget int) []string {
	if budget <= 0 {
		return nil
	}
	total := 0
	start := len(sentences)
	for start > 0 {
		t := EstimateTokens(sentences[start-1])
		if total+t > budget {
			break
		}
		total += t
		start--
	}
	return sentences[start:]
}

func sumTokens(sentences []string) int {
	total := 0
	for _, s := range sentences {
		total += EstimateTokens(s)
	}
	return total
}

// hardSplit cuts a single overlong sentence at word boundaries into pieces
// of at most maxTokens each. Last resort for pathological run-on text.
func hardSplit(s string, maxTokens int) []string {
	maxChars := maxTokens * 4
	words := strings.Fields(s)

	var parts []string
	var cur strings.Builder
	for _, w := range words {
		if cur.Len() > 0 && cur.Len()+1+len(w) > maxChars {
			parts = append(parts, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}
