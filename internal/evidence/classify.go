// Package evidence maps PubMed publication types to the Oxford CEBM
// evidence hierarchy: level 1 (strongest) through 5 (weakest).
package evidence

import "strings"

// Evidence levels.
const (
	LevelSystematicReview = 1 // meta-analyses, systematic reviews, guidelines
	LevelRCT              = 2 // randomized and controlled trials
	LevelObservational    = 3 // cohort, case-control, comparative studies
	LevelCaseSeries       = 4 // case reports, uncontrolled clinical studies
	LevelExpertOpinion    = 5 // reviews, editorials, everything else
)

// levelTable holds ordered substring matches per level. The first level with
// a matching entry wins, so stronger evidence shadows weaker phrasing
// ("systematic review" beats the bare "review" at level 5).
var levelTable = []struct {
	level int
	terms []string
}{
	{LevelSystematicReview, []string{
		"meta-analysis",
		"systematic review",
		"practice guideline",
		"guideline",
		"consensus development conference",
	}},
	{LevelRCT, []string{
		"randomized controlled trial",
		"controlled clinical trial",
		"clinical trial, phase iii",
		"clinical trial, phase iv",
		"clinical trial phase iii",
		"clinical trial phase iv",
		"pragmatic clinical trial",
		"equivalence trial",
	}},
	{LevelObservational, []string{
		"observational study",
		"cohort study",
		"case-control study",
		"comparative study",
		"clinical trial, phase i",
		"clinical trial, phase ii",
		"clinical trial phase i",
		"clinical trial phase ii",
		"clinical trial",
		"multicenter study",
		"validation study",
		"evaluation study",
		"cross-sectional study",
	}},
	{LevelCaseSeries, []string{
		"case reports",
		"case report",
		"clinical study",
		"twin study",
		"historical article",
	}},
	{LevelExpertOpinion, []string{
		"review",
		"editorial",
		"letter",
		"comment",
		"personal narrative",
		"news",
		"newspaper article",
		"lecture",
		"address",
		"biography",
		"interview",
	}},
}

// Classify maps a set of publication-type strings to an evidence level in
// [1,5]. Unrecognized or empty input defaults to level 5.
func Classify(publicationTypes []string) int {
	normalized := make([]string, 0, len(publicationTypes))
	for _, pt := range publicationTypes {
		pt = strings.ToLower(strings.TrimSpace(pt))
		if pt != "" {
			normalized = append(normalized, pt)
		}
	}

	for _, row := range levelTable {
		for _, pt := range normalized {
			for _, term := range row.terms {
				if strings.Contains(pt, term) {
					return row.level
				}
			}
		}
	}
	return LevelExpertOpinion
}
