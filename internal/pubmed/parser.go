package pubmed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"regexp"
	"strconv"
	"strings"

	pverrors "github.com/pubvec/pubvec/internal/errors"
	"github.com/pubvec/pubvec/internal/evidence"
)

// ParseArticles parses one or more concatenated efetch response documents.
// Parsing is per-article best-effort: a malformed record is reported in the
// returned error slice and skipped, the rest of the batch survives. Only a
// document-level XML failure aborts the remaining input.
func ParseArticles(data []byte) ([]*Article, []error) {
	var (
		articles []*Article
		errs     []error
	)

	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		var set xmlArticleSet
		if err := dec.Decode(&set); err != nil {
			if err == io.EOF {
				break
			}
			errs = append(errs, pverrors.New(pverrors.ErrCodeParseFailed,
				"malformed efetch document", err))
			break
		}

		for i := range set.Articles {
			a, err := buildArticle(&set.Articles[i])
			if err != nil {
				errs = append(errs, err)
				continue
			}
			articles = append(articles, a)
		}
	}
	return articles, errs
}

// ParseArticle parses a single <PubmedArticle> element, as emitted by the
// streaming ArticleScanner.
func ParseArticle(data []byte) (*Article, error) {
	var x xmlPubmedArticle
	if err := xml.Unmarshal(data, &x); err != nil {
		return nil, pverrors.New(pverrors.ErrCodeParseFailed,
			"malformed PubmedArticle element", err)
	}
	return buildArticle(&x)
}

func buildArticle(x *xmlPubmedArticle) (*Article, error) {
	cit := &x.MedlineCitation
	src := &cit.Article

	pmid := strings.TrimSpace(cit.PMID)
	if pmid == "" {
		return nil, pverrors.New(pverrors.ErrCodeMissingPMID,
			"article has no PMID", nil)
	}

	a := &Article{
		PMID:  pmid,
		Title: cleanText(src.ArticleTitle.Text),
		URL:   CanonicalURL(pmid),
	}

	a.Journal = Journal{
		Title:           cleanText(src.Journal.Title),
		ISOAbbreviation: strings.TrimSpace(src.Journal.ISOAbbreviation),
		ISSN:            strings.TrimSpace(src.Journal.ISSN),
		Volume:          strings.TrimSpace(src.Journal.JournalIssue.Volume),
		Issue:           strings.TrimSpace(src.Journal.JournalIssue.Issue),
		Pages:           strings.TrimSpace(src.Pagination.MedlinePgn),
		NlmUniqueID:     strings.TrimSpace(cit.MedlineJournalInfo.NlmUniqueID),
	}

	date, err := resolveDate(x)
	if err != nil {
		return nil, pverrors.New(pverrors.ErrCodeParseFailed,
			"article has no usable publication year", err).WithPMID(pmid)
	}
	a.PubDate = date

	for _, au := range src.AuthorList.Authors {
		author := Author{
			LastName: strings.TrimSpace(au.LastName),
			ForeName: strings.TrimSpace(au.ForeName),
			Initials: strings.TrimSpace(au.Initials),
		}
		// Consortia carry only a CollectiveName.
		if author.LastName == "" && au.CollectiveName != "" {
			author.LastName = strings.TrimSpace(au.CollectiveName)
		}
		if len(au.AffiliationInfos) > 0 {
			author.Affiliation = cleanText(au.AffiliationInfos[0].Affiliation)
		}
		for _, id := range au.Identifiers {
			if strings.EqualFold(id.Source, "ORCID") {
				author.ORCID = strings.TrimSpace(id.Text)
			}
		}
		if author.LastName == "" && author.ForeName == "" {
			continue
		}
		a.Authors = append(a.Authors, author)
	}

	a.Languages = append(a.Languages, src.Languages...)

	for _, pt := range src.PublicationTypeList.Types {
		name := cleanText(pt.Text)
		if name == "" {
			continue
		}
		a.PublicationTypes = append(a.PublicationTypes, PublicationType{
			Name: name,
			UI:   strings.TrimSpace(pt.UI),
		})
	}

	a.Abstract, a.AbstractSections = assembleAbstract(src.Abstract.Texts)

	for _, mh := range cit.MeshHeadingList.Headings {
		heading := MeshHeading{
			Descriptor: cleanText(mh.DescriptorName.Text),
			UI:         strings.TrimSpace(mh.DescriptorName.UI),
			MajorTopic: mh.DescriptorName.MajorTopicYN == "Y",
		}
		for _, q := range mh.QualifierNames {
			heading.Qualifiers = append(heading.Qualifiers, cleanText(q.Text))
			// A major qualifier promotes the heading to a major topic.
			if q.MajorTopicYN == "Y" {
				heading.MajorTopic = true
			}
		}
		if heading.Descriptor != "" {
			a.MeshHeadings = append(a.MeshHeadings, heading)
		}
	}

	for _, ch := range cit.ChemicalList.Chemicals {
		name := cleanText(ch.NameOfSubstance.Text)
		if name == "" {
			continue
		}
		a.Chemicals = append(a.Chemicals, Chemical{
			Name:           name,
			RegistryNumber: strings.TrimSpace(ch.RegistryNumber),
		})
	}

	for _, kl := range cit.KeywordLists {
		for _, kw := range kl.Keywords {
			if k := cleanText(kw.Text); k != "" {
				a.Keywords = append(a.Keywords, k)
			}
		}
	}

	// ELocationID is authoritative for the DOI; the PubmedData
	// ArticleIdList is the fallback.
	for _, el := range src.ELocationIDs {
		if strings.EqualFold(el.EIdType, "doi") && el.ValidYN != "N" {
			a.DOI = strings.TrimSpace(el.Text)
			break
		}
	}
	for _, id := range x.PubmedData.ArticleIdList.Ids {
		switch strings.ToLower(id.IdType) {
		case "doi":
			if a.DOI == "" {
				a.DOI = strings.TrimSpace(id.Text)
			}
		case "pmc":
			a.PMCID = strings.TrimSpace(id.Text)
		}
	}
	if a.PMCID != "" {
		a.FullTextURL = PMCFullTextURL(a.PMCID)
	}

	a.EvidenceLevel = evidence.Classify(a.PublicationTypeNames())
	a.StudyDesign = deriveStudyDesign(a.PublicationTypeNames())
	a.SampleSize = extractSampleSize(a.Abstract)

	return a, nil
}

// assembleAbstract joins AbstractText elements. Two or more labeled parts
// make a structured abstract: sections are kept and the full text becomes
// "LABEL: text" blocks joined by blank lines. Otherwise the parts are joined
// plainly and no sections are reported.
func assembleAbstract(texts []xmlAbstractText) (string, []AbstractSection) {
	var (
		parts    []string
		sections []AbstractSection
		labeled  int
	)

	for _, t := range texts {
		text := cleanText(t.Text)
		if text == "" {
			continue
		}
		label := strings.TrimSpace(t.Label)
		if label != "" {
			labeled++
		}
		sections = append(sections, AbstractSection{
			Label:       label,
			NlmCategory: strings.TrimSpace(t.NlmCategory),
			Text:        text,
		})
	}

	if labeled >= 2 {
		for _, s := range sections {
			if s.Label != "" {
				parts = append(parts, s.Label+": "+s.Text)
			} else {
				parts = append(parts, s.Text)
			}
		}
		return strings.TrimSpace(strings.Join(parts, "\n\n")), sections
	}

	for _, s := range sections {
		parts = append(parts, s.Text)
	}
	return strings.TrimSpace(strings.Join(parts, " ")), nil
}

var medlineYearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// resolveDate picks the publication date by precedence: ArticleDate, then
// Journal PubDate, then a year found in MedlineDate, then DateCompleted.
func resolveDate(x *xmlPubmedArticle) (PubDate, error) {
	for _, ad := range x.MedlineCitation.Article.ArticleDates {
		if y := parseYear(ad.Year); y > 0 {
			return PubDate{
				Year:  y,
				Month: monthNumber(ad.Month),
				Day:   parseDay(ad.Day),
			}, nil
		}
	}

	pd := x.MedlineCitation.Article.Journal.JournalIssue.PubDate
	if y := parseYear(pd.Year); y > 0 {
		return PubDate{
			Year:  y,
			Month: monthNumber(pd.Month),
			Day:   parseDay(pd.Day),
		}, nil
	}
	if md := strings.TrimSpace(pd.MedlineDate); md != "" {
		if m := medlineYearRe.FindString(md); m != "" {
			y, _ := strconv.Atoi(m)
			return PubDate{Year: y, MedlineDate: md}, nil
		}
	}

	if y := parseYear(x.MedlineCitation.DateCompleted.Year); y > 0 {
		return PubDate{Year: y}, nil
	}

	return PubDate{}, fmt.Errorf("no year in ArticleDate, PubDate, MedlineDate or DateCompleted")
}

func parseYear(s string) int {
	y, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || y < 1000 || y > 3000 {
		return 0
	}
	return y
}

func parseDay(s string) int {
	d, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || d < 1 || d > 31 {
		return 0
	}
	return d
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// monthNumber accepts numeric months and English month names, full or
// three-letter ("Sep", "September", "09"). Unknown input returns 0.
func monthNumber(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if m, err := strconv.Atoi(s); err == nil {
		if m >= 1 && m <= 12 {
			return m
		}
		return 0
	}
	key := strings.ToLower(s)
	if len(key) > 3 {
		key = key[:3]
	}
	return monthNames[key]
}

// studyDesignTable maps publication-type substrings to design labels,
// strongest first. The first match across all publication types wins.
var studyDesignTable = []struct {
	match string
	label string
}{
	{"meta-analysis", "Meta-Analysis"},
	{"systematic review", "Systematic Review"},
	{"randomized controlled trial", "Randomized Controlled Trial"},
	{"clinical trial", "Clinical Trial"},
	{"cohort", "Cohort Study"},
	{"case-control", "Case-Control Study"},
	{"case report", "Case Report"},
	{"guideline", "Clinical Guideline"},
	{"review", "Review"},
}

func deriveStudyDesign(pubTypes []string) string {
	lowered := make([]string, 0, len(pubTypes))
	for _, pt := range pubTypes {
		lowered = append(lowered, strings.ToLower(pt))
	}
	for _, row := range studyDesignTable {
		for _, pt := range lowered {
			if strings.Contains(pt, row.match) {
				return row.label
			}
		}
	}
	return ""
}

// sampleSizePatterns is an ordered ladder; the first pattern that matches
// with a plausible value wins. Capture group 1 is the count, possibly with
// thousands separators.
var sampleSizePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bn\s*=\s*([\d,]+)`),
	regexp.MustCompile(`(?i)\b([\d,]+)\s+(?:patients|participants|subjects|individuals)\b`),
	regexp.MustCompile(`(?i)\bsample\s+(?:size)?[:\s]*(?:of\s*)?([\d,]+)`),
	regexp.MustCompile(`(?i)\benrolled\s+([\d,]+)`),
	regexp.MustCompile(`(?i)\bincluded\s+([\d,]+)\s+(?:patients|participants)\b`),
}

const maxPlausibleSampleSize = 10_000_000

// extractSampleSize scans an abstract for an enrollment count. Returns 0
// when nothing plausible is found.
func extractSampleSize(abstract string) int {
	if abstract == "" {
		return 0
	}
	for _, re := range sampleSizePatterns {
		m := re.FindStringSubmatch(abstract)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		if err != nil {
			continue
		}
		if n > 0 && n < maxPlausibleSampleSize {
			return n
		}
	}
	return 0
}

var residualTagRe = regexp.MustCompile(`<[^>]+>`)

// cleanText normalizes text pulled from PubMed XML: residual markup from
// double-encoded fields is stripped, entities decoded, whitespace collapsed.
func cleanText(s string) string {
	if strings.ContainsRune(s, '&') {
		s = html.UnescapeString(s)
	}
	if strings.ContainsRune(s, '<') {
		s = residualTagRe.ReplaceAllString(s, " ")
	}
	return strings.Join(strings.Fields(s), " ")
}
