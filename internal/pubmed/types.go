// Package pubmed talks to the NCBI E-utilities (esearch/efetch) and turns
// PubMed XML into domain articles ready for chunking and embedding.
package pubmed

import (
	"encoding/xml"
	"io"
	"strings"
)

// Article is a fully parsed PubMed record with derived evidence metadata.
type Article struct {
	PMID  string
	DOI   string
	PMCID string

	Title   string
	Authors []Author
	Journal Journal
	PubDate PubDate

	// Abstract is the full abstract text. For structured abstracts it is the
	// "LABEL: text" sections joined with blank lines.
	Abstract         string
	AbstractSections []AbstractSection

	MeshHeadings     []MeshHeading
	PublicationTypes []PublicationType
	Chemicals        []Chemical
	Keywords         []string
	Languages        []string

	// Derived fields.
	EvidenceLevel int    // 1 (strongest) .. 5 (weakest)
	StudyDesign   string // human-readable design label, "" if none recognized
	SampleSize    int    // 0 when no sample size could be extracted

	URL         string // canonical https://pubmed.ncbi.nlm.nih.gov/<pmid>/
	FullTextURL string // PMC link when a PMCID exists
}

// Author is one entry from the AuthorList.
type Author struct {
	LastName    string
	ForeName    string
	Initials    string
	Affiliation string
	ORCID       string
}

// Name renders "Lastname Initials" for citation prefixes.
func (a Author) Name() string {
	if a.Initials != "" {
		return strings.TrimSpace(a.LastName + " " + a.Initials)
	}
	return strings.TrimSpace(a.LastName + " " + a.ForeName)
}

// Journal holds journal-level citation metadata.
type Journal struct {
	Title           string
	ISOAbbreviation string
	ISSN            string
	Volume          string
	Issue           string
	Pages           string
	NlmUniqueID     string
}

// PubDate is the publication date. Year is always set for parsed articles;
// Month and Day are 0 when PubMed does not supply them. MedlineDate keeps
// the raw free-form date when that was the only source.
type PubDate struct {
	Year        int
	Month       int
	Day         int
	MedlineDate string
}

// AbstractSection is one labeled section of a structured abstract.
type AbstractSection struct {
	Label       string
	NlmCategory string
	Text        string
}

// MeshHeading is a MeSH descriptor with its qualifier terms.
type MeshHeading struct {
	Descriptor string
	UI         string
	MajorTopic bool
	Qualifiers []string
}

// PublicationType is one PubMed publication type with its MeSH UI.
type PublicationType struct {
	Name string
	UI   string
}

// Chemical is one substance from the ChemicalList.
type Chemical struct {
	Name           string
	RegistryNumber string
}

// PublicationTypeNames returns just the type names, in document order.
func (a *Article) PublicationTypeNames() []string {
	names := make([]string, 0, len(a.PublicationTypes))
	for _, pt := range a.PublicationTypes {
		names = append(names, pt.Name)
	}
	return names
}

// MeshDescriptors returns all descriptor names, in document order.
func (a *Article) MeshDescriptors() []string {
	out := make([]string, 0, len(a.MeshHeadings))
	for _, mh := range a.MeshHeadings {
		out = append(out, mh.Descriptor)
	}
	return out
}

// ChemicalNames returns the substance names, in document order.
func (a *Article) ChemicalNames() []string {
	out := make([]string, 0, len(a.Chemicals))
	for _, ch := range a.Chemicals {
		out = append(out, ch.Name)
	}
	return out
}

// MajorMeshDescriptors returns descriptors flagged as major topics,
// in document order.
func (a *Article) MajorMeshDescriptors() []string {
	var out []string
	for _, mh := range a.MeshHeadings {
		if mh.MajorTopic {
			out = append(out, mh.Descriptor)
		}
	}
	return out
}

// flatText collects all character data inside an element, flattening inline
// markup such as <i>, <sub> and <sup> that PubMed embeds in titles and
// abstracts.
type flatText struct {
	Text string
}

func (f *flatText) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := d.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	f.Text = sb.String()
	return nil
}

// xmlAbstractText is an AbstractText element: flattened text plus the
// Label/NlmCategory attributes that mark structured abstracts.
type xmlAbstractText struct {
	Label       string
	NlmCategory string
	Text        string
}

func (a *xmlAbstractText) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "Label":
			a.Label = attr.Value
		case "NlmCategory":
			a.NlmCategory = attr.Value
		}
	}
	var f flatText
	if err := f.UnmarshalXML(d, start); err != nil {
		return err
	}
	a.Text = f.Text
	return nil
}

// Raw efetch schema. Field layout follows the PubMed DTD; only the elements
// the pipeline consumes are mapped.

type xmlArticleSet struct {
	XMLName  xml.Name            `xml:"PubmedArticleSet"`
	Articles []xmlPubmedArticle  `xml:"PubmedArticle"`
}

type xmlPubmedArticle struct {
	XMLName         xml.Name           `xml:"PubmedArticle"`
	MedlineCitation xmlMedlineCitation `xml:"MedlineCitation"`
	PubmedData      xmlPubmedData      `xml:"PubmedData"`
}

type xmlMedlineCitation struct {
	PMID          string `xml:"PMID"`
	DateCompleted struct {
		Year  string `xml:"Year"`
		Month string `xml:"Month"`
		Day   string `xml:"Day"`
	} `xml:"DateCompleted"`
	Article            xmlArticle `xml:"Article"`
	MedlineJournalInfo struct {
		NlmUniqueID string `xml:"NlmUniqueID"`
	} `xml:"MedlineJournalInfo"`
	ChemicalList struct {
		Chemicals []struct {
			RegistryNumber  string `xml:"RegistryNumber"`
			NameOfSubstance struct {
				UI   string `xml:"UI,attr"`
				Text string `xml:",chardata"`
			} `xml:"NameOfSubstance"`
		} `xml:"Chemical"`
	} `xml:"ChemicalList"`
	MeshHeadingList struct {
		Headings []struct {
			DescriptorName struct {
				UI           string `xml:"UI,attr"`
				MajorTopicYN string `xml:"MajorTopicYN,attr"`
				Text         string `xml:",chardata"`
			} `xml:"DescriptorName"`
			QualifierNames []struct {
				MajorTopicYN string `xml:"MajorTopicYN,attr"`
				Text         string `xml:",chardata"`
			} `xml:"QualifierName"`
		} `xml:"MeshHeading"`
	} `xml:"MeshHeadingList"`
	KeywordLists []struct {
		Keywords []flatText `xml:"Keyword"`
	} `xml:"KeywordList"`
}

type xmlArticle struct {
	Journal struct {
		ISSN         string `xml:"ISSN"`
		JournalIssue struct {
			Volume  string `xml:"Volume"`
			Issue   string `xml:"Issue"`
			PubDate struct {
				Year        string `xml:"Year"`
				Month       string `xml:"Month"`
				Day         string `xml:"Day"`
				MedlineDate string `xml:"MedlineDate"`
			} `xml:"PubDate"`
		} `xml:"JournalIssue"`
		Title           string `xml:"Title"`
		ISOAbbreviation string `xml:"ISOAbbreviation"`
	} `xml:"Journal"`
	ArticleTitle flatText `xml:"ArticleTitle"`
	Pagination   struct {
		MedlinePgn string `xml:"MedlinePgn"`
	} `xml:"Pagination"`
	ELocationIDs []struct {
		EIdType string `xml:"EIdType,attr"`
		ValidYN string `xml:"ValidYN,attr"`
		Text    string `xml:",chardata"`
	} `xml:"ELocationID"`
	Abstract struct {
		Texts []xmlAbstractText `xml:"AbstractText"`
	} `xml:"Abstract"`
	AuthorList struct {
		Authors []struct {
			LastName       string `xml:"LastName"`
			ForeName       string `xml:"ForeName"`
			Initials       string `xml:"Initials"`
			CollectiveName string `xml:"CollectiveName"`
			Identifiers    []struct {
				Source string `xml:"Source,attr"`
				Text   string `xml:",chardata"`
			} `xml:"Identifier"`
			AffiliationInfos []struct {
				Affiliation string `xml:"Affiliation"`
			} `xml:"AffiliationInfo"`
		} `xml:"Author"`
	} `xml:"AuthorList"`
	Languages            []string `xml:"Language"`
	PublicationTypeList  struct {
		Types []struct {
			UI   string `xml:"UI,attr"`
			Text string `xml:",chardata"`
		} `xml:"PublicationType"`
	} `xml:"PublicationTypeList"`
	ArticleDates []struct {
		DateType string `xml:"DateType,attr"`
		Year     string `xml:"Year"`
		Month    string `xml:"Month"`
		Day      string `xml:"Day"`
	} `xml:"ArticleDate"`
}

type xmlPubmedData struct {
	ArticleIdList struct {
		Ids []struct {
			IdType string `xml:"IdType,attr"`
			Text   string `xml:",chardata"`
		} `xml:"ArticleId"`
	} `xml:"ArticleIdList"`
}
