package sefaria

import "encoding/json"

// Version is one text version returned by the v3 texts API. Text may be a
// string or an arbitrarily nested array of strings.
type Version struct {
	Language         string          `json:"language"`
	VersionTitle     string          `json:"versionTitle"`
	ActualLanguage   string          `json:"actualLanguage"`
	Direction        string          `json:"direction"`
	Text             json.RawMessage `json:"text"`
}

// TextResponse is the v3 texts API payload.
type TextResponse struct {
	Ref        string    `json:"ref"`
	HeRef      string    `json:"heRef"`
	SectionRef string    `json:"sectionRef"`
	Title      string    `json:"title"`
	Categories []string  `json:"categories"`
	Versions   []Version `json:"versions"`
}

// Link is one related-links record. The numeric fields feed the ranking
// score pr*3 + tfidf*2 + views/1000 + numDatasource.
type Link struct {
	Ref             string          `json:"ref"`
	SourceRef       string          `json:"sourceRef"`
	SourceHeRef     string          `json:"sourceHeRef"`
	AnchorRef       string          `json:"anchorRef"`
	Category        string          `json:"category"`
	Type            string          `json:"type"`
	CollectiveTitle map[string]any  `json:"collectiveTitle"`
	PageRank        float64         `json:"pr"`
	TFIDF           float64         `json:"tfidf"`
	Views           float64         `json:"views"`
	NumDatasource   float64         `json:"numDatasource"`
}

// Score is the fixed linear ranking combination used within a category.
func (l Link) Score() float64 {
	return l.PageRank*3 + l.TFIDF*2 + l.Views/1000 + l.NumDatasource
}

// BestRef prefers sourceRef over ref.
func (l Link) BestRef() string {
	if l.SourceRef != "" {
		return l.SourceRef
	}
	return l.Ref
}

// RelatedSheet is one source-sheet record from the related API.
type RelatedSheet struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Owner any    `json:"owner"`
	Views float64 `json:"views"`
}

// RelatedTopic is one topic record from the related API.
type RelatedTopic struct {
	Slug  string         `json:"slug"`
	Title map[string]any `json:"title"`
}

// RelatedResponse is the related/{ref} payload.
type RelatedResponse struct {
	Links  []Link         `json:"links"`
	Sheets []RelatedSheet `json:"sheets"`
	Topics []RelatedTopic `json:"topics"`
}

// LocalizedString carries an en/he string pair; upstream sometimes sends a
// bare string instead.
type LocalizedString struct {
	EN string
	HE string
}

// UnmarshalJSON accepts either {"en":..,"he":..} or a plain string.
func (s *LocalizedString) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		s.EN = plain
		return nil
	}
	var pair struct {
		EN string `json:"en"`
		HE string `json:"he"`
	}
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	s.EN = pair.EN
	s.HE = pair.HE
	return nil
}

// CalendarItem is one entry of the calendars API.
type CalendarItem struct {
	Title        LocalizedString `json:"title"`
	DisplayValue LocalizedString `json:"displayValue"`
	Ref          string          `json:"ref"`
	HeRef        string          `json:"heRef"`
	URL          string          `json:"url"`
	Category     string          `json:"category"`
	Order        float64         `json:"order"`
	ExtraDetails map[string]any  `json:"extraDetails"`
}

// CalendarResponse is the calendars API payload.
type CalendarResponse struct {
	Date          string         `json:"date"`
	Timezone      string         `json:"timezone"`
	CalendarItems []CalendarItem `json:"calendar_items"`
}

// CalendarQuery selects the day the calendars API describes.
type CalendarQuery struct {
	Year     int
	Month    int
	Day      int
	Diaspora bool
	Timezone string
	Custom   string
}

// FindRefsResult is one located citation. Upstream wobbles between ref,
// bestRef and refs[]; the client normalizes to Refs.
type FindRefsResult struct {
	Text      string
	StartChar int
	EndChar   int
	Refs      []string
	HeRefs    []string
}

// SearchHit is one OpenSearch hit row.
type SearchHit struct {
	ID        string              `json:"_id"`
	Source    map[string]any      `json:"_source"`
	Highlight map[string][]string `json:"highlight"`
}

// SearchResponse is the search/text/_search payload.
type SearchResponse struct {
	Hits struct {
		Hits []SearchHit `json:"hits"`
	} `json:"hits"`
}

// Ref extracts the canonical ref of a hit, falling back to the document id.
func (h SearchHit) Ref() string {
	if h.Source != nil {
		if ref, ok := h.Source["ref"].(string); ok && ref != "" {
			return ref
		}
	}
	return h.ID
}

// TopicRef is one ref attached to a topic.
type TopicRef struct {
	Ref     string         `json:"ref"`
	IsSheet bool           `json:"is_sheet"`
	Order   map[string]any `json:"order"`
}

// TopicResponse is the v2 topics payload.
type TopicResponse struct {
	Slug         string          `json:"slug"`
	PrimaryTitle LocalizedString `json:"primaryTitle"`
	Description  map[string]any  `json:"description"`
	Refs         []TopicRef      `json:"refs"`
}

// SheetSource is one source block of a sheet.
type SheetSource struct {
	Ref         string         `json:"ref"`
	Text        map[string]any `json:"text"`
	OutsideText string         `json:"outsideText"`
	Comment     string         `json:"comment"`
}

// SheetResponse is the sheets/{id} payload.
type SheetResponse struct {
	ID      int64         `json:"id"`
	Title   string        `json:"title"`
	Summary string        `json:"summary"`
	Owner   any           `json:"owner"`
	Views   float64       `json:"views"`
	Sources []SheetSource `json:"sources"`
}
