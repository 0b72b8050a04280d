package sefaria

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	tagRunRe     = regexp.MustCompile(`<[^>]*>`)
	spaceRunRe   = regexp.MustCompile(`[ \t]+`)
	newlineRunRe = regexp.MustCompile(`\n{3,}`)
)

// FlattenText collapses the upstream text field, which may be a string or an
// arbitrarily nested array of strings, into one newline-joined string.
// Depth-first order, empty segments dropped.
func FlattenText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return ""
	}
	var segments []string
	collectSegments(node, &segments)
	return strings.Join(segments, "\n")
}

func collectSegments(node any, out *[]string) {
	switch v := node.(type) {
	case string:
		cleaned := StripHTML(v)
		if cleaned != "" {
			*out = append(*out, cleaned)
		}
	case []any:
		for _, child := range v {
			collectSegments(child, out)
		}
	}
}

// StripHTML removes tag runs and collapses whitespace. Upstream embeds
// markup in titles, summaries and text segments.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	s = tagRunRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#39;", "'")
	s = spaceRunRe.ReplaceAllString(s, " ")
	s = newlineRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// VersionText returns the flattened text of the first version matching the
// given language code ("en" or "he").
func (t *TextResponse) VersionText(lang string) string {
	for _, v := range t.Versions {
		if matchesLanguage(v, lang) {
			return FlattenText(v.Text)
		}
	}
	return ""
}

// VersionTitleFor returns the versionTitle of the first version matching
// lang, or the empty string.
func (t *TextResponse) VersionTitleFor(lang string) string {
	for _, v := range t.Versions {
		if matchesLanguage(v, lang) {
			return v.VersionTitle
		}
	}
	return ""
}

func matchesLanguage(v Version, lang string) bool {
	if v.Language == lang || v.ActualLanguage == lang {
		return true
	}
	// Hebrew versions sometimes only declare direction.
	if lang == "he" && v.Direction == "rtl" {
		return true
	}
	return false
}
