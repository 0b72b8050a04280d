package webfetch

import (
	"bytes"
	"net/url"
	"path"
	"regexp"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// maxPDFPages caps the page-by-page fallback extractor.
const maxPDFPages = 50

// Extraction is the readable content pulled out of a fetched body.
type Extraction struct {
	Title        string
	Text         string
	CanonicalURL string
	Language     string
	PageCount    int
}

// extractContent dispatches on content type. pageURL is the final URL after
// redirects and feeds the readability parser.
func extractContent(body []byte, contentType string, pageURL *url.URL) Extraction {
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.TrimSpace(ct)

	switch {
	case ct == "application/pdf" || strings.EqualFold(path.Ext(pageURL.Path), ".pdf"):
		return extractPDF(body)
	case strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml"):
		return extractHTML(body, pageURL)
	case strings.HasPrefix(ct, "text/plain") || ct == "":
		return Extraction{Text: string(body)}
	default:
		// Unknown types still get a best-effort tag strip.
		return extractHTML(body, pageURL)
	}
}

func extractHTML(body []byte, pageURL *url.URL) Extraction {
	var out Extraction

	doc, err := html.Parse(bytes.NewReader(body))
	if err == nil && doc != nil {
		out = collectHTMLMeta(doc)
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		out.Text = article.TextContent
		if out.Title == "" {
			out.Title = article.Title
		}
	} else if doc != nil {
		// Readability found nothing usable. Strip tags instead.
		var b strings.Builder
		collectVisibleText(&b, doc)
		out.Text = b.String()
	}

	if out.Title == "" {
		out.Title = "Untitled"
	}
	return out
}

// collectHTMLMeta walks the DOM for og:title, og:url, the canonical link,
// the document language and the <title> element. og:title wins over <title>.
func collectHTMLMeta(doc *html.Node) Extraction {
	var out Extraction
	var plainTitle string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch strings.ToLower(n.Data) {
			case "html":
				if lang := attrVal(n, "lang"); lang != "" {
					out.Language = lang
				}
			case "meta":
				prop := strings.ToLower(attrVal(n, "property"))
				content := attrVal(n, "content")
				if prop == "og:title" && content != "" && out.Title == "" {
					out.Title = strings.TrimSpace(content)
				}
				if prop == "og:url" && content != "" && out.CanonicalURL == "" {
					out.CanonicalURL = strings.TrimSpace(content)
				}
			case "link":
				if strings.EqualFold(attrVal(n, "rel"), "canonical") && out.CanonicalURL == "" {
					out.CanonicalURL = strings.TrimSpace(attrVal(n, "href"))
				}
			case "title":
				if n.FirstChild != nil && plainTitle == "" {
					plainTitle = strings.TrimSpace(n.FirstChild.Data)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if out.Title == "" {
		out.Title = plainTitle
	}
	return out
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func collectVisibleText(b *strings.Builder, n *html.Node) {
	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript", "head", "iframe":
			return
		case "p", "br", "li", "div", "h1", "h2", "h3", "h4", "h5", "h6", "tr":
			b.WriteString("\n")
		}
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectVisibleText(b, c)
	}
}

func extractPDF(body []byte) Extraction {
	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		log.Debug().Err(err).Msg("pdf open failed")
		return Extraction{Title: "Untitled"}
	}

	out := Extraction{Title: "Untitled", PageCount: reader.NumPage()}

	if r, err := reader.GetPlainText(); err == nil {
		var b strings.Builder
		buf := make([]byte, 32*1024)
		for {
			n, readErr := r.Read(buf)
			b.Write(buf[:n])
			if readErr != nil {
				break
			}
		}
		out.Text = b.String()
	}

	if strings.TrimSpace(out.Text) == "" {
		out.Text = extractPDFByPage(reader)
	}
	return out
}

// extractPDFByPage walks pages one at a time, tolerating pages the whole
// document extractor chokes on.
func extractPDFByPage(reader *pdf.Reader) string {
	pages := reader.NumPage()
	if pages > maxPDFPages {
		pages = maxPDFPages
	}
	var b strings.Builder
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text != "" {
			b.WriteString(text)
			b.WriteString("\n")
		}
	}
	return b.String()
}

var (
	horizontalWS = regexp.MustCompile(`[ \t\x{00A0}]+`)
	newlineRuns  = regexp.MustCompile(`\n{3,}`)
)

// normalizeText applies NFKC, collapses horizontal whitespace and long
// newline runs, then truncates to maxChars characters.
func normalizeText(s string, maxChars int) (string, bool) {
	s = norm.NFKC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = horizontalWS.ReplaceAllString(s, " ")
	s = newlineRuns.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)

	return cutRunes(s, maxChars)
}

// cutRunes truncates s to max characters on a rune boundary. Counting
// characters keeps multi-byte scripts from being cut mid-rune.
func cutRunes(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	r := []rune(s)
	if len(r) <= max {
		return s, false
	}
	return string(r[:max]), true
}
