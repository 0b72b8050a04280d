package library

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sefaria-mcp/internal/domain/resolver"
	"sefaria-mcp/internal/infrastructure/cache"
	"sefaria-mcp/internal/infrastructure/sefaria"
)

// bilingualSeparator sits between the English and Hebrew halves of a
// bilingual document body.
const bilingualSeparator = "\n\n— — —\n\n"

// Tool-specific cache TTLs. Zero means the shared cache default.
const (
	defaultTTL          = time.Duration(0)
	textTTL             = 10 * time.Minute
	sheetTTL            = 10 * time.Minute
	sugyaTTL            = 3 * time.Minute
	calendarInsightsTTL = time.Hour
)

// Client is the upstream corpus surface the tools consume.
type Client interface {
	GetText(ctx context.Context, ref string, versions ...string) (*sefaria.TextResponse, error)
	SearchText(ctx context.Context, body map[string]any) (*sefaria.SearchResponse, error)
	GetRelated(ctx context.Context, ref string) (*sefaria.RelatedResponse, error)
	GetCalendars(ctx context.Context, q sefaria.CalendarQuery) (*sefaria.CalendarResponse, error)
	FindRefs(ctx context.Context, text, lang string) ([]sefaria.FindRefsResult, error)
	GetTopic(ctx context.Context, slug string) (*sefaria.TopicResponse, error)
	GetSheet(ctx context.Context, id string) (*sefaria.SheetResponse, error)
}

// Service implements the corpus aggregation tools. All tools share one
// response cache keyed on tool name plus inputs.
type Service struct {
	client   Client
	resolver *resolver.Resolver
	cache    *cache.Cache[any]
}

// NewService wires the tool layer.
func NewService(client Client, res *resolver.Resolver, c *cache.Cache[any]) *Service {
	return &Service{client: client, resolver: res, cache: c}
}

// withCache consults the shared response cache before running fn and stores
// the result under the tool-specific TTL. Errors are never cached.
func withCache[T any](c *cache.Cache[any], key string, ttl time.Duration, fn func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}
	v, err := fn()
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

// clampInt bounds n to [1, max], substituting def when n is unset.
func clampInt(n, def, max int) int {
	if n <= 0 {
		n = def
	}
	if n > max {
		n = max
	}
	return n
}

// truncate cuts s to maxChars characters on a rune boundary and reports
// whether it did. maxChars counts characters, not bytes, so Hebrew text is
// measured the same as Latin.
func truncate(s string, maxChars int) (string, bool) {
	if maxChars <= 0 || len(s) <= maxChars {
		return s, false
	}
	r := []rune(s)
	if len(r) <= maxChars {
		return s, false
	}
	return string(r[:maxChars]), true
}

// snippet returns at most n characters of s with markup stripped.
func snippet(s string, n int) string {
	s = sefaria.StripHTML(s)
	out, _ := truncate(s, n)
	return out
}

// composeBilingual assembles a document body for a language preference.
func composeBilingual(english, hebrew, langPref string) string {
	switch langPref {
	case "he":
		if hebrew != "" {
			return hebrew
		}
		return english
	case "bi":
		switch {
		case english != "" && hebrew != "":
			return english + bilingualSeparator + hebrew
		case hebrew != "":
			return hebrew
		default:
			return english
		}
	default:
		if english != "" {
			return english
		}
		return hebrew
	}
}

func containsHebrew(s string) bool {
	for _, r := range s {
		if r >= 0x0590 && r <= 0x05FF {
			return true
		}
	}
	return false
}

// makeDocID encodes a document id as ref|language|version.
func makeDocID(ref, lang, version string) string {
	if lang == "" {
		lang = "en"
	}
	if version == "" {
		version = "primary"
	}
	return fmt.Sprintf("%s|%s|%s", ref, lang, version)
}

// refFromDocID recovers the ref from a ref|language|version id.
func refFromDocID(id string) string {
	if i := strings.IndexByte(id, '|'); i >= 0 {
		return id[:i]
	}
	return id
}
