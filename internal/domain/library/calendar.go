package library

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"sefaria-mcp/internal/infrastructure/cache"
	"sefaria-mcp/internal/infrastructure/sefaria"
)

// learningTrackAllowlist names the calendar tracks surfaced by parsha_pack.
var learningTrackAllowlist = map[string]bool{
	"Daf Yomi":                 true,
	"Yerushalmi Yomi":          true,
	"Daily Mishnah":            true,
	"Daily Rambam":             true,
	"Daily Rambam (3 Chapters)": true,
	"Tanakh Yomi":              true,
	"Tanya Yomi":               true,
	"Halakhah Yomit":           true,
	"Arukh HaShulchan Yomi":    true,
	"Chok LeYisrael":           true,
}

// ScheduleItem is one calendar entry mapped for output.
type ScheduleItem struct {
	Title        string `json:"title"`
	HeTitle      string `json:"heTitle,omitempty"`
	Ref          string `json:"ref,omitempty"`
	URL          string `json:"url,omitempty"`
	DisplayValue string `json:"displayValue,omitempty"`
	Category     string `json:"category,omitempty"`
}

// DailyLearningsResult is the get_daily_learnings payload.
type DailyLearningsResult struct {
	Date     string `json:"date"`
	Diaspora bool   `json:"diaspora"`
	Schedule struct {
		CalendarItems []ScheduleItem `json:"calendar_items"`
	} `json:"schedule"`
}

// CalendarParams select the day for calendar-backed tools.
type CalendarParams struct {
	Date     string
	Diaspora *bool
	Timezone string
	Custom   string
}

func (p CalendarParams) query() (sefaria.CalendarQuery, string, error) {
	day := time.Now().UTC()
	if p.Date != "" {
		parsed, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			return sefaria.CalendarQuery{}, "", fmt.Errorf("date must be YYYY-MM-DD: %w", err)
		}
		day = parsed
	}
	diaspora := true
	if p.Diaspora != nil {
		diaspora = *p.Diaspora
	}
	return sefaria.CalendarQuery{
		Year:     day.Year(),
		Month:    int(day.Month()),
		Day:      day.Day(),
		Diaspora: diaspora,
		Timezone: p.Timezone,
		Custom:   p.Custom,
	}, day.Format("2006-01-02"), nil
}

func mapScheduleItem(item sefaria.CalendarItem) ScheduleItem {
	out := ScheduleItem{
		Title:        item.Title.EN,
		HeTitle:      item.Title.HE,
		Ref:          item.Ref,
		DisplayValue: item.DisplayValue.EN,
		Category:     item.Category,
	}
	if item.Ref != "" {
		out.URL = sefaria.RefURL(item.Ref)
	} else if item.URL != "" {
		out.URL = "https://www.sefaria.org/" + strings.TrimPrefix(item.URL, "/")
	}
	return out
}

// GetDailyLearnings returns the full learning schedule for one day.
func (s *Service) GetDailyLearnings(ctx context.Context, p CalendarParams) (*DailyLearningsResult, error) {
	q, date, err := p.query()
	if err != nil {
		return nil, err
	}

	key := cache.Key("get_daily_learnings", q)
	return withCache(s.cache, key, defaultTTL, func() (*DailyLearningsResult, error) {
		resp, err := s.client.GetCalendars(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("load calendars: %w", err)
		}

		out := &DailyLearningsResult{Date: date, Diaspora: q.Diaspora}
		out.Schedule.CalendarItems = make([]ScheduleItem, 0, len(resp.CalendarItems))
		for _, item := range resp.CalendarItems {
			out.Schedule.CalendarItems = append(out.Schedule.CalendarItems, mapScheduleItem(item))
		}
		return out, nil
	})
}

// ParshaPackParams bound the parsha_pack inputs.
type ParshaPackParams struct {
	CalendarParams
	IncludeAliyot         bool
	IncludeLearningTracks bool
	LimitLearningTracks   int
}

// ParshaPackResult is the parsha_pack payload.
type ParshaPackResult struct {
	Date           string         `json:"date"`
	Parsha         ScheduleItem   `json:"parsha"`
	Haftarot       []ScheduleItem `json:"haftarot,omitempty"`
	Aliyot         []string       `json:"aliyot,omitempty"`
	Highlights     []ScheduleItem `json:"highlights,omitempty"`
	LearningTracks []ScheduleItem `json:"learningTracks,omitempty"`
	Metadata       map[string]any `json:"metadata"`
}

// ParshaPack assembles the weekly Torah portion bundle: parsha, haftarot,
// optional aliyot, calendar highlights and the daily learning tracks.
func (s *Service) ParshaPack(ctx context.Context, p ParshaPackParams) (*ParshaPackResult, error) {
	q, date, err := p.query()
	if err != nil {
		return nil, err
	}
	limitTracks := clampInt(p.LimitLearningTracks, 8, 12)

	key := cache.Key("parsha_pack", q, p.IncludeAliyot, p.IncludeLearningTracks, limitTracks)
	return withCache(s.cache, key, defaultTTL, func() (*ParshaPackResult, error) {
		resp, err := s.client.GetCalendars(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("load calendars: %w", err)
		}

		var parsha *sefaria.CalendarItem
		for i := range resp.CalendarItems {
			if resp.CalendarItems[i].Title.EN == "Parashat Hashavua" {
				parsha = &resp.CalendarItems[i]
				break
			}
		}
		if parsha == nil {
			return nil, fmt.Errorf("no Parashat Hashavua entry for %s", date)
		}

		out := &ParshaPackResult{
			Date:     date,
			Parsha:   mapScheduleItem(*parsha),
			Metadata: map[string]any{"diaspora": q.Diaspora},
		}

		reserved := map[string]bool{"Parashat Hashavua": true}
		for _, item := range resp.CalendarItems {
			if strings.HasPrefix(item.Title.EN, "Haftarah") {
				out.Haftarot = append(out.Haftarot, mapScheduleItem(item))
				reserved[item.Title.EN] = true
			}
		}

		if p.IncludeAliyot {
			out.Aliyot = aliyotOf(*parsha)
		}

		for _, item := range resp.CalendarItems {
			title := item.Title.EN
			if reserved[title] || learningTrackAllowlist[title] {
				continue
			}
			if item.DisplayValue.EN == "" {
				continue
			}
			out.Highlights = append(out.Highlights, mapScheduleItem(item))
		}

		if p.IncludeLearningTracks {
			for _, item := range resp.CalendarItems {
				if !learningTrackAllowlist[item.Title.EN] {
					continue
				}
				out.LearningTracks = append(out.LearningTracks, mapScheduleItem(item))
				if len(out.LearningTracks) >= limitTracks {
					break
				}
			}
		}

		return out, nil
	})
}

func aliyotOf(parsha sefaria.CalendarItem) []string {
	if parsha.ExtraDetails == nil {
		return nil
	}
	raw, ok := parsha.ExtraDetails["aliyot"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, a := range raw {
		if s, ok := a.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Calendar item classification, by regex over the English title and
// category.
var (
	parshaRe      = regexp.MustCompile(`(?i)parash|parsha`)
	haftarahRe    = regexp.MustCompile(`(?i)haftarah`)
	roshChodeshRe = regexp.MustCompile(`(?i)rosh chodesh`)
	fastRe        = regexp.MustCompile(`(?i)fast|tzom|ta'?anit|tisha b'?av`)
	shabbatRe     = regexp.MustCompile(`(?i)shabbat`)
	chagRe        = regexp.MustCompile(`(?i)chag|yom tov|pesach|passover|sukkot|shavuot|rosh hashanah|yom kippur|chanukah|hanukkah|purim|simchat torah|shemini atzeret`)
	dafRe         = regexp.MustCompile(`(?i)daf|yomi|daily|mishnah|rambam|tanya|halakhah|chok`)
)

func classifyCalendarItem(item sefaria.CalendarItem) string {
	subject := item.Title.EN + " " + item.Category
	switch {
	case parshaRe.MatchString(subject):
		return "parsha"
	case haftarahRe.MatchString(subject):
		return "haftarah"
	case roshChodeshRe.MatchString(subject):
		return "rosh_chodesh"
	case fastRe.MatchString(subject):
		return "fast"
	case shabbatRe.MatchString(subject):
		return "shabbat"
	case chagRe.MatchString(subject):
		return "chag"
	case dafRe.MatchString(subject):
		return "daf"
	default:
		return "other"
	}
}

// halachaChecklists is the fixed preparation table keyed by item type.
var halachaChecklists = map[string][]string{
	"shabbat":      {"Candle lighting", "Eruv check", "Food prep", "Havdalah"},
	"fast":         {"Start/End times", "Health exemptions", "Hydration plan"},
	"chag":         {"Kiddush/Challah", "Eruv Tavshilin (if chag→Shabbat)", "Hallel"},
	"rosh_chodesh": {"Ya'aleh V'Yavo", "Hallel (partial/full)"},
}

// InsightItem is one classified calendar entry.
type InsightItem struct {
	Type               string   `json:"type"`
	Title              string   `json:"title"`
	Ref                string   `json:"ref,omitempty"`
	URL                string   `json:"url,omitempty"`
	DisplayValue       string   `json:"displayValue,omitempty"`
	RecommendedSources []string `json:"recommendedSources,omitempty"`
	HalachaChecklist   []string `json:"halachaChecklist,omitempty"`
}

// InsightDay is one day of classified calendar items.
type InsightDay struct {
	Date  string        `json:"date"`
	Items []InsightItem `json:"items"`
}

// CalendarInsightsResult is the calendar_insights payload.
type CalendarInsightsResult struct {
	StartDate string         `json:"startDate"`
	Days      []InsightDay   `json:"days"`
	Metadata  map[string]any `json:"metadata"`
}

// CalendarInsightsParams bound the calendar_insights inputs.
type CalendarInsightsParams struct {
	StartDate             string
	Diaspora              *bool
	IncludeLearningTracks bool
	Interests             []string
	Timezone              string
}

// CalendarInsights classifies a week of calendar entries, attaching source
// recommendations and halachic preparation checklists.
func (s *Service) CalendarInsights(ctx context.Context, p CalendarInsightsParams) (*CalendarInsightsResult, error) {
	start := time.Now().UTC()
	if p.StartDate != "" {
		parsed, err := time.Parse("2006-01-02", p.StartDate)
		if err != nil {
			return nil, fmt.Errorf("startDate must be YYYY-MM-DD: %w", err)
		}
		start = parsed
	}
	diaspora := true
	if p.Diaspora != nil {
		diaspora = *p.Diaspora
	}
	interests := make([]string, 0, len(p.Interests))
	for _, tag := range p.Interests {
		if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
			interests = append(interests, tag)
		}
	}

	key := cache.Key("calendar_insights", start.Format("2006-01-02"), diaspora, p.IncludeLearningTracks, interests, p.Timezone)
	return withCache(s.cache, key, calendarInsightsTTL, func() (*CalendarInsightsResult, error) {
		out := &CalendarInsightsResult{
			StartDate: start.Format("2006-01-02"),
			Days:      make([]InsightDay, 0, 7),
			Metadata:  map[string]any{"diaspora": diaspora, "interests": interests},
		}

		for offset := 0; offset < 7; offset++ {
			day := start.AddDate(0, 0, offset)
			resp, err := s.client.GetCalendars(ctx, sefaria.CalendarQuery{
				Year:     day.Year(),
				Month:    int(day.Month()),
				Day:      day.Day(),
				Diaspora: diaspora,
				Timezone: p.Timezone,
			})
			if err != nil {
				return nil, fmt.Errorf("load calendars for %s: %w", day.Format("2006-01-02"), err)
			}

			entry := InsightDay{Date: day.Format("2006-01-02")}
			for _, item := range resp.CalendarItems {
				kind := classifyCalendarItem(item)
				if kind == "daf" && !p.IncludeLearningTracks && !wantsKind(interests, "daf") {
					continue
				}
				if len(interests) > 0 && !wantsKind(interests, kind) {
					continue
				}
				insight := InsightItem{
					Type:         kind,
					Title:        item.Title.EN,
					Ref:          item.Ref,
					DisplayValue: item.DisplayValue.EN,
				}
				if item.Ref != "" {
					insight.URL = sefaria.RefURL(item.Ref)
				}
				insight.RecommendedSources = recommendedSources(kind, item.Ref)
				insight.HalachaChecklist = halachaChecklists[kind]
				entry.Items = append(entry.Items, insight)
			}
			out.Days = append(out.Days, entry)
		}
		return out, nil
	})
}

func wantsKind(interests []string, kind string) bool {
	for _, tag := range interests {
		if strings.Contains(kind, tag) || strings.Contains(tag, kind) {
			return true
		}
	}
	return false
}

func recommendedSources(kind, ref string) []string {
	if ref == "" {
		return nil
	}
	switch kind {
	case "parsha":
		return []string{"Rashi on " + ref, "Ramban on " + ref, "Sforno on " + ref}
	case "daf":
		return []string{"Rashi on " + ref, "Tosafot on " + ref}
	default:
		return nil
	}
}
