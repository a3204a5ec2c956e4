package scraper

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pfrederiksen/local-events/internal/venues"
)

// Strategy names recorded on candidates and in scraping logs.
const (
	StrategySelectors   = "selectors"
	StrategyStructured  = "structured-data"
	StrategyHeuristic   = "heuristic"
	StrategyIntelligent = "intelligent"
)

// Input is what a strategy needs besides the document.
type Input struct {
	PageURL    string
	Config     venues.Config
	SourceType string
	Now        time.Time
}

// Raw is an event as found on the page, before any normalization.
type Raw struct {
	Title       string
	Description string
	Location    string
	Price       string
	ImageURL    string
	Link        string

	// DateTexts holds candidate date fragments, most specific first.
	DateTexts []string
	TimeText  string
	EndText   string

	Strategy string
}

// Strategy extracts raw events from a parsed document.
type Strategy interface {
	Name() string
	Extract(doc *goquery.Document, in Input) []Raw
}

// Generic per-field selectors, tried when a configured selector is empty or
// matches nothing inside the container.
var fallback = venues.Selectors{
	Title:       `h1, h2, h3, h4, .title, [class*="title"], [itemprop="name"]`,
	Date:        `time, .date, [class*="date"], [itemprop="startDate"]`,
	Time:        `.time, [class*="time"]:not(time)`,
	Description: `.description, [class*="description"], [class*="excerpt"], [class*="summary"], [itemprop="description"], p`,
	Price:       `.price, [class*="price"], [class*="ticket"], [itemprop="price"]`,
	Image:       `img`,
	Location:    `.location, .venue, [class*="location"], [class*="venue"], [itemprop="location"]`,
}

// SelectorStrategy reads events from containers named by a selector map.
type SelectorStrategy struct{}

// Name implements Strategy.
func (SelectorStrategy) Name() string { return StrategySelectors }

// Extract implements Strategy. A container selector matching nothing yields
// an empty result.
func (s SelectorStrategy) Extract(doc *goquery.Document, in Input) []Raw {
	return fromContainers(doc.Find(in.Config.Selectors.Container), in.Config.Selectors, s.Name())
}

func fromContainers(containers *goquery.Selection, sel venues.Selectors, strategy string) []Raw {
	var out []Raw
	containers.Each(func(_ int, c *goquery.Selection) {
		title := fieldText(c, sel.Title, fallback.Title)
		if title == "" {
			return
		}
		r := Raw{
			Title:       title,
			Description: fieldText(c, sel.Description, fallback.Description),
			Location:    fieldText(c, sel.Location, fallback.Location),
			Price:       fieldText(c, sel.Price, fallback.Price),
			ImageURL:    fieldAttr(c, sel.Image, fallback.Image, "src", "data-src", "data-lazy-src"),
			Link:        link(c, sel.Title),
			TimeText:    fieldText(c, sel.Time, fallback.Time),
			Strategy:    strategy,
		}
		r.DateTexts = dateTexts(c, sel.Date)
		out = append(out, r)
	})
	return out
}

// field returns the first match of configured, or of fallback when configured
// is empty or matches nothing.
func field(c *goquery.Selection, configured, fallbackSel string) *goquery.Selection {
	if configured != "" {
		if m := c.Find(configured).First(); m.Length() > 0 {
			return m
		}
	}
	if fallbackSel == "" {
		return c.Slice(0, 0)
	}
	return c.Find(fallbackSel).First()
}

func fieldText(c *goquery.Selection, configured, fallbackSel string) string {
	return clean(field(c, configured, fallbackSel).Text())
}

func fieldAttr(c *goquery.Selection, configured, fallbackSel string, attrs ...string) string {
	m := field(c, configured, fallbackSel)
	for _, a := range attrs {
		if v, ok := m.Attr(a); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// dateTexts collects machine-readable attributes before visible text.
func dateTexts(c *goquery.Selection, configured string) []string {
	m := field(c, configured, fallback.Date)
	var texts []string
	for _, a := range []string{"datetime", "content"} {
		if v, ok := m.Attr(a); ok && strings.TrimSpace(v) != "" {
			texts = append(texts, strings.TrimSpace(v))
		}
	}
	if t := clean(m.Text()); t != "" {
		texts = append(texts, t)
	}
	return texts
}

func link(c *goquery.Selection, titleSel string) string {
	candidates := []*goquery.Selection{}
	if titleSel != "" {
		candidates = append(candidates, c.Find(titleSel).First().Find("a[href]").First(), c.Find(titleSel).First().Filter("a[href]"))
	}
	candidates = append(candidates, c.Filter("a[href]"), c.Find("a[href]").First())
	for _, s := range candidates {
		if href, ok := s.Attr("href"); ok && strings.TrimSpace(href) != "" && !strings.HasPrefix(href, "#") {
			return strings.TrimSpace(href)
		}
	}
	return ""
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
