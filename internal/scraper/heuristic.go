package scraper

import (
	"regexp"

	"github.com/PuerkitoBio/goquery"

	"github.com/pfrederiksen/local-events/internal/venues"
)

// genericContainers matches markup commonly used for event listings.
const genericContainers = `.event, .event-item, .event-card, .event-listing, .eventlist-event, ` +
	`.events-list li, article.event, article[class*="event"], li[class*="event"], ` +
	`[itemtype*="schema.org/Event"], [itemtype*="schema.org/MusicEvent"]`

// dateLike spots text that probably carries a date.
var dateLike = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{1,2}\b|` +
	`\b\d{1,2}/\d{1,2}/\d{2,4}\b|\b\d{4}-\d{2}-\d{2}\b|` +
	`\b(today|tonight|tomorrow|this weekend)\b|\b(this|next)\s+(mon|tue|wed|thu|fri|sat|sun)`)

// HeuristicStrategy is a best-effort scan for common listing markup. It may
// legitimately find nothing.
type HeuristicStrategy struct{}

// Name implements Strategy.
func (HeuristicStrategy) Name() string { return StrategyHeuristic }

// Extract implements Strategy.
func (h HeuristicStrategy) Extract(doc *goquery.Document, _ Input) []Raw {
	// Outermost generic containers only; nested matches repeat their parent.
	containers := doc.Find(genericContainers).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.ParentsFiltered(genericContainers).Length() == 0
	})
	out := fromContainers(containers, venues.Selectors{}, h.Name())

	// Headings followed closely by date-like text, outside any container.
	doc.Find("h2, h3, h4").Each(func(_ int, heading *goquery.Selection) {
		if heading.ParentsFiltered(genericContainers).Length() > 0 {
			return
		}
		title := clean(heading.Text())
		if title == "" {
			return
		}
		texts := nearbyDates(heading)
		if len(texts) == 0 {
			return
		}
		r := Raw{
			Title:     title,
			DateTexts: texts,
			Link:      link(heading, ""),
			Strategy:  h.Name(),
		}
		if p := heading.NextAllFiltered("p").First(); p.Length() > 0 {
			r.Description = clean(p.Text())
		}
		out = append(out, r)
	})
	return out
}

// nearbyDates looks at the next two siblings of a heading for date-like text.
func nearbyDates(heading *goquery.Selection) []string {
	var texts []string
	if t := heading.Find("time[datetime]").AttrOr("datetime", ""); t != "" {
		texts = append(texts, t)
	}
	heading.NextAll().Slice(0, min(2, heading.NextAll().Length())).Each(func(_ int, s *goquery.Selection) {
		if t := s.Find("time[datetime]").AddSelection(s.Filter("time[datetime]")).AttrOr("datetime", ""); t != "" {
			texts = append(texts, t)
		}
		if t := clean(s.Text()); dateLike.MatchString(t) {
			texts = append(texts, t)
		}
	})
	return texts
}
