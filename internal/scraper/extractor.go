package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/pfrederiksen/local-events/internal/dates"
	"github.com/pfrederiksen/local-events/internal/event"
	"github.com/pfrederiksen/local-events/internal/logger"
)

const (
	DefaultSelectorTimeout  = 10 * time.Second
	DefaultSettleAfterClick = 2 * time.Second

	maxDescriptionRunes = 2000
	maxPriceRunes       = 100
)

// Extractor prepares pages and turns their HTML into candidate events.
type Extractor struct {
	parser           *dates.Parser
	log              *logger.Logger
	selectorTimeout  time.Duration
	settleAfterClick time.Duration

	selector  Strategy
	detection []Strategy
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger used for skipped records and page preparation.
func WithLogger(l *logger.Logger) Option {
	return func(x *Extractor) {
		if l != nil {
			x.log = l
		}
	}
}

// WithSelectorTimeout bounds waits for containers and calendar widgets.
func WithSelectorTimeout(d time.Duration) Option {
	return func(x *Extractor) {
		if d > 0 {
			x.selectorTimeout = d
		}
	}
}

// WithSettleAfterClick sets the pause after a list-view or load-more click.
func WithSettleAfterClick(d time.Duration) Option {
	return func(x *Extractor) {
		if d >= 0 {
			x.settleAfterClick = d
		}
	}
}

// NewExtractor creates an Extractor resolving dates with parser.
func NewExtractor(parser *dates.Parser, opts ...Option) *Extractor {
	x := &Extractor{
		parser:           parser,
		log:              logger.With(logger.Fields{"component": "extractor"}),
		selectorTimeout:  DefaultSelectorTimeout,
		settleAfterClick: DefaultSettleAfterClick,
		selector:         SelectorStrategy{},
		detection:        []Strategy{StructuredDataStrategy{}, HeuristicStrategy{}},
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Output is the result of one extraction.
type Output struct {
	Candidates []event.Candidate
	// Strategy is StrategySelectors or StrategyIntelligent.
	Strategy string
	// Found counts raw records before normalization.
	Found      int
	Rejected   int
	Duplicates int
}

// Extract parses html and returns validated, deduplicated candidates.
// An error is returned only when the document cannot be parsed at all.
func (x *Extractor) Extract(html string, in Input) (*Output, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	if in.SourceType == "" {
		in.SourceType = in.Config.SourceType
	}

	out := &Output{}
	var raws []Raw
	if in.Config.HasSelectors() {
		out.Strategy = x.selector.Name()
		raws = x.selector.Extract(doc, in)
	} else {
		out.Strategy = StrategyIntelligent
		for _, s := range x.detection {
			raws = append(raws, s.Extract(doc, in)...)
		}
	}
	out.Found = len(raws)

	candidates := make([]event.Candidate, 0, len(raws))
	for _, r := range raws {
		c, err := x.normalize(r, in)
		if err != nil {
			out.Rejected++
			x.log.Debug("Candidate rejected", logger.Fields{
				"title":    r.Title,
				"strategy": r.Strategy,
				"reason":   err.Error(),
			})
			continue
		}
		candidates = append(candidates, c)
	}

	out.Candidates = event.Dedupe(candidates)
	out.Duplicates = len(candidates) - len(out.Candidates)
	return out, nil
}

var errNoDate = errors.New("no parseable start date")

func (x *Extractor) normalize(r Raw, in Input) (event.Candidate, error) {
	start, ok := x.resolveStart(r, in)
	if !ok {
		return event.Candidate{}, errNoDate
	}

	c := event.Candidate{
		Title:          clean(r.Title),
		Description:    truncate(clean(r.Description), maxDescriptionRunes),
		Start:          start.Time,
		AllDay:         start.AllDay,
		Location:       clean(r.Location),
		Price:          normalizePrice(r.Price),
		ImageURL:       resolveURL(in.PageURL, r.ImageURL),
		SourceURL:      resolveURL(in.PageURL, r.Link),
		DateConfidence: start.Confidence,
		DateStrategy:   start.Strategy,
		Extraction:     r.Strategy,
	}
	if c.SourceURL == "" {
		c.SourceURL = in.PageURL
	}
	if r.EndText != "" {
		if end, ok := x.parser.Parse(r.EndText, in.Now); ok && end.Time.After(c.Start) {
			c.End = &end.Time
		}
	}

	if err := c.Validate(in.Now); err != nil {
		return event.Candidate{}, err
	}
	c.Classify(in.SourceType)
	return c, nil
}

// resolveStart tries the source's layout hint first, then every date
// fragment with and without the separate time text.
func (x *Extractor) resolveStart(r Raw, in Input) (dates.Result, bool) {
	if layout := in.Config.DateFormat; layout != "" {
		for _, d := range r.DateTexts {
			if res, ok := x.parser.ParseLayout(layout, d, r.TimeText, in.Now); ok {
				return res, true
			}
		}
	}

	texts := make([]string, 0, 2*len(r.DateTexts)+1)
	for _, d := range r.DateTexts {
		if r.TimeText != "" && !strings.Contains(d, r.TimeText) {
			texts = append(texts, d+" "+r.TimeText)
		}
		texts = append(texts, d)
	}
	if r.TimeText != "" {
		texts = append(texts, r.TimeText)
	}
	return x.parser.ParseBest(texts, in.Now)
}

var (
	freePrice = regexp.MustCompile(`(?i)\b(free|no cover)\b`)
	digits    = regexp.MustCompile(`\d`)
)

// normalizePrice keeps price text that carries an amount and maps free
// admission to "Free". Anything else ("Buy tickets") is dropped.
func normalizePrice(s string) string {
	s = clean(s)
	switch {
	case s == "":
		return ""
	case freePrice.MatchString(s):
		return "Free"
	case digits.MatchString(s):
		return truncate(s, maxPriceRunes)
	}
	return ""
}

func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "javascript:") {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil || base == "" {
		return r.String()
	}
	return b.ResolveReference(r).String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n-1])) + "…"
}
