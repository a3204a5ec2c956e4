package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "time/tzdata" // the collector runs in slim containers without a zoneinfo database
)

// Strategy names, in priority order.
const (
	StrategyISO          = "ISO"
	StrategyToday        = "Today/Tonight"
	StrategyTomorrow     = "Tomorrow"
	StrategyWeekday      = "This/Next weekday"
	StrategyNumeric      = "Numeric date"
	StrategyMonthDayYear = "Month day year"
	StrategyMonthDay     = "Month day"
	StrategyWeekend      = "This weekend"
	StrategyNextWeek     = "Next week"
	StrategyTimeOnly     = "Time only"

	// StrategyLayout marks results produced from a per-source layout hint.
	StrategyLayout = "Layout hint"
)

const (
	// DefaultZone is the civil timezone events are expressed in when none is configured.
	DefaultZone = "America/New_York"

	// DefaultEventHour is used when a relative date carries no time of day.
	DefaultEventHour = 19

	minSaneYear = 2000
	maxSaneYear = 2031
)

// Result is a resolved timestamp.
type Result struct {
	Time       time.Time
	Confidence float64
	Strategy   string
	AllDay     bool
}

type strategy struct {
	name string
	fn   func(p *Parser, text string, ref time.Time) (Result, bool)
}

// strategies is the fixed priority order. The index doubles as the tie-break rank.
var strategies = []strategy{
	{StrategyISO, (*Parser).parseISO},
	{StrategyToday, (*Parser).parseToday},
	{StrategyTomorrow, (*Parser).parseTomorrow},
	{StrategyWeekday, (*Parser).parseWeekday},
	{StrategyNumeric, (*Parser).parseNumeric},
	{StrategyMonthDayYear, (*Parser).parseMonthDayYear},
	{StrategyMonthDay, (*Parser).parseMonthDay},
	{StrategyWeekend, (*Parser).parseWeekend},
	{StrategyNextWeek, (*Parser).parseNextWeek},
	{StrategyTimeOnly, (*Parser).parseTimeOnly},
}

var strategyRank = func() map[string]int {
	m := make(map[string]int, len(strategies))
	for i, s := range strategies {
		m[s.name] = i
	}
	return m
}()

// Parser resolves free-text dates in a single timezone.
type Parser struct {
	loc         *time.Location
	defaultHour int
}

// Option configures a Parser.
type Option func(*Parser)

// WithDefaultHour overrides the hour used for "today", "tomorrow" and friends
// when no time of day is present.
func WithDefaultHour(hour int) Option {
	return func(p *Parser) {
		if hour >= 0 && hour < 24 {
			p.defaultHour = hour
		}
	}
}

// NewParser creates a Parser for the named IANA zone.
func NewParser(zone string, opts ...Option) (*Parser, error) {
	if strings.TrimSpace(zone) == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", zone, err)
	}
	p := &Parser{loc: loc, defaultHour: DefaultEventHour}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Location returns the zone all results are expressed in.
func (p *Parser) Location() *time.Location {
	return p.loc
}

// Parse resolves text relative to ref. The first strategy producing a sane
// date wins. ok is false when nothing matched.
func (p *Parser) Parse(text string, ref time.Time) (Result, bool) {
	text = normalize(text)
	if text == "" {
		return Result{}, false
	}
	ref = ref.In(p.loc)

	for _, s := range strategies {
		r, ok := s.fn(p, text, ref)
		if !ok || !sane(r.Time) {
			continue
		}
		r.Strategy = s.name
		return r, true
	}
	return Result{}, false
}

// ParseBest parses each fragment and keeps the highest-confidence result.
// Ties go to the higher-priority strategy, then to the earlier fragment.
func (p *Parser) ParseBest(texts []string, ref time.Time) (Result, bool) {
	var (
		best  Result
		found bool
	)
	for _, text := range texts {
		r, ok := p.Parse(text, ref)
		if !ok {
			continue
		}
		if !found || r.Confidence > best.Confidence ||
			(r.Confidence == best.Confidence && strategyRank[r.Strategy] < strategyRank[best.Strategy]) {
			best = r
			found = true
		}
	}
	return best, found
}

// ParseLayout parses text with a Go time layout taken from a source's
// configuration. A layout without a year takes the reference year, or the next
// one when the date has already passed. When the layout carries no clock the
// time comes from timeText; with neither, the result is all-day midnight.
func (p *Parser) ParseLayout(layout, text, timeText string, ref time.Time) (Result, bool) {
	text = normalize(text)
	if layout == "" || text == "" {
		return Result{}, false
	}
	t, err := time.ParseInLocation(layout, text, p.loc)
	if err != nil {
		return Result{}, false
	}
	ref = ref.In(p.loc)

	year := t.Year()
	if year == 0 {
		year = ref.Year()
		if d, ok := p.civil(year, t.Month(), t.Day(), 0, 0); ok && d.Before(p.onDay(ref, 0, 0)) {
			year++
		}
	}

	hour, minute, allDay := t.Hour(), t.Minute(), false
	if hour == 0 && minute == 0 {
		if h, m, ok := TimeOfDay(timeText); ok {
			hour, minute = h, m
		} else {
			allDay = true
		}
	}

	res, ok := p.civil(year, t.Month(), t.Day(), hour, minute)
	if !ok || !sane(res) {
		return Result{}, false
	}
	return Result{Time: res, Confidence: 0.90, Strategy: StrategyLayout, AllDay: allDay}, true
}

func sane(t time.Time) bool {
	y := t.Year()
	return y > minSaneYear && y < maxSaneYear
}

var spaceRun = regexp.MustCompile(`\s+`)

func normalize(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// civil builds a wall-clock instant in p.loc, rejecting dates that time.Date
// would silently normalize (Feb 30 and the like).
func (p *Parser) civil(year int, month time.Month, day, hour, minute int) (time.Time, bool) {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, month, day, hour, minute, 0, 0, p.loc)
	if t.Month() != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func (p *Parser) onDay(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, p.loc)
}

// timeOrDefault returns the explicit time in text, or the default event hour.
func (p *Parser) timeOrDefault(text string) (int, int) {
	if h, m, ok := TimeOfDay(text); ok {
		return h, m
	}
	return p.defaultHour, 0
}

var reISO = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})(?:[T ](\d{2}):(\d{2})(?::(\d{2})(?:[.,](\d+))?)?\s*(Z|[+-]\d{2}:?\d{2})?)?`)

func (p *Parser) parseISO(text string, _ time.Time) (Result, bool) {
	m := reISO.FindStringSubmatch(text)
	if m == nil {
		return Result{}, false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])

	if m[4] == "" {
		t, ok := p.civil(year, time.Month(month), day, 0, 0)
		return Result{Time: t, Confidence: 0.95, AllDay: true}, ok
	}

	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])
	sec := 0
	if m[6] != "" {
		sec, _ = strconv.Atoi(m[6])
	}
	nsec := 0
	if frac := m[7]; frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		nsec, _ = strconv.Atoi(frac)
	}
	if hour > 23 || minute > 59 || sec > 59 {
		return Result{}, false
	}

	loc := p.loc
	if zone := m[8]; zone != "" {
		offset, ok := parseOffset(zone)
		if !ok {
			return Result{}, false
		}
		loc = time.FixedZone("", offset)
	}

	t := time.Date(year, time.Month(month), day, hour, minute, sec, nsec, loc)
	if int(t.Month()) != month || t.Day() != day {
		return Result{}, false
	}
	return Result{Time: t.In(p.loc), Confidence: 0.95}, true
}

func parseOffset(zone string) (int, bool) {
	if zone == "Z" {
		return 0, true
	}
	sign := 1
	if zone[0] == '-' {
		sign = -1
	}
	digits := strings.ReplaceAll(zone[1:], ":", "")
	if len(digits) != 4 {
		return 0, false
	}
	h, err := strconv.Atoi(digits[:2])
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(digits[2:])
	if err != nil || h > 14 || m > 59 {
		return 0, false
	}
	return sign * (h*3600 + m*60), true
}

var (
	reToday    = regexp.MustCompile(`(?i)\b(today|tonight)\b`)
	reTomorrow = regexp.MustCompile(`(?i)\btomorrow\b`)
	reWeekday  = regexp.MustCompile(`(?i)\b(this|next)\s+(sunday|monday|tuesday|wednesday|thursday|friday|saturday|sun|mon|tues|tue|wed|thurs|thu|fri|sat)\b`)
)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

func (p *Parser) parseToday(text string, ref time.Time) (Result, bool) {
	if !reToday.MatchString(text) {
		return Result{}, false
	}
	h, m := p.timeOrDefault(text)
	return Result{Time: p.onDay(ref, h, m), Confidence: 0.85}, true
}

func (p *Parser) parseTomorrow(text string, ref time.Time) (Result, bool) {
	if !reTomorrow.MatchString(text) {
		return Result{}, false
	}
	h, m := p.timeOrDefault(text)
	return Result{Time: p.onDay(ref.AddDate(0, 0, 1), h, m), Confidence: 0.85}, true
}

func (p *Parser) parseWeekday(text string, ref time.Time) (Result, bool) {
	m := reWeekday.FindStringSubmatch(text)
	if m == nil {
		return Result{}, false
	}
	target := weekdays[strings.ToLower(m[2])[:3]]
	delta := int(target) - int(ref.Weekday())
	if delta <= 0 || strings.EqualFold(m[1], "next") {
		delta += 7
	}
	h, min := p.timeOrDefault(text)
	return Result{Time: p.onDay(ref.AddDate(0, 0, delta), h, min), Confidence: 0.75}, true
}

var (
	reNumeric  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4}|\d{2})\b`)
	reMonthDay = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b(?:,?\s+(\d{4})\b)?`)
)

var months = map[string]time.Month{
	"jan": time.January,
	"feb": time.February,
	"mar": time.March,
	"apr": time.April,
	"may": time.May,
	"jun": time.June,
	"jul": time.July,
	"aug": time.August,
	"sep": time.September,
	"oct": time.October,
	"nov": time.November,
	"dec": time.December,
}

// withTime combines a calendar date with a time of day found in the rest of
// the text. No time means an all-day event at midnight.
func (p *Parser) withTime(year int, month time.Month, day int, rest string, conf float64) (Result, bool) {
	h, m, hasTime := TimeOfDay(rest)
	t, ok := p.civil(year, month, day, h, m)
	if !ok {
		return Result{}, false
	}
	return Result{Time: t, Confidence: conf, AllDay: !hasTime}, true
}

func (p *Parser) parseNumeric(text string, _ time.Time) (Result, bool) {
	loc := reNumeric.FindStringSubmatchIndex(text)
	if loc == nil {
		return Result{}, false
	}
	month, _ := strconv.Atoi(text[loc[2]:loc[3]])
	day, _ := strconv.Atoi(text[loc[4]:loc[5]])
	year, _ := strconv.Atoi(text[loc[6]:loc[7]])
	if year < 100 {
		year += 2000
	}
	rest := text[:loc[0]] + " " + text[loc[1]:]
	return p.withTime(year, time.Month(month), day, rest, 0.85)
}

func (p *Parser) parseMonthDayYear(text string, _ time.Time) (Result, bool) {
	loc := reMonthDay.FindStringSubmatchIndex(text)
	if loc == nil || loc[6] < 0 {
		return Result{}, false
	}
	month := months[strings.ToLower(text[loc[2]:loc[3]])[:3]]
	day, _ := strconv.Atoi(text[loc[4]:loc[5]])
	year, _ := strconv.Atoi(text[loc[6]:loc[7]])
	rest := text[:loc[0]] + " " + text[loc[1]:]
	return p.withTime(year, month, day, rest, 0.80)
}

// parseMonthDay handles "Jan 24" style dates with no year. The date is placed
// in the reference year, or the next one when it has already passed.
func (p *Parser) parseMonthDay(text string, ref time.Time) (Result, bool) {
	loc := reMonthDay.FindStringSubmatchIndex(text)
	if loc == nil || loc[6] >= 0 {
		return Result{}, false
	}
	month := months[strings.ToLower(text[loc[2]:loc[3]])[:3]]
	day, _ := strconv.Atoi(text[loc[4]:loc[5]])
	rest := text[:loc[0]] + " " + text[loc[1]:]

	year := ref.Year()
	today := p.onDay(ref, 0, 0)
	if d, ok := p.civil(year, month, day, 0, 0); ok && d.Before(today) {
		year++
	}
	return p.withTime(year, month, day, rest, 0.70)
}

var (
	reWeekend  = regexp.MustCompile(`(?i)\bthis\s+weekend\b`)
	reNextWeek = regexp.MustCompile(`(?i)\bnext\s+week\b`)
)

func (p *Parser) parseWeekend(text string, ref time.Time) (Result, bool) {
	if !reWeekend.MatchString(text) {
		return Result{}, false
	}
	delta := (int(time.Saturday) - int(ref.Weekday()) + 7) % 7
	return Result{Time: p.onDay(ref.AddDate(0, 0, delta), p.defaultHour, 0), Confidence: 0.60}, true
}

func (p *Parser) parseNextWeek(text string, ref time.Time) (Result, bool) {
	if !reNextWeek.MatchString(text) {
		return Result{}, false
	}
	return Result{Time: p.onDay(ref.AddDate(0, 0, 7), p.defaultHour, 0), Confidence: 0.50}, true
}

func (p *Parser) parseTimeOnly(text string, ref time.Time) (Result, bool) {
	h, m, ok := TimeOfDay(text)
	if !ok {
		return Result{}, false
	}
	t := p.onDay(ref, h, m)
	if !t.After(ref) {
		t = p.onDay(ref.AddDate(0, 0, 1), h, m)
	}
	return Result{Time: t, Confidence: 0.40}, true
}

var (
	reTime12       = regexp.MustCompile(`(?i)\b(\d{1,2}):(\d{2})\s*([ap])\.?\s*m\b`)
	reTime24       = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	reHourMeridiem = regexp.MustCompile(`(?i)\b(\d{1,2})\s*([ap])\.?\s*m\b`)
	// reTimeRange is a range whose meridiem is only written after its end,
	// as in "7:00 - 10:00 PM" or "7-10pm".
	reTimeRange = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(?:-|–|—|to|until)\s*(\d{1,2})(?::\d{2})?\s*([ap])\.?\s*m\b`)
)

// TimeOfDay extracts the first time of day in text. It understands
// "7:30 pm", "19:30" and "7pm"; 12 pm is noon and 12 am is midnight. The
// start of a range like "7:00 - 10:00 PM" takes the meridiem written after
// its end, flipped when that would put the start after the end.
func TimeOfDay(text string) (hour, minute int, ok bool) {
	best := -1
	try := func(loc []int, h, m int) {
		if best < 0 || loc[0] < best {
			best, hour, minute, ok = loc[0], h, m, true
		}
	}

	if loc := reTimeRange.FindStringSubmatchIndex(text); loc != nil {
		sub := func(i int) string {
			if loc[2*i] < 0 {
				return ""
			}
			return text[loc[2*i]:loc[2*i+1]]
		}
		h, _ := strconv.Atoi(sub(1))
		min, _ := strconv.Atoi(sub(2))
		end, _ := strconv.Atoi(sub(3))
		if h >= 1 && h <= 12 && min < 60 && end >= 1 && end <= 12 {
			try(loc, rangeStart(h, end, sub(4)), min)
		}
	}
	if loc := reTime12.FindStringSubmatchIndex(text); loc != nil {
		h, _ := strconv.Atoi(text[loc[2]:loc[3]])
		min, _ := strconv.Atoi(text[loc[4]:loc[5]])
		if h >= 1 && h <= 12 && min < 60 {
			try(loc, to24(h, text[loc[6]:loc[7]]), min)
		}
	}
	if loc := reTime24.FindStringSubmatchIndex(text); loc != nil {
		h, _ := strconv.Atoi(text[loc[2]:loc[3]])
		min, _ := strconv.Atoi(text[loc[4]:loc[5]])
		if h < 24 && min < 60 {
			try(loc, h, min)
		}
	}
	if loc := reHourMeridiem.FindStringSubmatchIndex(text); loc != nil {
		h, _ := strconv.Atoi(text[loc[2]:loc[3]])
		if h >= 1 && h <= 12 {
			try(loc, to24(h, text[loc[4]:loc[5]]), 0)
		}
	}
	return hour, minute, ok
}

// rangeStart places the start hour of a range on the meridiem of its end,
// so "11 - 1 pm" starts at 11:00 and "7 - 10 pm" at 19:00.
func rangeStart(start, end int, meridiem string) int {
	end24 := to24(end, meridiem)
	h := to24(start, meridiem)
	if h > end24 {
		flip := "a"
		if strings.EqualFold(meridiem, "a") {
			flip = "p"
		}
		h = to24(start, flip)
	}
	return h
}

func to24(hour int, meridiem string) int {
	pm := strings.EqualFold(meridiem, "p")
	switch {
	case hour == 12 && pm:
		return 12
	case hour == 12:
		return 0
	case pm:
		return hour + 12
	default:
		return hour
	}
}
