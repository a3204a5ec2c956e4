package dates

import (
	"testing"
	"time"
)

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	p, err := NewParser("America/New_York")
	if err != nil {
		t.Fatalf("NewParser() error = %v", err)
	}
	return p
}

// ref is Sunday 2025-06-01 10:00 in New York.
func refTime(p *Parser) time.Time {
	return time.Date(2025, time.June, 1, 10, 0, 0, 0, p.Location())
}

func TestParse_TodayAt7pm(t *testing.T) {
	p := newTestParser(t)

	got, ok := p.Parse("today at 7pm", refTime(p))
	if !ok {
		t.Fatal("Parse() ok = false, want true")
	}

	want := time.Date(2025, time.June, 1, 19, 0, 0, 0, p.Location())
	if !got.Time.Equal(want) {
		t.Errorf("Time = %v, want %v", got.Time, want)
	}
	if got.Confidence != 0.85 {
		t.Errorf("Confidence = %v, want 0.85", got.Confidence)
	}
	if got.Strategy != StrategyToday {
		t.Errorf("Strategy = %q, want %q", got.Strategy, StrategyToday)
	}
}

func TestParse_StandardFormatWithWeekday(t *testing.T) {
	p := newTestParser(t)
	ref := time.Date(2024, time.December, 1, 12, 0, 0, 0, p.Location())

	got, ok := p.Parse("Friday, January 10, 2025 at 7:00 PM", ref)
	if !ok {
		t.Fatal("Parse() ok = false, want true")
	}

	want := time.Date(2025, time.January, 10, 19, 0, 0, 0, p.Location())
	if !got.Time.Equal(want) {
		t.Errorf("Time = %v, want %v", got.Time, want)
	}
	if got.Strategy != StrategyMonthDayYear {
		t.Errorf("Strategy = %q, want %q", got.Strategy, StrategyMonthDayYear)
	}
	if got.AllDay {
		t.Error("AllDay = true, want false")
	}
}

func TestParse_ISORoundTrip(t *testing.T) {
	p := newTestParser(t)
	ny := p.Location()

	mustParse := func(layout, value string, loc *time.Location) time.Time {
		t.Helper()
		v, err := time.ParseInLocation(layout, value, loc)
		if err != nil {
			t.Fatalf("ParseInLocation(%q) error = %v", value, err)
		}
		return v
	}

	tests := []struct {
		text       string
		want       time.Time
		wantAllDay bool
	}{
		{"2025-06-14T20:00:00Z", mustParse(time.RFC3339, "2025-06-14T20:00:00Z", time.UTC), false},
		{"2025-06-14T20:00:00-04:00", mustParse(time.RFC3339, "2025-06-14T20:00:00-04:00", time.UTC), false},
		{"2025-07-04T21:30:15.250+0000", mustParse("2006-01-02T15:04:05.000-0700", "2025-07-04T21:30:15.250+0000", time.UTC), false},
		{"Starts 2025-06-14T20:00", mustParse("2006-01-02T15:04", "2025-06-14T20:00", ny), false},
		{"2025-06-14", mustParse("2006-01-02", "2025-06-14", ny), true},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := p.Parse(tt.text, refTime(p))
			if !ok {
				t.Fatalf("Parse(%q) ok = false", tt.text)
			}
			if !got.Time.Equal(tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.text, got.Time, tt.want)
			}
			if got.Time.Location() != ny {
				t.Errorf("Parse(%q) location = %v, want %v", tt.text, got.Time.Location(), ny)
			}
			if got.Confidence != 0.95 || got.Strategy != StrategyISO {
				t.Errorf("Parse(%q) = (%v, %q), want (0.95, ISO)", tt.text, got.Confidence, got.Strategy)
			}
			if got.AllDay != tt.wantAllDay {
				t.Errorf("Parse(%q).AllDay = %v, want %v", tt.text, got.AllDay, tt.wantAllDay)
			}
		})
	}
}

func TestParse_Strategies(t *testing.T) {
	p := newTestParser(t)
	ny := p.Location()
	at := func(month time.Month, day, hour, minute int) time.Time {
		return time.Date(2025, month, day, hour, minute, 0, 0, ny)
	}

	tests := []struct {
		name         string
		text         string
		want         time.Time
		wantConf     float64
		wantStrategy string
		wantAllDay   bool
	}{
		{"tonight default hour", "Tonight!", at(time.June, 1, 19, 0), 0.85, StrategyToday, false},
		{"tomorrow with time", "tomorrow 8:30 pm", at(time.June, 2, 20, 30), 0.85, StrategyTomorrow, false},
		{"tomorrow default hour", "Tomorrow", at(time.June, 2, 19, 0), 0.85, StrategyTomorrow, false},
		{"this friday", "this friday", at(time.June, 6, 19, 0), 0.75, StrategyWeekday, false},
		{"next friday rolls a week", "next Friday", at(time.June, 13, 19, 0), 0.75, StrategyWeekday, false},
		{"this sunday on a sunday", "this Sunday", at(time.June, 8, 19, 0), 0.75, StrategyWeekday, false},
		{"next monday with time", "next mon 6pm", at(time.June, 9, 18, 0), 0.75, StrategyWeekday, false},
		{"numeric with time", "06/14/2025 9pm", at(time.June, 14, 21, 0), 0.85, StrategyNumeric, false},
		{"numeric two digit year", "6/14/25", at(time.June, 14, 0, 0), 0.85, StrategyNumeric, true},
		{"month name ordinal", "Sat, June 14th, 2025 - 8:00 p.m.", at(time.June, 14, 20, 0), 0.80, StrategyMonthDayYear, false},
		{"month day this year", "June 14 @ 21:15", at(time.June, 14, 21, 15), 0.70, StrategyMonthDay, false},
		{"this weekend", "this weekend", at(time.June, 7, 19, 0), 0.60, StrategyWeekend, false},
		{"next week", "sometime next week", at(time.June, 8, 19, 0), 0.50, StrategyNextWeek, false},
		{"time only later today", "7:00 PM", at(time.June, 1, 19, 0), 0.40, StrategyTimeOnly, false},
		{"time only already passed", "9:00 am", at(time.June, 2, 9, 0), 0.40, StrategyTimeOnly, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.Parse(tt.text, refTime(p))
			if !ok {
				t.Fatalf("Parse(%q) ok = false", tt.text)
			}
			if !got.Time.Equal(tt.want) {
				t.Errorf("Parse(%q).Time = %v, want %v", tt.text, got.Time, tt.want)
			}
			if got.Confidence != tt.wantConf {
				t.Errorf("Parse(%q).Confidence = %v, want %v", tt.text, got.Confidence, tt.wantConf)
			}
			if got.Strategy != tt.wantStrategy {
				t.Errorf("Parse(%q).Strategy = %q, want %q", tt.text, got.Strategy, tt.wantStrategy)
			}
			if got.AllDay != tt.wantAllDay {
				t.Errorf("Parse(%q).AllDay = %v, want %v", tt.text, got.AllDay, tt.wantAllDay)
			}
		})
	}
}

func TestParse_MonthDayRollsToNextYear(t *testing.T) {
	p := newTestParser(t)

	got, ok := p.Parse("Jan 24", refTime(p))
	if !ok {
		t.Fatal("Parse() ok = false")
	}
	want := time.Date(2026, time.January, 24, 0, 0, 0, 0, p.Location())
	if !got.Time.Equal(want) {
		t.Errorf("Time = %v, want %v", got.Time, want)
	}
}

func TestParse_Failures(t *testing.T) {
	p := newTestParser(t)

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t"},
		{"no date", "Coming soon"},
		{"before sanity window", "1999-05-01"},
		{"year 2000 is excluded", "01/01/2000"},
		{"after sanity window", "12/25/2035"},
		{"year 2031 is excluded", "2031-01-01T10:00:00Z"},
		{"impossible day", "02/30/2025"},
		{"bad hour", "25:61"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, ok := p.Parse(tt.text, refTime(p)); ok {
				t.Errorf("Parse(%q) = %+v, want no result", tt.text, got)
			}
		})
	}
}

func TestTimeOfDay(t *testing.T) {
	tests := []struct {
		text       string
		wantHour   int
		wantMinute int
		wantOK     bool
	}{
		{"12pm", 12, 0, true},
		{"12 am", 0, 0, true},
		{"12:30 a.m.", 0, 30, true},
		{"12:15 PM", 12, 15, true},
		{"7:05pm", 19, 5, true},
		{"doors at 6 PM", 18, 0, true},
		{"19:45", 19, 45, true},
		{"0:30", 0, 30, true},
		{"7:00 - 10:00 PM", 19, 0, true},
		{"June 5, 2025 7:00 - 10:00 PM", 19, 0, true},
		{"7-10pm", 19, 0, true},
		{"11:30 to 1 pm", 11, 30, true},
		{"11 - 2 am", 23, 0, true},
		{"doors 6pm, show 8:00 PM", 18, 0, true},
		{"8:00 PM - 11:00 PM", 20, 0, true},
		{"25:00", 0, 0, false},
		{"noon", 0, 0, false},
		{"5 amazing bands", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			h, m, ok := TimeOfDay(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("TimeOfDay(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if ok && (h != tt.wantHour || m != tt.wantMinute) {
				t.Errorf("TimeOfDay(%q) = %02d:%02d, want %02d:%02d", tt.text, h, m, tt.wantHour, tt.wantMinute)
			}
		})
	}
}

func TestParseBest(t *testing.T) {
	p := newTestParser(t)
	ref := refTime(p)

	t.Run("highest confidence wins", func(t *testing.T) {
		got, ok := p.ParseBest([]string{"7:00 PM", "June 14, 2025", "garbage"}, ref)
		if !ok {
			t.Fatal("ParseBest() ok = false")
		}
		if got.Strategy != StrategyMonthDayYear {
			t.Errorf("Strategy = %q, want %q", got.Strategy, StrategyMonthDayYear)
		}
	})

	t.Run("tie goes to strategy priority", func(t *testing.T) {
		got, ok := p.ParseBest([]string{"tomorrow", "today"}, ref)
		if !ok {
			t.Fatal("ParseBest() ok = false")
		}
		if got.Strategy != StrategyToday {
			t.Errorf("Strategy = %q, want %q", got.Strategy, StrategyToday)
		}
	})

	t.Run("nothing parses", func(t *testing.T) {
		if _, ok := p.ParseBest([]string{"", "TBA"}, ref); ok {
			t.Error("ParseBest() ok = true, want false")
		}
	})
}

func TestNewParser(t *testing.T) {
	if _, err := NewParser("Not/AZone"); err == nil {
		t.Error("NewParser(invalid) error = nil, want error")
	}

	p, err := NewParser("", WithDefaultHour(20))
	if err != nil {
		t.Fatalf("NewParser(\"\") error = %v", err)
	}
	if p.Location().String() != DefaultZone {
		t.Errorf("Location = %v, want %v", p.Location(), DefaultZone)
	}

	got, ok := p.Parse("tonight", time.Date(2025, time.June, 1, 10, 0, 0, 0, p.Location()))
	if !ok || got.Time.Hour() != 20 {
		t.Errorf("Parse(tonight) hour = %d, want 20", got.Time.Hour())
	}
}

func TestParseLayout(t *testing.T) {
	p := newTestParser(t)
	ref := refTime(p)
	ny := p.Location()

	tests := []struct {
		name       string
		layout     string
		text       string
		timeText   string
		want       time.Time
		wantAllDay bool
		wantOK     bool
	}{
		{"full numeric", "01/02/2006", "06/14/2025", "8:00 PM", time.Date(2025, time.June, 14, 20, 0, 0, 0, ny), false, true},
		{"no time", "01/02/2006", "06/14/2025", "", time.Date(2025, time.June, 14, 0, 0, 0, 0, ny), true, true},
		{"yearless this year", "Monday, January 2", "Saturday, June 14", "7pm", time.Date(2025, time.June, 14, 19, 0, 0, 0, ny), false, true},
		{"yearless rolls over", "Monday, January 2", "Friday, January 9", "", time.Date(2026, time.January, 9, 0, 0, 0, 0, ny), true, true},
		{"layout with clock", "Jan 2, 2006 3:04 PM", "Jul 4, 2025 9:30 PM", "", time.Date(2025, time.July, 4, 21, 30, 0, 0, ny), false, true},
		{"mismatch", "01/02/2006", "June 14", "", time.Time{}, false, false},
		{"empty layout", "", "06/14/2025", "", time.Time{}, false, false},
		{"outside sanity window", "01/02/2006", "06/14/2040", "", time.Time{}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.ParseLayout(tt.layout, tt.text, tt.timeText, ref)
			if ok != tt.wantOK {
				t.Fatalf("ParseLayout() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if !got.Time.Equal(tt.want) {
				t.Errorf("Time = %v, want %v", got.Time, tt.want)
			}
			if got.AllDay != tt.wantAllDay {
				t.Errorf("AllDay = %v, want %v", got.AllDay, tt.wantAllDay)
			}
			if got.Strategy != StrategyLayout || got.Confidence != 0.90 {
				t.Errorf("got (%q, %v), want (%q, 0.90)", got.Strategy, got.Confidence, StrategyLayout)
			}
		})
	}
}
