package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const monthPattern = `(jan|january|feb|february|mar|march|apr|april|may|jun|june|jul|july|aug|august|sep|sept|september|oct|october|nov|november|dec|december)`

var (
	sameMonthRange  = regexp.MustCompile(`(?i)^` + monthPattern + `\s+(\d{1,2})\s*-\s*(\d{1,2})$`)
	crossMonthRange = regexp.MustCompile(`(?i)^` + monthPattern + `\s+(\d{1,2})\s*-\s*` + monthPattern + `\s+(\d{1,2})$`)
	wholeMonth      = regexp.MustCompile(`(?i)^` + monthPattern + `$`)
	isoRange        = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\s*(?:\.\.|to)\s*(\d{4}-\d{2}-\d{2})$`)
)

// ParseDateRange parses a date range string into start and end times.
//
// Supported formats:
//   - "Jun 1-15" or "June 1-15" - Same month, different days
//   - "June 20 - July 5" - Different months
//   - "June" - Entire month
//   - "2025-06-01..2025-06-15" - Explicit dates
//
// Times are in now's location. A month already past this year means next
// year; a range whose end month precedes its start crosses the new year.
// Start time is at 00:00:00, end time is at 23:59:59.
func ParseDateRange(input string, now time.Time) (*time.Time, *time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil, fmt.Errorf("date range cannot be empty")
	}
	loc := now.Location()

	if m := sameMonthRange.FindStringSubmatch(input); m != nil {
		month := parseMonth(m[1])
		day1, err := parseDay(m[2])
		if err != nil {
			return nil, nil, err
		}
		day2, err := parseDay(m[3])
		if err != nil {
			return nil, nil, err
		}
		year := yearForMonth(month, now)
		return bounded(time.Date(year, month, day1, 0, 0, 0, 0, loc), time.Date(year, month, day2, 23, 59, 59, 0, loc))
	}

	if m := crossMonthRange.FindStringSubmatch(input); m != nil {
		month1, month2 := parseMonth(m[1]), parseMonth(m[3])
		day1, err := parseDay(m[2])
		if err != nil {
			return nil, nil, err
		}
		day2, err := parseDay(m[4])
		if err != nil {
			return nil, nil, err
		}
		year1 := yearForMonth(month1, now)
		year2 := year1
		if month2 < month1 {
			year2++
		}
		return bounded(time.Date(year1, month1, day1, 0, 0, 0, 0, loc), time.Date(year2, month2, day2, 23, 59, 59, 0, loc))
	}

	if m := wholeMonth.FindStringSubmatch(input); m != nil {
		month := parseMonth(m[1])
		year := yearForMonth(month, now)
		// Day 0 of the next month is the last day of this one.
		return bounded(time.Date(year, month, 1, 0, 0, 0, 0, loc), time.Date(year, month+1, 0, 23, 59, 59, 0, loc))
	}

	if m := isoRange.FindStringSubmatch(input); m != nil {
		from, err := time.ParseInLocation("2006-01-02", m[1], loc)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid date: %s", m[1])
		}
		to, err := time.ParseInLocation("2006-01-02", m[2], loc)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid date: %s", m[2])
		}
		return bounded(from, to.Add(24*time.Hour-time.Second))
	}

	return nil, nil, fmt.Errorf("invalid date range format. Use 'Jun 1-15', 'June 20 - July 5', 'June' or '2025-06-01..2025-06-15'")
}

func bounded(from, to time.Time) (*time.Time, *time.Time, error) {
	if from.After(to) {
		return nil, nil, fmt.Errorf("start date must be before end date")
	}
	return &from, &to, nil
}

func parseDay(s string) (int, error) {
	day, err := strconv.Atoi(s)
	if err != nil || day < 1 || day > 31 {
		return 0, fmt.Errorf("invalid day: %s", s)
	}
	return day, nil
}

// parseMonth converts a month name to time.Month
func parseMonth(name string) time.Month {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "sept" {
		return time.September
	}
	for m := time.January; m <= time.December; m++ {
		full := strings.ToLower(m.String())
		if name == full || name == full[:3] {
			return m
		}
	}
	return 0
}

// yearForMonth returns now's year, or the next one when month has passed.
func yearForMonth(month time.Month, now time.Time) int {
	if month < now.Month() {
		return now.Year() + 1
	}
	return now.Year()
}
