// Package calendar renders stored events as an iCalendar feed.
package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/local-events/internal/storage"
)

// DefaultDuration is used for timed events without an end.
const DefaultDuration = 2 * time.Hour

const uidDomain = "local-events"

// Feed describes one calendar.
type Feed struct {
	// Name becomes X-WR-CALNAME when set.
	Name string
	// Location is the zone all-day dates are read in. Nil means UTC.
	Location *time.Location
	// Place names where an event happens. Optional.
	Place func(storage.Event) string
	// Now stamps DTSTAMP. Zero means time.Now.
	Now time.Time
}

// GenerateICS renders events as one VCALENDAR. It returns an empty string
// when there are no events.
func GenerateICS(events []storage.Event, feed Feed) string {
	if len(events) == 0 {
		return ""
	}
	loc := feed.Location
	if loc == nil {
		loc = time.UTC
	}
	stamp := feed.Now
	if stamp.IsZero() {
		stamp = time.Now()
	}

	var ics strings.Builder
	ics.WriteString("BEGIN:VCALENDAR\r\n")
	ics.WriteString("VERSION:2.0\r\n")
	ics.WriteString("PRODID:-//Local Events//local-events//EN\r\n")
	ics.WriteString("CALSCALE:GREGORIAN\r\n")
	ics.WriteString("METHOD:PUBLISH\r\n")
	if feed.Name != "" {
		fmt.Fprintf(&ics, "X-WR-CALNAME:%s\r\n", escapeICS(feed.Name))
	}

	for _, e := range events {
		ics.WriteString("BEGIN:VEVENT\r\n")
		fmt.Fprintf(&ics, "UID:event-%d@%s\r\n", e.ID, uidDomain)
		fmt.Fprintf(&ics, "DTSTAMP:%s\r\n", formatICSTime(stamp))

		if e.AllDay {
			start := e.StartDateTime.In(loc)
			end := start.AddDate(0, 0, 1)
			if e.EndDateTime != nil && e.EndDateTime.After(e.StartDateTime) {
				end = e.EndDateTime.In(loc).AddDate(0, 0, 1)
			}
			fmt.Fprintf(&ics, "DTSTART;VALUE=DATE:%s\r\n", formatICSDate(start))
			fmt.Fprintf(&ics, "DTEND;VALUE=DATE:%s\r\n", formatICSDate(end))
		} else {
			end := e.StartDateTime.Add(DefaultDuration)
			if e.EndDateTime != nil && e.EndDateTime.After(e.StartDateTime) {
				end = *e.EndDateTime
			}
			fmt.Fprintf(&ics, "DTSTART:%s\r\n", formatICSTime(e.StartDateTime))
			fmt.Fprintf(&ics, "DTEND:%s\r\n", formatICSTime(end))
		}

		fmt.Fprintf(&ics, "SUMMARY:%s\r\n", escapeICS(e.Title))
		if desc := description(e); desc != "" {
			fmt.Fprintf(&ics, "DESCRIPTION:%s\r\n", escapeICS(desc))
		}
		if feed.Place != nil {
			if place := feed.Place(e); place != "" {
				fmt.Fprintf(&ics, "LOCATION:%s\r\n", escapeICS(place))
			}
		}
		if e.Category != "" {
			fmt.Fprintf(&ics, "CATEGORIES:%s\r\n", escapeICS(e.Category))
		}
		if e.SourceURL != "" {
			fmt.Fprintf(&ics, "URL:%s\r\n", e.SourceURL)
		}
		ics.WriteString("STATUS:CONFIRMED\r\n")
		ics.WriteString("TRANSP:OPAQUE\r\n")
		ics.WriteString("END:VEVENT\r\n")
	}

	ics.WriteString("END:VCALENDAR\r\n")
	return ics.String()
}

func description(e storage.Event) string {
	parts := make([]string, 0, 2)
	if e.Description != "" {
		parts = append(parts, e.Description)
	}
	if e.Price != "" {
		parts = append(parts, "Price: "+e.Price)
	}
	return strings.Join(parts, "\n\n")
}

// formatICSTime formats a time.Time as an iCalendar datetime string
func formatICSTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

func formatICSDate(t time.Time) string {
	return t.Format("20060102")
}

// escapeICS escapes special characters for iCalendar format
func escapeICS(s string) string {
	// RFC 5545 section 3.3.11
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, "\r\n", "\\n")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
