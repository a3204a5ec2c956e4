// Package filter narrows a list of stored events for display.
//
// Criteria combine with AND; within one list (titles, categories, tags)
// any entry may match. An empty Filter matches every event.
//
// Example usage:
//
//	f := filter.New(loc)
//	f.WeekendsOnly = true
//	f.Categories = []string{"music"}
//	shown := f.Apply(events)
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/local-events/internal/storage"
)

// Filter represents event filtering criteria
type Filter struct {
	// Date range, inclusive on both ends.
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`

	// Case-insensitive substrings of the title.
	Titles []string `json:"titles,omitempty"`

	// Exact category names, case-insensitive.
	Categories []string `json:"categories,omitempty"`

	// Tags that must appear in the event's comma separated tag list.
	Tags []string `json:"tags,omitempty"`

	// Saturday or Sunday in the filter's location.
	WeekendsOnly bool `json:"weekends_only,omitempty"`

	// Events whose price text mentions free.
	FreeOnly bool `json:"free_only,omitempty"`

	loc *time.Location
}

// New creates an empty filter that reads weekdays in loc. Nil means UTC.
func New(loc *time.Location) *Filter {
	if loc == nil {
		loc = time.UTC
	}
	return &Filter{loc: loc}
}

// In returns a copy of f that reads weekdays in loc.
func (f *Filter) In(loc *time.Location) *Filter {
	c := *f
	c.loc = loc
	return &c
}

// IsEmpty checks if the filter has any active criteria.
func (f *Filter) IsEmpty() bool {
	return f.DateFrom == nil &&
		f.DateTo == nil &&
		len(f.Titles) == 0 &&
		len(f.Categories) == 0 &&
		len(f.Tags) == 0 &&
		!f.WeekendsOnly &&
		!f.FreeOnly
}

// Matches checks if an event matches all active filter criteria.
func (f *Filter) Matches(e storage.Event) bool {
	if f.IsEmpty() {
		return true
	}

	start := e.StartDateTime.In(f.location())
	if f.DateFrom != nil && start.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && start.After(*f.DateTo) {
		return false
	}

	if f.WeekendsOnly {
		if wd := start.Weekday(); wd != time.Saturday && wd != time.Sunday {
			return false
		}
	}

	if f.FreeOnly && !strings.Contains(strings.ToLower(e.Price), "free") {
		return false
	}

	if len(f.Titles) > 0 && !anyMatch(f.Titles, func(s string) bool {
		return strings.Contains(strings.ToLower(e.Title), strings.ToLower(s))
	}) {
		return false
	}

	if len(f.Categories) > 0 && !anyMatch(f.Categories, func(s string) bool {
		return strings.EqualFold(e.Category, strings.TrimSpace(s))
	}) {
		return false
	}

	if len(f.Tags) > 0 {
		have := splitTags(e.Tags)
		if !anyMatch(f.Tags, func(s string) bool { return have[strings.ToLower(strings.TrimSpace(s))] }) {
			return false
		}
	}

	return true
}

// Apply returns the events that match, preserving order.
// If the filter is empty, returns the original list unchanged.
func (f *Filter) Apply(events []storage.Event) []storage.Event {
	if f.IsEmpty() {
		return events
	}

	filtered := make([]storage.Event, 0, len(events))
	for _, e := range events {
		if f.Matches(e) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// String returns a human-readable description of the active filter criteria.
// Format: "From: Jun 1, 2025 | To: Jun 15, 2025 | Categories: music | Weekends only"
func (f *Filter) String() string {
	if f.IsEmpty() {
		return "No active filters"
	}

	var parts []string
	if f.DateFrom != nil {
		parts = append(parts, fmt.Sprintf("From: %s", f.DateFrom.Format("Jan 2, 2006")))
	}
	if f.DateTo != nil {
		parts = append(parts, fmt.Sprintf("To: %s", f.DateTo.Format("Jan 2, 2006")))
	}
	if len(f.Titles) > 0 {
		parts = append(parts, fmt.Sprintf("Titles: %s", strings.Join(f.Titles, ", ")))
	}
	if len(f.Categories) > 0 {
		parts = append(parts, fmt.Sprintf("Categories: %s", strings.Join(f.Categories, ", ")))
	}
	if len(f.Tags) > 0 {
		parts = append(parts, fmt.Sprintf("Tags: %s", strings.Join(f.Tags, ", ")))
	}
	if f.WeekendsOnly {
		parts = append(parts, "Weekends only")
	}
	if f.FreeOnly {
		parts = append(parts, "Free only")
	}
	return strings.Join(parts, " | ")
}

func (f *Filter) location() *time.Location {
	if f.loc == nil {
		return time.UTC
	}
	return f.loc
}

func anyMatch(values []string, match func(string) bool) bool {
	for _, v := range values {
		if match(v) {
			return true
		}
	}
	return false
}

func splitTags(tags string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range strings.Split(tags, ",") {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out[t] = true
		}
	}
	return out
}
