package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pfrederiksen/local-events/internal/storage"
)

// SortOrder represents the available sorting options
type SortOrder string

const (
	SortByDate     SortOrder = "date"
	SortByTitle    SortOrder = "title"
	SortByCategory SortOrder = "category"

	SortByName        SortOrder = "name"
	SortByHealth      SortOrder = "health"
	SortByLastScraped SortOrder = "last-scraped"
)

func parseSortOrder(s string, allowed ...SortOrder) (SortOrder, error) {
	o := SortOrder(strings.ToLower(strings.TrimSpace(s)))
	for _, a := range allowed {
		if o == a {
			return o, nil
		}
	}
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = string(a)
	}
	return "", fmt.Errorf("invalid sort order: %s (must be one of %s)", s, strings.Join(names, ", "))
}

// sortEvents sorts events by the given order. Ties fall back to start time.
func sortEvents(events []storage.Event, order SortOrder) {
	switch order {
	case SortByDate:
		sort.SliceStable(events, func(i, j int) bool {
			return compareByDate(events[i], events[j])
		})
	case SortByTitle:
		sort.SliceStable(events, func(i, j int) bool {
			ti, tj := strings.ToLower(events[i].Title), strings.ToLower(events[j].Title)
			if ti != tj {
				return ti < tj
			}
			return compareByDate(events[i], events[j])
		})
	case SortByCategory:
		sort.SliceStable(events, func(i, j int) bool {
			if events[i].Category != events[j].Category {
				return events[i].Category < events[j].Category
			}
			return compareByDate(events[i], events[j])
		})
	}
}

// compareByDate reports whether i starts before j, by title when they tie.
func compareByDate(i, j storage.Event) bool {
	if !i.StartDateTime.Equal(j.StartDateTime) {
		return i.StartDateTime.Before(j.StartDateTime)
	}
	return strings.ToLower(i.Title) < strings.ToLower(j.Title)
}

// sortSources orders sources for display. Health puts the worst success
// rate first; last-scraped puts never-scraped sources first.
func sortSources(sources []storage.Source, order SortOrder) {
	byName := func(i, j int) bool {
		return strings.ToLower(sources[i].Name) < strings.ToLower(sources[j].Name)
	}
	switch order {
	case SortByName:
		sort.SliceStable(sources, byName)
	case SortByHealth:
		sort.SliceStable(sources, func(i, j int) bool {
			if sources[i].SuccessRate != sources[j].SuccessRate {
				return sources[i].SuccessRate < sources[j].SuccessRate
			}
			return byName(i, j)
		})
	case SortByLastScraped:
		sort.SliceStable(sources, func(i, j int) bool {
			li, lj := sources[i].LastScrapedAt, sources[j].LastScrapedAt
			switch {
			case li == nil && lj == nil:
				return byName(i, j)
			case li == nil:
				return true
			case lj == nil:
				return false
			case !li.Equal(*lj):
				return li.Before(*lj)
			}
			return byName(i, j)
		})
	}
}
