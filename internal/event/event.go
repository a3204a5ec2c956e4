package event

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MinTitleLength is the shortest title a stored event may have, in runes.
const MinTitleLength = 4

// Validation errors. A candidate failing validation is discarded silently.
var (
	ErrTitleTooShort = errors.New("title too short")
	ErrMissingStart  = errors.New("start time missing")
	ErrNotUpcoming   = errors.New("start time not in the future")
)

// Candidate is a single event scraped from a page, before validation.
type Candidate struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
	AllDay      bool       `json:"all_day,omitempty"`
	Location    string     `json:"location,omitempty"`
	Category    string     `json:"category"`
	Price       string     `json:"price,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	SourceURL   string     `json:"source_url"`
	Tags        []string   `json:"tags,omitempty"`

	// How the start time and the record itself were obtained.
	DateConfidence float64 `json:"date_confidence"`
	DateStrategy   string  `json:"date_strategy,omitempty"`
	Extraction     string  `json:"extraction,omitempty"`
}

// Validate reports why a candidate must be discarded, or nil when it is usable.
func (c *Candidate) Validate(now time.Time) error {
	if utf8.RuneCountInString(strings.TrimSpace(c.Title)) < MinTitleLength {
		return ErrTitleTooShort
	}
	if c.Start.IsZero() {
		return ErrMissingStart
	}
	if !c.Start.After(now) {
		return ErrNotUpcoming
	}
	return nil
}

// Key identifies a candidate within one extraction batch:
// trimmed title, RFC 3339 start instant and trimmed location.
func (c *Candidate) Key() string {
	start := ""
	if !c.Start.IsZero() {
		start = c.Start.UTC().Format(time.RFC3339)
	}
	return strings.TrimSpace(c.Title) + "|" + start + "|" + strings.TrimSpace(c.Location)
}

// ID returns a deterministic digest of Key, handy for log correlation.
func (c *Candidate) ID() string {
	h := sha1.New()
	h.Write([]byte(c.Key()))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// TagString joins tags the way they are persisted.
func (c *Candidate) TagString() string {
	return strings.Join(c.Tags, ",")
}

// Dedupe keeps the first candidate for every Key, preserving order.
func Dedupe(candidates []Candidate) []Candidate {
	seen := make(map[string]bool, len(candidates))
	unique := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		k := c.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, c)
	}
	return unique
}
