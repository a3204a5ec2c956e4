package event

import (
	"regexp"
	"strings"
)

// Categories assigned to events.
const (
	CategoryMusic     = "music"
	CategoryFood      = "food"
	CategoryCulture   = "culture"
	CategoryFestival  = "festival"
	CategoryMarket    = "market"
	CategoryNightlife = "nightlife"
	CategoryFamily    = "family"
	CategoryEducation = "education"
	CategoryOther     = "other"
)

// Source types a source can be registered as.
const (
	SourceVenue      = "venue"
	SourceRestaurant = "restaurant"
	SourceBrewery    = "brewery"
	SourceCultural   = "cultural"
	SourceGovernment = "government"
	SourceMedia      = "media"
)

type pattern struct {
	name string
	re   *regexp.Regexp
}

// categoryPatterns is ordered; the first match wins.
var categoryPatterns = []pattern{
	{CategoryMusic, regexp.MustCompile(`(?i)\b(music|concert|band|live|dj|jazz|blues|rock|acoustic|singer|songwriter|orchestra|symphony|open mic|karaoke)\b`)},
	{CategoryFood, regexp.MustCompile(`(?i)\b(food|dinner|brunch|lunch|tasting|wine|beer|chef|cooking|menu|pairing|happy hour|taco|bbq)\b`)},
	{CategoryCulture, regexp.MustCompile(`(?i)\b(art|gallery|museum|theat(er|re)|exhibit(ion)?|film|movie|poetry|dance|ballet|opera|history|culture|cultural)\b`)},
	{CategoryFestival, regexp.MustCompile(`(?i)\b(festival|fest|fair|carnival|parade|celebration)\b`)},
	{CategoryMarket, regexp.MustCompile(`(?i)\b(market|farmers|vendor|vendors|craft fair|flea|bazaar|pop-?up shop)\b`)},
	{CategoryNightlife, regexp.MustCompile(`(?i)\b(nightlife|party|club|trivia|drag|bar crawl|pub crawl|late night)\b`)},
	{CategoryFamily, regexp.MustCompile(`(?i)\b(family|kids?|children|storytime|story time|all ages|puppet)\b`)},
	{CategoryEducation, regexp.MustCompile(`(?i)\b(class|workshop|lecture|seminar|lesson|course|talk|training|learn)\b`)},
}

// sourceTypeDefaults is consulted when no keyword matches.
var sourceTypeDefaults = map[string]string{
	SourceVenue:      CategoryMusic,
	SourceRestaurant: CategoryFood,
	SourceBrewery:    CategoryFood,
	SourceCultural:   CategoryCulture,
}

// tagPatterns are independent; every match adds its tag.
var tagPatterns = []pattern{
	{"live-music", regexp.MustCompile(`(?i)\b(live music|live band|concert|dj set|acoustic set|performing live)\b`)},
	{"free", regexp.MustCompile(`(?i)\b(free|no cover|complimentary|free admission)\b`)},
	{"21+", regexp.MustCompile(`(?i)(\b21\+|\b21 and (over|up)\b|\badults only\b|\bmust be 21\b)`)},
	{"family-friendly", regexp.MustCompile(`(?i)\b(family|kids?|children|all ages|family-friendly)\b`)},
	{"outdoor", regexp.MustCompile(`(?i)\b(outdoors?|patio|park|garden|open air|rooftop|lawn)\b`)},
	{"special-event", regexp.MustCompile(`(?i)\b(special|exclusive|one night only|limited|anniversary|launch|release party)\b`)},
}

// Categorize picks a category from title and description, falling back to the
// source type default and then to CategoryOther.
func Categorize(title, description, sourceType string) string {
	text := title + " " + description
	for _, p := range categoryPatterns {
		if p.re.MatchString(text) {
			return p.name
		}
	}
	if c, ok := sourceTypeDefaults[strings.ToLower(strings.TrimSpace(sourceType))]; ok {
		return c
	}
	return CategoryOther
}

// Tags returns every tag whose pattern matches title or description, in table order.
func Tags(title, description string) []string {
	text := title + " " + description
	var tags []string
	for _, p := range tagPatterns {
		if p.re.MatchString(text) {
			tags = append(tags, p.name)
		}
	}
	return tags
}

// Classify fills Category and Tags on c.
func (c *Candidate) Classify(sourceType string) {
	c.Category = Categorize(c.Title, c.Description, sourceType)
	c.Tags = Tags(c.Title, c.Description)
}
