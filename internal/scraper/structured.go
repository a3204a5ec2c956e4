package scraper

import (
	"encoding/json"
	"html"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// StructuredDataStrategy reads schema.org events from JSON-LD script blocks.
// Blocks that fail to decode are skipped.
type StructuredDataStrategy struct{}

// Name implements Strategy.
func (StructuredDataStrategy) Name() string { return StrategyStructured }

// Extract implements Strategy.
func (s StructuredDataStrategy) Extract(doc *goquery.Document, _ Input) []Raw {
	var out []Raw
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, script *goquery.Selection) {
		var data any
		if err := json.Unmarshal([]byte(strings.TrimSpace(script.Text())), &data); err != nil {
			return
		}
		walk(data, func(node map[string]any) {
			if r, ok := fromJSONLD(node); ok {
				r.Strategy = s.Name()
				out = append(out, r)
			}
		})
	})
	return out
}

// walk calls fn for every event-typed object in v, including nested ones
// such as @graph members and subEvent entries.
func walk(v any, fn func(map[string]any)) {
	switch t := v.(type) {
	case map[string]any:
		if isEventType(t["@type"]) {
			fn(t)
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walk(t[k], fn)
		}
	case []any:
		for _, child := range t {
			walk(child, fn)
		}
	}
}

func isEventType(v any) bool {
	switch t := v.(type) {
	case string:
		name := t
		if i := strings.LastIndexAny(name, "/:"); i >= 0 {
			name = name[i+1:]
		}
		return name == "Event" || name == "Festival" || (strings.HasSuffix(name, "Event") && len(name) > len("Event"))
	case []any:
		for _, e := range t {
			if isEventType(e) {
				return true
			}
		}
	}
	return false
}

func fromJSONLD(node map[string]any) (Raw, bool) {
	title := clean(html.UnescapeString(str(node["name"])))
	if title == "" {
		return Raw{}, false
	}
	r := Raw{
		Title:       title,
		Description: stripTags(str(node["description"])),
		Location:    locationText(node["location"]),
		Price:       offerPrice(node),
		ImageURL:    imageURL(node["image"]),
		Link:        str(node["url"]),
		EndText:     str(node["endDate"]),
	}
	if start := str(node["startDate"]); start != "" {
		r.DateTexts = []string{start}
	}
	return r, true
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		if len(t) > 0 {
			return str(t[0])
		}
	}
	return ""
}

func stripTags(s string) string {
	s = html.UnescapeString(s)
	if !strings.Contains(s, "<") {
		return clean(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return clean(s)
	}
	return clean(doc.Text())
}

// locationText accepts a string, a Place, a PostalAddress, or a list of them.
func locationText(v any) string {
	switch t := v.(type) {
	case string:
		return clean(html.UnescapeString(t))
	case []any:
		for _, e := range t {
			if s := locationText(e); s != "" {
				return s
			}
		}
	case map[string]any:
		if name := clean(html.UnescapeString(str(t["name"]))); name != "" {
			return name
		}
		if addr, ok := t["address"]; ok {
			return locationText(addr)
		}
		var parts []string
		for _, k := range []string{"streetAddress", "addressLocality", "addressRegion"} {
			if p := str(t[k]); p != "" {
				parts = append(parts, p)
			}
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

func offerPrice(node map[string]any) string {
	if free, ok := node["isAccessibleForFree"].(bool); ok && free {
		return "Free"
	}
	var offer map[string]any
	switch t := node["offers"].(type) {
	case map[string]any:
		offer = t
	case []any:
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				offer = m
				break
			}
		}
	}
	if offer == nil {
		return ""
	}
	currency := str(offer["priceCurrency"])
	if p := str(offer["price"]); p != "" {
		return formatPrice(p, currency)
	}
	low, high := str(offer["lowPrice"]), str(offer["highPrice"])
	switch {
	case low != "" && high != "" && low != high:
		return formatPrice(low, currency) + " - " + formatPrice(high, currency)
	case low != "":
		return formatPrice(low, currency)
	}
	return ""
}

func formatPrice(amount, currency string) string {
	if f, err := strconv.ParseFloat(amount, 64); err == nil && f == 0 {
		return "Free"
	}
	switch strings.ToUpper(currency) {
	case "", "USD":
		if strings.HasPrefix(amount, "$") {
			return amount
		}
		return "$" + amount
	default:
		return amount + " " + strings.ToUpper(currency)
	}
}

func imageURL(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		for _, e := range t {
			if s := imageURL(e); s != "" {
				return s
			}
		}
	case map[string]any:
		if u := str(t["url"]); u != "" {
			return u
		}
		return str(t["contentUrl"])
	}
	return ""
}
