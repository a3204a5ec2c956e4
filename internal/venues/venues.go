package venues

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pfrederiksen/local-events/internal/event"
)

// ErrInvalidConfig is returned when a catalog entry or a stored source
// configuration fails validation.
var ErrInvalidConfig = errors.New("invalid venue config")

// Mode selects special page handling applied before extraction.
type Mode string

const (
	ModeNone         Mode = ""
	ModeSPA          Mode = "spa"
	ModeCalendar     Mode = "calendar"
	ModeIframe       Mode = "iframe"
	ModeAjaxLoadMore Mode = "ajax-load-more"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeNone, ModeSPA, ModeCalendar, ModeIframe, ModeAjaxLoadMore:
		return true
	}
	return false
}

// Selectors maps event fields to CSS selectors, relative to Container.
type Selectors struct {
	Container   string `yaml:"container" json:"container"`
	Title       string `yaml:"title" json:"title"`
	Date        string `yaml:"date" json:"date"`
	Time        string `yaml:"time" json:"time"`
	Description string `yaml:"description" json:"description"`
	Price       string `yaml:"price" json:"price"`
	Image       string `yaml:"image" json:"image"`
	Location    string `yaml:"location" json:"location"`
}

// Config describes how to scrape one source.
//
// A Config without a container selector means "no selector map": the
// extractor falls back to structured data and heuristics.
type Config struct {
	Name       string        `yaml:"name"`
	URL        string        `yaml:"url"`
	SourceType string        `yaml:"source_type"`
	Selectors  Selectors     `yaml:"selectors"`
	WaitTime   time.Duration `yaml:"wait_time"`
	Mode       Mode          `yaml:"mode"`
	DateFormat string        `yaml:"date_format"`
}

// HasSelectors reports whether c carries a usable selector map.
func (c Config) HasSelectors() bool {
	return strings.TrimSpace(c.Selectors.Container) != ""
}

// Validate checks a catalog entry.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s: url %q must be absolute http(s)", ErrInvalidConfig, c.Name, c.URL)
	}
	if !c.HasSelectors() {
		return fmt.Errorf("%w: %s: container selector is required", ErrInvalidConfig, c.Name)
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("%w: %s: unknown mode %q", ErrInvalidConfig, c.Name, c.Mode)
	}
	if c.WaitTime < 0 {
		return fmt.Errorf("%w: %s: negative wait time", ErrInvalidConfig, c.Name)
	}
	if c.SourceType != "" && !knownSourceType(c.SourceType) {
		return fmt.Errorf("%w: %s: unknown source type %q", ErrInvalidConfig, c.Name, c.SourceType)
	}
	return nil
}

func knownSourceType(t string) bool {
	switch t {
	case event.SourceVenue, event.SourceRestaurant, event.SourceBrewery,
		event.SourceCultural, event.SourceGovernment, event.SourceMedia:
		return true
	}
	return false
}

// Registry is an immutable name -> Config lookup.
type Registry struct {
	byName map[string]Config
	names  []string
}

type catalog struct {
	Venues []Config `yaml:"venues"`
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Registry, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: decoding catalog: %v", ErrInvalidConfig, err)
	}

	r := &Registry{byName: make(map[string]Config, len(c.Venues))}
	for _, v := range c.Venues {
		if err := v.Validate(); err != nil {
			return nil, err
		}
		key := normalize(v.Name)
		if _, dup := r.byName[key]; dup {
			return nil, fmt.Errorf("%w: duplicate venue %q", ErrInvalidConfig, v.Name)
		}
		v.Name = strings.TrimSpace(v.Name)
		r.byName[key] = v
		r.names = append(r.names, v.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Get returns the config registered under name.
func (r *Registry) Get(name string) (Config, bool) {
	c, ok := r.byName[normalize(name)]
	return c, ok
}

// List returns all registered venue names, sorted.
func (r *Registry) List() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.names)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

//go:embed venues.yaml
var embedded []byte

var loadDefault = sync.OnceValues(func() (*Registry, error) {
	return Parse(embedded)
})

// Default returns the registry built from the embedded catalog.
func Default() (*Registry, error) {
	return loadDefault()
}

// Get looks name up in the default registry.
func Get(name string) (Config, bool) {
	r, err := Default()
	if err != nil {
		return Config{}, false
	}
	return r.Get(name)
}

// List returns the names in the default registry.
func List() []string {
	r, err := Default()
	if err != nil {
		return nil
	}
	return r.List()
}
