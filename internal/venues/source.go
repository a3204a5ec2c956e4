package venues

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Extraction strategies a stored source may request.
const (
	StrategySelectors   = "selectors"
	StrategyIntelligent = "intelligent"
)

// ExtractionConfig is the typed form of a source's extraction_config column.
type ExtractionConfig struct {
	Strategy   string    `json:"strategy,omitempty"`
	Selectors  Selectors `json:"selectors"`
	DateFormat string    `json:"date_format,omitempty"`
}

// ScrapingConfig is the typed form of a source's scraping_config column.
// WaitTime is in milliseconds.
type ScrapingConfig struct {
	WaitTime int  `json:"wait_time,omitempty"`
	Mode     Mode `json:"mode,omitempty"`
}

// ParseSourceConfig turns the JSON blobs stored on a source into a Config.
// Empty blobs are allowed and yield a Config without selectors, which means
// intelligent detection. Malformed or contradictory blobs return ErrInvalidConfig.
func ParseSourceConfig(name, rawURL, sourceType string, extraction, scraping []byte) (Config, error) {
	cfg := Config{
		Name:       strings.TrimSpace(name),
		URL:        rawURL,
		SourceType: sourceType,
	}

	var ext ExtractionConfig
	if err := decodeBlob(extraction, &ext); err != nil {
		return Config{}, fmt.Errorf("%w: %s: extraction config: %v", ErrInvalidConfig, cfg.Name, err)
	}
	var scr ScrapingConfig
	if err := decodeBlob(scraping, &scr); err != nil {
		return Config{}, fmt.Errorf("%w: %s: scraping config: %v", ErrInvalidConfig, cfg.Name, err)
	}

	switch strings.ToLower(strings.TrimSpace(ext.Strategy)) {
	case "":
		cfg.Selectors = ext.Selectors
	case StrategySelectors:
		if strings.TrimSpace(ext.Selectors.Container) == "" {
			return Config{}, fmt.Errorf("%w: %s: selector strategy without container", ErrInvalidConfig, cfg.Name)
		}
		cfg.Selectors = ext.Selectors
	case StrategyIntelligent:
		// selectors are ignored
	default:
		return Config{}, fmt.Errorf("%w: %s: unknown strategy %q", ErrInvalidConfig, cfg.Name, ext.Strategy)
	}
	cfg.DateFormat = ext.DateFormat

	if scr.WaitTime < 0 {
		return Config{}, fmt.Errorf("%w: %s: negative wait time", ErrInvalidConfig, cfg.Name)
	}
	if !scr.Mode.Valid() {
		return Config{}, fmt.Errorf("%w: %s: unknown mode %q", ErrInvalidConfig, cfg.Name, scr.Mode)
	}
	cfg.WaitTime = time.Duration(scr.WaitTime) * time.Millisecond
	cfg.Mode = scr.Mode

	return cfg, nil
}

func decodeBlob(data []byte, v any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	return json.Unmarshal(data, v)
}

// Blobs renders c back into the two JSON columns stored on a source.
func (c Config) Blobs() (extraction, scraping []byte, err error) {
	ext := ExtractionConfig{Strategy: StrategyIntelligent, DateFormat: c.DateFormat}
	if c.HasSelectors() {
		ext.Strategy = StrategySelectors
		ext.Selectors = c.Selectors
	}
	extraction, err = json.Marshal(ext)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding extraction config: %w", err)
	}
	scraping, err = json.Marshal(ScrapingConfig{
		WaitTime: int(c.WaitTime / time.Millisecond),
		Mode:     c.Mode,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encoding scraping config: %w", err)
	}
	return extraction, scraping, nil
}
