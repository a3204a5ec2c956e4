package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pfrederiksen/local-events/internal/dates"
	"github.com/pfrederiksen/local-events/internal/scheduler"
	"github.com/pfrederiksen/local-events/internal/storage"
	"github.com/pfrederiksen/local-events/internal/venues"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (OutputFormat, error) {
	f := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	if f != FormatText && f != FormatJSON {
		return "", fmt.Errorf("invalid format: %s (must be 'text' or 'json')", s)
	}
	return f, nil
}

// SourceOutcome is one source's line in a run report.
type SourceOutcome struct {
	ID           uint    `json:"id"`
	Name         string  `json:"name"`
	Succeeded    bool    `json:"succeeded"`
	Status       string  `json:"status,omitempty"`
	SuccessRate  float64 `json:"success_rate"`
	Strategy     string  `json:"strategy,omitempty"`
	HTTPStatus   int     `json:"http_status,omitempty"`
	EventsFound  int     `json:"events_found"`
	EventsStored int     `json:"events_stored"`
	Duplicates   int     `json:"duplicates"`
	Error        string  `json:"error,omitempty"`
}

// RunReport is the output of run-once.
type RunReport struct {
	CheckedAt    time.Time       `json:"checked_at"`
	Due          int             `json:"due"`
	Succeeded    int             `json:"succeeded"`
	Failed       int             `json:"failed"`
	Skipped      int             `json:"skipped"`
	EventsStored int             `json:"events_stored"`
	Interrupted  bool            `json:"interrupted,omitempty"`
	DurationMS   int64           `json:"duration_ms"`
	Sources      []SourceOutcome `json:"sources"`
}

// NewRunReport flattens a cycle summary for output.
func NewRunReport(sum *scheduler.Summary, checkedAt time.Time) *RunReport {
	r := &RunReport{
		CheckedAt:    checkedAt.UTC(),
		Due:          sum.Due,
		Succeeded:    sum.Succeeded,
		Failed:       sum.Failed,
		Skipped:      sum.Skipped,
		EventsStored: sum.EventsStored,
		Interrupted:  sum.Interrupted,
		DurationMS:   sum.Duration.Milliseconds(),
		Sources:      []SourceOutcome{},
	}
	errs := make(map[uint]string, len(sum.Errors))
	for _, e := range sum.Errors {
		errs[e.SourceID] = e.Err.Error()
	}
	for _, res := range sum.Results {
		r.Sources = append(r.Sources, SourceOutcome{
			ID:           res.SourceID,
			Name:         res.SourceName,
			Succeeded:    res.Succeeded,
			Status:       res.Status,
			SuccessRate:  res.SuccessRate,
			Strategy:     res.Strategy,
			HTTPStatus:   res.HTTPStatus,
			EventsFound:  res.EventsFound,
			EventsStored: res.EventsStored,
			Duplicates:   res.Duplicates,
			Error:        errs[res.SourceID],
		})
	}
	return r
}

// writeJSON outputs v as indented JSON
func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// WriteRunReport writes a run-once report.
func WriteRunReport(w io.Writer, r *RunReport, format OutputFormat) error {
	if format == FormatJSON {
		return writeJSON(w, r)
	}

	if r.Due == 0 {
		fmt.Fprintln(w, "No sources due.")
		return nil
	}
	for _, s := range r.Sources {
		mark := "OK  "
		if !s.Succeeded {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "%s %s: %d found, %d new, %d duplicate (%s, %.0f%%)\n",
			mark, s.Name, s.EventsFound, s.EventsStored, s.Duplicates, s.Status, s.SuccessRate)
		if s.Error != "" {
			fmt.Fprintf(w, "     %s\n", s.Error)
		}
	}
	fmt.Fprintf(w, "\nTotal: %d sources, %d succeeded, %d failed, %d skipped, %d new events\n",
		r.Due, r.Succeeded, r.Failed, r.Skipped, r.EventsStored)
	if r.Interrupted {
		fmt.Fprintln(w, "Run interrupted before all sources were processed.")
	}
	return nil
}

// SourceLine is a stored source with its most recent scraping log.
type SourceLine struct {
	storage.Source
	LastRun *storage.ScrapingLog `json:"last_run,omitempty"`
}

// WriteSources lists stored sources. lastRuns maps a source ID to its
// newest scraping log; sources missing from it have never been attempted.
func WriteSources(w io.Writer, sources []storage.Source, lastRuns map[uint]storage.ScrapingLog, format OutputFormat) error {
	lines := make([]SourceLine, len(sources))
	for i, s := range sources {
		lines[i] = SourceLine{Source: s}
		if l, ok := lastRuns[s.ID]; ok {
			lines[i].LastRun = &l
		}
	}
	if format == FormatJSON {
		return writeJSON(w, lines)
	}
	if len(lines) == 0 {
		fmt.Fprintln(w, "No sources configured. Run 'local-events seed' to add the catalog.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tSTATUS\tRATE\tATTEMPTS\tLAST SCRAPED\tLAST RUN")
	for _, l := range lines {
		last := "never"
		if l.LastScrapedAt != nil {
			last = l.LastScrapedAt.UTC().Format(time.RFC3339)
		}
		status := l.Status
		if !l.IsActive {
			status += " (inactive)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f%%\t%d/%d\t%s\t%s\n",
			l.Name, l.SourceType, status, l.SuccessRate, l.SuccessfulAttempts, l.TotalAttempts, last, describeRun(l.LastRun))
	}
	return tw.Flush()
}

const maxRunError = 60

func describeRun(l *storage.ScrapingLog) string {
	if l == nil {
		return "-"
	}
	if l.ErrorMessage != nil && *l.ErrorMessage != "" {
		msg := *l.ErrorMessage
		if r := []rune(msg); len(r) > maxRunError {
			msg = string(r[:maxRunError-3]) + "..."
		}
		return fmt.Sprintf("%s: %s", l.Status, msg)
	}
	return fmt.Sprintf("%s (%d events)", l.Status, l.EventsFound)
}

// WriteEvents lists stored events.
func WriteEvents(w io.Writer, events []storage.Event, format OutputFormat, verbose bool) error {
	if format == FormatJSON {
		return writeJSON(w, events)
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "No events found.")
		return nil
	}

	for _, e := range events {
		fmt.Fprintf(w, "%s  %-10s %s\n", e.StartDateTime.Format("2006-01-02 15:04 MST"), e.Category, e.Title)
		if verbose {
			if e.Price != "" {
				fmt.Fprintf(w, "       Price: %s\n", e.Price)
			}
			if e.CustomLocation != nil {
				fmt.Fprintf(w, "       Where: %s\n", *e.CustomLocation)
			}
			if e.Tags != "" {
				fmt.Fprintf(w, "       Tags: %s\n", e.Tags)
			}
			if e.SourceURL != "" {
				fmt.Fprintf(w, "       Link: %s\n", e.SourceURL)
			}
		}
	}
	fmt.Fprintf(w, "\nTotal: %d events\n", len(events))
	return nil
}

type venueLine struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	SourceType string `json:"source_type"`
	Mode       string `json:"mode,omitempty"`
	Selectors  bool   `json:"selectors"`
}

// WriteVenues lists the venue catalog.
func WriteVenues(w io.Writer, reg *venues.Registry, format OutputFormat) error {
	lines := make([]venueLine, 0, reg.Len())
	for _, name := range reg.List() {
		cfg, _ := reg.Get(name)
		lines = append(lines, venueLine{
			Name:       cfg.Name,
			URL:        cfg.URL,
			SourceType: cfg.SourceType,
			Mode:       string(cfg.Mode),
			Selectors:  cfg.HasSelectors(),
		})
	}
	if format == FormatJSON {
		return writeJSON(w, lines)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tMODE\tURL")
	for _, l := range lines {
		mode := l.Mode
		if mode == "" {
			mode = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", l.Name, l.SourceType, mode, l.URL)
	}
	return tw.Flush()
}

type parseLine struct {
	Input      string    `json:"input"`
	OK         bool      `json:"ok"`
	Time       time.Time `json:"time,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Strategy   string    `json:"strategy,omitempty"`
	AllDay     bool      `json:"all_day,omitempty"`
}

// WriteParse prints the result of parsing each input.
func WriteParse(w io.Writer, inputs []string, results []dates.Result, oks []bool, format OutputFormat) error {
	lines := make([]parseLine, len(inputs))
	for i, in := range inputs {
		lines[i] = parseLine{Input: in, OK: oks[i]}
		if oks[i] {
			lines[i].Time = results[i].Time
			lines[i].Confidence = results[i].Confidence
			lines[i].Strategy = results[i].Strategy
			lines[i].AllDay = results[i].AllDay
		}
	}
	if format == FormatJSON {
		return writeJSON(w, lines)
	}

	for _, l := range lines {
		if !l.OK {
			fmt.Fprintf(w, "%q: not recognized\n", l.Input)
			continue
		}
		allDay := ""
		if l.AllDay {
			allDay = " (all day)"
		}
		fmt.Fprintf(w, "%q: %s%s [%s, %.2f]\n", l.Input, l.Time.Format(time.RFC3339), allDay, l.Strategy, l.Confidence)
	}
	return nil
}
