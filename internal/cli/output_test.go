package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pfrederiksen/local-events/internal/collector"
	"github.com/pfrederiksen/local-events/internal/scheduler"
	"github.com/pfrederiksen/local-events/internal/storage"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"text", FormatText, false},
		{"JSON", FormatJSON, false},
		{" json ", FormatJSON, false},
		{"csv", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func sampleSummary() *scheduler.Summary {
	return &scheduler.Summary{
		Due:          2,
		Succeeded:    1,
		Failed:       1,
		EventsStored: 3,
		Duration:     1500 * time.Millisecond,
		Results: []*collector.Result{
			{SourceID: 1, SourceName: "Riverside Hall", Succeeded: true, Status: "active", SuccessRate: 100, EventsFound: 4, EventsStored: 3, Duplicates: 1},
			{SourceID: 2, SourceName: "City Calendar", Status: "warning", SuccessRate: 66.7, HTTPStatus: 500},
		},
		Errors: []scheduler.SourceError{
			{SourceID: 2, Source: "City Calendar", Err: errors.New("bad status 500")},
		},
	}
}

func TestNewRunReport(t *testing.T) {
	checked := time.Date(2025, 6, 1, 10, 0, 0, 0, time.FixedZone("EDT", -4*3600))
	r := NewRunReport(sampleSummary(), checked)

	if !r.CheckedAt.Equal(checked) || r.CheckedAt.Location() != time.UTC {
		t.Errorf("CheckedAt = %v, want %v in UTC", r.CheckedAt, checked)
	}
	if r.DurationMS != 1500 {
		t.Errorf("DurationMS = %d, want 1500", r.DurationMS)
	}
	if len(r.Sources) != 2 {
		t.Fatalf("got %d sources, want 2", len(r.Sources))
	}
	if r.Sources[0].Error != "" {
		t.Errorf("successful source has error %q", r.Sources[0].Error)
	}
	if r.Sources[1].Error != "bad status 500" || r.Sources[1].HTTPStatus != 500 {
		t.Errorf("failed source = %+v", r.Sources[1])
	}
}

func TestNewRunReport_EmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRunReport(&buf, NewRunReport(&scheduler.Summary{}, time.Now()), FormatJSON); err != nil {
		t.Fatalf("WriteRunReport() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"sources": []`) {
		t.Errorf("empty report should encode sources as []:\n%s", buf.String())
	}
}

func TestWriteRunReport_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRunReport(&buf, NewRunReport(sampleSummary(), time.Now()), FormatText); err != nil {
		t.Fatalf("WriteRunReport() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"OK   Riverside Hall: 4 found, 3 new, 1 duplicate (active, 100%)",
		"FAIL City Calendar",
		"bad status 500",
		"Total: 2 sources, 1 succeeded, 1 failed, 0 skipped, 3 new events",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteRunReport_NothingDue(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRunReport(&buf, NewRunReport(&scheduler.Summary{}, time.Now()), FormatText); err != nil {
		t.Fatalf("WriteRunReport() error = %v", err)
	}
	if strings.TrimSpace(buf.String()) != "No sources due." {
		t.Errorf("output = %q", buf.String())
	}
}

func TestWriteSources(t *testing.T) {
	last := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sources := []storage.Source{
		{ID: 1, Name: "Riverside Hall", SourceType: "venue", Status: "active", IsActive: true, SuccessRate: 75, SuccessfulAttempts: 3, TotalAttempts: 4, LastScrapedAt: &last},
		{ID: 2, Name: "Old Mill", SourceType: "brewery", Status: "error", SuccessRate: 0},
		{ID: 3, Name: "Corner Pub", SourceType: "bar", Status: "active", IsActive: true},
	}
	refused := "bad response status: 503 Service Unavailable"
	lastRuns := map[uint]storage.ScrapingLog{
		1: {SourceID: 1, Status: storage.LogCompleted, EventsFound: 12},
		2: {SourceID: 2, Status: storage.LogFailed, ErrorMessage: &refused},
	}

	var buf bytes.Buffer
	if err := WriteSources(&buf, sources, lastRuns, FormatText); err != nil {
		t.Fatalf("WriteSources() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"NAME", "LAST RUN", "Riverside Hall", "75%", "3/4", "2025-06-01T12:00:00Z", "error (inactive)", "never",
		"completed (12 events)", "failed: bad response status: 503"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := WriteSources(&buf, sources, lastRuns, FormatJSON); err != nil {
		t.Fatalf("WriteSources(json) error = %v", err)
	}
	var lines []SourceLine
	if err := json.Unmarshal(buf.Bytes(), &lines); err != nil {
		t.Fatalf("Unmarshal() error = %v\n%s", err, buf.String())
	}
	if len(lines) != 3 || lines[0].Name != "Riverside Hall" || lines[0].LastRun == nil || lines[0].LastRun.EventsFound != 12 {
		t.Errorf("json lines = %+v", lines)
	}
	if lines[2].LastRun != nil {
		t.Errorf("never attempted source has last run %+v", lines[2].LastRun)
	}

	buf.Reset()
	if err := WriteSources(&buf, nil, nil, FormatText); err != nil {
		t.Fatalf("WriteSources() error = %v", err)
	}
	if !strings.Contains(buf.String(), "seed") {
		t.Errorf("empty output should point at seed: %q", buf.String())
	}
}

func TestWriteEvents(t *testing.T) {
	where := "Riverside Park"
	events := []storage.Event{
		{Title: "Jazz Night", Category: "music", Price: "$15", CustomLocation: &where, SourceURL: "https://example.com/jazz",
			StartDateTime: time.Date(2025, 6, 14, 20, 0, 0, 0, time.UTC)},
	}

	var buf bytes.Buffer
	if err := WriteEvents(&buf, events, FormatText, false); err != nil {
		t.Fatalf("WriteEvents() error = %v", err)
	}
	if strings.Contains(buf.String(), "Price") {
		t.Errorf("non-verbose output shows details:\n%s", buf.String())
	}

	buf.Reset()
	if err := WriteEvents(&buf, events, FormatText, true); err != nil {
		t.Fatalf("WriteEvents() error = %v", err)
	}
	for _, want := range []string{"2025-06-14 20:00 UTC", "Jazz Night", "Price: $15", "Where: Riverside Park", "Link: https://example.com/jazz", "Total: 1 events"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("verbose output missing %q:\n%s", want, buf.String())
		}
	}

	buf.Reset()
	if err := WriteEvents(&buf, events, FormatJSON, false); err != nil {
		t.Fatalf("WriteEvents() error = %v", err)
	}
	var decoded []storage.Event
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(decoded) != 1 || decoded[0].Title != "Jazz Night" {
		t.Errorf("decoded = %+v", decoded)
	}
}
