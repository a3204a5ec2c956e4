package storage

import (
	"time"

	"gorm.io/datatypes"
)

// Source lifecycle statuses.
const (
	StatusActive  = "active"
	StatusWarning = "warning"
	StatusError   = "error"
)

// ScrapingLog statuses.
const (
	LogRunning   = "running"
	LogCompleted = "completed"
	LogFailed    = "failed"
)

// EventPublished is the only status the collector writes.
const EventPublished = "published"

// Venue is a physical place events can be attached to.
type Venue struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"uniqueIndex;not null" json:"name"`
	Address   string `json:"address,omitempty"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Source is a third-party page polled for events.
type Source struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	Name             string         `gorm:"uniqueIndex;not null" json:"name"`
	URL              string         `gorm:"not null" json:"url"`
	SourceType       string         `gorm:"index" json:"source_type"`
	ExtractionConfig datatypes.JSON `json:"extraction_config,omitempty"`
	ScrapingConfig   datatypes.JSON `json:"scraping_config,omitempty"`

	// IsActive has no column default: gorm would replace an explicit false.
	IsActive bool   `gorm:"not null;index" json:"is_active"`
	Status   string `gorm:"not null" json:"status"`

	LastScrapedAt      *time.Time `gorm:"index" json:"last_scraped_at,omitempty"`
	TotalAttempts      int        `gorm:"not null" json:"total_attempts"`
	SuccessfulAttempts int        `gorm:"not null" json:"successful_attempts"`
	SuccessRate        float64    `gorm:"not null" json:"success_rate"`

	VenueID *uint  `gorm:"index" json:"venue_id,omitempty"`
	Venue   *Venue `json:"venue,omitempty"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// RecordAttempt bumps the attempt counters and recomputes SuccessRate.
// The rate always stays within [0, 100].
func (s *Source) RecordAttempt(success bool, at time.Time) {
	s.TotalAttempts++
	if success {
		s.SuccessfulAttempts++
	}
	if s.SuccessfulAttempts > s.TotalAttempts {
		s.SuccessfulAttempts = s.TotalAttempts
	}
	s.SuccessRate = float64(s.SuccessfulAttempts) / float64(s.TotalAttempts) * 100
	s.SuccessRate = min(max(s.SuccessRate, 0), 100)

	at = at.UTC()
	s.LastScrapedAt = &at
}

// Event is a validated, deduplicated event.
// Exactly one of VenueID and CustomLocation is set.
type Event struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Title          string     `gorm:"not null;index:idx_event_identity,priority:1" json:"title"`
	Description    string     `json:"description,omitempty"`
	StartDateTime  time.Time  `gorm:"not null;index:idx_event_identity,priority:2" json:"start_date_time"`
	EndDateTime    *time.Time `json:"end_date_time,omitempty"`
	AllDay         bool       `json:"all_day,omitempty"`
	Category       string     `gorm:"index" json:"category"`
	Price          string     `json:"price,omitempty"`
	ImageURL       string     `json:"image_url,omitempty"`
	SourceURL      string     `json:"source_url"`
	Tags           string     `json:"tags,omitempty"`
	VenueID        *uint      `gorm:"index" json:"venue_id,omitempty"`
	CustomLocation *string    `json:"custom_location,omitempty"`
	SourceID       uint       `gorm:"index;not null" json:"source_id"`
	Status         string     `gorm:"not null" json:"status"`
	CreatedAt      time.Time  `json:"-"`
	UpdatedAt      time.Time  `json:"-"`
}

// ScrapingLog audits one collection attempt.
type ScrapingLog struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	SourceID     uint           `gorm:"index;not null" json:"source_id"`
	Status       string         `gorm:"not null" json:"status"`
	StartedAt    time.Time      `gorm:"not null" json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	EventsFound  int            `json:"events_found"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	Metadata     datatypes.JSON `json:"metadata,omitempty"`
}
