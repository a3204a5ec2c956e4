package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pfrederiksen/local-events/internal/logger"
	"github.com/pfrederiksen/local-events/internal/venues"
)

var (
	// ErrNoFrame is returned by Page.FrameHTML when the document has no iframe.
	ErrNoFrame = errors.New("page has no iframe")
	// ErrBadStatus matches every *StatusError.
	ErrBadStatus = errors.New("bad response status")
)

// StatusError reports a main document that was missing or not 2xx.
// Code is 0 when no response arrived.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("%s: no response from %s", ErrBadStatus, e.URL)
	}
	return fmt.Sprintf("%s: %d from %s", ErrBadStatus, e.Code, e.URL)
}

func (e *StatusError) Unwrap() error { return ErrBadStatus }

// Page is a loaded document in a browser. Implementations must make Close
// safe to call more than once.
type Page interface {
	// URL is the address the page ended up on after redirects.
	URL() string
	// Status is the HTTP status of the main document response.
	Status() int
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	HTML(ctx context.Context) (string, error)
	// FrameHTML returns the rendered HTML of the first iframe.
	FrameHTML(ctx context.Context) (string, error)
	Close() error
}

// Selectors used by the special page modes.
const (
	calendarRootSelector = `.fc, #calendar, .calendar, [class*="calendar-widget"], [data-calendar]`
	listViewSelector     = `.fc-listMonth-button, .fc-listWeek-button, .fc-list-button, button[data-view="list"], a[href*="view=list"], [aria-label="List view"]`
	loadMoreSelector     = `.load-more, button.load-more, [class*="load-more"], [data-action="load-more"], button[aria-label*="Load more"]`
)

// Prepare applies cfg.Mode to page and returns the HTML to extract from.
// Waits and clicks are best effort: a missing widget is logged and ignored.
// Only a failure to read the document itself is returned.
func (x *Extractor) Prepare(ctx context.Context, page Page, cfg venues.Config) (string, error) {
	log := x.log.With(logger.Fields{"venue": cfg.Name, "mode": string(cfg.Mode)})
	container := cfg.Selectors.Container

	switch cfg.Mode {
	case venues.ModeSPA:
		if container != "" {
			if err := page.WaitVisible(ctx, container, x.selectorTimeout); err != nil {
				log.Debug("Container did not appear", logger.Fields{"selector": container, "error": err.Error()})
			}
		}

	case venues.ModeCalendar:
		if err := page.WaitVisible(ctx, calendarRootSelector, x.selectorTimeout); err != nil {
			log.Debug("Calendar root not found", logger.Fields{"error": err.Error()})
		}
		if err := page.Click(ctx, listViewSelector); err != nil {
			log.Debug("List view control not clicked", logger.Fields{"error": err.Error()})
		} else if err := sleep(ctx, x.settleAfterClick); err != nil {
			return "", err
		}
		if container != "" {
			if err := page.WaitVisible(ctx, container, x.selectorTimeout); err != nil {
				log.Debug("Container did not appear", logger.Fields{"selector": container, "error": err.Error()})
			}
		}

	case venues.ModeAjaxLoadMore:
		if err := page.Click(ctx, loadMoreSelector); err != nil {
			log.Debug("Load more control not clicked", logger.Fields{"error": err.Error()})
		} else if err := sleep(ctx, x.settleAfterClick); err != nil {
			return "", err
		}

	case venues.ModeIframe:
		html, err := page.FrameHTML(ctx)
		if err == nil {
			return html, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(err, ErrNoFrame) {
			log.Debug("No iframe, using top document", nil)
		} else {
			log.Warn("Reading iframe failed, using top document", logger.Fields{"error": err.Error()})
		}
	}

	return page.HTML(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
