// Package cli implements the command-line interface for local-events.
//
// The cli package provides the Cobra-based CLI: a single collection pass
// (run-once), the continuous scheduler with its metrics endpoint (start),
// catalog and database inspection (venues, sources, events), seeding sources
// from the venue catalog (seed), and a date parser probe (parse-date).
// Output is text or JSON; events can also be exported as an iCalendar feed.
package cli
