// Package event provides the in-memory representation of scraped events and the
// rules applied to them before they are stored.
//
// A Candidate is one event pulled off a page. Candidates are validated (title
// length, resolved and upcoming start), classified into a category and a set of
// tags using ordered keyword tables, and deduplicated within a batch by a key
// made of the trimmed title, the start instant and the location text.
package event
