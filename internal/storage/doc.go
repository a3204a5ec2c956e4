// Package storage persists sources, events, and scraping logs through gorm.
//
// The only driver wired in is SQLite (pure Go, no cgo). All timestamps are
// written in UTC so equality checks on start times behave the same no matter
// which zone the collector runs in.
package storage
