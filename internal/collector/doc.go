// Package collector runs one collection attempt against one event source.
//
// An attempt opens a ScrapingLog, loads the source page in a fresh browser,
// waits for it to settle, prepares and extracts it, then stores every new
// event. Whatever happens, the source's attempt counters, success rate and
// health status are updated and the log is completed exactly once.
//
// At most one attempt per source runs at a time; a concurrent call fails fast
// with ErrCollectionInProgress and leaves no trace in storage.
package collector
