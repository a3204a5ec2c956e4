// Package venues holds the static catalog of known event sources and the typed
// form of the per-source configuration blobs stored in the database.
//
// The catalog is embedded from venues.yaml and validated on first use. Entries
// are immutable at runtime; changing one means redeploying the binary.
//
// Lookups are case-insensitive on the trimmed venue name:
//
//	cfg, ok := venues.Get("The Blue Door")
//	if ok {
//	    fmt.Println(cfg.Selectors.Container)
//	}
package venues
