// Package scraper turns rendered event pages into candidate events.
//
// A page is first prepared according to its venue mode (waiting for a
// single-page app to render, switching a calendar widget to list view,
// following an iframe, or clicking "load more"). Its HTML is then handed to
// one of two extraction paths:
//
//   - sources with a selector map use SelectorStrategy only
//   - everything else runs intelligent detection: StructuredDataStrategy
//     (JSON-LD) unioned with HeuristicStrategy
//
// Every raw record is normalized the same way: the start time is resolved with
// the dates package, records without a future start or with a short title are
// dropped, category and tags are assigned, and duplicates within the batch are
// removed. Bad records are skipped, never returned as errors.
package scraper
