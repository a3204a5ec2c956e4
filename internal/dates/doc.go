// Package dates converts free-text date and time fragments scraped from event
// pages into concrete timestamps with a confidence score.
//
// A Parser is bound to one civil timezone. Strategies run in a fixed priority
// order (ISO literals, relative keywords, numeric and month-name dates, loose
// phrases such as "this weekend", and finally bare times of day) and the first
// one that yields a year strictly between 2000 and 2031 wins. ParseBest picks
// the most confident result across several fragments belonging to one event.
package dates
