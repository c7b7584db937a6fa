// Package events carries crawl lifecycle events from the engine, workers and
// fetchers to pluggable sinks. Emitting never blocks the crawl: the Hub buffers
// events, batches them by size or time, and fans each batch out to its sinks.
package events
