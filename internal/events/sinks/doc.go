// Package sinks contains event sinks: a zap log sink for audits and a
// Prometheus sink that turns crawl events into counters and histograms.
package sinks
