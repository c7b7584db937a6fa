// Package progress persists the crawl checkpoint: the set of completed item
// IDs, the last fully processed listing page and the error list.
package progress
