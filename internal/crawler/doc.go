// Package crawler implements the paginated crawl engine: the shared item and
// outcome types, the collaborator interfaces, run statistics, pacing helpers
// and the Engine that drives pages through the worker pool.
package crawler
