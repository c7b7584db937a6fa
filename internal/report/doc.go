// Package report writes the human-facing crawl artifacts under the output
// directory: the metadata CSV, the error log and the run summary.
//
// MetadataFanout lets the CSV stay the record of truth while rows are also
// copied to secondary sinks such as the Postgres mirror.
package report
