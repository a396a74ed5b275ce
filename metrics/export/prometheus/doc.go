// Package prometheus bridges accessgate engine counters into the
// Prometheus client library. [NewCollector] adapts a metrics snapshot
// at scrape time; [Handler] is the one-call variant for servers without
// an existing registry.
//
// The bridge is read-only: it never mutates engine state and holds no
// counters of its own.
package prometheus
