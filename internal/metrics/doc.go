// Package metrics collects failover events and exposes them two ways: a JSON
// snapshot for operators and prometheus series for scraping.
//
// Producers (backends, the router and the healer) never block on metrics.
// They hand events to a buffered channel drained by a single goroutine, which
// updates both the in-memory counters and the prometheus vectors.
package metrics
