// Package collector provides the core functionality of this exporter.
//
// It queries a bitcoin node for every metric group on each collection cycle,
// turning the responses into a complete, immutable snapshot. Scrapes never
// reach the node: they're served from whatever snapshot was last published,
// with the groups that failed carrying their previous values marked as
// stale.
//
package collector
