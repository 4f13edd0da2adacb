// Package metric defines the data model shared by the collector and the
// exporter: descriptors, samples, immutable snapshots and the registry
// through which a snapshot is handed from one to the other.
//
package metric
