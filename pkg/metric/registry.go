package metric

import (
	"sync/atomic"
	"time"
)

// Registry holds the most recently published snapshot.
//
// Publishing replaces the snapshot pointer atomically: readers see either
// the complete previous snapshot or the complete new one.
//
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// NewRegistry creates a registry whose current snapshot is empty.
//
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(NewBuilder(0).Build(time.Time{}))

	return r
}

// Publish makes `s` the current snapshot. A nil snapshot is ignored.
//
func (r *Registry) Publish(s *Snapshot) {
	if s == nil {
		return
	}

	r.current.Store(s)
}

// Current returns the latest published snapshot. Never nil.
//
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}
