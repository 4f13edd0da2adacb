package metric

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Sample is the value of one series (descriptor + label values) as seen in
// a given collection cycle.
//
type Sample struct {
	Desc        *Descriptor
	LabelValues []string
	Value       float64

	// Time is when the value was collected from the node. Carried over
	// samples keep the time of the cycle that produced them.
	//
	Time time.Time

	// Stale is set when the value couldn't be refreshed and was carried
	// over from a previous cycle.
	//
	Stale bool

	// Group is the name of the metric group that produced the sample.
	//
	Group string
}

// key uniquely identifies the series a sample belongs to.
//
func (s Sample) key() string {
	return seriesKey(s.Desc.name, s.LabelValues)
}

func seriesKey(name string, labelValues []string) string {
	if len(labelValues) == 0 {
		return name
	}

	return name + "\xff" + strings.Join(labelValues, "\xff")
}

// Snapshot is an immutable, point-in-time set of samples.
//
// Once built it's never modified, so it can be handed to any number of
// concurrent readers.
//
type Snapshot struct {
	seq     uint64
	time    time.Time
	samples []Sample
	index   map[string]int
}

// Seq is the sequence number of the cycle that produced this snapshot.
//
func (s *Snapshot) Seq() uint64 { return s.seq }

// Time is when the snapshot was built.
//
func (s *Snapshot) Time() time.Time { return s.time }

// Len is the number of series in the snapshot.
//
func (s *Snapshot) Len() int { return len(s.samples) }

// Each calls f for every sample, ordered by metric name and label values.
//
func (s *Snapshot) Each(f func(Sample)) {
	for _, sample := range s.samples {
		f(sample.clone())
	}
}

// Lookup returns the sample of `name` with the given label values.
//
func (s *Snapshot) Lookup(name string, labelValues ...string) (Sample, bool) {
	idx, ok := s.index[seriesKey(name, labelValues)]
	if !ok {
		return Sample{}, false
	}

	return s.samples[idx].clone(), true
}

// Series returns every sample of metric `name`.
//
func (s *Snapshot) Series(name string) []Sample {
	var res []Sample
	for _, sample := range s.samples {
		if sample.Desc.name == name {
			res = append(res, sample.clone())
		}
	}

	return res
}

// Group returns every sample produced by `group`.
//
func (s *Snapshot) Group(group string) []Sample {
	var res []Sample
	for _, sample := range s.samples {
		if sample.Group == group {
			res = append(res, sample.clone())
		}
	}

	return res
}

func (s Sample) clone() Sample {
	s.LabelValues = append([]string(nil), s.LabelValues...)
	return s
}

// Builder accumulates samples for a new snapshot. It's not safe for
// concurrent use.
//
type Builder struct {
	seq     uint64
	samples map[string]Sample
}

// NewBuilder starts a snapshot for cycle `seq`.
//
func NewBuilder(seq uint64) *Builder {
	return &Builder{
		seq:     seq,
		samples: map[string]Sample{},
	}
}

// Add records a sample, replacing any previous one of the same series.
//
func (b *Builder) Add(s Sample) error {
	if s.Desc == nil {
		return fmt.Errorf("sample without descriptor")
	}

	if len(s.LabelValues) != len(s.Desc.labels) {
		return fmt.Errorf("%s: expected %d label values, got %d",
			s.Desc.name, len(s.Desc.labels), len(s.LabelValues))
	}

	s = s.clone()
	b.samples[s.key()] = s

	return nil
}

// Build freezes the accumulated samples into a Snapshot. The builder must
// not be used afterwards.
//
func (b *Builder) Build(now time.Time) *Snapshot {
	samples := make([]Sample, 0, len(b.samples))
	for _, s := range b.samples {
		samples = append(samples, s)
	}

	sort.Slice(samples, func(i, j int) bool {
		return samples[i].key() < samples[j].key()
	})

	index := make(map[string]int, len(samples))
	for idx, s := range samples {
		index[s.key()] = idx
	}

	b.samples = nil

	return &Snapshot{
		seq:     b.seq,
		time:    now,
		samples: samples,
		index:   index,
	}
}
