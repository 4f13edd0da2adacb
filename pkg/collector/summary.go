package collector

import (
	"math"
	"sort"
	"strconv"

	"github.com/beorn7/perks/quantile"
)

// defaultQuantiles is the default quantiles to compute for a given data stream
// that we want to summarize.
//
// these (quantile -> epsilon) will be used by default by any Summary unless
// initialized with the `WithQuantiles` option to override it.
//
var defaultQuantiles = map[float64]float64{
	0.50: 0.05,
	0.90: 0.01,
	0.99: 0.001,
}

// Summary computes targeted quantiles over a stream of observations.
//
type Summary struct {
	count     uint64
	sum       float64
	targets   map[float64]float64
	quantiles map[float64]float64

	stream   *quantile.Stream
	computed bool
}

type SummaryOption func(s *Summary)

func WithQuantiles(v map[float64]float64) SummaryOption {
	return func(s *Summary) {
		s.targets = cloneMap(v)
	}
}

func NewSummary(opts ...SummaryOption) *Summary {
	summary := &Summary{
		targets: cloneMap(defaultQuantiles),
	}

	for _, opt := range opts {
		opt(summary)
	}

	summary.stream = quantile.NewTargeted(summary.targets)

	return summary
}

func (s *Summary) Insert(v float64) {
	s.sum += v
	s.stream.Insert(v)
	s.count++
	s.computed = false
}

func (s *Summary) Count() uint64 {
	return s.count
}

func (s *Summary) Sum() float64 {
	return s.sum
}

// Quantiles returns the value of each targeted quantile. With no
// observations every quantile is NaN.
//
func (s *Summary) Quantiles() map[float64]float64 {
	s.compute()
	return cloneMap(s.quantiles)
}

func (s *Summary) compute() {
	if s.computed {
		return
	}

	s.quantiles = make(map[float64]float64, len(s.targets))
	for phi := range s.targets {
		if s.count == 0 {
			s.quantiles[phi] = math.NaN()
			continue
		}

		s.quantiles[phi] = s.stream.Query(phi)
	}

	s.computed = true
}

// quantileLabels renders the targeted quantiles as label values, sorted.
//
func quantileLabels(targets map[float64]float64) [][]string {
	phis := make([]float64, 0, len(targets))
	for phi := range targets {
		phis = append(phis, phi)
	}
	sort.Float64s(phis)

	res := make([][]string, len(phis))
	for idx, phi := range phis {
		res[idx] = []string{formatQuantile(phi)}
	}

	return res
}

func formatQuantile(phi float64) string {
	return strconv.FormatFloat(phi, 'f', -1, 64)
}

func cloneMap(o map[float64]float64) map[float64]float64 {
	m := make(map[float64]float64, len(o))
	for k, v := range o {
		m[k] = v
	}

	return m
}
