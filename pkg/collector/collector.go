package collector

import (
	"context"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cirocosta/btc-exporter/pkg/metric"
	"github.com/cirocosta/btc-exporter/pkg/node"
)

// CountryMapper defines the signature of a function that given an IP,
// translates it into a country name.
//
//	f(ip) -> CN
//
type CountryMapper func(net.IP) (string, error)

// GroupCollector is implemented by every metric group: a set of metrics
// derived from the response of a single node query.
//
type GroupCollector interface {
	// Name identifies the group in logs and health metrics.
	//
	Name() string

	// Descriptors lists every metric the group produces.
	//
	Descriptors() []*metric.Descriptor

	// DependsOn names a group whose result is needed to build this
	// group's request, or "" if there's none.
	//
	DependsOn() string

	// Request builds the node query. `deps` holds the result of the
	// group named by DependsOn, keyed by its name.
	//
	Request(deps map[string]*node.Result) (node.Request, error)

	// Samples maps a successful result into samples.
	//
	Samples(res *node.Result) ([]metric.Sample, error)

	// Placeholders are the samples published for a group that never
	// produced a value.
	//
	Placeholders() []metric.Sample
}

// Collector runs collection cycles: it queries the node for every metric
// group and turns the results into a complete snapshot.
//
type Collector struct {
	// querier is how we reach the node. Each group issues exactly one
	// query per cycle.
	//
	querier node.Querier

	// countryMapper is a function that knows how to translate IPs to
	// country codes.
	//
	// optional: if nil, no country-mapping will take place.
	//
	countryMapper CountryMapper

	// concurrency bounds how many groups are queried at once.
	//
	concurrency int

	groups  []GroupCollector
	catalog *metric.Catalog

	now func() time.Time
	log logr.Logger

	// mu serializes cycles and guards everything below.
	//
	mu          sync.Mutex
	seq         uint64
	last        *metric.Snapshot
	failures    map[string]int
	errorsTotal map[errorKey]float64
}

type errorKey struct {
	group string
	kind  node.Kind
}

// Option is a type used by functional arguments to mutate the collector to
// override default behavior.
//
type Option func(c *Collector)

// WithCountryMapper is a functional argument that overrides the default no-op
// country mapper.
//
func WithCountryMapper(v CountryMapper) Option {
	return func(c *Collector) {
		c.countryMapper = v
	}
}

// WithConcurrency overrides how many groups are queried concurrently.
//
func WithConcurrency(v int) Option {
	return func(c *Collector) {
		c.concurrency = v
	}
}

// WithLogger overrides the default logger.
//
func WithLogger(v logr.Logger) Option {
	return func(c *Collector) {
		c.log = v
	}
}

// WithClock overrides the time source.
//
func WithClock(v func() time.Time) Option {
	return func(c *Collector) {
		c.now = v
	}
}

func defaultCountryMapper(_ net.IP) (string, error) {
	return "unknown", nil
}

// New instantiates a collector that gathers data through `querier`.
//
func New(querier node.Querier, opts ...Option) (*Collector, error) {
	defaultLogger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("zap new development: %w", err)
	}

	c := &Collector{
		querier:       querier,
		countryMapper: defaultCountryMapper,
		concurrency:   4,
		now:           time.Now,
		log:           zapr.NewLogger(defaultLogger.Named("collector")),
		failures:      map[string]int{},
		errorsTotal:   map[errorKey]float64{},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.concurrency < 1 {
		c.concurrency = 1
	}

	c.groups = []GroupCollector{
		NewBlockchainCollector(),
		NewMempoolCollector(),
		NewNetworkCollector(),
		NewPeersCollector(c.countryMapper),
		NewMiningCollector(),
		NewChainTxStatsCollector(),
		NewNetTotalsCollector(),
	}

	for _, target := range FeeEstimateTargets {
		c.groups = append(c.groups, NewFeeEstimateCollector(target))
	}

	c.groups = append(c.groups,
		NewChainTipsCollector(),
		NewUptimeCollector(),
		NewRPCCollector(),
		NewBlockStatsCollector(),
	)

	c.catalog, err = buildCatalog(c.groups)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}

	return c, nil
}

func buildCatalog(groups []GroupCollector) (*metric.Catalog, error) {
	var (
		descs []*metric.Descriptor
		seen  = map[*metric.Descriptor]struct{}{}
	)

	for _, group := range groups {
		for _, d := range group.Descriptors() {
			if _, ok := seen[d]; ok {
				continue
			}

			seen[d] = struct{}{}
			descs = append(descs, d)
		}
	}

	descs = append(descs, healthDescriptors...)

	return metric.NewCatalog(descs...)
}

// Catalog is the fixed set of descriptors every snapshot covers.
//
func (c *Collector) Catalog() *metric.Catalog {
	return c.catalog
}

// Groups returns the names of the metric groups, in query order.
//
func (c *Collector) Groups() []string {
	names := make([]string, len(c.groups))
	for idx, group := range c.groups {
		names[idx] = group.Name()
	}

	return names
}

// outcome is what querying a group during a cycle resulted in.
//
type outcome struct {
	result *node.Result
	err    error
}

// Initial builds the snapshot to serve before the first cycle completes:
// every metric present with a NaN value, marked stale.
//
func (c *Collector) Initial() *metric.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := metric.NewBuilder(0)
	report := healthReport{groups: make([]groupHealth, len(c.groups))}

	for idx, group := range c.groups {
		for _, s := range group.Placeholders() {
			s.Stale = true
			c.mustAdd(b, s)
		}

		report.groups[idx] = groupHealth{name: group.Name(), stale: true}
	}

	for _, s := range c.healthSamples(report, c.now()) {
		c.mustAdd(b, s)
	}

	return b.Build(c.now())
}

// RunCycle performs one collection cycle and returns the resulting
// snapshot.
//
// Groups are queried concurrently (bounded by the configured concurrency),
// with groups depending on others queried in a second phase. A failed
// group never affects the others: its previous samples are carried over,
// marked stale.
//
func (c *Collector) RunCycle(ctx context.Context) *metric.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.now()
	c.seq++

	outcomes := make([]outcome, len(c.groups))
	byName := make(map[string]int, len(c.groups))
	for idx, group := range c.groups {
		byName[group.Name()] = idx
	}

	c.queryPhase(ctx, outcomes, byName, false)
	c.queryPhase(ctx, outcomes, byName, true)

	b := metric.NewBuilder(c.seq)
	report := healthReport{groups: make([]groupHealth, len(c.groups))}

	for idx, group := range c.groups {
		res := outcomes[idx]

		var samples []metric.Sample
		if res.err == nil {
			samples, res.err = group.Samples(res.result)
			if res.err != nil {
				res.err = &node.CollectionError{
					Group: group.Name(),
					Kind:  node.KindParse,
					Err:   fmt.Errorf("map samples: %w", res.err),
				}
			}
		}

		if res.err != nil {
			samples = c.handleFailure(group, res.err)
		} else {
			c.failures[group.Name()] = 0
			samples = complete(group, samples, res.result.Time)
			report.anySuccess = true
		}

		for _, s := range samples {
			c.mustAdd(b, s)
		}

		report.groups[idx] = groupHealth{
			name:     group.Name(),
			stale:    res.err != nil,
			failures: c.failures[group.Name()],
		}

		if res.err != nil && node.KindOf(res.err) == node.KindAuthFailure {
			report.authFailure = true
		}
	}

	end := c.now()
	report.cycles = c.seq
	report.duration = end.Sub(start)
	report.end = end

	for _, s := range c.healthSamples(report, end) {
		c.mustAdd(b, s)
	}

	snapshot := b.Build(end)
	c.last = snapshot

	c.log.V(1).Info("cycle done",
		"seq", c.seq,
		"duration", report.duration.String(),
		"series", snapshot.Len(),
		"node_up", report.anySuccess,
	)

	return snapshot
}

// queryPhase queries every group that either has (dependent=true) or
// doesn't have (dependent=false) a dependency, filling `outcomes`.
//
func (c *Collector) queryPhase(
	ctx context.Context, outcomes []outcome, byName map[string]int, dependent bool,
) {
	g := &errgroup.Group{}
	g.SetLimit(c.concurrency)

	for idx, group := range c.groups {
		if (group.DependsOn() != "") != dependent {
			continue
		}

		idx, group := idx, group

		deps := map[string]*node.Result{}
		if dep := group.DependsOn(); dep != "" {
			depIdx, ok := byName[dep]
			if !ok {
				outcomes[idx].err = &node.CollectionError{
					Group: group.Name(),
					Kind:  node.KindParse,
					Err:   fmt.Errorf("unknown dependency '%s'", dep),
				}
				continue
			}

			if err := outcomes[depIdx].err; err != nil {
				outcomes[idx].err = &node.CollectionError{
					Group: group.Name(),
					Kind:  node.KindOf(err),
					Err:   fmt.Errorf("dependency '%s' unavailable: %w", dep, err),
				}
				continue
			}

			deps[dep] = outcomes[depIdx].result
		}

		g.Go(func() error {
			req, err := group.Request(deps)
			if err != nil {
				outcomes[idx].err = &node.CollectionError{
					Group: group.Name(),
					Kind:  node.KindParse,
					Err:   fmt.Errorf("build request: %w", err),
				}
				return nil
			}

			res, err := c.querier.Query(ctx, req)
			if err != nil {
				outcomes[idx].err = node.Classify(group.Name(), err)
				return nil
			}

			outcomes[idx].result = res
			return nil
		})
	}

	_ = g.Wait()
}

// handleFailure records a failed group and returns the samples to publish
// in its place: the previous cycle's, marked stale.
//
func (c *Collector) handleFailure(group GroupCollector, err error) []metric.Sample {
	kind := node.KindOf(err)

	c.failures[group.Name()]++
	c.errorsTotal[errorKey{group.Name(), kind}]++

	log := c.log.WithValues(
		"group", group.Name(),
		"kind", kind.String(),
		"consecutive_failures", c.failures[group.Name()],
	)

	switch kind {
	case node.KindAuthFailure:
		log.Error(err, "node rejected credentials")
	case node.KindParse:
		log.Error(err, "unexpected response")
	default:
		log.Info("query failed", "err", err.Error())
	}

	var previous []metric.Sample
	if c.last != nil {
		previous = c.last.Group(group.Name())
	}

	if len(previous) == 0 {
		previous = group.Placeholders()
	}

	for idx := range previous {
		previous[idx].Stale = true
	}

	return previous
}

// complete makes sure every descriptor of a group has at least one sample,
// filling the gaps (e.g., no peers to compute a distribution from) with the
// group's placeholders.
//
func complete(group GroupCollector, samples []metric.Sample, t time.Time) []metric.Sample {
	present := map[*metric.Descriptor]struct{}{}
	for _, s := range samples {
		present[s.Desc] = struct{}{}
	}

	for _, p := range group.Placeholders() {
		if _, ok := present[p.Desc]; ok {
			continue
		}

		p.Time = t
		samples = append(samples, p)
	}

	return samples
}

func (c *Collector) mustAdd(b *metric.Builder, s metric.Sample) {
	if err := b.Add(s); err != nil {
		// only reachable through a mistake in a group's mapping.
		c.log.Error(err, "dropping sample", "group", s.Group)
	}
}

// sampler accumulates the samples of a group.
//
type sampler struct {
	group   string
	time    time.Time
	samples []metric.Sample
}

func newSampler(group string, t time.Time) *sampler {
	return &sampler{group: group, time: t}
}

func (s *sampler) add(d *metric.Descriptor, value float64, labelValues ...string) {
	s.samples = append(s.samples, metric.Sample{
		Desc:        d,
		LabelValues: labelValues,
		Value:       value,
		Time:        s.time,
		Group:       s.group,
	})
}

// baseGroup implements the parts of GroupCollector that are the same for
// most groups.
//
type baseGroup struct {
	name  string
	descs []*metric.Descriptor

	// known lists label values to use as placeholders for labelled
	// descriptors, keyed by descriptor. Descriptors not listed get a
	// single placeholder with empty label values.
	//
	known map[*metric.Descriptor][][]string
}

func (g *baseGroup) Name() string { return g.name }

func (g *baseGroup) DependsOn() string { return "" }

func (g *baseGroup) Descriptors() []*metric.Descriptor {
	return append([]*metric.Descriptor(nil), g.descs...)
}

func (g *baseGroup) Placeholders() []metric.Sample {
	var res []metric.Sample

	for _, d := range g.descs {
		labelSets, ok := g.known[d]
		if !ok {
			labelSets = [][]string{make([]string, len(d.Labels()))}
		}

		for _, labelValues := range labelSets {
			res = append(res, metric.Sample{
				Desc:        d,
				LabelValues: labelValues,
				Value:       math.NaN(),
				Group:       g.name,
			})
		}
	}

	return res
}

func unexpectedType(v interface{}) error {
	return fmt.Errorf("unexpected result type %T", v)
}

func boolToFloat64(b bool) float64 {
	if b {
		return 1
	}

	return 0
}

func optionalFloat64(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}

	return *v
}

func optionalInt64(v *int64) float64 {
	if v == nil {
		return math.NaN()
	}

	return float64(*v)
}
