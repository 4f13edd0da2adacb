package exporter

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cirocosta/btc-exporter/pkg/metric"
)

// snapshotCollector renders the current snapshot as prometheus metrics. The
// snapshot is read once per Collect so that a scrape never mixes samples
// from different cycles.
//
type snapshotCollector struct {
	source     Source
	descs      map[string]*prometheus.Desc
	timestamps bool
	log        logr.Logger
}

var _ prometheus.Collector = (*snapshotCollector)(nil)

func newSnapshotCollector(
	source Source, catalog *metric.Catalog, timestamps bool, log logr.Logger,
) *snapshotCollector {
	c := &snapshotCollector{
		source:     source,
		descs:      map[string]*prometheus.Desc{},
		timestamps: timestamps,
		log:        log,
	}

	for _, d := range catalog.Descriptors() {
		c.descs[d.Name()] = prometheus.NewDesc(d.Name(), d.Help(), d.Labels(), nil)
	}

	return c
}

func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range c.descs {
		ch <- desc
	}
}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.source.Current()

	snapshot.Each(func(s metric.Sample) {
		desc, ok := c.descs[s.Desc.Name()]
		if !ok {
			c.log.Error(fmt.Errorf("not in catalog"),
				"dropping sample", "name", s.Desc.Name())
			return
		}

		m, err := prometheus.NewConstMetric(
			desc, valueType(s.Desc.Kind()), s.Value, s.LabelValues...,
		)
		if err != nil {
			ch <- prometheus.NewInvalidMetric(desc, err)
			return
		}

		if c.timestamps && !s.Time.IsZero() {
			m = prometheus.NewMetricWithTimestamp(s.Time, m)
		}

		ch <- m
	})
}

func valueType(k metric.Kind) prometheus.ValueType {
	if k == metric.Counter {
		return prometheus.CounterValue
	}

	return prometheus.GaugeValue
}
