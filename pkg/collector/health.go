package collector

import (
	"time"

	"github.com/cirocosta/btc-exporter/pkg/metric"
	"github.com/cirocosta/btc-exporter/pkg/node"
)

// healthGroup is the name of the group of metrics describing the exporter
// itself. They are computed every cycle and never stale.
//
const healthGroup = "exporter"

var (
	nodeUpDesc = metric.MustNewDescriptor(
		"btc_exporter_node_up",
		"whether at least one query to the node succeeded in the last cycle",
		metric.Gauge,
	)

	authFailureDesc = metric.MustNewDescriptor(
		"btc_exporter_auth_failure",
		"whether the node rejected our credentials in the last cycle; "+
			"requires a configuration change to recover",
		metric.Gauge,
	)

	groupStaleDesc = metric.MustNewDescriptor(
		"btc_exporter_group_stale",
		"whether the metrics of a group are carried over from a "+
			"previous cycle",
		metric.Gauge, "group",
	)

	groupFailuresDesc = metric.MustNewDescriptor(
		"btc_exporter_group_consecutive_failures",
		"number of consecutive cycles in which a group failed",
		metric.Gauge, "group",
	)

	collectionErrorsDesc = metric.MustNewDescriptor(
		"btc_exporter_collection_errors_total",
		"number of failed group queries by kind of failure",
		metric.Counter, "group", "kind",
	)

	cyclesDesc = metric.MustNewDescriptor(
		"btc_exporter_cycles_total",
		"number of collection cycles completed",
		metric.Counter,
	)

	cycleDurationDesc = metric.MustNewDescriptor(
		"btc_exporter_last_cycle_duration_seconds",
		"how long the last collection cycle took",
		metric.Gauge,
	)

	cycleTimestampDesc = metric.MustNewDescriptor(
		"btc_exporter_last_cycle_timestamp_seconds",
		"unix time at which the last collection cycle completed",
		metric.Gauge,
	)

	healthDescriptors = []*metric.Descriptor{
		nodeUpDesc,
		authFailureDesc,
		groupStaleDesc,
		groupFailuresDesc,
		collectionErrorsDesc,
		cyclesDesc,
		cycleDurationDesc,
		cycleTimestampDesc,
	}
)

type groupHealth struct {
	name     string
	stale    bool
	failures int
}

type healthReport struct {
	groups      []groupHealth
	anySuccess  bool
	authFailure bool
	cycles      uint64
	duration    time.Duration
	end         time.Time
}

// healthSamples describes the state of the exporter after a cycle. Must be
// called with c.mu held.
//
func (c *Collector) healthSamples(report healthReport, now time.Time) []metric.Sample {
	s := newSampler(healthGroup, now)

	s.add(nodeUpDesc, boolToFloat64(report.anySuccess))
	s.add(authFailureDesc, boolToFloat64(report.authFailure))
	s.add(cyclesDesc, float64(report.cycles))
	s.add(cycleDurationDesc, report.duration.Seconds())

	lastCycle := 0.0
	if !report.end.IsZero() {
		lastCycle = float64(report.end.UnixNano()) / 1e9
	}
	s.add(cycleTimestampDesc, lastCycle)

	for _, group := range report.groups {
		s.add(groupStaleDesc, boolToFloat64(group.stale), group.name)
		s.add(groupFailuresDesc, float64(group.failures), group.name)

		for _, kind := range node.Kinds {
			s.add(collectionErrorsDesc,
				c.errorsTotal[errorKey{group.name, kind}],
				group.name, kind.String(),
			)
		}
	}

	return s.samples
}
