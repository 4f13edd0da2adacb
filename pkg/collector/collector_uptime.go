package collector

import (
	"github.com/cirocosta/btc-exporter/pkg/metric"
	"github.com/cirocosta/btc-exporter/pkg/node"
)

var uptimeDesc = metric.MustNewDescriptor(
	"btc_uptime_seconds",
	"for how long the node has been up",
	metric.Gauge,
)

type UptimeCollector struct {
	baseGroup
}

var _ GroupCollector = (*UptimeCollector)(nil)

func NewUptimeCollector() *UptimeCollector {
	return &UptimeCollector{
		baseGroup: baseGroup{
			name:  "uptime",
			descs: []*metric.Descriptor{uptimeDesc},
		},
	}
}

func (c *UptimeCollector) Request(_ map[string]*node.Result) (node.Request, error) {
	return node.Request{
		Group:    c.Name(),
		Method:   "uptime",
		Response: func() interface{} { return new(node.Uptime) },
	}, nil
}

func (c *UptimeCollector) Samples(res *node.Result) ([]metric.Sample, error) {
	uptime, ok := res.Value.(*node.Uptime)
	if !ok {
		return nil, unexpectedType(res.Value)
	}

	s := newSampler(c.Name(), res.Time)
	s.add(uptimeDesc, float64(*uptime))

	return s.samples, nil
}
