package collector

import (
	"github.com/cirocosta/btc-exporter/pkg/metric"
	"github.com/cirocosta/btc-exporter/pkg/node"
)

var (
	netReceivedDesc = metric.MustNewDescriptor(
		"btc_net_received_bytes_total",
		"number of bytes received by this node since startup",
		metric.Counter,
	)

	netSentDesc = metric.MustNewDescriptor(
		"btc_net_sent_bytes_total",
		"number of bytes sent by this node since startup",
		metric.Counter,
	)
)

type NetTotalsCollector struct {
	baseGroup
}

var _ GroupCollector = (*NetTotalsCollector)(nil)

func NewNetTotalsCollector() *NetTotalsCollector {
	return &NetTotalsCollector{
		baseGroup: baseGroup{
			name: "net_totals",
			descs: []*metric.Descriptor{
				netReceivedDesc,
				netSentDesc,
			},
		},
	}
}

func (c *NetTotalsCollector) Request(_ map[string]*node.Result) (node.Request, error) {
	return node.Request{
		Group:    c.Name(),
		Method:   "getnettotals",
		Response: func() interface{} { return new(node.NetTotals) },
	}, nil
}

func (c *NetTotalsCollector) Samples(res *node.Result) ([]metric.Sample, error) {
	totals, ok := res.Value.(*node.NetTotals)
	if !ok {
		return nil, unexpectedType(res.Value)
	}

	s := newSampler(c.Name(), res.Time)

	s.add(netReceivedDesc, float64(totals.TotalBytesRecv))
	s.add(netSentDesc, float64(totals.TotalBytesSent))

	return s.samples, nil
}
