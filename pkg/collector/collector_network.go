package collector

import (
	"github.com/cirocosta/btc-exporter/pkg/metric"
	"github.com/cirocosta/btc-exporter/pkg/node"
)

var (
	connectionsDesc = metric.MustNewDescriptor(
		"btc_connections",
		"number of connections to/from this node",
		metric.Gauge, "direction",
	)

	networkActiveDesc = metric.MustNewDescriptor(
		"btc_network_active",
		"whether p2p networking is enabled",
		metric.Gauge,
	)

	versionDesc = metric.MustNewDescriptor(
		"btc_version",
		"version of the node as an integer (e.g., 270000)",
		metric.Gauge,
	)

	protocolVersionDesc = metric.MustNewDescriptor(
		"btc_protocol_version",
		"p2p protocol version",
		metric.Gauge,
	)

	timeOffsetDesc = metric.MustNewDescriptor(
		"btc_time_offset_seconds",
		"offset of the node's clock to the median of its peers'",
		metric.Gauge,
	)

	relayFeeDesc = metric.MustNewDescriptor(
		"btc_relay_fee_btc_per_kvb",
		"minimum relay fee rate for transactions",
		metric.Gauge,
	)

	incrementalFeeDesc = metric.MustNewDescriptor(
		"btc_incremental_fee_btc_per_kvb",
		"minimum fee rate increment for mempool limiting or replacement",
		metric.Gauge,
	)
)

var directions = [][]string{{"in"}, {"out"}}

type NetworkCollector struct {
	baseGroup
}

var _ GroupCollector = (*NetworkCollector)(nil)

func NewNetworkCollector() *NetworkCollector {
	return &NetworkCollector{
		baseGroup: baseGroup{
			name: "network",
			descs: []*metric.Descriptor{
				connectionsDesc,
				networkActiveDesc,
				versionDesc,
				protocolVersionDesc,
				timeOffsetDesc,
				relayFeeDesc,
				incrementalFeeDesc,
			},
			known: map[*metric.Descriptor][][]string{
				connectionsDesc: directions,
			},
		},
	}
}

func (c *NetworkCollector) Request(_ map[string]*node.Result) (node.Request, error) {
	return node.Request{
		Group:    c.Name(),
		Method:   "getnetworkinfo",
		Response: func() interface{} { return new(node.NetworkInfo) },
	}, nil
}

func (c *NetworkCollector) Samples(res *node.Result) ([]metric.Sample, error) {
	info, ok := res.Value.(*node.NetworkInfo)
	if !ok {
		return nil, unexpectedType(res.Value)
	}

	s := newSampler(c.Name(), res.Time)

	s.add(connectionsDesc, float64(info.ConnectionsIn), "in")
	s.add(connectionsDesc, float64(info.ConnectionsOut), "out")
	s.add(networkActiveDesc, boolToFloat64(info.NetworkActive))
	s.add(versionDesc, float64(info.Version))
	s.add(protocolVersionDesc, float64(info.ProtocolVersion))
	s.add(timeOffsetDesc, float64(info.TimeOffset))
	s.add(relayFeeDesc, info.RelayFee)
	s.add(incrementalFeeDesc, info.IncrementalFee)

	return s.samples, nil
}
