package collector

import (
	"github.com/cirocosta/btc-exporter/pkg/metric"
	"github.com/cirocosta/btc-exporter/pkg/node"
)

var (
	networkHashPSDesc = metric.MustNewDescriptor(
		"btc_network_hash_per_second",
		"estimated network hashes per second",
		metric.Gauge,
	)

	pooledTxDesc = metric.MustNewDescriptor(
		"btc_mining_pooled_transactions",
		"number of transactions available for the next block template",
		metric.Gauge,
	)
)

type MiningCollector struct {
	baseGroup
}

var _ GroupCollector = (*MiningCollector)(nil)

func NewMiningCollector() *MiningCollector {
	return &MiningCollector{
		baseGroup: baseGroup{
			name: "mining",
			descs: []*metric.Descriptor{
				networkHashPSDesc,
				pooledTxDesc,
			},
		},
	}
}

func (c *MiningCollector) Request(_ map[string]*node.Result) (node.Request, error) {
	return node.Request{
		Group:    c.Name(),
		Method:   "getmininginfo",
		Response: func() interface{} { return new(node.MiningInfo) },
	}, nil
}

func (c *MiningCollector) Samples(res *node.Result) ([]metric.Sample, error) {
	info, ok := res.Value.(*node.MiningInfo)
	if !ok {
		return nil, unexpectedType(res.Value)
	}

	s := newSampler(c.Name(), res.Time)

	s.add(networkHashPSDesc, info.NetworkHashPS)
	s.add(pooledTxDesc, float64(info.PooledTx))

	return s.samples, nil
}
