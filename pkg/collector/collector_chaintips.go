package collector

import (
	"sort"

	"github.com/cirocosta/btc-exporter/pkg/metric"
	"github.com/cirocosta/btc-exporter/pkg/node"
)

var chainTipsDesc = metric.MustNewDescriptor(
	"btc_chain_tips",
	"number of known chain tips by status (active, valid-fork, "+
		"valid-headers, headers-only, invalid)",
	metric.Gauge, "status",
)

type ChainTipsCollector struct {
	baseGroup
}

var _ GroupCollector = (*ChainTipsCollector)(nil)

func NewChainTipsCollector() *ChainTipsCollector {
	return &ChainTipsCollector{
		baseGroup: baseGroup{
			name:  "chain_tips",
			descs: []*metric.Descriptor{chainTipsDesc},
			known: map[*metric.Descriptor][][]string{
				chainTipsDesc: {{"active"}},
			},
		},
	}
}

func (c *ChainTipsCollector) Request(_ map[string]*node.Result) (node.Request, error) {
	return node.Request{
		Group:    c.Name(),
		Method:   "getchaintips",
		Response: func() interface{} { return new(node.ChainTips) },
	}, nil
}

func (c *ChainTipsCollector) Samples(res *node.Result) ([]metric.Sample, error) {
	tips, ok := res.Value.(*node.ChainTips)
	if !ok {
		return nil, unexpectedType(res.Value)
	}

	counters := map[string]float64{}
	for _, tip := range *tips {
		counters[tip.Status]++
	}

	statuses := make([]string, 0, len(counters))
	for status := range counters {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)

	s := newSampler(c.Name(), res.Time)
	for _, status := range statuses {
		s.add(chainTipsDesc, counters[status], status)
	}

	return s.samples, nil
}
