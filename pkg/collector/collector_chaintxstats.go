package collector

import (
	"github.com/cirocosta/btc-exporter/pkg/metric"
	"github.com/cirocosta/btc-exporter/pkg/node"
)

var (
	chainTransactionsDesc = metric.MustNewDescriptor(
		"btc_chain_transactions_total",
		"total number of transactions in the chain up to the tip",
		metric.Counter,
	)

	chainTxRateDesc = metric.MustNewDescriptor(
		"btc_chain_tx_rate_per_second",
		"average number of transactions per second over the window",
		metric.Gauge,
	)

	chainTxWindowBlocksDesc = metric.MustNewDescriptor(
		"btc_chain_tx_window_blocks",
		"size of the window in number of blocks",
		metric.Gauge,
	)

	chainTxWindowTransactionsDesc = metric.MustNewDescriptor(
		"btc_chain_tx_window_transactions",
		"number of transactions in the window",
		metric.Gauge,
	)

	chainTxWindowIntervalDesc = metric.MustNewDescriptor(
		"btc_chain_tx_window_interval_seconds",
		"elapsed time in the window",
		metric.Gauge,
	)
)

type ChainTxStatsCollector struct {
	baseGroup
}

var _ GroupCollector = (*ChainTxStatsCollector)(nil)

func NewChainTxStatsCollector() *ChainTxStatsCollector {
	return &ChainTxStatsCollector{
		baseGroup: baseGroup{
			name: "chain_tx_stats",
			descs: []*metric.Descriptor{
				chainTransactionsDesc,
				chainTxRateDesc,
				chainTxWindowBlocksDesc,
				chainTxWindowTransactionsDesc,
				chainTxWindowIntervalDesc,
			},
		},
	}
}

func (c *ChainTxStatsCollector) Request(_ map[string]*node.Result) (node.Request, error) {
	return node.Request{
		Group:    c.Name(),
		Method:   "getchaintxstats",
		Response: func() interface{} { return new(node.ChainTxStats) },
	}, nil
}

// Samples maps the stats of the default window (one month of blocks).
// Fields the node omits for an empty window come out as NaN.
//
func (c *ChainTxStatsCollector) Samples(res *node.Result) ([]metric.Sample, error) {
	stats, ok := res.Value.(*node.ChainTxStats)
	if !ok {
		return nil, unexpectedType(res.Value)
	}

	s := newSampler(c.Name(), res.Time)

	s.add(chainTransactionsDesc, float64(stats.TxCount))
	s.add(chainTxRateDesc, optionalFloat64(stats.TxRate))
	s.add(chainTxWindowBlocksDesc, float64(stats.WindowBlockCount))
	s.add(chainTxWindowTransactionsDesc, optionalInt64(stats.WindowTxCount))
	s.add(chainTxWindowIntervalDesc, optionalInt64(stats.WindowInterval))

	return s.samples, nil
}
