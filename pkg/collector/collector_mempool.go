package collector

import (
	"github.com/cirocosta/btc-exporter/pkg/metric"
	"github.com/cirocosta/btc-exporter/pkg/node"
)

var (
	mempoolTransactionsDesc = metric.MustNewDescriptor(
		"btc_mempool_transactions",
		"number of transactions in the mempool",
		metric.Gauge,
	)

	mempoolVsizeDesc = metric.MustNewDescriptor(
		"btc_mempool_vsize_bytes",
		"sum of the virtual sizes of the transactions in the mempool",
		metric.Gauge,
	)

	mempoolUsageDesc = metric.MustNewDescriptor(
		"btc_mempool_usage_bytes",
		"total memory usage of the mempool",
		metric.Gauge,
	)

	mempoolMaxDesc = metric.MustNewDescriptor(
		"btc_mempool_max_bytes",
		"maximum memory usage of the mempool",
		metric.Gauge,
	)

	mempoolMinFeeDesc = metric.MustNewDescriptor(
		"btc_mempool_min_fee_btc_per_kvb",
		"minimum fee rate for a transaction to be accepted into the mempool",
		metric.Gauge,
	)

	mempoolMinRelayTxFeeDesc = metric.MustNewDescriptor(
		"btc_mempool_min_relay_tx_fee_btc_per_kvb",
		"minimum fee rate for relaying transactions",
		metric.Gauge,
	)

	mempoolIncrementalRelayFeeDesc = metric.MustNewDescriptor(
		"btc_mempool_incremental_relay_fee_btc_per_kvb",
		"minimum fee rate increment for mempool limiting or replacement",
		metric.Gauge,
	)

	mempoolFullRBFDesc = metric.MustNewDescriptor(
		"btc_mempool_full_rbf",
		"whether the mempool accepts replacements of any transaction (1) or not (0)",
		metric.Gauge,
	)

	mempoolTotalFeeDesc = metric.MustNewDescriptor(
		"btc_mempool_total_fee_btc",
		"total fees of the transactions in the mempool",
		metric.Gauge,
	)

	mempoolUnbroadcastDesc = metric.MustNewDescriptor(
		"btc_mempool_unbroadcast_transactions",
		"number of transactions that haven't passed initial broadcast yet",
		metric.Gauge,
	)
)

type MempoolCollector struct {
	baseGroup
}

var _ GroupCollector = (*MempoolCollector)(nil)

func NewMempoolCollector() *MempoolCollector {
	return &MempoolCollector{
		baseGroup: baseGroup{
			name: "mempool",
			descs: []*metric.Descriptor{
				mempoolTransactionsDesc,
				mempoolVsizeDesc,
				mempoolUsageDesc,
				mempoolMaxDesc,
				mempoolMinFeeDesc,
				mempoolMinRelayTxFeeDesc,
				mempoolIncrementalRelayFeeDesc,
				mempoolFullRBFDesc,
				mempoolTotalFeeDesc,
				mempoolUnbroadcastDesc,
			},
		},
	}
}

func (c *MempoolCollector) Request(_ map[string]*node.Result) (node.Request, error) {
	return node.Request{
		Group:    c.Name(),
		Method:   "getmempoolinfo",
		Response: func() interface{} { return new(node.MempoolInfo) },
	}, nil
}

func (c *MempoolCollector) Samples(res *node.Result) ([]metric.Sample, error) {
	info, ok := res.Value.(*node.MempoolInfo)
	if !ok {
		return nil, unexpectedType(res.Value)
	}

	s := newSampler(c.Name(), res.Time)

	s.add(mempoolTransactionsDesc, float64(info.Size))
	s.add(mempoolVsizeDesc, float64(info.Bytes))
	s.add(mempoolUsageDesc, float64(info.Usage))
	s.add(mempoolMaxDesc, float64(info.MaxMempool))
	s.add(mempoolMinFeeDesc, info.MempoolMinFee)
	s.add(mempoolMinRelayTxFeeDesc, info.MinRelayTxFee)
	s.add(mempoolIncrementalRelayFeeDesc, info.IncrementalRelayFee)
	s.add(mempoolFullRBFDesc, boolToFloat64(info.FullRBF))
	s.add(mempoolTotalFeeDesc, info.TotalFee)
	s.add(mempoolUnbroadcastDesc, float64(info.UnbroadcastCount))

	return s.samples, nil
}
