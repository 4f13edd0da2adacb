package collector

import (
	"fmt"

	"github.com/cirocosta/btc-exporter/pkg/metric"
	"github.com/cirocosta/btc-exporter/pkg/node"
)

var (
	latestBlockTxsDesc = metric.MustNewDescriptor(
		"btc_latest_block_transactions",
		"number of transactions in the latest block",
		metric.Gauge,
	)

	latestBlockSizeDesc = metric.MustNewDescriptor(
		"btc_latest_block_size_bytes",
		"total size of all non-coinbase transactions in the latest block",
		metric.Gauge,
	)

	latestBlockWeightDesc = metric.MustNewDescriptor(
		"btc_latest_block_weight",
		"total weight of all non-coinbase transactions in the latest block",
		metric.Gauge,
	)

	latestBlockTotalFeeDesc = metric.MustNewDescriptor(
		"btc_latest_block_total_fee_sat",
		"sum of the fees paid in the latest block",
		metric.Gauge,
	)

	latestBlockSubsidyDesc = metric.MustNewDescriptor(
		"btc_latest_block_subsidy_sat",
		"block subsidy of the latest block",
		metric.Gauge,
	)

	latestBlockInputsDesc = metric.MustNewDescriptor(
		"btc_latest_block_inputs",
		"number of inputs (excluding coinbase) in the latest block",
		metric.Gauge,
	)

	latestBlockOutputsDesc = metric.MustNewDescriptor(
		"btc_latest_block_outputs",
		"number of outputs in the latest block",
		metric.Gauge,
	)

	latestBlockTotalOutDesc = metric.MustNewDescriptor(
		"btc_latest_block_total_out_sat",
		"total amount in all outputs (excluding coinbase) of the latest block",
		metric.Gauge,
	)

	latestBlockFeeDesc = metric.MustNewDescriptor(
		"btc_latest_block_fee_sat",
		"fee paid by the transactions of the latest block",
		metric.Gauge, "stat",
	)

	latestBlockFeeRateBoundsDesc = metric.MustNewDescriptor(
		"btc_latest_block_fee_rate_bounds_sat_per_vb",
		"minimum and maximum fee rate of the transactions in the latest block",
		metric.Gauge, "stat",
	)

	latestBlockSegwitSizeDesc = metric.MustNewDescriptor(
		"btc_latest_block_segwit_size_bytes",
		"total size of all segwit transactions in the latest block",
		metric.Gauge,
	)

	latestBlockSegwitWeightDesc = metric.MustNewDescriptor(
		"btc_latest_block_segwit_weight",
		"total weight of all segwit transactions in the latest block",
		metric.Gauge,
	)

	latestBlockUTXOIncreaseDesc = metric.MustNewDescriptor(
		"btc_latest_block_utxo_increase",
		"increase or decrease in the number of unspent outputs "+
			"caused by the latest block",
		metric.Gauge,
	)

	latestBlockSegwitTxsDesc = metric.MustNewDescriptor(
		"btc_latest_block_segwit_transactions",
		"number of segwit transactions in the latest block",
		metric.Gauge,
	)

	latestBlockAvgFeeRateDesc = metric.MustNewDescriptor(
		"btc_latest_block_avg_fee_rate_sat_per_vb",
		"average fee rate of the latest block",
		metric.Gauge,
	)

	latestBlockFeeRateDesc = metric.MustNewDescriptor(
		"btc_latest_block_fee_rate_sat_per_vb",
		"fee rate percentiles of the latest block, weighted by "+
			"transaction size",
		metric.Gauge, "percentile",
	)
)

// feeRatePercentiles are the percentiles `getblockstats` reports
// `feerate_percentiles` for, in order.
//
var feeRatePercentiles = []string{"10", "25", "50", "75", "90"}

var (
	feeStats         = []string{"avg", "median", "min", "max"}
	feeRateBoundStat = []string{"min", "max"}
)

func labelSets(values []string) [][]string {
	res := make([][]string, len(values))
	for idx, v := range values {
		res[idx] = []string{v}
	}

	return res
}

// BlockStatsCollector reports statistics about the block at the tip of the
// chain. The tip's height comes from the blockchain group, so it's only
// queried once that one succeeded.
//
type BlockStatsCollector struct {
	baseGroup
}

var _ GroupCollector = (*BlockStatsCollector)(nil)

func NewBlockStatsCollector() *BlockStatsCollector {
	return &BlockStatsCollector{
		baseGroup: baseGroup{
			name: "block_stats",
			descs: []*metric.Descriptor{
				latestBlockTxsDesc,
				latestBlockSizeDesc,
				latestBlockWeightDesc,
				latestBlockTotalFeeDesc,
				latestBlockSubsidyDesc,
				latestBlockInputsDesc,
				latestBlockOutputsDesc,
				latestBlockTotalOutDesc,
				latestBlockFeeDesc,
				latestBlockFeeRateBoundsDesc,
				latestBlockSegwitSizeDesc,
				latestBlockSegwitWeightDesc,
				latestBlockUTXOIncreaseDesc,
				latestBlockSegwitTxsDesc,
				latestBlockAvgFeeRateDesc,
				latestBlockFeeRateDesc,
			},
			known: map[*metric.Descriptor][][]string{
				latestBlockFeeDesc:           labelSets(feeStats),
				latestBlockFeeRateBoundsDesc: labelSets(feeRateBoundStat),
				latestBlockFeeRateDesc:       labelSets(feeRatePercentiles),
			},
		},
	}
}

func (c *BlockStatsCollector) DependsOn() string {
	return "blockchain"
}

func (c *BlockStatsCollector) Request(deps map[string]*node.Result) (node.Request, error) {
	res, ok := deps[c.DependsOn()]
	if !ok || res == nil {
		return node.Request{}, fmt.Errorf("missing '%s' result", c.DependsOn())
	}

	info, ok := res.Value.(*node.BlockchainInfo)
	if !ok {
		return node.Request{}, unexpectedType(res.Value)
	}

	return node.Request{
		Group:    c.Name(),
		Method:   "getblockstats",
		Params:   []interface{}{info.Blocks},
		Response: func() interface{} { return new(node.BlockStats) },
	}, nil
}

func (c *BlockStatsCollector) Samples(res *node.Result) ([]metric.Sample, error) {
	stats, ok := res.Value.(*node.BlockStats)
	if !ok {
		return nil, unexpectedType(res.Value)
	}

	if len(stats.FeeRatePercentiles) != len(feeRatePercentiles) {
		return nil, fmt.Errorf("expected %d feerate percentiles, got %d",
			len(feeRatePercentiles), len(stats.FeeRatePercentiles))
	}

	s := newSampler(c.Name(), res.Time)

	s.add(latestBlockTxsDesc, float64(stats.Txs))
	s.add(latestBlockSizeDesc, float64(stats.TotalSize))
	s.add(latestBlockWeightDesc, float64(stats.TotalWeight))
	s.add(latestBlockTotalFeeDesc, float64(stats.TotalFee))
	s.add(latestBlockSubsidyDesc, float64(stats.Subsidy))
	s.add(latestBlockInputsDesc, float64(stats.Ins))
	s.add(latestBlockOutputsDesc, float64(stats.Outs))
	s.add(latestBlockTotalOutDesc, float64(stats.TotalOut))
	s.add(latestBlockSegwitSizeDesc, float64(stats.SegwitTotalSize))
	s.add(latestBlockSegwitWeightDesc, float64(stats.SegwitTotalWeight))

	for idx, v := range []int64{stats.AvgFee, stats.MedianFee, stats.MinFee, stats.MaxFee} {
		s.add(latestBlockFeeDesc, float64(v), feeStats[idx])
	}

	s.add(latestBlockFeeRateBoundsDesc, float64(stats.MinFeeRate), "min")
	s.add(latestBlockFeeRateBoundsDesc, float64(stats.MaxFeeRate), "max")
	s.add(latestBlockUTXOIncreaseDesc, float64(stats.UTXOIncrease))
	s.add(latestBlockSegwitTxsDesc, float64(stats.SegwitTxs))
	s.add(latestBlockAvgFeeRateDesc, float64(stats.AvgFeeRate))

	for idx, p := range feeRatePercentiles {
		s.add(latestBlockFeeRateDesc, float64(stats.FeeRatePercentiles[idx]), p)
	}

	return s.samples, nil
}
