package collector

import (
	"github.com/cirocosta/btc-exporter/pkg/metric"
	"github.com/cirocosta/btc-exporter/pkg/node"
)

var (
	blockHeightDesc = metric.MustNewDescriptor(
		"btc_block_height",
		"height of the most-work fully-validated chain",
		metric.Gauge,
	)

	headersDesc = metric.MustNewDescriptor(
		"btc_headers",
		"number of validated headers",
		metric.Gauge,
	)

	difficultyDesc = metric.MustNewDescriptor(
		"btc_difficulty",
		"current proof-of-work difficulty",
		metric.Gauge,
	)

	verificationProgressDesc = metric.MustNewDescriptor(
		"btc_verification_progress",
		"estimate of verification progress [0..1]",
		metric.Gauge,
	)

	sizeOnDiskDesc = metric.MustNewDescriptor(
		"btc_size_on_disk_bytes",
		"estimated size of the block and undo files on disk",
		metric.Gauge,
	)

	initialBlockDownloadDesc = metric.MustNewDescriptor(
		"btc_initial_block_download",
		"whether the node is in initial block download",
		metric.Gauge,
	)

	prunedDesc = metric.MustNewDescriptor(
		"btc_chain_pruned",
		"whether the blocks are subject to pruning",
		metric.Gauge,
	)

	chainInfoDesc = metric.MustNewDescriptor(
		"btc_chain_info",
		"chain the node is following (always 1)",
		metric.Gauge, "chain",
	)
)

type BlockchainCollector struct {
	baseGroup
}

var _ GroupCollector = (*BlockchainCollector)(nil)

func NewBlockchainCollector() *BlockchainCollector {
	return &BlockchainCollector{
		baseGroup: baseGroup{
			name: "blockchain",
			descs: []*metric.Descriptor{
				blockHeightDesc,
				headersDesc,
				difficultyDesc,
				verificationProgressDesc,
				sizeOnDiskDesc,
				initialBlockDownloadDesc,
				prunedDesc,
				chainInfoDesc,
			},
		},
	}
}

func (c *BlockchainCollector) Request(_ map[string]*node.Result) (node.Request, error) {
	return node.Request{
		Group:    c.Name(),
		Method:   "getblockchaininfo",
		Response: func() interface{} { return new(node.BlockchainInfo) },
	}, nil
}

func (c *BlockchainCollector) Samples(res *node.Result) ([]metric.Sample, error) {
	info, ok := res.Value.(*node.BlockchainInfo)
	if !ok {
		return nil, unexpectedType(res.Value)
	}

	s := newSampler(c.Name(), res.Time)

	s.add(blockHeightDesc, float64(info.Blocks))
	s.add(headersDesc, float64(info.Headers))
	s.add(difficultyDesc, info.Difficulty)
	s.add(verificationProgressDesc, info.VerificationProgress)
	s.add(sizeOnDiskDesc, float64(info.SizeOnDisk))
	s.add(initialBlockDownloadDesc, boolToFloat64(info.InitialBlockDownload))
	s.add(prunedDesc, boolToFloat64(info.Pruned))
	s.add(chainInfoDesc, 1, info.Chain)

	return s.samples, nil
}
