package collector

import (
	"fmt"
	"math"
	"strconv"

	"github.com/cirocosta/btc-exporter/pkg/metric"
	"github.com/cirocosta/btc-exporter/pkg/node"
)

// FeeEstimateTargets are the confirmation targets (in blocks) we ask the
// node to estimate fee rates for.
//
var FeeEstimateTargets = []int{2, 6, 12, 144}

var feeEstimateDesc = metric.MustNewDescriptor(
	"btc_fee_estimate_btc_per_kvb",
	"estimated fee rate for a transaction to confirm within `target` "+
		"blocks (NaN when the node has no estimate)",
	metric.Gauge, "target",
)

// FeeEstimateCollector estimates the fee rate for a single confirmation
// target. There's one group per target so that a failing estimate only
// affects its own series.
//
type FeeEstimateCollector struct {
	baseGroup

	target int
}

var _ GroupCollector = (*FeeEstimateCollector)(nil)

func NewFeeEstimateCollector(target int) *FeeEstimateCollector {
	return &FeeEstimateCollector{
		baseGroup: baseGroup{
			name:  fmt.Sprintf("fee_estimate_%d", target),
			descs: []*metric.Descriptor{feeEstimateDesc},
			known: map[*metric.Descriptor][][]string{
				feeEstimateDesc: {{strconv.Itoa(target)}},
			},
		},
		target: target,
	}
}

func (c *FeeEstimateCollector) Request(_ map[string]*node.Result) (node.Request, error) {
	return node.Request{
		Group:    c.Name(),
		Method:   "estimatesmartfee",
		Params:   []interface{}{c.target},
		Response: func() interface{} { return new(node.SmartFeeEstimate) },
	}, nil
}

func (c *FeeEstimateCollector) Samples(res *node.Result) ([]metric.Sample, error) {
	estimate, ok := res.Value.(*node.SmartFeeEstimate)
	if !ok {
		return nil, unexpectedType(res.Value)
	}

	s := newSampler(c.Name(), res.Time)

	value := math.NaN()
	if estimate.FeeRate != nil {
		value = *estimate.FeeRate
	}

	s.add(feeEstimateDesc, value, strconv.Itoa(c.target))

	return s.samples, nil
}
