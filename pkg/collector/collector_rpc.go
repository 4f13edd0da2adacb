package collector

import (
	"sort"
	"time"

	"github.com/cirocosta/btc-exporter/pkg/metric"
	"github.com/cirocosta/btc-exporter/pkg/node"
)

var (
	rpcActiveCommandsDesc = metric.MustNewDescriptor(
		"btc_rpc_active_commands",
		"number of rpc commands that a particular method has "+
			"in flight",
		metric.Gauge, "method",
	)

	rpcActiveCommandSecondsDesc = metric.MustNewDescriptor(
		"btc_rpc_active_command_seconds",
		"for how long the oldest in-flight command of a "+
			"particular method has been running",
		metric.Gauge, "method",
	)
)

type RPCCollector struct {
	baseGroup
}

var _ GroupCollector = (*RPCCollector)(nil)

func NewRPCCollector() *RPCCollector {
	// `getrpcinfo` always reports itself.
	self := [][]string{{"getrpcinfo"}}

	return &RPCCollector{
		baseGroup: baseGroup{
			name: "rpc",
			descs: []*metric.Descriptor{
				rpcActiveCommandsDesc,
				rpcActiveCommandSecondsDesc,
			},
			known: map[*metric.Descriptor][][]string{
				rpcActiveCommandsDesc:       self,
				rpcActiveCommandSecondsDesc: self,
			},
		},
	}
}

func (c *RPCCollector) Request(_ map[string]*node.Result) (node.Request, error) {
	return node.Request{
		Group:    c.Name(),
		Method:   "getrpcinfo",
		Response: func() interface{} { return new(node.RPCInfo) },
	}, nil
}

func (c *RPCCollector) Samples(res *node.Result) ([]metric.Sample, error) {
	info, ok := res.Value.(*node.RPCInfo)
	if !ok {
		return nil, unexpectedType(res.Value)
	}

	var (
		counts  = map[string]float64{}
		longest = map[string]time.Duration{}
	)

	for _, cmd := range info.ActiveCommands {
		counts[cmd.Method]++

		d := time.Duration(cmd.Duration) * time.Microsecond
		if d > longest[cmd.Method] {
			longest[cmd.Method] = d
		}
	}

	methods := make([]string, 0, len(counts))
	for method := range counts {
		methods = append(methods, method)
	}
	sort.Strings(methods)

	s := newSampler(c.Name(), res.Time)
	for _, method := range methods {
		s.add(rpcActiveCommandsDesc, counts[method], method)
		s.add(rpcActiveCommandSecondsDesc, longest[method].Seconds(), method)
	}

	return s.samples, nil
}
