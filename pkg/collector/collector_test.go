package collector_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cirocosta/btc-exporter/pkg/collector"
	"github.com/cirocosta/btc-exporter/pkg/metric"
	"github.com/cirocosta/btc-exporter/pkg/node"
	"github.com/cirocosta/btc-exporter/pkg/node/mock"
	"github.com/cirocosta/btc-exporter/pkg/rpc"
)

var responses = map[string]string{
	"getblockchaininfo": `{"chain":"main","blocks":800000,"headers":800001,
		"difficulty":53911173001054.59,"verificationprogress":0.9999,
		"initialblockdownload":false,"size_on_disk":600000000000,"pruned":false}`,
	"getmempoolinfo": `{"loaded":true,"size":1200,"bytes":500000,"usage":2000000,
		"total_fee":0.5,"maxmempool":300000000,"mempoolminfee":0.00001,
		"minrelaytxfee":0.00001,"incrementalrelayfee":0.00002,
		"unbroadcastcount":0,"fullrbf":true}`,
	"getnetworkinfo": `{"version":250000,"subversion":"/Satoshi:25.0.0/",
		"protocolversion":70016,"timeoffset":0,"connections":10,
		"connections_in":2,"connections_out":8,"networkactive":true,
		"relayfee":0.00001,"incrementalfee":0.00001}`,
	"getpeerinfo": `[
		{"id":1,"addr":"1.2.3.4:8333","inbound":false,"bytessent":100,"bytesrecv":200,"pingtime":0.1},
		{"id":2,"addr":"5.6.7.8:8333","inbound":true,"bytessent":300,"bytesrecv":400,"pingtime":0.3},
		{"id":3,"addr":"abcdefghij.onion:8333","inbound":false,"bytessent":0,"bytesrecv":0}
	]`,
	"getmininginfo": `{"blocks":800000,"difficulty":53911173001054.59,
		"networkhashps":6.2e+20,"pooledtx":1200,"chain":"main"}`,
	"getchaintxstats": `{"time":1690000000,"txcount":870000000,
		"window_final_block_height":800000,"window_block_count":4320,
		"window_tx_count":15000000,"window_interval":2600000,"txrate":5.77}`,
	"getnettotals":     `{"totalbytesrecv":1000,"totalbytessent":2000,"timemillis":1690000000000}`,
	"estimatesmartfee": `{"feerate":0.0002,"blocks":2}`,
	"getchaintips": `[
		{"height":800000,"hash":"00aa","branchlen":0,"status":"active"},
		{"height":799990,"hash":"00bb","branchlen":1,"status":"valid-fork"}
	]`,
	"uptime":     `3600`,
	"getrpcinfo": `{"active_commands":[{"method":"getrpcinfo","duration":50}],"logpath":"/tmp/debug.log"}`,
	"getblockstats": `{"height":800000,"txs":3000,"ins":7000,"outs":8000,
		"total_size":1500000,"total_weight":3990000,"totalfee":12000000,
		"subsidy":625000000,"avgfeerate":20,"feerate_percentiles":[5,10,15,30,60],
		"swtxs":2800,"utxo_increase":1000,"total_out":150000000000,
		"avgfee":4000,"medianfee":2500,"minfee":150,"maxfee":900000,
		"minfeerate":1,"maxfeerate":450,"swtotal_size":1300000,
		"swtotal_weight":3500000}`,
}

// fakeQuerier answers every request with a canned response, unless an
// error was set for its method.
//
type fakeQuerier struct {
	now time.Time

	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     map[string]int
	params    map[string][]interface{}
}

func newFakeQuerier(now time.Time) *fakeQuerier {
	q := &fakeQuerier{
		now:       now,
		responses: map[string]string{},
		errs:      map[string]error{},
		calls:     map[string]int{},
		params:    map[string][]interface{}{},
	}

	for method, body := range responses {
		q.responses[method] = body
	}

	return q
}

func (q *fakeQuerier) respond(method, body string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.responses[method] = body
}

func (q *fakeQuerier) lastParams(method string) []interface{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.params[method]
}

func (q *fakeQuerier) fail(method string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.errs[method] = err
}

func (q *fakeQuerier) failAll(err error) {
	for method := range responses {
		q.fail(method, err)
	}
}

func (q *fakeQuerier) called(method string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.calls[method]
}

func (q *fakeQuerier) Query(_ context.Context, req node.Request) (*node.Result, error) {
	q.mu.Lock()
	q.calls[req.Method]++
	q.params[req.Method] = req.Params
	err := q.errs[req.Method]
	body, ok := q.responses[req.Method]
	q.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("no response for '%s'", req.Method)
	}

	v := req.Response()
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return nil, &rpc.DecodeError{Method: req.Method, Err: err}
	}

	return &node.Result{Group: req.Group, Value: v, Time: q.now}, nil
}

var now = time.Date(2023, 7, 22, 10, 0, 0, 0, time.UTC)

func newCollector(t *testing.T, querier node.Querier, opts ...collector.Option) *collector.Collector {
	t.Helper()

	opts = append([]collector.Option{
		collector.WithLogger(logr.Discard()),
		collector.WithClock(func() time.Time { return now }),
	}, opts...)

	c, err := collector.New(querier, opts...)
	require.NoError(t, err)

	return c
}

func lookup(t *testing.T, s *metric.Snapshot, name string, labelValues ...string) metric.Sample {
	t.Helper()

	sample, ok := s.Lookup(name, labelValues...)
	require.True(t, ok, "%s%v not found", name, labelValues)

	return sample
}

func TestRunCycle_everyMetricPresent(t *testing.T) {
	countries := map[string]string{
		"1.2.3.4": "BR",
		"5.6.7.8": "BR",
	}

	c := newCollector(t, newFakeQuerier(now),
		collector.WithCountryMapper(func(ip net.IP) (string, error) {
			return countries[ip.String()], nil
		}),
	)

	snapshot := c.RunCycle(context.Background())
	assert.EqualValues(t, 1, snapshot.Seq())

	for _, desc := range c.Catalog().Descriptors() {
		series := snapshot.Series(desc.Name())
		require.NotEmpty(t, series, desc.Name())

		for _, sample := range series {
			assert.False(t, sample.Stale, desc.Name())
		}
	}

	for _, tc := range []struct {
		name        string
		labelValues []string
		expected    float64
	}{
		{"btc_block_height", nil, 800000},
		{"btc_headers", nil, 800001},
		{"btc_chain_info", []string{"main"}, 1},
		{"btc_mempool_transactions", nil, 1200},
		{"btc_mempool_min_relay_tx_fee_btc_per_kvb", nil, 0.00001},
		{"btc_mempool_incremental_relay_fee_btc_per_kvb", nil, 0.00002},
		{"btc_mempool_full_rbf", nil, 1},
		{"btc_connections", []string{"in"}, 2},
		{"btc_connections", []string{"out"}, 8},
		{"btc_peers", []string{"in"}, 1},
		{"btc_peers", []string{"out"}, 2},
		{"btc_peers_sent_bytes", nil, 400},
		{"btc_peers_by_country", []string{"BR"}, 2},
		{"btc_peers_by_country", []string{"unknown"}, 1},
		{"btc_network_hash_per_second", nil, 6.2e20},
		{"btc_chain_tx_rate_per_second", nil, 5.77},
		{"btc_net_sent_bytes_total", nil, 2000},
		{"btc_fee_estimate_btc_per_kvb", []string{"6"}, 0.0002},
		{"btc_fee_estimate_btc_per_kvb", []string{"144"}, 0.0002},
		{"btc_chain_tips", []string{"active"}, 1},
		{"btc_chain_tips", []string{"valid-fork"}, 1},
		{"btc_uptime_seconds", nil, 3600},
		{"btc_rpc_active_commands", []string{"getrpcinfo"}, 1},
		{"btc_rpc_active_command_seconds", []string{"getrpcinfo"}, 0.00005},
		{"btc_latest_block_transactions", nil, 3000},
		{"btc_latest_block_fee_rate_sat_per_vb", []string{"50"}, 15},
		{"btc_latest_block_fee_rate_sat_per_vb", []string{"90"}, 60},
		{"btc_latest_block_total_out_sat", nil, 150000000000},
		{"btc_latest_block_fee_sat", []string{"avg"}, 4000},
		{"btc_latest_block_fee_sat", []string{"median"}, 2500},
		{"btc_latest_block_fee_sat", []string{"min"}, 150},
		{"btc_latest_block_fee_sat", []string{"max"}, 900000},
		{"btc_latest_block_fee_rate_bounds_sat_per_vb", []string{"min"}, 1},
		{"btc_latest_block_fee_rate_bounds_sat_per_vb", []string{"max"}, 450},
		{"btc_latest_block_segwit_size_bytes", nil, 1300000},
		{"btc_latest_block_segwit_weight", nil, 3500000},
		{"btc_exporter_node_up", nil, 1},
		{"btc_exporter_auth_failure", nil, 0},
		{"btc_exporter_cycles_total", nil, 1},
		{"btc_exporter_group_stale", []string{"blockchain"}, 0},
		{"btc_exporter_collection_errors_total", []string{"blockchain", "parse"}, 0},
	} {
		sample := lookup(t, snapshot, tc.name, tc.labelValues...)
		assert.InDelta(t, tc.expected, sample.Value, 1e-9, "%s%v", tc.name, tc.labelValues)
	}
}

func TestRunCycle_blockStatsQueriesTip(t *testing.T) {
	querier := newFakeQuerier(now)
	c := newCollector(t, querier)

	c.RunCycle(context.Background())

	assert.Equal(t, []interface{}{int64(800000)}, querier.lastParams("getblockstats"))
	assert.Equal(t, 4, querier.called("estimatesmartfee"))
}

func TestRunCycle_nodeUnreachable(t *testing.T) {
	querier := newFakeQuerier(now)
	c := newCollector(t, querier)

	c.RunCycle(context.Background())

	querier.failAll(errors.New("dial tcp 127.0.0.1:8332: connection refused"))

	snapshot := c.RunCycle(context.Background())

	height := lookup(t, snapshot, "btc_block_height")
	assert.Equal(t, 800000.0, height.Value)
	assert.True(t, height.Stale)

	assert.Equal(t, 0.0, lookup(t, snapshot, "btc_exporter_node_up").Value)
	assert.Equal(t, 0.0, lookup(t, snapshot, "btc_exporter_auth_failure").Value)
	assert.Equal(t, 1.0, lookup(t, snapshot, "btc_exporter_group_stale", "blockchain").Value)
	assert.Equal(t, 1.0, lookup(t, snapshot,
		"btc_exporter_group_consecutive_failures", "blockchain").Value)
	assert.Equal(t, 1.0, lookup(t, snapshot,
		"btc_exporter_collection_errors_total", "blockchain", "transient_network").Value)

	health := lookup(t, snapshot, "btc_exporter_cycles_total")
	assert.False(t, health.Stale)
	assert.Equal(t, 2.0, health.Value)

	snapshot = c.RunCycle(context.Background())

	assert.Equal(t, 800000.0, lookup(t, snapshot, "btc_block_height").Value)
	assert.Equal(t, 2.0, lookup(t, snapshot,
		"btc_exporter_group_consecutive_failures", "blockchain").Value)
	assert.Equal(t, 2.0, lookup(t, snapshot,
		"btc_exporter_collection_errors_total", "blockchain", "transient_network").Value)

	// recovery resets the streak but not the counter.
	querier.failAll(nil)

	snapshot = c.RunCycle(context.Background())

	height = lookup(t, snapshot, "btc_block_height")
	assert.False(t, height.Stale)
	assert.Equal(t, 0.0, lookup(t, snapshot,
		"btc_exporter_group_consecutive_failures", "blockchain").Value)
	assert.Equal(t, 2.0, lookup(t, snapshot,
		"btc_exporter_collection_errors_total", "blockchain", "transient_network").Value)
}

func TestRunCycle_parseErrorIsolated(t *testing.T) {
	querier := newFakeQuerier(now)
	querier.fail("getmempoolinfo", &rpc.DecodeError{
		Method: "getmempoolinfo",
		Err:    errors.New("json: cannot unmarshal string into Go value of type int64"),
	})

	c := newCollector(t, querier)
	snapshot := c.RunCycle(context.Background())

	mempool := lookup(t, snapshot, "btc_mempool_transactions")
	assert.True(t, mempool.Stale)
	assert.True(t, math.IsNaN(mempool.Value))

	height := lookup(t, snapshot, "btc_block_height")
	assert.False(t, height.Stale)
	assert.Equal(t, 800000.0, height.Value)

	assert.Equal(t, 1.0, lookup(t, snapshot, "btc_exporter_node_up").Value)
	assert.Equal(t, 1.0, lookup(t, snapshot, "btc_exporter_group_stale", "mempool").Value)
	assert.Equal(t, 0.0, lookup(t, snapshot, "btc_exporter_group_stale", "network").Value)
	assert.Equal(t, 1.0, lookup(t, snapshot,
		"btc_exporter_collection_errors_total", "mempool", "parse").Value)
}

func TestRunCycle_protocolError(t *testing.T) {
	querier := newFakeQuerier(now)
	querier.fail("getrpcinfo", &rpc.Error{Code: -32601, Message: "Method not found"})

	c := newCollector(t, querier)
	snapshot := c.RunCycle(context.Background())

	assert.Equal(t, 1.0, lookup(t, snapshot,
		"btc_exporter_collection_errors_total", "rpc", "rpc_protocol").Value)
	assert.True(t, lookup(t, snapshot, "btc_rpc_active_commands", "getrpcinfo").Stale)
}

func TestRunCycle_methodForbidden(t *testing.T) {
	querier := newFakeQuerier(now)
	querier.fail("getrpcinfo", &rpc.StatusError{StatusCode: http.StatusForbidden})

	c := newCollector(t, querier)
	snapshot := c.RunCycle(context.Background())

	assert.Equal(t, 0.0, lookup(t, snapshot, "btc_exporter_auth_failure").Value)
	assert.Equal(t, 1.0, lookup(t, snapshot, "btc_exporter_node_up").Value)
	assert.Equal(t, 1.0, lookup(t, snapshot,
		"btc_exporter_collection_errors_total", "rpc", "rpc_protocol").Value)
	assert.Equal(t, 0.0, lookup(t, snapshot,
		"btc_exporter_collection_errors_total", "rpc", "auth_failure").Value)
	assert.Equal(t, 0.0, lookup(t, snapshot, "btc_exporter_group_stale", "blockchain").Value)
}

func TestRunCycle_authFailure(t *testing.T) {
	ctrl := gomock.NewController(t)

	querier := mock.NewMockQuerier(ctrl)
	querier.EXPECT().
		Query(gomock.Any(), gomock.Any()).
		Return(nil, rpc.ErrUnauthorized).
		AnyTimes()

	c := newCollector(t, querier)
	snapshot := c.RunCycle(context.Background())

	assert.Equal(t, 1.0, lookup(t, snapshot, "btc_exporter_auth_failure").Value)
	assert.Equal(t, 0.0, lookup(t, snapshot, "btc_exporter_node_up").Value)
	assert.Equal(t, 1.0, lookup(t, snapshot,
		"btc_exporter_collection_errors_total", "uptime", "auth_failure").Value)

	// block_stats never got to query, but fails for the same reason.
	assert.Equal(t, 1.0, lookup(t, snapshot,
		"btc_exporter_collection_errors_total", "block_stats", "auth_failure").Value)

	height := lookup(t, snapshot, "btc_block_height")
	assert.True(t, height.Stale)
	assert.True(t, math.IsNaN(height.Value))
}

func TestRunCycle_dependencyFailure(t *testing.T) {
	querier := newFakeQuerier(now)
	querier.fail("getblockchaininfo", context.DeadlineExceeded)

	c := newCollector(t, querier)
	snapshot := c.RunCycle(context.Background())

	assert.Zero(t, querier.called("getblockstats"))

	assert.Equal(t, 1.0, lookup(t, snapshot, "btc_exporter_group_stale", "block_stats").Value)
	assert.Equal(t, 1.0, lookup(t, snapshot,
		"btc_exporter_collection_errors_total", "block_stats", "transient_network").Value)

	for _, sample := range snapshot.Series("btc_latest_block_fee_rate_sat_per_vb") {
		assert.True(t, sample.Stale)
		assert.True(t, math.IsNaN(sample.Value))
	}
	assert.Len(t, snapshot.Series("btc_latest_block_fee_rate_sat_per_vb"), 5)
}

func TestRunCycle_feeEstimateUnavailable(t *testing.T) {
	querier := newFakeQuerier(now)
	c := newCollector(t, querier)

	querier.respond("estimatesmartfee",
		`{"errors":["Insufficient data or no feerate found"],"blocks":0}`)

	snapshot := c.RunCycle(context.Background())

	sample := lookup(t, snapshot, "btc_fee_estimate_btc_per_kvb", "6")
	assert.False(t, sample.Stale)
	assert.True(t, math.IsNaN(sample.Value))
}

func TestInitial(t *testing.T) {
	c := newCollector(t, newFakeQuerier(now))

	snapshot := c.Initial()
	assert.EqualValues(t, 0, snapshot.Seq())

	for _, desc := range c.Catalog().Descriptors() {
		require.NotEmpty(t, snapshot.Series(desc.Name()), desc.Name())
	}

	height := lookup(t, snapshot, "btc_block_height")
	assert.True(t, height.Stale)
	assert.True(t, math.IsNaN(height.Value))

	assert.Equal(t, 0.0, lookup(t, snapshot, "btc_exporter_node_up").Value)
	assert.Equal(t, 1.0, lookup(t, snapshot, "btc_exporter_group_stale", "peers").Value)
	assert.Len(t, snapshot.Series("btc_peers_ping_seconds"), 3)
	assert.Len(t, snapshot.Series("btc_fee_estimate_btc_per_kvb"), len(collector.FeeEstimateTargets))
}

func TestGroups(t *testing.T) {
	c := newCollector(t, newFakeQuerier(now))

	assert.Equal(t, []string{
		"blockchain", "mempool", "network", "peers", "mining",
		"chain_tx_stats", "net_totals",
		"fee_estimate_2", "fee_estimate_6", "fee_estimate_12", "fee_estimate_144",
		"chain_tips", "uptime", "rpc", "block_stats",
	}, c.Groups())
}
