package exporter_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirocosta/btc-exporter/pkg/exporter"
	"github.com/cirocosta/btc-exporter/pkg/metric"
)

var (
	blockHeight = metric.MustNewDescriptor(
		"btc_block_height", "height of the most-work fully-validated chain",
		metric.Gauge,
	)

	received = metric.MustNewDescriptor(
		"btc_net_received_bytes_total", "bytes received",
		metric.Counter,
	)

	peers = metric.MustNewDescriptor(
		"btc_peers", "number of connected peers",
		metric.Gauge, "direction",
	)
)

var collectedAt = time.Date(2023, 7, 22, 10, 0, 0, 0, time.UTC)

func catalog(t *testing.T) *metric.Catalog {
	t.Helper()

	c, err := metric.NewCatalog(blockHeight, received, peers)
	require.NoError(t, err)

	return c
}

func snapshot(t *testing.T, seq uint64, height float64) *metric.Snapshot {
	t.Helper()

	b := metric.NewBuilder(seq)
	for _, s := range []metric.Sample{
		{Desc: blockHeight, Value: height, Time: collectedAt, Group: "blockchain"},
		{Desc: received, Value: 1024, Time: collectedAt, Group: "net_totals"},
		{Desc: peers, LabelValues: []string{"in"}, Value: 3, Time: collectedAt, Group: "peers"},
		{Desc: peers, LabelValues: []string{"out"}, Value: 8, Time: collectedAt, Group: "peers"},
	} {
		require.NoError(t, b.Add(s))
	}

	return b.Build(collectedAt)
}

func newServer(t *testing.T, registry *metric.Registry, opts ...exporter.Option) *httptest.Server {
	t.Helper()

	opts = append([]exporter.Option{
		exporter.WithLogger(logr.Discard()),
		exporter.WithRuntimeMetrics(false),
	}, opts...)

	e, err := exporter.New(registry, catalog(t), opts...)
	require.NoError(t, err)

	srv := httptest.NewServer(e.Handler())
	t.Cleanup(srv.Close)

	return srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, string(body)
}

func TestMetrics_roundTrip(t *testing.T) {
	registry := metric.NewRegistry()
	registry.Publish(snapshot(t, 1, 800000))

	srv := newServer(t, registry)

	resp, body := get(t, srv.URL+"/metrics")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(
		resp.Header.Get("Content-Type"), "text/plain; version=0.0.4"),
		resp.Header.Get("Content-Type"),
	)

	assert.Contains(t, body, "# TYPE btc_block_height gauge\n")
	assert.Contains(t, body, "btc_block_height 800000\n")
	assert.Contains(t, body, "# TYPE btc_net_received_bytes_total counter\n")
	assert.Contains(t, body, "btc_net_received_bytes_total 1024\n")
	assert.Contains(t, body, `btc_peers{direction="in"} 3`+"\n")
	assert.Contains(t, body, `btc_peers{direction="out"} 8`+"\n")
}

func TestMetrics_timestamps(t *testing.T) {
	registry := metric.NewRegistry()
	registry.Publish(snapshot(t, 1, 800000))

	srv := newServer(t, registry, exporter.WithTimestamps(true))

	_, body := get(t, srv.URL+"/metrics")

	assert.Contains(t, body,
		fmt.Sprintf("btc_block_height 800000 %d\n", collectedAt.UnixMilli()))
}

func TestMetrics_servesLatestSnapshot(t *testing.T) {
	registry := metric.NewRegistry()
	srv := newServer(t, registry)

	_, body := get(t, srv.URL+"/metrics")
	assert.NotContains(t, body, "btc_block_height")

	registry.Publish(snapshot(t, 1, 800000))
	_, body = get(t, srv.URL+"/metrics")
	assert.Contains(t, body, "btc_block_height 800000\n")

	registry.Publish(snapshot(t, 2, 800001))
	_, body = get(t, srv.URL+"/metrics")
	assert.Contains(t, body, "btc_block_height 800001\n")
}

func TestMetrics_concurrentScrapesSeeSameSnapshot(t *testing.T) {
	registry := metric.NewRegistry()
	registry.Publish(snapshot(t, 1, 800000))

	srv := newServer(t, registry)

	const scrapes = 8

	var (
		wg     sync.WaitGroup
		bodies = make([]string, scrapes)
	)

	for i := 0; i < scrapes; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			resp, err := http.Get(srv.URL + "/metrics")
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			assert.NoError(t, err)

			bodies[i] = string(body)
		}(i)
	}

	wg.Wait()

	for i := 1; i < scrapes; i++ {
		assert.Equal(t, bodies[0], bodies[i])
	}
}

func TestMetrics_extraCollectors(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "btc_exporter_scheduler_skipped_ticks_total",
		Help: "skipped ticks",
	})
	counter.Add(2)

	srv := newServer(t, metric.NewRegistry(), exporter.WithCollectors(counter))

	_, body := get(t, srv.URL+"/metrics")
	assert.Contains(t, body, "btc_exporter_scheduler_skipped_ticks_total 2\n")
}

func TestHealthAndIndex(t *testing.T) {
	srv := newServer(t, metric.NewRegistry(), exporter.WithTelemetryPath("/telemetry"))

	for _, path := range []string{"/healthz", "/health"} {
		resp, body := get(t, srv.URL+path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "ok\n", body, path)
	}

	resp, body := get(t, srv.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `href="/telemetry"`)

	resp, _ = get(t, srv.URL+"/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = get(t, srv.URL+"/telemetry")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRun(t *testing.T) {
	registry := metric.NewRegistry()
	registry.Publish(snapshot(t, 1, 800000))

	e, err := exporter.New(registry, catalog(t),
		exporter.WithLogger(logr.Discard()),
		exporter.WithRuntimeMetrics(false),
		exporter.WithListenAddress("127.0.0.1:0"),
	)
	require.NoError(t, err)
	require.NoError(t, e.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx)
	}()

	_, body := get(t, "http://"+e.Addr().String()+"/metrics")
	assert.Contains(t, body, "btc_block_height 800000\n")

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("didn't shut down")
	}
}

func TestListen_addressInUse(t *testing.T) {
	first, err := exporter.New(metric.NewRegistry(), catalog(t),
		exporter.WithLogger(logr.Discard()),
		exporter.WithListenAddress("127.0.0.1:0"),
	)
	require.NoError(t, err)
	require.NoError(t, first.Listen())
	defer first.Close()

	second, err := exporter.New(metric.NewRegistry(), catalog(t),
		exporter.WithLogger(logr.Discard()),
		exporter.WithListenAddress(first.Addr().String()),
	)
	require.NoError(t, err)
	assert.Error(t, second.Listen())
}
