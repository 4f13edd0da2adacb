package exporter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cirocosta/btc-exporter/pkg/metric"
)

// Source gives access to the snapshot to serve.
//
type Source interface {
	Current() *metric.Snapshot
}

// Exporter is responsible for bringing up a web server that renders the
// latest published snapshot whenever a request hits the telemetry path. It
// never triggers collection itself.
//
type Exporter struct {
	// ListenAddress is the full address used by prometheus
	// to listen for scraping requests.
	//
	// Examples:
	// - :8080
	// - 127.0.0.2:1313
	//
	listenAddress string

	// TelemetryPath configures the path under which
	// the prometheus metrics are reported.
	//
	// For instance:
	// - /metrics
	// - /telemetry
	//
	telemetryPath string

	// timestamps makes every sample carry the time at which it was
	// collected.
	//
	timestamps bool

	// runtimeMetrics adds the Go runtime and process collectors.
	//
	runtimeMetrics bool

	// collectors are extra collectors to serve alongside the snapshot.
	//
	collectors []prometheus.Collector

	shutdownTimeout time.Duration

	source  Source
	catalog *metric.Catalog
	handler http.Handler

	// listener is the TCP listener used by the webserver. `nil` if no
	// server is running.
	//
	listener net.Listener
	server   *http.Server

	log logr.Logger
}

// Option.
//
type Option func(e *Exporter)

// WithListenAddress overrides the default address to listen on.
//
func WithListenAddress(v string) Option {
	return func(e *Exporter) {
		e.listenAddress = v
	}
}

// WithTelemetryPath overrides the default path under which metrics are
// served.
//
func WithTelemetryPath(v string) Option {
	return func(e *Exporter) {
		e.telemetryPath = v
	}
}

// WithTimestamps controls whether samples are rendered with the time they
// were collected at.
//
func WithTimestamps(v bool) Option {
	return func(e *Exporter) {
		e.timestamps = v
	}
}

// WithRuntimeMetrics controls whether Go runtime and process metrics are
// served too.
//
func WithRuntimeMetrics(v bool) Option {
	return func(e *Exporter) {
		e.runtimeMetrics = v
	}
}

// WithCollectors adds collectors to be served alongside the snapshot.
//
func WithCollectors(v ...prometheus.Collector) Option {
	return func(e *Exporter) {
		e.collectors = append(e.collectors, v...)
	}
}

// WithLogger overrides the default logger.
//
func WithLogger(v logr.Logger) Option {
	return func(e *Exporter) {
		e.log = v
	}
}

// New instantiates an exporter serving the snapshots from `source`, whose
// metrics are all described by `catalog`.
//
func New(source Source, catalog *metric.Catalog, opts ...Option) (*Exporter, error) {
	defaultLogger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("zap new development: %w", err)
	}

	e := &Exporter{
		listenAddress:   ":9332",
		telemetryPath:   "/metrics",
		runtimeMetrics:  true,
		shutdownTimeout: 10 * time.Second,
		source:          source,
		catalog:         catalog,
		log:             zapr.NewLogger(defaultLogger.Named("exporter")),
	}

	for _, opt := range opts {
		opt(e)
	}

	registry := prometheus.NewRegistry()

	toRegister := []prometheus.Collector{
		newSnapshotCollector(source, catalog, e.timestamps, e.log),
	}

	if e.runtimeMetrics {
		toRegister = append(toRegister,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	toRegister = append(toRegister, e.collectors...)

	for _, c := range toRegister {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle(e.telemetryPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorLog:      promLogger{e.log},
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
	mux.HandleFunc("/healthz", e.handleHealth)
	mux.HandleFunc("/health", e.handleHealth)
	mux.HandleFunc("/", e.handleIndex)

	e.handler = mux

	return e, nil
}

// Handler is the http handler serving every endpoint of the exporter.
//
func (e *Exporter) Handler() http.Handler {
	return e.handler
}

// Listen binds the listener the server will accept connections on. Failing
// to bind is a startup failure, so it's kept separate from Serve.
//
func (e *Exporter) Listen() error {
	listener, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return fmt.Errorf("listen on '%s': %w", e.listenAddress, err)
	}

	e.listener = listener

	return nil
}

// Addr is the address the exporter is listening on, or nil if not
// listening.
//
func (e *Exporter) Addr() net.Addr {
	if e.listener == nil {
		return nil
	}

	return e.listener.Addr()
}

// Run initiates the HTTP server to serve the metrics, listening first if
// Listen hasn't been called yet.
//
// ps.: this is a BLOCKING method - make sure you either make use of goroutines
// to not block if needed.
//
func (e *Exporter) Run(ctx context.Context) error {
	if e.listener == nil {
		if err := e.Listen(); err != nil {
			return err
		}
	}

	e.server = &http.Server{
		Handler:           e.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	doneChan := make(chan error, 1)

	go func() {
		defer close(doneChan)

		e.log.WithValues(
			"addr", e.listener.Addr().String(),
			"path", e.telemetryPath,
		).Info("listening")

		err := e.server.Serve(e.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			doneChan <- fmt.Errorf(
				"failed serving on address %s: %w",
				e.listener.Addr(), err,
			)
		}
	}()

	select {
	case err := <-doneChan:
		if err != nil {
			return fmt.Errorf("donechan err: %w", err)
		}

		return nil
	case <-ctx.Done():
	}

	e.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx), e.shutdownTimeout,
	)
	defer cancel()

	if err := e.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}

// Close closes the tcp listener associated with it without waiting for
// in-flight requests.
//
func (e *Exporter) Close() (err error) {
	if e.listener == nil {
		return nil
	}

	e.log.Info("closing")

	if e.server != nil {
		err = e.server.Close()
	} else {
		err = e.listener.Close()
	}

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close: %w", err)
	}

	return nil
}

func (e *Exporter) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (e *Exporter) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, indexPage, e.telemetryPath)
}

const indexPage = `<html>
<head><title>btc-exporter</title></head>
<body>
<h1>btc-exporter</h1>
<p><a href="%s">metrics</a></p>
<p><a href="/healthz">health</a></p>
</body>
</html>
`

// promLogger adapts a logr.Logger to promhttp's Logger.
//
type promLogger struct {
	log logr.Logger
}

func (l promLogger) Println(v ...interface{}) {
	l.log.Error(nil, fmt.Sprint(v...))
}
