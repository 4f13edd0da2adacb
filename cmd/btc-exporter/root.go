package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/oschwald/geoip2-golang"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cirocosta/btc-exporter/pkg/collector"
	"github.com/cirocosta/btc-exporter/pkg/config"
	"github.com/cirocosta/btc-exporter/pkg/exporter"
	"github.com/cirocosta/btc-exporter/pkg/metric"
	"github.com/cirocosta/btc-exporter/pkg/node"
	"github.com/cirocosta/btc-exporter/pkg/rpc"
	"github.com/cirocosta/btc-exporter/pkg/scheduler"
)

type command struct {
	configFile string
	verbose    bool

	v *viper.Viper
}

// flagKeys maps command line flags to the configuration keys they
// override.
//
var flagKeys = map[string]string{
	"node-host":      "node.host",
	"node-port":      "node.port",
	"bind-address":   "server.bind_address",
	"port":           "server.port",
	"telemetry-path": "server.telemetry_path",
	"interval":       "collection.interval_seconds",
	"geoip-filepath": "collection.geoip_file",
}

func (c *command) Cmd() *cobra.Command {
	c.v = viper.New()

	cmd := &cobra.Command{
		Use:           "btc-exporter",
		Short:         "Prometheus exporter for bitcoin node metrics",
		RunE:          c.RunE,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.Flags()

	flags.StringVar(&c.configFile, "config",
		"", "filepath of a configuration file (yaml, toml or json)")
	_ = cmd.MarkFlagFilename("config")

	flags.BoolVarP(&c.verbose, "verbose", "v",
		false, "whether to produce human-friendly debug logs")

	flags.String("node-host",
		"127.0.0.1", "host of the bitcoin node to collect info from")

	flags.Int("node-port",
		8332, "rpc port of the bitcoin node")

	flags.String("bind-address",
		"0.0.0.0", "address to bind the prometheus server to")

	flags.Int("port",
		9332, "port to bind the prometheus server to")

	flags.String("telemetry-path",
		"/metrics", "endpoint at which prometheus metrics are served")

	flags.Int("interval",
		15, "seconds between collection cycles")

	flags.String("geoip-filepath",
		"", "filepath of a geoip database file for ip to country "+
			"resolution")
	_ = cmd.MarkFlagFilename("geoip-filepath")

	flags.VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			_ = c.v.BindPFlag(key, f)
		}
	})

	return cmd
}

func (c *command) logger() (logr.Logger, func(), error) {
	var (
		zapLogger *zap.Logger
		err       error
	)

	if c.verbose {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}

	if err != nil {
		return logr.Discard(), nil, fmt.Errorf("new zap logger: %w", err)
	}

	return zapr.NewLogger(zapLogger), func() { _ = zapLogger.Sync() }, nil
}

func (c *command) RunE(cmd *cobra.Command, _ []string) error {
	log, sync, err := c.logger()
	if err != nil {
		return err
	}
	defer sync()

	if err := c.run(cmd.Context(), log); err != nil {
		log.Error(err, "exiting")
		return err
	}

	return nil
}

func (c *command) run(ctx context.Context, log logr.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(c.v, c.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rpcClient, err := rpc.NewClient(cfg.NodeURL(),
		rpc.WithAuthenticator(cfg.Authenticator()),
	)
	if err != nil {
		return fmt.Errorf("new client '%s': %w", cfg.NodeURL(), err)
	}

	adapterOpts := []node.AdapterOption{
		node.WithTimeout(cfg.Timeout()),
		node.WithLogger(log.WithName("adapter")),
	}

	if cfg.Node.RateLimit > 0 {
		adapterOpts = append(adapterOpts,
			node.WithRateLimit(cfg.Node.RateLimit, cfg.Node.Burst),
		)
	}

	adapter, err := node.NewAdapter(rpcClient, adapterOpts...)
	if err != nil {
		return fmt.Errorf("new adapter: %w", err)
	}

	collectorOpts := []collector.Option{
		collector.WithConcurrency(cfg.Collection.Concurrency),
		collector.WithLogger(log.WithName("collector")),
	}

	if cfg.Collection.GeoIPFile != "" {
		db, err := geoip2.Open(cfg.Collection.GeoIPFile)
		if err != nil {
			return fmt.Errorf("geoip open: %w", err)
		}
		defer db.Close()

		countryMapper := func(ip net.IP) (string, error) {
			res, err := db.Country(ip)
			if err != nil {
				return "", fmt.Errorf(
					"country '%s': %w", ip, err,
				)
			}

			return res.RegisteredCountry.IsoCode, nil
		}

		collectorOpts = append(collectorOpts,
			collector.WithCountryMapper(countryMapper),
		)
	}

	metricsCollector, err := collector.New(adapter, collectorOpts...)
	if err != nil {
		return fmt.Errorf("new collector: %w", err)
	}

	registry := metric.NewRegistry()
	registry.Publish(metricsCollector.Initial())

	cycleScheduler, err := scheduler.New(metricsCollector, registry, cfg.Interval(),
		scheduler.WithLogger(log.WithName("scheduler")),
	)
	if err != nil {
		return fmt.Errorf("new scheduler: %w", err)
	}

	prometheusExporter, err := exporter.New(registry, metricsCollector.Catalog(),
		exporter.WithListenAddress(cfg.ListenAddress()),
		exporter.WithTelemetryPath(cfg.Server.TelemetryPath),
		exporter.WithTimestamps(cfg.Server.EmitTimestamps),
		exporter.WithCollectors(cycleScheduler.SkippedTicks()),
		exporter.WithLogger(log.WithName("exporter")),
	)
	if err != nil {
		return fmt.Errorf("new exporter: %w", err)
	}
	defer prometheusExporter.Close()

	if err := prometheusExporter.Listen(); err != nil {
		return fmt.Errorf("prometheus exporter listen: %w", err)
	}

	log.Info("starting",
		"version", version,
		"node", cfg.NodeURL(),
		"groups", metricsCollector.Groups(),
	)

	// the server keeps serving until the scheduler is done with its
	// last cycle.
	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()

	var g errgroup.Group

	g.Go(func() error {
		defer stopServer()

		if err := cycleScheduler.Run(ctx); err != nil {
			return fmt.Errorf("scheduler run: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		if err := prometheusExporter.Run(serverCtx); err != nil {
			stop()
			return fmt.Errorf("prometheus exporter run: %w", err)
		}

		return nil
	})

	return g.Wait()
}
