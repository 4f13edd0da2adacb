package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirocosta/btc-exporter/pkg/config"
	"github.com/cirocosta/btc-exporter/pkg/rpc"
)

func withCredentials() *viper.Viper {
	v := viper.New()
	v.Set("node.auth.user", "alice")
	v.Set("node.auth.password", "s3cr3t")

	return v
}

func TestLoad_defaults(t *testing.T) {
	cfg, err := config.Load(withCredentials(), "")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Node.Host)
	assert.Equal(t, 8332, cfg.Node.Port)
	assert.Equal(t, 5*time.Second, cfg.Timeout())
	assert.Equal(t, "0.0.0.0", cfg.Server.BindAddress)
	assert.Equal(t, 9332, cfg.Server.Port)
	assert.Equal(t, "/metrics", cfg.Server.TelemetryPath)
	assert.False(t, cfg.Server.EmitTimestamps)
	assert.Equal(t, 15*time.Second, cfg.Interval())
	assert.Equal(t, 4, cfg.Collection.Concurrency)
	assert.Zero(t, cfg.Node.RateLimit)

	assert.Equal(t, "http://127.0.0.1:8332", cfg.NodeURL())
	assert.Equal(t, "0.0.0.0:9332", cfg.ListenAddress())

	assert.Equal(t, rpc.BasicAuth{User: "alice", Password: "s3cr3t"}, cfg.Authenticator())
}

func TestLoad_environment(t *testing.T) {
	t.Setenv("BTC_EXPORTER_NODE_PORT", "18332")
	t.Setenv("BTC_EXPORTER_NODE_AUTH_PASSWORD", "from-env")
	t.Setenv("BTC_EXPORTER_COLLECTION_INTERVAL_SECONDS", "5")
	t.Setenv("BTC_EXPORTER_SERVER_EMIT_TIMESTAMPS", "true")

	v := viper.New()
	v.Set("node.auth.user", "alice")

	cfg, err := config.Load(v, "")
	require.NoError(t, err)

	assert.Equal(t, 18332, cfg.Node.Port)
	assert.Equal(t, "from-env", cfg.Node.Auth.Password)
	assert.Equal(t, 5*time.Second, cfg.Interval())
	assert.True(t, cfg.Server.EmitTimestamps)
}

func TestLoad_file(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
node:
  host: bitcoind.internal
  port: 38332
  auth:
    cookie_file: /var/lib/bitcoind/.cookie
  timeout_ms: 2000
server:
  port: 9400
collection:
  interval_seconds: 30
`), 0o600))

	cfg, err := config.Load(viper.New(), file)
	require.NoError(t, err)

	assert.Equal(t, "http://bitcoind.internal:38332", cfg.NodeURL())
	assert.Equal(t, 2*time.Second, cfg.Timeout())
	assert.Equal(t, "0.0.0.0:9400", cfg.ListenAddress())
	assert.Equal(t, 30*time.Second, cfg.Interval())
	assert.Equal(t, rpc.CookieAuth{Path: "/var/lib/bitcoind/.cookie"}, cfg.Authenticator())
}

func TestLoad_missingFile(t *testing.T) {
	_, err := config.Load(withCredentials(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, config.IsConfigError(err))
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name     string
		set      map[string]interface{}
		problems int
	}{
		{
			name: "valid",
		},
		{
			name:     "no credentials",
			set:      map[string]interface{}{"node.auth.user": "", "node.auth.password": ""},
			problems: 1,
		},
		{
			name:     "both kinds of credentials",
			set:      map[string]interface{}{"node.auth.cookie_file": "/tmp/.cookie"},
			problems: 1,
		},
		{
			name:     "user without password",
			set:      map[string]interface{}{"node.auth.password": ""},
			problems: 1,
		},
		{
			name: "bad ports",
			set: map[string]interface{}{
				"node.port":   0,
				"server.port": 70000,
			},
			problems: 2,
		},
		{
			name: "non-positive durations",
			set: map[string]interface{}{
				"node.timeout_ms":             0,
				"collection.interval_seconds": -1,
			},
			problems: 2,
		},
		{
			name:     "relative telemetry path",
			set:      map[string]interface{}{"server.telemetry_path": "metrics"},
			problems: 1,
		},
		{
			name:     "reserved telemetry path",
			set:      map[string]interface{}{"server.telemetry_path": "/healthz"},
			problems: 1,
		},
		{
			name:     "telemetry path on the health endpoint",
			set:      map[string]interface{}{"server.telemetry_path": "/health"},
			problems: 1,
		},
		{
			name: "rate limit without burst",
			set: map[string]interface{}{
				"node.rate_limit": 10.0,
				"node.burst":      0,
			},
			problems: 1,
		},
		{
			name:     "no concurrency",
			set:      map[string]interface{}{"collection.concurrency": 0},
			problems: 1,
		},
	} {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			v := withCredentials()
			for key, value := range tc.set {
				v.Set(key, value)
			}

			cfg, err := config.Load(v, "")
			if tc.problems == 0 {
				require.NoError(t, err)
				require.NotNil(t, cfg)
				return
			}

			var cfgErr *config.Error
			require.True(t, errors.As(err, &cfgErr), "%v", err)
			assert.Len(t, cfgErr.Problems, tc.problems, cfgErr.Error())
		})
	}
}
