// Package config loads the exporter's configuration from defaults, an
// optional config file, environment variables and command line flags, in
// increasing order of precedence.
//
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cirocosta/btc-exporter/pkg/rpc"
)

// EnvPrefix is the prefix of the environment variables overriding
// configuration keys, e.g. BTC_EXPORTER_NODE_AUTH_PASSWORD for
// `node.auth.password`.
//
const EnvPrefix = "BTC_EXPORTER"

type Config struct {
	Node       NodeConfig       `mapstructure:"node"`
	Server     ServerConfig     `mapstructure:"server"`
	Collection CollectionConfig `mapstructure:"collection"`
}

type NodeConfig struct {
	Host      string     `mapstructure:"host"`
	Port      int        `mapstructure:"port"`
	Auth      AuthConfig `mapstructure:"auth"`
	TimeoutMS int        `mapstructure:"timeout_ms"`

	// RateLimit caps the number of requests per second sent to the
	// node. Zero means unlimited.
	//
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

// AuthConfig holds the node credentials: either user and password, or the
// path to the cookie file the node writes on startup.
//
type AuthConfig struct {
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	CookieFile string `mapstructure:"cookie_file"`
}

type ServerConfig struct {
	BindAddress    string `mapstructure:"bind_address"`
	Port           int    `mapstructure:"port"`
	TelemetryPath  string `mapstructure:"telemetry_path"`
	EmitTimestamps bool   `mapstructure:"emit_timestamps"`
}

type CollectionConfig struct {
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	Concurrency     int    `mapstructure:"concurrency"`
	GeoIPFile       string `mapstructure:"geoip_file"`
}

var defaults = map[string]interface{}{
	"node.host":                   "127.0.0.1",
	"node.port":                   8332,
	"node.auth.user":              "",
	"node.auth.password":          "",
	"node.auth.cookie_file":       "",
	"node.timeout_ms":             5000,
	"node.rate_limit":             0.0,
	"node.burst":                  1,
	"server.bind_address":         "0.0.0.0",
	"server.port":                 9332,
	"server.telemetry_path":       "/metrics",
	"server.emit_timestamps":      false,
	"collection.interval_seconds": 15,
	"collection.concurrency":      4,
	"collection.geoip_file":       "",
}

// SetDefaults registers the default value of every key. Keys must be known
// to viper for environment variables to be taken into account when
// unmarshalling.
//
func SetDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Load reads the configuration out of `v`, reading `file` first if not
// empty. Flags are expected to have been bound to `v` already.
//
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)

		if err := v.ReadInConfig(); err != nil {
			return nil, &Error{Problems: []string{
				fmt.Sprintf("read config file '%s': %v", file, err),
			}}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &Error{Problems: []string{
			fmt.Sprintf("decode: %v", err),
		}}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Error is returned for a configuration the exporter can't start with.
//
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// IsConfigError tells whether `err` was caused by an invalid
// configuration.
//
func IsConfigError(err error) bool {
	var cfgErr *Error
	return errors.As(err, &cfgErr)
}

// Validate checks every key, reporting all problems at once.
//
func (c *Config) Validate() error {
	var problems []string

	problem := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Node.Host == "" {
		problem("node.host must not be empty")
	}

	if !validPort(c.Node.Port) {
		problem("node.port must be within 1-65535, got %d", c.Node.Port)
	}

	if c.Node.TimeoutMS <= 0 {
		problem("node.timeout_ms must be positive, got %d", c.Node.TimeoutMS)
	}

	if c.Node.RateLimit < 0 {
		problem("node.rate_limit must not be negative, got %v", c.Node.RateLimit)
	}

	if c.Node.RateLimit > 0 && c.Node.Burst < 1 {
		problem("node.burst must be at least 1 when rate limiting, got %d",
			c.Node.Burst)
	}

	auth := c.Node.Auth
	hasUser := auth.User != "" || auth.Password != ""

	switch {
	case hasUser && auth.CookieFile != "":
		problem("node.auth: either user and password or cookie_file, not both")
	case !hasUser && auth.CookieFile == "":
		problem("node.auth: user and password or cookie_file required")
	case hasUser && (auth.User == "" || auth.Password == ""):
		problem("node.auth: both user and password required")
	}

	if c.Server.BindAddress == "" {
		problem("server.bind_address must not be empty")
	}

	if !validPort(c.Server.Port) {
		problem("server.port must be within 1-65535, got %d", c.Server.Port)
	}

	switch path := c.Server.TelemetryPath; {
	case !strings.HasPrefix(path, "/"):
		problem("server.telemetry_path must start with '/', got '%s'", path)
	case path == "/" || path == "/healthz" || path == "/health":
		problem("server.telemetry_path '%s' is reserved", path)
	}

	if c.Collection.IntervalSeconds <= 0 {
		problem("collection.interval_seconds must be positive, got %d",
			c.Collection.IntervalSeconds)
	}

	if c.Collection.Concurrency < 1 {
		problem("collection.concurrency must be at least 1, got %d",
			c.Collection.Concurrency)
	}

	if len(problems) > 0 {
		return &Error{Problems: problems}
	}

	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// NodeURL is the address of the node's RPC endpoint.
//
func (c *Config) NodeURL() string {
	return "http://" + net.JoinHostPort(c.Node.Host, strconv.Itoa(c.Node.Port))
}

// ListenAddress is the address the exposition server binds to.
//
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Server.BindAddress, strconv.Itoa(c.Server.Port))
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Node.TimeoutMS) * time.Millisecond
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.Collection.IntervalSeconds) * time.Second
}

// Authenticator builds the authenticator matching the configured
// credentials.
//
func (c *Config) Authenticator() rpc.Authenticator {
	if c.Node.Auth.CookieFile != "" {
		return rpc.CookieAuth{Path: c.Node.Auth.CookieFile}
	}

	return rpc.BasicAuth{
		User:     c.Node.Auth.User,
		Password: c.Node.Auth.Password,
	}
}
