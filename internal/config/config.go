// Package config loads MessageDirector runtime configuration from
// environment variables and an optional config file, modeled on
// go-server-3/internal/config/config.go.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for an mdnode process.
type Config struct {
	Server      ServerConfig   `mapstructure:"server"`
	Upstream    UpstreamConfig `mapstructure:"upstream"`
	Metrics     MetricsConfig  `mapstructure:"metrics"`
	Logging     LoggingConfig  `mapstructure:"logging"`
	Resource    ResourceConfig `mapstructure:"resource"`
	Diagnostics Diagnostics    `mapstructure:"diagnostics"`
}

// ServerConfig is the downstream listener this node accepts
// NetworkParticipant connections on. Key name preserved from the
// original implementation's "messagedirector/bind" setting.
type ServerConfig struct {
	Bind           string        `mapstructure:"bind"`
	AcceptTimeout  time.Duration `mapstructure:"accept_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxDatagramLen uint32        `mapstructure:"max_datagram_len"`
}

// UpstreamConfig is the parent MD this node forwards sender-addressed
// traffic and subscription interest to. Connect is optional: an empty
// value means this node is the hierarchy root. Key name preserved from
// the original implementation's "messagedirector/connect" setting.
type UpstreamConfig struct {
	Connect       string        `mapstructure:"connect"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Endpoint   string `mapstructure:"endpoint"`
}

// LoggingConfig controls zap logger level/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// ResourceConfig controls downstream connection admission: accept-rate
// limiting and CPU-aware backpressure.
type ResourceConfig struct {
	MaxConnections     int           `mapstructure:"max_connections"`
	AcceptRatePerSec   float64       `mapstructure:"accept_rate_per_sec"`
	AcceptBurst        int           `mapstructure:"accept_burst"`
	CPURejectThreshold float64       `mapstructure:"cpu_reject_threshold"`
	CPUSampleInterval  time.Duration `mapstructure:"cpu_sample_interval"`
}

// Diagnostics controls the optional read-only admin websocket stream,
// served on the same HTTP server as /metrics (see cmd/mdnode).
type Diagnostics struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from environment variables (MD_ prefixed)
// and an optional ./md.yaml or ./config/md.yaml file.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.bind", "0.0.0.0:7199")
	v.SetDefault("server.accept_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.max_datagram_len", uint32(1<<16))

	v.SetDefault("upstream.connect", "")
	v.SetDefault("upstream.dial_timeout", 5*time.Second)
	v.SetDefault("upstream.reconnect_wait", 2*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9191")
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("resource.max_connections", 50000)
	v.SetDefault("resource.accept_rate_per_sec", 500.0)
	v.SetDefault("resource.accept_burst", 1000)
	v.SetDefault("resource.cpu_reject_threshold", 90.0)
	v.SetDefault("resource.cpu_sample_interval", 15*time.Second)

	v.SetDefault("diagnostics.enabled", true)
	v.SetDefault("diagnostics.path", "/diagnostics/stream")

	v.SetConfigName("md")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("MD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}
	return cfg, nil
}
