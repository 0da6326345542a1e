// Package config defines the relay-client configuration file format.
package config

import "time"

// Config is the full relay-client configuration.
type Config struct {
	Server    ServerConfig    `yaml:"Server"`
	Window    WindowConfig    `yaml:"Window"`
	RateLimit RateLimitConfig `yaml:"RateLimit"`
	Discovery DiscoveryConfig `yaml:"Discovery"`
	Log       LogConfig       `yaml:"Log"`
	Metrics   MetricsConfig   `yaml:"Metrics"`
	Tracing   TracingConfig   `yaml:"Tracing"`
}

// ServerConfig addresses the relay-server this client talks to. Address is
// ignored when Discovery.Enable is true — the server address is resolved
// from etcd instead.
type ServerConfig struct {
	Address   string `yaml:"Address"`
	Transport string `yaml:"Transport"` // udp, ws
}

// WindowConfig tunes the window.Engine driving the transfer.
type WindowConfig struct {
	Size       int           `yaml:"Size"`
	MaxRetrans int           `yaml:"MaxRetrans"`
	Timeout    time.Duration `yaml:"Timeout"`
	Strict     bool          `yaml:"Strict"`
}

// RateLimitConfig paces outgoing sends independently of the window engine's
// own flow control (see golang.org/x/time/rate usage in main.go).
type RateLimitConfig struct {
	Enable            bool    `yaml:"Enable"`
	PayloadsPerSecond float64 `yaml:"PayloadsPerSecond"`
	Burst             int     `yaml:"Burst"`
}

// DiscoveryConfig resolves a relay-server address from etcd instead of a
// static ServerConfig.Address.
type DiscoveryConfig struct {
	Enable      bool          `yaml:"Enable"`
	Endpoints   []string      `yaml:"Endpoints"`
	DialTimeout time.Duration `yaml:"DialTimeout"`
	ServicePath string        `yaml:"ServicePath"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"Level"`
	Format string `yaml:"Format"`
}

// MetricsConfig holds Prometheus exposition settings. relay-client parses
// this section but does not serve a metrics endpoint.
type MetricsConfig struct {
	Enable bool   `yaml:"Enable"`
	Host   string `yaml:"Host"`
	Port   int    `yaml:"Port"`
	Path   string `yaml:"Path"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	Enable       bool    `yaml:"Enable"`
	ServiceName  string  `yaml:"ServiceName"`
	Endpoint     string  `yaml:"Endpoint"`
	Exporter     string  `yaml:"Exporter"`
	SampleRate   float64 `yaml:"SampleRate"`
	Environment  string  `yaml:"Environment"`
	BatchTimeout int     `yaml:"BatchTimeout"`
	MaxQueueSize int     `yaml:"MaxQueueSize"`
}

// DefaultConfig returns the configuration used when no config file is
// present, matching the reference client's size=5, max_retrans=3 defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:   "127.0.0.1:5000",
			Transport: "udp",
		},
		Window: WindowConfig{
			Size:       5,
			MaxRetrans: 3,
			Timeout:    5 * time.Second,
			Strict:     false,
		},
		RateLimit: RateLimitConfig{
			Enable:            false,
			PayloadsPerSecond: 100,
			Burst:             20,
		},
		Discovery: DiscoveryConfig{
			Enable:      false,
			Endpoints:   []string{"127.0.0.1:2379"},
			DialTimeout: 5 * time.Second,
			ServicePath: "/services/relay-server/",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enable: true,
			Host:   "0.0.0.0",
			Port:   9102,
			Path:   "/metrics",
		},
		Tracing: TracingConfig{
			Enable:       false,
			ServiceName:  "relay-client",
			Endpoint:     "http://localhost:14268/api/traces",
			Exporter:     "jaeger",
			SampleRate:   1.0,
			Environment:  "development",
			BatchTimeout: 5,
			MaxQueueSize: 2048,
		},
	}
}
