// Package config defines the relay-server configuration file format.
package config

import "time"

// Config is the full relay-server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"Server"`
	Store     StoreConfig     `yaml:"Store"`
	Discovery DiscoveryConfig `yaml:"Discovery"`
	Log       LogConfig       `yaml:"Log"`
	Metrics   MetricsConfig   `yaml:"Metrics"`
	Tracing   TracingConfig   `yaml:"Tracing"`
}

// ServerConfig is the address the relay-server listens on.
type ServerConfig struct {
	Host      string `yaml:"Host"`
	Port      int    `yaml:"Port"`
	Transport string `yaml:"Transport"` // udp, ws
}

// StoreConfig controls where completed transfers are written.
type StoreConfig struct {
	Dir string `yaml:"Dir"`
}

// DiscoveryConfig registers this server's address in etcd so clients can
// find it without a hardcoded address.
type DiscoveryConfig struct {
	Enable      bool          `yaml:"Enable"`
	Endpoints   []string      `yaml:"Endpoints"`
	DialTimeout time.Duration `yaml:"DialTimeout"`
	ServicePath string        `yaml:"ServicePath"`
	LeaseTTL    int64         `yaml:"LeaseTTL"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"Level"`
	Format string `yaml:"Format"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
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
// present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      5000,
			Transport: "udp",
		},
		Store: StoreConfig{
			Dir: "./received",
		},
		Discovery: DiscoveryConfig{
			Enable:      false,
			Endpoints:   []string{"127.0.0.1:2379"},
			DialTimeout: 5 * time.Second,
			ServicePath: "/services/relay-server/primary",
			LeaseTTL:    10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enable: true,
			Host:   "0.0.0.0",
			Port:   9101,
			Path:   "/metrics",
		},
		Tracing: TracingConfig{
			Enable:       false,
			ServiceName:  "relay-server",
			Endpoint:     "http://localhost:14268/api/traces",
			Exporter:     "jaeger",
			SampleRate:   1.0,
			Environment:  "development",
			BatchTimeout: 5,
			MaxQueueSize: 2048,
		},
	}
}
