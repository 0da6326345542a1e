// Command relay-client sends a single file to a relay-server over a
// window.Engine-driven transfer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v2"

	"github.com/relaywire/slidewindow/cmd/relay-client/config"
	"github.com/relaywire/slidewindow/internal/breaker"
	"github.com/relaywire/slidewindow/internal/chunker"
	"github.com/relaywire/slidewindow/internal/discovery"
	"github.com/relaywire/slidewindow/internal/metrics"
	"github.com/relaywire/slidewindow/internal/relay"
	"github.com/relaywire/slidewindow/internal/tracing"
	"github.com/relaywire/slidewindow/internal/transport"
	"github.com/relaywire/slidewindow/internal/window"
	"github.com/relaywire/slidewindow/pkg/rid"
)

var (
	configFile = flag.String("f", "configs/relay-client.yaml", "path to config file")
	filePath   = flag.String("file", "", "path to the file to send")
)

func main() {
	flag.Parse()
	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "relay-client: -file is required")
		os.Exit(2)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relay-client: load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("relay-client: build logger: %v", err))
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("transfer failed", zap.Error(err))
	}
	logger.Info("transfer complete", zap.String("file", *filePath))
}

func run(cfg *config.Config, logger *zap.Logger) error {
	m := metrics.New("relay", "client")

	tr, err := tracing.New(tracing.Config{
		Enable:       cfg.Tracing.Enable,
		ServiceName:  cfg.Tracing.ServiceName,
		Endpoint:     cfg.Tracing.Endpoint,
		Exporter:     cfg.Tracing.Exporter,
		SampleRate:   cfg.Tracing.SampleRate,
		Environment:  cfg.Tracing.Environment,
		BatchTimeout: cfg.Tracing.BatchTimeout,
		MaxQueueSize: cfg.Tracing.MaxQueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("build tracer: %w", err)
	}
	defer tr.Shutdown(context.Background())

	address := cfg.Server.Address
	if cfg.Discovery.Enable {
		resolved, err := resolveServer(cfg, logger)
		if err != nil {
			return fmt.Errorf("resolve server via discovery: %w", err)
		}
		address = resolved
	}

	session, err := rid.New()
	if err != nil {
		return fmt.Errorf("generate session id: %w", err)
	}

	cb := breaker.New("relay-client-send", breaker.Config{
		OnStateChange: func(from, to breaker.State) {
			m.UpdateCircuitBreakerState("relay-client-send", float64(to))
			if to == breaker.StateOpen {
				m.RecordCircuitBreakerTrip("relay-client-send")
			}
		},
	}, logger)

	adapter, closeFn, err := dialTransport(cfg, address, session, cb, m)
	if err != nil {
		return fmt.Errorf("dial transport: %w", err)
	}
	defer closeFn()

	if cfg.RateLimit.Enable {
		adapter = newRateLimitedAdapter(adapter, cfg.RateLimit)
	}

	ctx, span := tr.Start(context.Background(), "relay.send_file")
	defer span.End()

	engine, err := window.New(cfg.Window.Size, cfg.Window.MaxRetrans, cfg.Window.Timeout,
		window.WithLogger(logger),
		window.WithMetrics(m),
		optionalStrict(cfg.Window.Strict))
	if err != nil {
		return fmt.Errorf("build window engine: %w", err)
	}

	commands, err := buildCommands(*filePath)
	if err != nil {
		return fmt.Errorf("prepare file: %w", err)
	}

	err = engine.Run(adapter, window.FromSlice(commands))
	m.RecordTransferOutcome(err == nil)
	if err != nil {
		tr.RecordError(ctx, err)
		return fmt.Errorf("window engine run: %w", err)
	}
	return nil
}

func optionalStrict(strict bool) window.Option {
	if strict {
		return window.WithStrictUnexpected()
	}
	return func(*window.Engine) {}
}

// buildCommands mirrors the reference client's send_file: an InitFile
// command, then one PutData command per chunk, then a Finalize carrying the
// whole file's checksum.
func buildCommands(path string) ([]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var commands []any
	commands = append(commands, transport.Outbound{
		Kind: relay.KindInitFile,
		Body: relay.EncodeInitFile(relay.InitFile{Filename: baseName(path)}),
	})
	// Each PutData body is an 8-byte offset plus the chunk, and must fit in
	// one frame's payload.
	for _, chunk := range chunker.Split(data, relay.MaxPayloadSize-8) {
		commands = append(commands, transport.Outbound{
			Kind: relay.KindPutData,
			Body: relay.EncodePutData(chunk),
		})
	}
	commands = append(commands, transport.Outbound{
		Kind: relay.KindFinalize,
		Body: relay.EncodeFinalize(relay.Finalize{Checksum: relay.Checksum(data)}),
	})
	return commands, nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}

// dialTransport dials the configured transport, retrying a handful of
// times with exponential backoff — a cold relay-server or a discovery
// record that hasn't propagated yet shouldn't fail the whole client on the
// first attempt.
func dialTransport(cfg *config.Config, address string, session rid.ID, cb *breaker.CircuitBreaker, m *metrics.Metrics) (window.ProtocolAdapter, func() error, error) {
	var adapter window.ProtocolAdapter
	var closeFn func() error

	dial := func() error {
		var err error
		switch cfg.Server.Transport {
		case "ws":
			var a *transport.WSAdapter
			a, err = transport.DialWS(address, session, cb, m)
			if err == nil {
				adapter, closeFn = a, a.Close
			}
		default:
			var a *transport.UDPAdapter
			a, err = transport.DialUDP(address, session, cb, m)
			if err == nil {
				adapter, closeFn = a, a.Close
			}
		}
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4)
	if err := backoff.Retry(dial, policy); err != nil {
		return nil, nil, err
	}
	return adapter, closeFn, nil
}

func resolveServer(cfg *config.Config, logger *zap.Logger) (string, error) {
	d, err := discovery.New(discovery.Config{
		Endpoints:   cfg.Discovery.Endpoints,
		DialTimeout: cfg.Discovery.DialTimeout,
	}, logger)
	if err != nil {
		return "", err
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Discovery.DialTimeout)
	defer cancel()

	addrs, err := d.Resolve(ctx, cfg.Discovery.ServicePath)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no relay-server registered under %s", cfg.Discovery.ServicePath)
	}
	return addrs[0], nil
}

// rateLimitedAdapter paces Send calls with a token bucket, independent of
// the window engine's own flow control — an external knob an operator can
// use to avoid overwhelming a slow peer, not a congestion control scheme.
type rateLimitedAdapter struct {
	window.ProtocolAdapter
	limiter *rate.Limiter
}

func newRateLimitedAdapter(inner window.ProtocolAdapter, cfg config.RateLimitConfig) window.ProtocolAdapter {
	return &rateLimitedAdapter{
		ProtocolAdapter: inner,
		limiter:         rate.NewLimiter(rate.Limit(cfg.PayloadsPerSecond), cfg.Burst),
	}
}

func (a *rateLimitedAdapter) Send(payload any) (window.Tag, error) {
	if err := a.limiter.Wait(context.Background()); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return a.ProtocolAdapter.Send(payload)
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	var level zap.AtomicLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapCfg.Level = level
	return zapCfg.Build()
}

func loadConfig(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config.DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := config.DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
