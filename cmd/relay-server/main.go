// Command relay-server accepts window.Engine-driven file transfers from
// relay-client and writes completed files to disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/relaywire/slidewindow/cmd/relay-server/config"
	"github.com/relaywire/slidewindow/internal/discovery"
	"github.com/relaywire/slidewindow/internal/metrics"
	"github.com/relaywire/slidewindow/internal/relay"
	"github.com/relaywire/slidewindow/internal/tracing"
	"github.com/relaywire/slidewindow/internal/transport"
)

var configFile = flag.String("f", "configs/relay-server.yaml", "path to config file")

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relay-server: load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("relay-server: build logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting relay-server", zap.String("host", cfg.Server.Host), zap.Int("port", cfg.Server.Port))

	m := metrics.New("relay", "server")
	if cfg.Metrics.Enable {
		go serveMetrics(cfg, logger)
	}

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
		logger.Fatal("build tracer", zap.Error(err))
	}
	defer tr.Shutdown(context.Background())

	handler, err := NewHandler(cfg.Store.Dir, logger)
	if err != nil {
		logger.Fatal("build handler", zap.Error(err))
	}

	var disc *discovery.Client
	if cfg.Discovery.Enable {
		disc, err = registerWithDiscovery(cfg, logger)
		if err != nil {
			logger.Fatal("register with discovery", zap.Error(err))
		}
		defer disc.Unregister()
		defer disc.Close()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	errCh := make(chan error, 1)
	switch cfg.Server.Transport {
	case "ws":
		go func() { errCh <- serveWS(addr, handler, m, logger) }()
	default:
		conn, err := net.ListenUDP("udp", mustResolveUDP(addr))
		if err != nil {
			logger.Fatal("listen udp", zap.Error(err))
		}
		defer conn.Close()
		go func() { errCh <- serve(conn, handler, m, logger) }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Fatal("server error", zap.Error(err))
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	}
}

func serve(conn *net.UDPConn, handler *Handler, m *metrics.Metrics, logger *zap.Logger) error {
	buf := make([]byte, transport.DefaultReadBufferBytes)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return fmt.Errorf("read udp: %w", err)
		}
		m.BytesReceived.Add(float64(n))

		var frame relay.Frame
		if err := frame.Unmarshal(buf[:n]); err != nil {
			logger.Warn("dropping malformed frame", zap.Error(err), zap.Stringer("from", addr))
			continue
		}

		ack, err := handler.Process(&frame)
		if err != nil {
			logger.Error("frame handling failed", zap.Error(err),
				zap.Stringer("kind", frame.Kind), zap.Uint32("sequence", frame.Sequence))
			continue
		}
		m.PayloadsAcked.Inc()

		raw, err := ack.Marshal()
		if err != nil {
			logger.Error("marshal ack", zap.Error(err))
			continue
		}
		if _, err := conn.WriteToUDP(raw, addr); err != nil {
			logger.Error("write ack", zap.Error(err), zap.Stringer("to", addr))
			continue
		}
		m.BytesSent.Add(float64(len(raw)))
	}
}

// serveWS listens for websocket connections at addr and serves each one with
// serveWSConn, the websocket-transport equivalent of serve's UDP loop.
func serveWS(addr string, handler *Handler, m *metrics.Metrics, logger *zap.Logger) error {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		go serveWSConn(conn, handler, m, logger)
	})
	logger.Info("listening for websocket transfers", zap.String("addr", addr))
	return http.ListenAndServe(addr, mux)
}

// serveWSConn reads frames from one websocket connection until it closes,
// answering each with an Ack the same way serve does for a UDP datagram.
func serveWSConn(conn *websocket.Conn, handler *Handler, m *metrics.Metrics, logger *zap.Logger) {
	defer conn.Close()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("websocket connection closed", zap.Error(err))
			return
		}
		m.BytesReceived.Add(float64(len(raw)))

		var frame relay.Frame
		if err := frame.Unmarshal(raw); err != nil {
			logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		ack, err := handler.Process(&frame)
		if err != nil {
			logger.Error("frame handling failed", zap.Error(err),
				zap.Stringer("kind", frame.Kind), zap.Uint32("sequence", frame.Sequence))
			continue
		}
		m.PayloadsAcked.Inc()

		out, err := ack.Marshal()
		if err != nil {
			logger.Error("marshal ack", zap.Error(err))
			continue
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
			logger.Error("write ack", zap.Error(err))
			return
		}
		m.BytesSent.Add(float64(len(out)))
	}
}

func serveMetrics(cfg *config.Config, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.Handler())
	addr := fmt.Sprintf("%s:%d", cfg.Metrics.Host, cfg.Metrics.Port)
	logger.Info("serving metrics", zap.String("addr", addr), zap.String("path", cfg.Metrics.Path))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", zap.Error(err))
	}
}

func registerWithDiscovery(cfg *config.Config, logger *zap.Logger) (*discovery.Client, error) {
	d, err := discovery.New(discovery.Config{
		Endpoints:   cfg.Discovery.Endpoints,
		DialTimeout: cfg.Discovery.DialTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := d.Register(cfg.Discovery.ServicePath, addr, cfg.Discovery.LeaseTTL); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func mustResolveUDP(addr string) *net.UDPAddr {
	resolved, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		panic(fmt.Sprintf("relay-server: resolve %s: %v", addr, err))
	}
	return resolved
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
