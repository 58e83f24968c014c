package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/infinitio/oracles/internal/config"
	"github.com/infinitio/oracles/internal/logging"
	"github.com/infinitio/oracles/internal/metaclient"
	"github.com/infinitio/oracles/internal/metrics"
	"github.com/infinitio/oracles/internal/trophonius"
)

func main() {
	var (
		port        = flag.Int("port", 9200, "client port (0 for ephemeral)")
		sslPort     = flag.Int("ssl-port", 9201, "TLS client port")
		controlPort = flag.Int("control-port", 9202, "coordinator control port")
		portFile    = flag.String("port-file", "", "write bound ports to this file")
		hostname    = flag.String("hostname", "", "public hostname advertised to the coordinator")
	)
	flag.Parse()

	cfg := config.LoadTrophonius()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "trophonius",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)
	metrics.MustRegister("trophonius")

	logger.Info("starting service")

	var tlsCfg *tls.Config
	if cfg.TLSCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			logger.Error("tls keypair", "error", err)
			os.Exit(1)
		}
		tlsCfg = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	host := *hostname
	if host == "" {
		host, _ = os.Hostname()
	}

	server := trophonius.New(trophonius.Config{
		UID:               cfg.UID,
		Zone:              cfg.Zone,
		Hostname:          host,
		ClientAddr:        fmt.Sprintf(":%d", *port),
		SSLAddr:           fmt.Sprintf(":%d", *sslPort),
		ControlAddr:       fmt.Sprintf(":%d", *controlPort),
		PortFile:          *portFile,
		TLS:               tlsCfg,
		PingTimeout:       cfg.PingTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, metaclient.New(cfg.MetaURL), logger)

	if err := server.Start(); err != nil {
		logger.Error("gateway start", "error", err)
		os.Exit(1)
	}
	clientPort, _, ctrlPort := server.Ports()
	logger.Info("gateway listening", "uid", server.UID(), "client_port", clientPort, "control_port", ctrlPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	// SIGTERM drains: tell the coordinator to stop routing here, then close.
	logger.Info("draining")
	server.Drain(context.Background())
	if err := server.Close(); err != nil {
		logger.Error("gateway close", "error", err)
	}
}
