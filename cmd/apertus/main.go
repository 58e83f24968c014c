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

	"github.com/infinitio/oracles/internal/apertus"
	"github.com/infinitio/oracles/internal/config"
	"github.com/infinitio/oracles/internal/logging"
	"github.com/infinitio/oracles/internal/metaclient"
	"github.com/infinitio/oracles/internal/metrics"
)

func main() {
	var (
		port     = flag.Int("port", 9300, "relay port (0 for ephemeral)")
		sslPort  = flag.Int("ssl-port", 9301, "TLS relay port")
		portFile = flag.String("port-file", "", "write bound ports to this file")
	)
	flag.Parse()

	cfg := config.LoadApertus()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "apertus",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)
	metrics.MustRegister("apertus")

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

	host := cfg.Host
	if host == "" {
		host, _ = os.Hostname()
	}

	server := apertus.New(apertus.Config{
		UID:               cfg.UID,
		Host:              host,
		PlainAddr:         fmt.Sprintf(":%d", *port),
		SSLAddr:           fmt.Sprintf(":%d", *sslPort),
		PortFile:          *portFile,
		TLS:               tlsCfg,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, metaclient.New(cfg.MetaURL), logger)

	if err := server.Start(); err != nil {
		logger.Error("relay start", "error", err)
		os.Exit(1)
	}
	plainPort, _ := server.Ports()
	logger.Info("relay listening", "uid", server.UID(), "port", plainPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	if err := server.Close(); err != nil {
		logger.Error("relay close", "error", err)
	}
}
