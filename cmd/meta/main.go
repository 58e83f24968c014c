package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/infinitio/oracles/internal/cloud"
	"github.com/infinitio/oracles/internal/config"
	"github.com/infinitio/oracles/internal/logging"
	"github.com/infinitio/oracles/internal/mailer"
	"github.com/infinitio/oracles/internal/meta/service"
	metahttp "github.com/infinitio/oracles/internal/meta/transport/http"
	"github.com/infinitio/oracles/internal/metrics"
	"github.com/infinitio/oracles/internal/notifier"
	"github.com/infinitio/oracles/internal/store"
)

func main() {
	cfg := config.LoadMeta()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "meta",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)
	metrics.MustRegister("meta")

	logger.Info("starting service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, store.Config{DSN: cfg.DatabaseURL, LogSQL: cfg.LogSQL})
	if err != nil {
		logger.Error("store open", "error", err)
		os.Exit(1)
	}
	if err := store.Migrate(db); err != nil {
		logger.Error("migrate", "error", err)
		os.Exit(1)
	}
	st := store.New(db)

	var buffer *cloud.Buffer
	if cfg.AWSAccessKey != "" {
		buffer, err = cloud.New(ctx, cloud.Config{
			Region:     cfg.AWSRegion,
			AccessKey:  cfg.AWSAccessKey,
			SecretKey:  cfg.AWSSecretKey,
			Bucket:     cfg.BufferBucket,
			URLExpiry:  cfg.BufferURLExpiry,
			SigningKey: []byte(cfg.SigningKey),
		})
		if err != nil {
			logger.Error("cloud buffer init", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("no AWS credentials, cloud buffering disabled")
	}

	var mail mailer.Mailer = mailer.Null{}
	if cfg.MailerURL != "" {
		mail = mailer.NewHTTP(cfg.MailerURL, cfg.MailerKey, logger)
	}
	push := notifier.NewPushSink(cfg.PushURL, logger)
	notes := notifier.New(st, push, logger)

	svc := service.New(st, notes, mail, buffer, service.Config{
		SessionTTL:       cfg.SessionTTL,
		SigningKey:       []byte(cfg.SigningKey),
		TrophoniusTTL:    cfg.TrophoniusTTL,
		ApertusTTL:       cfg.ApertusTTL,
		OperatorMail:     cfg.OperatorMail,
		GhostDownloadTTL: cfg.BufferURLExpiry,
	}, logger)

	router := metahttp.NewRouter(svc, metahttp.Config{
		CookieName:   cfg.CookieName,
		CookieSecure: cfg.CookieSecure,
		SessionTTL:   cfg.SessionTTL,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("coordinator listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
