// Package service implements the coordinator's business logic: accounts,
// devices, the transaction state machine, and the gateway/relay directories.
package service

import (
	"log/slog"
	"time"

	"github.com/infinitio/oracles/internal/cloud"
	"github.com/infinitio/oracles/internal/mailer"
	"github.com/infinitio/oracles/internal/notifier"
	"github.com/infinitio/oracles/internal/passwords"
	"github.com/infinitio/oracles/internal/store"
)

type Config struct {
	SessionTTL    time.Duration
	SigningKey    []byte
	TrophoniusTTL time.Duration
	ApertusTTL    time.Duration
	OperatorMail  string

	// GhostDownloadTTL bounds the signed URL mailed to ghosts.
	GhostDownloadTTL time.Duration
}

type Service struct {
	store    *store.Store
	notifier notifier.Notifier
	mailer   mailer.Mailer
	buffer   *cloud.Buffer
	pass     *passwords.Service
	cfg      Config
	log      *slog.Logger
}

func New(st *store.Store, n notifier.Notifier, m mailer.Mailer, b *cloud.Buffer, cfg Config, log *slog.Logger) *Service {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 30 * 24 * time.Hour
	}
	if cfg.TrophoniusTTL == 0 {
		cfg.TrophoniusTTL = 2 * time.Minute
	}
	if cfg.ApertusTTL == 0 {
		cfg.ApertusTTL = 2 * time.Minute
	}
	if cfg.GhostDownloadTTL == 0 {
		cfg.GhostDownloadTTL = 7 * 24 * time.Hour
	}
	return &Service{
		store:    st,
		notifier: n,
		mailer:   m,
		buffer:   b,
		pass:     passwords.NewArgon2id(),
		cfg:      cfg,
		log:      log,
	}
}

func (s *Service) Store() *store.Store { return s.store }
