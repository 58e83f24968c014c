// Package http is the coordinator's HTTP boundary: routing, the cookie
// session, and the success/failure envelope.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/infinitio/oracles/internal/httpx"
	"github.com/infinitio/oracles/internal/meta/service"
)

type Handler struct {
	svc          *service.Service
	cookieName   string
	cookieSecure bool
	sessionTTL   time.Duration
}

type Config struct {
	CookieName   string
	CookieSecure bool
	SessionTTL   time.Duration
}

func NewRouter(svc *service.Service, cfg Config) http.Handler {
	if cfg.CookieName == "" {
		cfg.CookieName = "session-id"
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 30 * 24 * time.Hour
	}
	h := &Handler{
		svc:          svc,
		cookieName:   cfg.CookieName,
		cookieSecure: cfg.CookieSecure,
		sessionTTL:   cfg.SessionTTL,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(httprate.LimitByIP(300, 1*time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httpx.WithMetrics)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Auth.
	r.Post("/login", h.login)
	r.Post("/web-login", h.webLogin)
	r.Post("/logout", h.logout)
	r.Post("/user/register", h.register)
	r.Post("/lost-password", h.lostPassword)
	r.Get("/reset-accounts/{hash}", h.resetAccountGet)
	r.Post("/reset-accounts/{hash}", h.resetAccountPost)

	// Users.
	r.Get("/self", h.self)
	r.Get("/users", h.searchUsers)
	r.Get("/user/swaggers", h.swaggers)
	r.Post("/user/favorite", h.favorite)
	r.Post("/user/unfavorite", h.unfavorite)
	r.Post("/user/edit", h.editUser)
	r.Post("/user/avatar", h.setAvatar)
	r.Get("/user/{identifier}/avatar", h.avatar)
	r.Get("/user/{identifier}/view", h.userView)

	// Devices.
	r.Post("/device/create", h.createDevice)
	r.Post("/device/update", h.updateDevice)
	r.Post("/device/delete", h.deleteDevice)
	r.Get("/devices", h.devices)
	r.Get("/device/{id}/view", h.deviceView)

	// Transactions.
	r.Post("/transaction/create", h.createTransaction)
	r.Post("/transaction/update", h.updateTransaction)
	r.Get("/transactions", h.listTransactions)
	r.Get("/transaction/{id}", h.getTransaction)
	r.Put("/transaction/{id}/endpoints", h.updateEndpoints)
	r.Post("/transaction/{id}/endpoints", h.readEndpoints)
	r.Get("/transaction/{id}/cloud_buffer", h.cloudBuffer)

	// Infra directories.
	r.Get("/trophonius", h.pickTrophonius)
	r.Put("/trophonius/{uid}", h.registerTrophonius)
	r.Delete("/trophonius/{uid}", h.unregisterTrophonius)
	r.Put("/trophonius/{uid}/users/{user}/{device}", h.connectDevice)
	r.Delete("/trophonius/{uid}/users/{user}/{device}", h.disconnectDevice)
	r.Put("/apertus/{uid}", h.registerApertus)
	r.Delete("/apertus/{uid}", h.unregisterApertus)
	r.Post("/apertus/{uid}/bandwidth", h.apertusBandwidth)
	r.Get("/apertus/fallback/{id}", h.fallback)

	// Admin.
	r.Post("/cron", h.cron)
	r.Post("/cron/daily-summary", h.dailySummary)
	r.Post("/genocide", h.genocide)
	r.Post("/debug/report/{type}", h.debugReport)

	return r
}
