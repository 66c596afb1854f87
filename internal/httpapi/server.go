// Package httpapi exposes a mailroom store over HTTP. Each request is
// authenticated with a bearer JWT whose subject is the caller's handle and is
// served by a fresh mailbox session bound to that handle.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/adamavenir/mailroom/internal/config"
	"github.com/adamavenir/mailroom/internal/mailbox"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server holds the shared store and the per-caller state of the REST layer.
type Server struct {
	store    *mailbox.Store
	cfg      config.ServerConfig
	secret   []byte
	limiters *limiterPool
	metrics  *metrics
	registry *prometheus.Registry
	log      zerolog.Logger

	// busyBudget bounds how long a handler retries ErrStoreBusy before
	// answering 503.
	busyBudget time.Duration
}

// New builds a server over store. cfg.JWTSecret must be set.
func New(store *mailbox.Store, cfg config.ServerConfig, logger zerolog.Logger) *Server {
	registry := prometheus.NewRegistry()
	return &Server{
		store:      store,
		cfg:        cfg,
		secret:     []byte(cfg.JWTSecret),
		limiters:   &limiterPool{rps: cfg.RateLimit.RPS, burst: cfg.RateLimit.Burst},
		metrics:    newMetrics(registry),
		registry:   registry,
		log:        logger,
		busyBudget: 2 * time.Second,
	}
}

// Handler returns the HTTP router with all API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.instrument)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", healthHandler)
	if s.cfg.Metrics {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)

		r.Get("/whoami", s.whoami)

		r.Route("/messages", func(r chi.Router) {
			r.Get("/", s.listMessages)
			r.Post("/", s.sendMessage)
			r.Post("/broadcast", s.broadcastMessage)
			r.Post("/group", s.groupMessage)
			r.Get("/search", s.searchMessages)
			r.Route("/{messageID}", func(r chi.Router) {
				r.Get("/", s.getMessage)
				r.Post("/reply", s.replyMessage)
			})
		})

		r.Route("/threads", func(r chi.Router) {
			r.Get("/", s.listThreads)
			r.Route("/{threadID}", func(r chi.Router) {
				r.Get("/", s.getThread)
				r.Post("/reply", s.replyThread)
				r.Post("/archive", s.archiveThread)
				r.Post("/unarchive", s.unarchiveThread)
				r.Get("/metadata", s.getThreadMetadata)
				r.Put("/metadata/{key}", s.setThreadMetadata)
				r.Delete("/metadata/{key}", s.deleteThreadMetadata)
			})
		})

		r.Route("/address-book", func(r chi.Router) {
			r.Get("/", s.listEntries)
			r.Post("/", s.addEntry)
			r.Get("/search", s.searchEntries)
			r.Route("/{handle}", func(r chi.Router) {
				r.Get("/", s.getEntry)
				r.Patch("/", s.updateEntry)
				r.Delete("/", s.deactivateEntry)
			})
		})

		r.Get("/audit", s.listEvents)
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "mailroom",
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
