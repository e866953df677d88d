package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/screensync/internal/api/handler"
	mw "github.com/edvin/screensync/internal/api/middleware"
	"github.com/edvin/screensync/internal/config"
	"github.com/edvin/screensync/internal/engine"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router         chi.Router
	logger         zerolog.Logger
	engine         *engine.Engine
	db             Pinger
	temporalClient temporalclient.Client
	cfg            *config.Config
}

func NewServer(logger zerolog.Logger, db Pinger, temporalClient temporalclient.Client, cfg *config.Config, eng *engine.Engine) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		logger:         logger,
		engine:         eng,
		db:             db,
		temporalClient: temporalClient,
		cfg:            cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth(s.cfg.APIToken))

		// Screens
		screen := handler.NewScreen(s.engine.Reconciler)
		r.Post("/screens/{id}/playlist", screen.EnsurePlaylist)
		r.Post("/screens/{id}/reconcile", screen.Reconcile)
		r.Get("/screens/{id}/sync", screen.Sync)

		// Publishing
		publish := handler.NewPublish(s.engine.Pipeline)
		r.Post("/advertisers/{id}/publish", publish.Publish)
		r.Post("/advertisers/{id}/publish/dry-run", publish.DryRun)

		// Sweep
		var starter handler.SweepStarter
		if s.engine.Services.Scheduler != nil {
			starter = s.engine.Services.Scheduler
		}
		sweep := handler.NewSweep(s.engine.Sync, starter)
		r.Post("/reconcile/sweep", sweep.Run)

		// Traces
		traces := handler.NewTrace(s.engine.Services.Trace)
		r.Get("/traces/{id}", traces.Get)
		r.Get("/screens/{id}/traces", traces.ListBySubject)
		r.Get("/advertisers/{id}/traces", traces.ListBySubject)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.db.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	if s.temporalClient != nil {
		if _, err := s.temporalClient.CheckHealth(ctx, &temporalclient.CheckHealthRequest{}); err != nil {
			checks["temporal"] = err.Error()
			healthy = false
		} else {
			checks["temporal"] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
