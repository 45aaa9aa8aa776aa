package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/coralbay/tripwire/internal/config"
	"github.com/coralbay/tripwire/internal/metrics"
	"github.com/coralbay/tripwire/internal/rules"
	"github.com/coralbay/tripwire/internal/tracker"
)

// Pinger reports backing-store health for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	config     *config.Config
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server

	repo      *rules.Repository
	engine    *rules.Engine
	freq      *tracker.Frequency
	patterns  *tracker.Pattern
	collector *metrics.Collector
	store     Pinger

	trackingWindows []tracker.Window
	startTime       time.Time
}

func NewServer(cfg *config.Config, logger *zap.Logger, repo *rules.Repository, engine *rules.Engine,
	freq *tracker.Frequency, patterns *tracker.Pattern, collector *metrics.Collector, store Pinger) *Server {

	windows := make([]tracker.Window, 0, len(cfg.Engine.TrackingWindows))
	for _, raw := range cfg.Engine.TrackingWindows {
		w, err := tracker.ParseWindow(raw)
		if err != nil {
			logger.Warn("skipping unknown tracking window", zap.String("window", raw))
			continue
		}
		windows = append(windows, w)
	}

	s := &Server{
		config:          cfg,
		logger:          logger,
		router:          chi.NewRouter(),
		repo:            repo,
		engine:          engine,
		freq:            freq,
		patterns:        patterns,
		collector:       collector,
		store:           store,
		trackingWindows: windows,
		startTime:       time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(RateLimitMiddleware(NewRateLimiter(s.config.Server.RateLimit, s.config.Server.RateBurst)))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ready", s.handleReady)
	s.router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	s.router.Route("/v1", func(r chi.Router) {
		r.Route("/rules", func(r chi.Router) {
			r.Post("/", s.handleCreateRule)
			r.Get("/", s.handleListRules)
			r.Get("/{id}", s.handleGetRule)
			r.Put("/{id}", s.handleUpdateRule)
			r.Delete("/{id}", s.handleDeleteRule)
			r.Post("/{id}/activate", s.handleActivateRule)
			r.Post("/{id}/deactivate", s.handleDeactivateRule)
			r.Get("/{id}/executions", s.handleListExecutions)
		})
		r.Route("/cache", func(r chi.Router) {
			r.Get("/status", s.handleCacheStatus)
			r.Post("/refresh", s.handleCacheRefresh)
			r.Post("/clear", s.handleCacheClear)
		})
		r.Post("/evaluate", s.handleEvaluate)
	})
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("api server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.respond(w, http.StatusServiceUnavailable, map[string]interface{}{
				"ready": false,
				"error": "store unreachable",
			})
			return
		}
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"ready": true})
}

func (s *Server) respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}
