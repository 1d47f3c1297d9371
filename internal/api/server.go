package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"hotelpms/internal/config"
	"hotelpms/internal/domain"
	"hotelpms/internal/metrics"
	"hotelpms/internal/models"
	"hotelpms/internal/worker"
)

// Store is the persistence surface the operator API reads and writes.
type Store interface {
	domain.QueueStore
	domain.AuditStore
	domain.ChangeLogWriter
	PingContext(ctx context.Context) error
}

// CycleRunner triggers one dispatch cycle on demand.
type CycleRunner interface {
	RunOnce(ctx context.Context) (worker.CycleResult, error)
}

// StockViewer serves published OTA stock, possibly from a cache.
type StockViewer interface {
	CachedStock(ctx context.Context, hotelID int64, r models.DateRange) ([]models.StockObservation, error)
}

// Deps are the collaborators of the operator API. DeadLetters, Events, Dispatcher and Stock may be nil.
type Deps struct {
	Store       Store
	Changes     domain.ChangeQueue
	DeadLetters domain.DeadLetterSink
	Events      domain.EventPublisher
	Dispatcher  CycleRunner
	Stock       StockViewer
}

// Server exposes queue inspection and manual intervention over HTTP.
type Server struct {
	cfg    config.APIConfig
	deps   Deps
	limit  *rateLimiter
	logger zerolog.Logger
	router chi.Router
	server *http.Server
}

func NewServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *Server {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "api").Logger()
	}

	s := &Server{cfg: cfg, deps: deps, limit: newRateLimiter(cfg.RateLimit), logger: l}
	s.router = s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.limit.Wrap)

		r.Get("/queue", s.handleListQueue)
		r.Get("/queue/stats", s.handleQueueStats)
		r.Get("/queue/{id}", s.handleGetQueueEntry)
		r.Post("/queue/{id}/requeue", s.handleRequeue)
		r.Post("/dispatch", s.handleDispatch)
		r.Post("/changes", s.handleAppendChange)
		r.Post("/changes/{id}/sync", s.handleSyncChange)
		r.Get("/audit", s.handleListAudit)
		r.Get("/dead-letters", s.handleListDeadLetters)
		r.Get("/stock/{hotelID}", s.handleStock)
	})

	return r
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Operator API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		metrics.IncHTTP(route, strconv.Itoa(recorder.status))

		s.logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
