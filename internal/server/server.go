// Package server provides the HTTP API of stockwatch.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/aristath/stockwatch/internal/cache"
	"github.com/aristath/stockwatch/internal/database"
	"github.com/aristath/stockwatch/internal/domain"
	"github.com/aristath/stockwatch/internal/monitor"
	"github.com/aristath/stockwatch/internal/session"
	"github.com/aristath/stockwatch/internal/tasks"
	"github.com/aristath/stockwatch/internal/work"
)

// ResultReader loads persisted analyses.
type ResultReader interface {
	FindLatestBySecurity(ctx context.Context, securityID string) (*domain.AnalysisResult, error)
	LoadSources(ctx context.Context, securityID string) (map[string]domain.Document, error)
}

// CacheStatter is implemented by the data caches.
type CacheStatter interface {
	Stats() cache.Stats
}

// SessionStatus reports the market session at an instant.
type SessionStatus interface {
	Status(t time.Time) session.Status
}

// Config holds server dependencies
type Config struct {
	Log       zerolog.Logger
	Port      int
	DevMode   bool
	DataDir   string
	Tasks     *tasks.Registry
	Monitor   *monitor.Scheduler
	Results   ResultReader
	MonitorDB *database.DB
	Pool      *work.Pool
	Caches    map[string]CacheStatter
	Session   SessionStatus
}

// Server represents the HTTP server
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	port     int
	validate *validator.Validate

	tasks   *tasks.Registry
	monitor *monitor.Scheduler
	results ResultReader
	system  *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		log:      cfg.Log.With().Str("component", "server").Logger(),
		port:     cfg.Port,
		validate: newValidator(),
		tasks:    cfg.Tasks,
		monitor:  cfg.Monitor,
		results:  cfg.Results,
		system: NewSystemHandlers(cfg.Log, SystemDeps{
			DataDir:   cfg.DataDir,
			Tasks:     cfg.Tasks,
			Monitor:   cfg.Monitor,
			MonitorDB: cfg.MonitorDB,
			Pool:      cfg.Pool,
			Caches:    cfg.Caches,
			Session:   cfg.Session,
		}),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/analysis", func(r chi.Router) {
			// Streams outlive the request timeout
			r.Get("/tasks/{taskID}/ws", s.handleTaskWebSocket)
			r.Get("/tasks/{taskID}/events", s.handleTaskEvents)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(60 * time.Second))
				r.Post("/", s.handleRequestAnalysis)
				r.Get("/tasks", s.handleListTasks)
				r.Get("/tasks/{taskID}", s.handleGetTask)
				r.Get("/latest/{securityID}", s.handleLatestAnalysis)
				r.Get("/latest/{securityID}/sources", s.handleLatestSources)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Route("/monitoring", func(r chi.Router) {
				r.Post("/", s.handleStartMonitoring)
				r.Get("/", s.handleListMonitoring)
				r.Post("/pause-all", s.handlePauseAll)
				r.Post("/resume-all", s.handleResumeAll)
				r.Get("/security/{securityID}", s.handleMonitoringBySecurity)
				r.Get("/{jobID}", s.handleMonitoringStatus)
				r.Delete("/{jobID}", s.handleStopMonitoring)
				r.Get("/{jobID}/records", s.handleMonitoringRecords)
			})

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.system.HandleSystemStatus)
				r.Get("/database", s.system.HandleDatabaseStats)
			})
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
