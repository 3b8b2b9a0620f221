// Package http exposes the CodeKids REST API, health and metrics endpoints,
// and mounts the realtime lesson rooms.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/codekids/codekids-hub/internal/application/command"
	"github.com/codekids/codekids-hub/internal/application/query"
	"github.com/codekids/codekids-hub/internal/infrastructure/metrics"
	"github.com/codekids/codekids-hub/internal/interface/http/handlers"
	"github.com/codekids/codekids-hub/pkg/logger"
)

// Config tunes the listener. Zero RateLimit disables per-client limiting.
type Config struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodyBytes   int64
	AllowedOrigins []string
	RateLimit      float64
	RateLimitBurst int
}

func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
		MaxBodyBytes:   1 << 20,
		AllowedOrigins: []string{"*"},
		RateLimit:      20,
		RateLimitBurst: 40,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies are the application handlers behind the routes. Metrics and
// Realtime are optional; their routes are only mounted when set.
type Dependencies struct {
	Logger        *logger.Logger
	Metrics       *metrics.Metrics
	HealthChecker handlers.HealthChecker

	// Realtime serves /ws/lessons/{lessonId}. Optional.
	Realtime http.Handler

	// Query handlers
	LessonView   *query.LessonViewHandler
	Dependencies *query.CheckDependenciesHandler
	Navigation   *query.NavigationHandler
	CourseView   *query.CourseViewHandler
	Catalog      *query.CatalogHandler
	Dashboard    *query.DashboardHandler
	Achievements *query.AchievementsHandler
	Hint         *query.HintHandler

	// Command handlers
	SubmitLesson      *command.SubmitLessonHandler
	SaveCode          *command.SaveCodeHandler
	Unlock            *command.UnlockHandler
	CheckAchievements *command.CheckAchievementsHandler
	RunCode           *command.RunCodeHandler
	ValidateSolution  *command.ValidateSolutionHandler
	Authoring         *command.AuthoringHandler
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the API listener.
type Server struct {
	config     Config
	deps       Dependencies
	router     chi.Router
	httpServer *http.Server
	logger     *logger.Logger
	limiter    *handlers.RateLimiter
	startedAt  atomic.Pointer[time.Time]
}

func NewServer(config Config, deps Dependencies) *Server {
	s := &Server{
		config: config,
		deps:   deps,
		logger: deps.Logger,
	}
	if s.logger == nil {
		s.logger = logger.Default()
	}
	s.logger = s.logger.With(logger.Component("http"))

	if config.RateLimit > 0 {
		s.limiter = handlers.NewRateLimiter(config.RateLimit, config.RateLimitBurst)
	}

	s.router = s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:              config.Addr,
		Handler:           s.router,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		MaxHeaderBytes:    config.MaxHeaderBytes,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		s.requestIDMiddleware,
		s.loggingMiddleware,
		s.recoveryMiddleware,
		s.corsMiddleware,
		handlers.SecurityHeadersMiddleware,
	)
	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleMethodNotAllowed)

	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Realtime lesson rooms
	// ─────────────────────────────────────────────────────────────────────────
	if s.deps.Realtime != nil {
		r.Method(http.MethodGet, "/ws/lessons/{lessonId}", s.deps.Realtime)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// API v1
	// ─────────────────────────────────────────────────────────────────────────
	r.Route("/api/v1", func(r chi.Router) {
		if s.config.MaxBodyBytes > 0 {
			r.Use(handlers.RequestSizeLimitMiddleware(s.config.MaxBodyBytes))
		}
		if s.limiter != nil {
			r.Use(s.limiter.Middleware(s.handleRateLimited))
		}
		r.Use(handlers.RequireIdentity(s.handleUnauthorized))

		r.Get("/lessons/{lessonId}", s.handleGetLesson)
		r.Get("/lessons/{lessonId}/dependencies", s.handleLessonDependencies)
		r.Get("/lessons/{lessonId}/navigation", s.handleLessonNavigation)
		r.Post("/lessons/{lessonId}/code", s.handleSaveCode)
		r.Post("/lessons/{lessonId}/submit", s.handleSubmitLesson)
		r.Post("/lessons/{lessonId}/unlock", s.handleUnlockLesson)

		r.Get("/courses", s.handleListCourses)
		r.Get("/courses/available", s.handleAvailableCourses)
		r.Get("/courses/recommended", s.handleRecommendedCourses)
		r.Get("/courses/{courseId}", s.handleGetCourse)
		r.Get("/courses/{courseId}/dependencies", s.handleCourseDependencies)
		r.Get("/courses/{courseId}/progress", s.handleCourseProgress)
		r.Get("/courses/{courseId}/next", s.handleNextLesson)
		r.Post("/courses/{courseId}/unlock", s.handleUnlockCourse)

		r.Get("/progress", s.handleGetProgress)
		r.Get("/dashboard", s.handleGetDashboard)
		r.Get("/children", s.handleGetChildren)

		r.Get("/achievements", s.handleGetAchievements)
		r.Get("/achievements/available", s.handleAvailableAchievements)
		r.Get("/achievements/stats", s.handleAchievementStats)
		r.Get("/achievements/leaderboard", s.handleLeaderboard)
		r.Post("/achievements/check", s.handleCheckAchievements)

		r.Post("/code/run", s.handleRunCode)
		r.Post("/code/hint", s.handleHint)
		r.Post("/code/validate", s.handleValidateCode)

		r.Post("/admin/courses", s.handleCreateCourse)
		r.Post("/admin/courses/{courseId}/lessons", s.handleCreateLesson)
		r.Post("/admin/dependencies", s.handleAddDependency)
	})

	return r
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Run serves until ctx ends and then drains in-flight requests for at most
// grace. A listener failure stops it early and is returned.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	now := time.Now()
	if !s.startedAt.CompareAndSwap(nil, &now) {
		return errors.New("http: server already started")
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.limiter != nil {
		g.Go(func() error {
			s.limiter.Run(gctx, time.Minute)
			return nil
		})
	}
	g.Go(func() error {
		s.logger.Info("listening", logger.String("address", s.config.Addr))
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("draining connections", logger.Duration("grace", grace))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Uptime is zero before Run.
func (s *Server) Uptime() time.Duration {
	if at := s.startedAt.Load(); at != nil {
		return time.Since(*at)
	}
	return 0
}
