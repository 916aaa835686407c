// Package web provides the HTTP server and handlers for the migration
// engine's job-control surface.
package web

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dangthobach/excel-migration-engine/internal/config"
	"github.com/dangthobach/excel-migration-engine/internal/migration"
	"github.com/dangthobach/excel-migration-engine/internal/migration/steptracker"
	"github.com/dangthobach/excel-migration-engine/internal/web/middleware"
)

// Server is the HTTP server fronting the Migration Orchestrator.
type Server struct {
	cfg     *config.Config
	pool    *pgxpool.Pool
	orch    *migration.Orchestrator
	limiter *migration.JobLimiter
	tracker *steptracker.Tracker

	router *chi.Mux
	server *http.Server
}

// NewServer wires the job-control router around an already-constructed
// Orchestrator and JobLimiter.
func NewServer(cfg *config.Config, pool *pgxpool.Pool, orch *migration.Orchestrator, limiter *migration.JobLimiter, tracker *steptracker.Tracker) *Server {
	s := &Server{
		cfg:     cfg,
		pool:    pool,
		orch:    orch,
		limiter: limiter,
		tracker: tracker,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(chimiddleware.Compress(5))
	s.router.Use(chimiddleware.Timeout(s.cfg.Server.RequestTimeout))

	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		limiter := newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(limiter.middleware)
	}
}

// setupRoutes configures the HTTP surface.
func (s *Server) setupRoutes() {
	s.router.Route("/migration", func(r chi.Router) {
		r.Post("/excel/upload", s.handleUploadSync)
		r.Post("/excel/upload-async", s.handleUploadAsync)

		r.Route("/job/{jobId}", func(r chi.Router) {
			r.Get("/status", s.handleJobStatus)
			r.Post("/validate", s.handleRunPhase("validate"))
			r.Post("/apply", s.handleRunPhase("apply"))
			r.Post("/reconcile", s.handleRunPhase("reconcile"))
			r.Get("/errors/stats", s.handleErrorStats)
			r.Get("/errors/download", s.handleErrorDownload)
			r.Delete("/cleanup", s.handleCleanup)
		})

		r.Route("/validation/{jobId}", func(r chi.Router) {
			r.Get("/steps", s.handleValidationSteps)
			r.Get("/current", s.handleValidationCurrent)
			r.Get("/summary", s.handleValidationSummary)
			r.Get("/report", s.handleValidationReport)
			r.Get("/performance", s.handleValidationPerformance)
			r.Get("/step/{n}", s.handleValidationStepN)
			r.Post("/check-timeout", s.handleCheckTimeout)
		})
	})

	s.router.Route("/api/migration/multisheet", func(r chi.Router) {
		r.Post("/start", s.handleMultiSheetStart)
		r.Route("/{jobId}", func(r chi.Router) {
			r.Get("/sheets", s.handleMultiSheetSheets)
			r.Get("/sheet/{name}", s.handleMultiSheetSheet)
			r.Get("/progress", s.handleMultiSheetProgress)
			r.Get("/in-progress", s.handleMultiSheetInProgress)
			r.Get("/performance", s.handleMultiSheetPerformance)
			r.Get("/is-complete", s.handleMultiSheetIsComplete)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds baseline security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// rateLimiter implements a simple token bucket rate limiter per IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{visitors: make(map[string]*visitor), rate: rate, window: window}
	go rl.cleanup()
	return rl
}

func (rl *rateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastReset) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: time.Now()}
		return true
	}
	if time.Since(v.lastReset) > rl.window {
		v.tokens = rl.rate - 1
		v.lastReset = time.Now()
		return true
	}
	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// RemoteAddr already holds the client IP when TrustedRealIP accepted a
		// proxy header; the raw X-Real-IP header is never trusted here.
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if !rl.allow(ip) {
			w.Header().Set("Retry-After", "60")
			respondError(r.Context(), w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
