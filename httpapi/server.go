// Package httpapi exposes the generation service over REST. It is a thin
// translator: decode JSON, call the service, encode bytes or a taxonomy
// error. No business logic lives here.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"zimage/generation"
	"zimage/logger"
	"zimage/settings"
)

// Generator is the slice of the generation service this facade needs.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Image, error)
	Templates() []string
}

// HealthChecker reports whether the external engine is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type Server struct {
	svc      Generator
	engine   HealthChecker
	cfg      settings.ServerConfig
	defaults settings.GenerationConfig
	started  time.Time
	log      *slog.Logger
	httpSrv  *http.Server

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(cfg settings.ServerConfig, gen settings.GenerationConfig, svc Generator, engine HealthChecker) *Server {
	s := &Server{
		svc:      svc,
		engine:   engine,
		cfg:      cfg,
		defaults: gen,
		started:  time.Now(),
		log:      logger.Service("httpapi"),
		limiters: make(map[string]*rate.Limiter),
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the chi handler tree. Exposed separately so tests can
// drive it through httptest without a listener.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/generate", s.handleGenerate)
		r.Post("/generate/json", s.handleGenerateJSON)
	})

	return r
}

// Start runs the listener until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("HTTP API listening", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// rateLimit applies a per-client token bucket sized from config.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter(clientIP(r)).Allow() {
			writeError(w, &generation.Error{
				Code:    generation.CodeBusy,
				Message: "rate limit exceeded, slow down",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiter(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.limiters[ip]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(float64(s.cfg.RatePerMinute)/60.0), s.cfg.RateBurst)
	s.limiters[ip] = l
	return l
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusFor maps the failure taxonomy onto HTTP status codes.
func statusFor(code generation.Code) int {
	switch code {
	case generation.CodeInvalidRequest, generation.CodeModerationBlocked, generation.CodeUnknownTemplate:
		return http.StatusBadRequest
	case generation.CodeBusy, generation.CodeDailyLimitReached:
		return http.StatusTooManyRequests
	case generation.CodeEngineUnreachable, generation.CodeEngineRejected:
		return http.StatusBadGateway
	case generation.CodeEngineTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func sourceLabel(r *http.Request) string {
	if strings.HasSuffix(r.URL.Path, "/json") {
		return "http-json"
	}
	return "http"
}
