// Package api is the privileged admin surface: scheduler control, ask
// endpoint, conversation management and health. Callers are operators or
// the main application backend, not end users.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/chantio/chantio/internal/assistant"
	"github.com/chantio/chantio/internal/embcache"
	"github.com/chantio/chantio/internal/provider"
	"github.com/chantio/chantio/internal/scheduler"
)

// Answerer answers a question for one user.
type Answerer interface {
	Answer(ctx context.Context, userID, question string) (assistant.Result, error)
}

// JobControl is the scheduler surface exposed over HTTP.
type JobControl interface {
	StartDailyFull(at string) error
	StartIncremental(every time.Duration) error
	StartHourly() error
	StartDefaults() error
	Stop(name string) error
	StopAll()
	RunNow(name string) (string, error)
	Status() []scheduler.JobStatus
}

// HistoryClearer forgets one user's conversation.
type HistoryClearer interface {
	Clear(ctx context.Context, userID string) error
}

// HealthChecker reports whether the model server has the configured models.
type HealthChecker interface {
	Health(ctx context.Context) (provider.Health, error)
}

// StoreCounter reports the vector index size.
type StoreCounter interface {
	Count() (int, map[string]int)
}

// ServerConfig contains configuration for creating the admin server.
type ServerConfig struct {
	Logger    *slog.Logger
	Assistant Answerer
	Scheduler JobControl
	History   HistoryClearer
	Health    HealthChecker
	Store     StoreCounter
	Cache     *embcache.Cache

	// AdminToken guards every route except /healthz. Empty disables auth.
	AdminToken string
	// AnswerTimeout bounds ask requests. Default 2 minutes.
	AnswerTimeout time.Duration
	// FullReindexAt is the default daily slot for start-daily-full without
	// an explicit time.
	FullReindexAt string
	// IncrementalEvery is the default interval for start-incremental.
	IncrementalEvery time.Duration
	// TrustProxy trusts X-Real-IP/X-Forwarded-For for rate limiter keys.
	TrustProxy bool
	// RateBurst is the per-IP rate limiter burst. 0 means 60.
	RateBurst int
}

// Server is the admin HTTP server.
type Server struct {
	handler http.Handler
}

// NewServer creates the server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Assistant == nil || cfg.Scheduler == nil || cfg.History == nil {
		return nil, errors.New("assistant, scheduler and history are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = 2 * time.Minute
	}

	h := &handlers{cfg: cfg, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /cache/stats", h.cacheStats)
	mux.HandleFunc("GET /scheduler/status", h.schedulerStatus)
	mux.HandleFunc("POST /scheduler", h.schedulerAction)
	mux.HandleFunc("POST /api/v1/ask", h.ask)
	mux.HandleFunc("DELETE /api/v1/conversations/{userId}", h.clearConversation)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	var handler http.Handler = mux
	handler = authMiddleware(cfg.AdminToken, logger)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	return &Server{handler: handler}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}
