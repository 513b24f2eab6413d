// Package web serves the operator dashboard: a runtime overview, the
// stored conversation sessions, the reminder list, a live event feed
// over WebSocket, and a JSON chat endpoint for poking the agent without
// going through Telegram. It binds to localhost by default and carries
// no authentication; exposing it beyond the host is the operator's
// problem.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mwortham/reeve/internal/agent"
	"github.com/mwortham/reeve/internal/buildinfo"
	"github.com/mwortham/reeve/internal/events"
	"github.com/mwortham/reeve/internal/scheduler"
	"github.com/mwortham/reeve/internal/session"
)

// SessionSource is the slice of the session store the dashboard reads:
// the summary listing and individual transcripts. Load returns nil for
// an unknown user.
type SessionSource interface {
	List(ctx context.Context) ([]session.Summary, error)
	Load(ctx context.Context, userID int64) (*session.Session, error)
}

// TaskSource lists scheduled reminders for the reminders page.
type TaskSource interface {
	ListTasks(enabledOnly bool) ([]*scheduler.Task, error)
}

// AgentRunner runs one agent turn for the /api/chat endpoint.
type AgentRunner interface {
	Run(ctx context.Context, req *agent.Request) (*agent.Response, error)
}

// TurnLocker serializes agent turns per user. *session.Registry
// implements it; the chat endpoint takes the same lock as the Telegram
// bridge so both never run a turn for one user at the same time.
type TurnLocker interface {
	TurnLock(userID int64) *sync.Mutex
}

// StatsSnapshot carries the dashboard's headline numbers. All fields
// are point-in-time copies; the template never touches live state.
type StatsSnapshot struct {
	Version        string
	Uptime         time.Duration
	ActiveSessions int
	TokensIn       int64
	TokensOut      int64
	RequestsToday  int64
	LastRequest    time.Time
}

// ProviderInfo describes one entry of the resolved provider chain as
// shown on the dashboard.
type ProviderInfo struct {
	ID      string
	Model   string
	Family  string
	Primary bool
}

// Config wires the server to the rest of the process. The function
// fields decouple the package from the components that own the live
// values; any field may be nil and the corresponding page section
// renders empty.
type Config struct {
	Address string
	Port    int

	StatsFunc func() StatsSnapshot
	ChainFunc func() []ProviderInfo

	Sessions SessionSource
	Tasks    TaskSource
	Runner   AgentRunner
	Locks    TurnLocker
	Bus      *events.Bus

	Logger *slog.Logger
}

// Server is the dashboard HTTP server.
type Server struct {
	address   string
	port      int
	statsFunc func() StatsSnapshot
	chainFunc func() []ProviderInfo
	sessions  SessionSource
	tasks     TaskSource
	runner    AgentRunner
	locks     TurnLocker
	bus       *events.Bus
	logger    *slog.Logger
	templates map[string]*template.Template
	server    *http.Server
}

// NewServer creates a dashboard server. Templates are parsed eagerly so
// a syntax error fails startup, not the first page view.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:   cfg.Address,
		port:      cfg.Port,
		statsFunc: cfg.StatsFunc,
		chainFunc: cfg.ChainFunc,
		sessions:  cfg.Sessions,
		tasks:     cfg.Tasks,
		runner:    cfg.Runner,
		locks:     cfg.Locks,
		bus:       cfg.Bus,
		logger:    logger.With("component", "web"),
		templates: loadTemplates(),
	}
}

// RegisterRoutes attaches all handlers to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /", s.handleDashboard)
	mux.HandleFunc("GET /sessions", s.handleSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleSessionDetail)
	mux.HandleFunc("GET /tasks", s.handleTasks)
	mux.HandleFunc("GET /ws", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /api/chat", s.handleChatAPI)
}

// Start begins serving and blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	s.logger.Info("starting web server", "address", s.address, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"status":  "ok",
		"version": buildinfo.Version,
		"uptime":  buildinfo.Uptime().String(),
	}, s.logger)
}

// writeJSON encodes v as JSON to w, logging failures at debug level.
// Errors here usually mean the client went away mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
