// Package web streams terminal sessions over websockets: each connection owns
// one session, sends commands and receives update batches as JSON.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mosaicterm/mosaicterm/internal/logging"
	"github.com/mosaicterm/mosaicterm/internal/terminal"
)

var webLog = logging.ForComponent(logging.CompWeb)

const (
	DefaultListenAddr        = "127.0.0.1:7681"
	DefaultMaxSessions       = 8
	DefaultMessagesPerSecond = 20
	DefaultPollInterval      = 30 * time.Millisecond
)

// Session is the part of *terminal.Session a connection drives.
type Session interface {
	ID() string
	Submit(command string) error
	PollUpdates() terminal.UpdateBatch
	KillCurrent() error
	Resize(cols, rows uint16) error
	Close() error
}

// SessionFactory starts a new session for a connection.
type SessionFactory func() (Session, error)

// Config defines runtime options for the web server.
type Config struct {
	ListenAddr string
	// Token, when set, is required as a bearer token or ?token= query value.
	Token string
	// MaxSessions caps concurrent connections; further upgrades get 503.
	MaxSessions int
	// MessagesPerSecond limits inbound messages on each connection.
	MessagesPerSecond int
	PollInterval      time.Duration
	NewSession        SessionFactory
}

// Server wraps an HTTP server exposing /ws/session and /healthz.
type Server struct {
	cfg        Config
	httpServer *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu       sync.Mutex
	sessions map[string]Session
}

// NewServer creates a new web server with its routes and middleware.
func NewServer(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = DefaultMessagesPerSecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	s := &Server{
		cfg:      cfg,
		sessions: make(map[string]Session),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ws/session", s.handleSessionWS)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ActiveSessions returns the number of connected sessions.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Start serves until Shutdown. Returns nil on graceful shutdown.
func (s *Server) Start() error {
	webLog.Info("listening", slog.String("addr", s.cfg.ListenAddr))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, ends every connection and closes
// the sessions still open.
func (s *Server) Shutdown(ctx context.Context) error {
	// long-lived websocket handlers watch the base context
	s.cancelBase()

	err := s.httpServer.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr != nil {
			err = fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		} else {
			err = nil
		}
	}

	s.mu.Lock()
	open := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, sess := range open {
		g.Go(sess.Close)
	}
	if closeErr := g.Wait(); closeErr != nil && err == nil {
		err = fmt.Errorf("close sessions: %w", closeErr)
	}
	return err
}

// acquire registers a new session, failing when the server is full.
func (s *Server) acquire() (Session, error) {
	s.mu.Lock()
	full := len(s.sessions) >= s.cfg.MaxSessions
	s.mu.Unlock()
	if full {
		return nil, errTooManySessions
	}
	if s.cfg.NewSession == nil {
		return nil, errors.New("no session factory configured")
	}

	sess, err := s.cfg.NewSession()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) >= s.cfg.MaxSessions {
		_ = sess.Close()
		return nil, errTooManySessions
	}
	s.sessions[sess.ID()] = sess
	return sess, nil
}

func (s *Server) release(sess Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID())
	s.mu.Unlock()
	if err := sess.Close(); err != nil {
		webLog.Warn("session_close_failed",
			slog.String("session_id", sess.ID()),
			slog.String("error", err.Error()))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"sessions":    s.ActiveSessions(),
		"maxSessions": s.cfg.MaxSessions,
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				webLog.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) String() string {
	return fmt.Sprintf("web-server(addr=%s, maxSessions=%d)", s.cfg.ListenAddr, s.cfg.MaxSessions)
}
