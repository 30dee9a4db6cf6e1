package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mosaicterm/mosaicterm/internal/terminal"
)

var (
	errTooManySessions = errors.New("web: too many sessions")
	errShellExited     = errors.New("web: shell exited")
)

type wsClientMessage struct {
	Type    string `json:"type"` // submit, kill, resize, ping
	Command string `json:"command,omitempty"`
	Cols    int    `json:"cols,omitempty"`
	Rows    int    `json:"rows,omitempty"`
}

type wsServerMessage struct {
	Type      string                `json:"type"` // status, update, error
	Event     string                `json:"event,omitempty"`
	Code      string                `json:"code,omitempty"`
	Message   string                `json:"message,omitempty"`
	SessionID string                `json:"sessionId,omitempty"`
	Update    *terminal.UpdateBatch `json:"update,omitempty"`
	Time      time.Time             `json:"time"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}

// wsConnWriter serializes writes; gorilla connections allow one writer.
type wsConnWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

func (w *wsConnWriter) WriteClose(code int, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

// wsSession is one connection and the terminal session it owns.
type wsSession struct {
	sess    Session
	writer  *wsConnWriter
	limiter *rate.Limiter
	log     *slog.Logger
}

func (c *wsSession) send(msg wsServerMessage) error {
	msg.SessionID = c.sess.ID()
	msg.Time = time.Now().UTC()
	return c.writer.WriteJSON(msg)
}

func (c *wsSession) sendError(code, message string) {
	_ = c.send(wsServerMessage{Type: "error", Code: code, Message: message})
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorized(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	sess, err := s.acquire()
	if errors.Is(err, errTooManySessions) {
		writeAPIError(w, http.StatusServiceUnavailable, "TOO_MANY_SESSIONS", "session limit reached")
		return
	}
	if err != nil {
		webLog.Error("session_start_failed", slog.String("error", err.Error()))
		writeAPIError(w, http.StatusInternalServerError, "SESSION_START_FAILED", "failed to start shell")
		return
	}
	defer s.release(sess)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	mps := s.cfg.MessagesPerSecond
	c := &wsSession{
		sess:    sess,
		writer:  &wsConnWriter{conn: conn},
		limiter: rate.NewLimiter(rate.Limit(mps), mps),
		log:     webLog.With(slog.String("session_id", sess.ID())),
	}
	c.log.Info("connected", slog.String("remote", r.RemoteAddr))
	_ = c.send(wsServerMessage{Type: "status", Event: "connected"})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.baseCtx, cancel)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.pump(ctx, s.cfg.PollInterval) })
	g.Go(func() error { return c.readLoop(conn, g) })
	g.Go(func() error {
		// unblocks readLoop once the pump stops or the server shuts down
		<-ctx.Done()
		return conn.Close()
	})

	err = g.Wait()
	switch {
	case errors.Is(err, errShellExited):
		c.log.Info("shell_exited")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.log.Warn("websocket_closed_unexpectedly", slog.String("error", err.Error()))
	default:
		c.log.Info("disconnected")
	}
}

// pump pushes every non-empty batch to the client.
func (c *wsSession) pump(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		batch := c.sess.PollUpdates()
		if batch.Busy || batch.Empty() {
			continue
		}
		if err := c.send(wsServerMessage{Type: "update", Update: &batch}); err != nil {
			return err
		}
		if batch.Exited {
			_ = c.writer.WriteClose(websocket.CloseNormalClosure, "shell exited")
			return errShellExited
		}
	}
}

// readLoop handles client messages until the connection fails. Kills run on
// their own goroutine so pings are answered while the session recovers.
func (c *wsSession) readLoop(conn *websocket.Conn, g *errgroup.Group) error {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if !c.limiter.Allow() {
			c.sendError("RATE_LIMITED", "too many messages")
			continue
		}

		var msg wsClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.sendError("INVALID_MESSAGE", "invalid json payload")
			continue
		}

		switch msg.Type {
		case "ping":
			_ = c.send(wsServerMessage{Type: "status", Event: "pong"})
		case "submit":
			c.submit(msg.Command)
		case "kill":
			g.Go(func() error {
				c.kill()
				return nil
			})
		case "resize":
			if msg.Cols <= 0 || msg.Rows <= 0 || msg.Cols > 0xffff || msg.Rows > 0xffff {
				c.sendError("INVALID_SIZE", "cols and rows must be positive")
				continue
			}
			if err := c.sess.Resize(uint16(msg.Cols), uint16(msg.Rows)); err != nil {
				c.sendError("RESIZE_FAILED", err.Error())
			}
		default:
			c.sendError("UNSUPPORTED_MESSAGE", "supported message types: submit,kill,resize,ping")
		}
	}
}

func (c *wsSession) submit(command string) {
	err := c.sess.Submit(command)
	switch {
	case err == nil:
		_ = c.send(wsServerMessage{Type: "status", Event: "submitted"})
	case errors.Is(err, terminal.ErrNotReady):
		c.sendError("NOT_READY", err.Error())
	case errors.Is(err, terminal.ErrInvalidCommand):
		c.sendError("INVALID_COMMAND", err.Error())
	default:
		c.sendError("SUBMIT_FAILED", err.Error())
	}
}

func (c *wsSession) kill() {
	err := c.sess.KillCurrent()
	switch {
	case err == nil:
		_ = c.send(wsServerMessage{Type: "status", Event: "killed"})
	case errors.Is(err, terminal.ErrAlreadyTerminated):
		c.sendError("ALREADY_TERMINATED", err.Error())
	case errors.Is(err, terminal.ErrPermissionDenied):
		c.sendError("PERMISSION_DENIED", err.Error())
	default:
		c.log.Warn("kill_failed", slog.String("error", err.Error()))
		c.sendError("KILL_FAILED", err.Error())
	}
}
