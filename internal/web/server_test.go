package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHealthzEndpoint(t *testing.T) {
	srv := NewServer(Config{MaxSessions: 3})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{`"ok":true`, `"sessions":0`, `"maxSessions":3`} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected health response to contain %s, got: %s", want, body)
		}
	}
}

func TestHealthzCountsSessions(t *testing.T) {
	srv, ts, _ := newTestServer(t, Config{})
	dial(t, ts, "/ws/session", nil)
	dial(t, ts, "/ws/session", nil)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"sessions":2`) {
		t.Fatalf("expected two sessions, got: %s", body)
	}
	if n := srv.ActiveSessions(); n != 2 {
		t.Fatalf("expected 2 active sessions, got %d", n)
	}
}

func TestHealthzMethodNotAllowed(t *testing.T) {
	srv := NewServer(Config{})

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rr.Code)
	}
}

func TestSessionEndpointMethodNotAllowed(t *testing.T) {
	srv := NewServer(Config{})

	req := httptest.NewRequest(http.MethodPost, "/ws/session", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rr.Code)
	}
}

func TestSessionFactoryFailure(t *testing.T) {
	srv := NewServer(Config{NewSession: func() (Session, error) {
		return nil, errors.New("no shell")
	}})

	req := httptest.NewRequest(http.MethodGet, "/ws/session", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "SESSION_START_FAILED") {
		t.Fatalf("expected error code, got: %s", rr.Body.String())
	}
}

func TestNewServerDefaults(t *testing.T) {
	srv := NewServer(Config{})
	if srv.Addr() != DefaultListenAddr {
		t.Fatalf("expected default addr, got %s", srv.Addr())
	}
	if srv.cfg.MaxSessions != DefaultMaxSessions {
		t.Fatalf("expected default max sessions, got %d", srv.cfg.MaxSessions)
	}
	if srv.cfg.MessagesPerSecond != DefaultMessagesPerSecond {
		t.Fatalf("expected default rate, got %d", srv.cfg.MessagesPerSecond)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := withRecover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rr.Code)
	}
}

func TestShutdownClosesSessions(t *testing.T) {
	srv, ts, ff := newTestServer(t, Config{})
	conn := dial(t, ts, "/ws/session", nil)
	sess := ff.last(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be closed")
	}
	waitFor(t, "session close", func() bool { return sess.closeCount() > 0 })
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"":                  "",
		"Bearer abc":        "abc",
		"  Bearer  abc  ":   "abc",
		"Basic abc":         "",
		"Bearer ":           "",
		"bearer lowercased": "",
	}
	for header, want := range tests {
		if got := bearerToken(header); got != want {
			t.Errorf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
