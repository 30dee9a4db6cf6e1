package logging

import (
	"bytes"
	"log/slog"
	"strings"
)

// BridgeWriter adapts slog to an io.Writer so that the standard library log
// package (and third-party code that logs through it) ends up in the
// structured log. A leading "[name] " prefix becomes the component.
type BridgeWriter struct {
	component string
}

// NewBridgeWriter returns a writer logging under defaultComponent unless a
// line carries its own prefix.
func NewBridgeWriter(defaultComponent string) *BridgeWriter {
	return &BridgeWriter{component: defaultComponent}
}

// Write logs p as one record at info level.
func (bw *BridgeWriter) Write(p []byte) (int, error) {
	n := len(p)
	msg := strings.TrimSpace(stripLogTimestamp(string(bytes.TrimLeft(p, " \t"))))
	if msg == "" {
		return n, nil
	}

	component := bw.component
	if strings.HasPrefix(msg, "[") {
		if idx := strings.Index(msg, "] "); idx > 1 {
			component = canonicalComponent(strings.ToLower(msg[1:idx]))
			msg = msg[idx+2:]
		}
	}
	Logger().Info(msg, slog.String("component", component))
	return n, nil
}

// stripLogTimestamp removes the prefix written by log.LstdFlags, log.Ltime
// or log.Ltime|log.Lmicroseconds; slog adds its own time.
func stripLogTimestamp(s string) string {
	// "2006/01/02 " date prefix
	if len(s) > 11 && s[4] == '/' && s[7] == '/' && s[10] == ' ' {
		s = s[11:]
	}
	if len(s) > 16 && s[2] == ':' && s[5] == ':' && s[8] == '.' && s[15] == ' ' {
		return s[16:]
	}
	if len(s) > 9 && s[2] == ':' && s[5] == ':' && s[8] == ' ' {
		return s[9:]
	}
	return s
}

func canonicalComponent(name string) string {
	switch name {
	case "pty", "pty-reader", "pty-writer":
		return CompPTY
	case "registry", "manager":
		return CompRegistry
	case "segment", "segmenter", "prompt":
		return CompSegment
	case "terminal", "session", "coordinator":
		return CompTerminal
	case "http", "ws", "websocket", "web":
		return CompWeb
	case "db", "sqlite", "history":
		return CompHistory
	default:
		return name
	}
}
