package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mosaicterm/mosaicterm/internal/web"
)

// buildWebServer parses serve flags over the [web] settings and returns a
// ready-to-start server.
func buildWebServer(a *app, args []string) (*web.Server, error) {
	ws := a.cfg.Web
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listenAddr := fs.String("listen", ws.Listen, "Listen address")
	token := fs.String("token", ws.Token, "Bearer token required for websocket access")
	maxSessions := fs.Int("max-sessions", ws.MaxSessions, "Maximum concurrent sessions")

	fs.Usage = func() {
		fmt.Println("Usage: mosaicterm serve [options]")
		fmt.Println()
		fmt.Println("Serve terminal sessions over websockets at /ws/session.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  mosaicterm serve")
		fmt.Println("  mosaicterm serve --listen 127.0.0.1:9000 --token s3cret")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	return web.NewServer(web.Config{
		ListenAddr:        *listenAddr,
		Token:             *token,
		MaxSessions:       *maxSessions,
		MessagesPerSecond: ws.MessagesPerSecond,
		PollInterval:      time.Duration(a.cfg.UI.PollMs) * time.Millisecond,
		NewSession: func() (web.Session, error) {
			// clients resize after connecting
			s, err := a.newSession(80, 24)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	}), nil
}

func handleServe(a *app, args []string) int {
	server, err := buildWebServer(a, args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	fmt.Printf("Serving sessions on ws://%s/ws/session\n", server.Addr())

	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	case <-sigCh:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: shutdown: %v\n", err)
		return 1
	}
	return 0
}
