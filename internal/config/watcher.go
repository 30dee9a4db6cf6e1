package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// Update is a reload result. Err is set when the file no longer parses; the
// previous configuration stays in effect.
type Update struct {
	Config *Config
	Err    error
}

const (
	debounceDelay = 100 * time.Millisecond

	// at most one reload per second, bursts of two
	reloadRate  = rate.Limit(1)
	reloadBurst = 2
)

// Watcher reloads a config file when it changes on disk. The parent
// directory is watched so editors that replace the file by rename are seen.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	limiter *rate.Limiter

	updates chan Update
	trigger chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewWatcher creates a watcher for path. Call Start to begin watching.
func NewWatcher(path string) (*Watcher, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:    path,
		watcher: fw,
		limiter: rate.NewLimiter(reloadRate, reloadBurst),
		updates: make(chan Update, 1),
		trigger: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Updates delivers reload results. Only the latest undelivered result is
// kept.
func (w *Watcher) Updates() <-chan Update {
	return w.updates
}

// Start begins watching in background goroutines.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		cfgLog.Warn("config_watch_failed", slog.String("path", w.path), slog.String("error", err.Error()))
		return err
	}
	w.wg.Add(2)
	go w.watchLoop()
	go w.reloadLoop()
	return nil
}

// Stop shuts the watcher down and waits for its goroutines.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		w.cancel()
		_ = w.watcher.Close()
		w.wg.Wait()
	})
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	name := filepath.Clean(w.path)

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				select {
				case w.trigger <- struct{}{}:
				default:
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			cfgLog.Warn("config_watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reloadLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.trigger:
		}
		if err := w.limiter.Wait(w.ctx); err != nil {
			return
		}

		c, err := Load(w.path)
		if err != nil {
			cfgLog.Warn("config_reload_failed", slog.String("path", w.path), slog.String("error", err.Error()))
		} else {
			storeCache(w.path, c)
			cfgLog.Info("config_reloaded", slog.String("path", w.path))
		}
		w.publish(Update{Config: c, Err: err})
	}
}

// publish replaces any undelivered update with u.
func (w *Watcher) publish(u Update) {
	for {
		select {
		case w.updates <- u:
			return
		default:
		}
		select {
		case <-w.updates:
		default:
		}
	}
}

// storeCache makes a reloaded file the cached configuration when it is the
// file LoadUser reads.
func storeCache(path string, c *Config) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if cachePath == path {
		cache = c
	}
}
