// Package watch re-runs the patcher when the host drops new bundles or the
// alias config changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/kokistudios/modelstamp/internal/bundle"
)

// DefaultDebounce is how long the tree must stay quiet before a run.
const DefaultDebounce = 500 * time.Millisecond

// Event is one settled batch of changes.
type Event struct {
	// Bundles lists changed files that match a bundle family pattern.
	Bundles []string
	// ConfigChanged is set when the alias config file was written.
	ConfigChanged bool
}

// Force reports whether the run should re-render baked tables.
func (e Event) Force() bool {
	return e.ConfigChanged
}

// Handler runs the patcher for ev.
type Handler func(ctx context.Context, ev Event) error

// Options configure a Watcher.
type Options struct {
	Dist       string
	ConfigPath string
	Debounce   time.Duration
	Handler    Handler
	Logger     *log.Logger
}

// Stats counts watcher activity.
type Stats struct {
	Events int
	Runs   int
	Errors int
	LastAt time.Time
}

// Watcher watches the dist directory and the alias config file.
type Watcher struct {
	mu      sync.Mutex
	opts    Options
	log     *log.Logger
	fsw     *fsnotify.Watcher
	pending map[string]time.Time
	config  time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
	stats   Stats
}

// New returns a stopped Watcher.
func New(opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.ConfigPath != "" {
		opts.ConfigPath = filepath.Clean(opts.ConfigPath)
	}
	return &Watcher{
		opts:    opts,
		log:     opts.Logger.WithPrefix("watch"),
		pending: make(map[string]time.Time),
	}
}

// Start begins watching. It is non-blocking; the event loop runs in one
// goroutine until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if w.opts.Handler == nil {
		return errors.New("watch: no handler")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(w.opts.Dist); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.opts.Dist, err)
	}
	w.log.Info("watching", "dir", w.opts.Dist)

	// Editors replace files by rename, so the config is watched via its
	// directory.
	if w.opts.ConfigPath != "" {
		dir := filepath.Dir(w.opts.ConfigPath)
		if err := fsw.Add(dir); err != nil {
			w.log.Warn("config directory not watched", "dir", dir, "err", err)
		} else {
			w.log.Info("watching", "config", w.opts.ConfigPath)
		}
	}

	w.fsw = fsw
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true
	go w.run(ctx, fsw, w.stopCh, w.doneCh)
	return nil
}

// Stop ends the event loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)
	<-doneCh
	w.log.Debug("stopped")
}

// Done is closed when the event loop exits. It is nil before Start.
func (w *Watcher) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.doneCh
}

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer fsw.Close()

	tick := w.opts.Debounce / 4
	if tick > 100*time.Millisecond {
		tick = 100 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			return
		case <-stopCh:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher error", "err", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			if ev, ok := w.settled(time.Now()); ok {
				w.fire(ctx, ev)
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return
	}
	name := filepath.Clean(ev.Name)
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.opts.ConfigPath != "" && name == w.opts.ConfigPath:
		w.config = now
	case filepath.Dir(name) == filepath.Clean(w.opts.Dist) && matchesFamily(filepath.Base(name)):
		w.pending[name] = now
	default:
		return
	}
	w.stats.Events++
	w.stats.LastAt = now
	w.log.Debug("change", "path", name, "op", ev.Op.String())
}

// settled drains pending changes once the newest is older than the debounce
// window.
func (w *Watcher) settled(now time.Time) (Event, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) == 0 && w.config.IsZero() {
		return Event{}, false
	}
	latest := w.config
	for _, at := range w.pending {
		if at.After(latest) {
			latest = at
		}
	}
	if now.Sub(latest) < w.opts.Debounce {
		return Event{}, false
	}

	ev := Event{ConfigChanged: !w.config.IsZero()}
	for p := range w.pending {
		ev.Bundles = append(ev.Bundles, p)
	}
	sort.Strings(ev.Bundles)
	w.pending = make(map[string]time.Time)
	w.config = time.Time{}
	return ev, true
}

func (w *Watcher) fire(ctx context.Context, ev Event) {
	w.log.Info("running", "bundles", len(ev.Bundles), "config", ev.ConfigChanged)
	err := w.opts.Handler(ctx, ev)

	w.mu.Lock()
	w.stats.Runs++
	if err != nil {
		w.stats.Errors++
	}
	w.mu.Unlock()
	if err != nil {
		w.log.Error("run failed", "err", err)
	}
}

func matchesFamily(base string) bool {
	for _, pattern := range bundle.Patterns() {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}
