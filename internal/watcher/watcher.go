// Package watcher observes the component source tree and drives debounced
// recompilation.
//
// Each watched path moves through Idle -> PendingDebounce -> Recompiling ->
// Ready/Broken. The debouncer is a time-indexed table keyed by path holding
// the last event time, flushed by a periodic tick: repeated events for one
// path within the window reset its timestamp and collapse into a single
// recompile and a single broadcast.
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tagon-dev/tagon/internal/component"
	"github.com/tagon-dev/tagon/internal/config"
	"github.com/tagon-dev/tagon/internal/registry"
	"github.com/tagon-dev/tagon/internal/reload"
)

const (
	styleExtension = ".css"
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
	tickInterval   = 50 * time.Millisecond
)

// Notifier receives classified change notifications for fan-out.
// *reload.Broadcaster implements it.
type Notifier interface {
	Broadcast(payload string)
}

// Watcher ingests raw filesystem events and serializes recompilation through
// a single debounce worker, so no two compilations race on one component.
type Watcher struct {
	config      *config.Config
	registry    *registry.Registry
	broadcaster Notifier
	dir         string
	extension   string

	fsw *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   map[string]time.Time
	debounce  time.Duration

	rewatch  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher over the configured component directory.
func New(cfg *config.Config, reg *registry.Registry, bc Notifier) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		config:      cfg,
		registry:    reg,
		broadcaster: bc,
		dir:         cfg.Components.Dir,
		extension:   cfg.Components.Extension,
		fsw:         fsw,
		pending:     make(map[string]time.Time),
		debounce:    cfg.Watch.Debounce.Duration(),
		rewatch:     make(chan struct{}, 1),
		done:        make(chan struct{}),
	}, nil
}

// Log logs a message via the config.
func (w *Watcher) Log(level int, format string, args ...interface{}) {
	w.config.Log(level, format, args...)
}

// Start begins watching. Watch setup failures are retried with exponential
// backoff and never terminate the loops.
func (w *Watcher) Start() {
	go w.watchLoop()
	go w.eventLoop()
	go w.debounceLoop()
	w.Log(1, "watcher: watching %s for %s and %s changes", w.dir, w.extension, styleExtension)
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
}

// watchLoop establishes (and re-establishes) directory watches, backing off
// exponentially on failure.
func (w *Watcher) watchLoop() {
	backoff := initialBackoff
	for {
		err := w.watchTree(w.dir)
		if err == nil {
			backoff = initialBackoff
			select {
			case <-w.done:
				return
			case <-w.rewatch:
				continue
			}
		}

		w.Log(0, "watcher: cannot watch %s: %v (retrying in %s)", w.dir, err, backoff)
		select {
		case <-w.done:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// watchTree adds watches for dir and every subdirectory.
func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.fsw.Add(path)
	})
}

// requestRewatch nudges the watch loop to re-establish watches.
func (w *Watcher) requestRewatch() {
	select {
	case w.rewatch <- struct{}{}:
	default:
	}
}

// eventLoop ingests raw filesystem events. Watcher errors are logged and
// trigger a re-watch; they never terminate the loop.
func (w *Watcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.Log(0, "watcher: error: %v", err)
			w.requestRewatch()
		}
	}
}

// handleEvent filters one filesystem event and queues the affected path.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	w.Log(3, "watcher: event %s on %s", event.Op, event.Name)

	// New subdirectories join the watch set.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watchTree(event.Name); err != nil {
				w.Log(0, "watcher: cannot watch new directory %s: %v", event.Name, err)
			}
			return
		}
	}

	if !w.relevant(event.Name) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	w.queue(event.Name)
}

// relevant reports whether a path is a component source or style file.
func (w *Watcher) relevant(path string) bool {
	return strings.HasSuffix(path, w.extension) || strings.HasSuffix(path, styleExtension)
}

// queue marks a path PendingDebounce, resetting its window on repeat events.
func (w *Watcher) queue(path string) {
	w.pendingMu.Lock()
	w.pending[path] = time.Now()
	w.pendingMu.Unlock()
}

// debounceLoop drains paths whose debounce window has elapsed. It is the
// single compile worker: flushes run inline, so compilation is serialized.
func (w *Watcher) debounceLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			for _, path := range w.takeExpired() {
				w.flush(path)
			}
		}
	}
}

// takeExpired removes and returns pending paths older than the window.
func (w *Watcher) takeExpired() []string {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	now := time.Now()
	var expired []string
	for path, queuedAt := range w.pending {
		if now.Sub(queuedAt) >= w.debounce {
			expired = append(expired, path)
			delete(w.pending, path)
		}
	}
	return expired
}

// flush recompiles the component affected by a flushed path and broadcasts
// the classified notification. Compile failures are recorded on the registry
// entry and never interrupt watching.
func (w *Watcher) flush(path string) {
	componentPath := path
	if strings.HasSuffix(path, styleExtension) {
		// A sibling style file change recompiles its owning component.
		componentPath = strings.TrimSuffix(path, styleExtension) + w.extension
	}

	if _, err := os.Stat(componentPath); err != nil {
		if !strings.HasSuffix(path, styleExtension) {
			// Component source deleted: drop the entry and reload clients.
			name := component.NameFromPath(componentPath)
			w.registry.Remove(name)
			w.Log(1, "watcher: %s deleted", name)
			w.broadcaster.Broadcast(reload.FullReload)
		}
		return
	}

	outcome, err := w.registry.CompileFile(componentPath)
	if err != nil {
		w.Log(0, "watcher: recompile %s: %v", componentPath, err)
		return
	}
	if outcome.Err != nil {
		w.Log(1, "watcher: %s is broken: %v", outcome.Name, outcome.Err)
	} else {
		w.Log(1, "watcher: recompiled %s", outcome.Name)
	}

	if outcome.StyleOnly {
		w.broadcaster.Broadcast(reload.StyleUpdate)
	} else {
		w.broadcaster.Broadcast(reload.FullReload)
	}
}
