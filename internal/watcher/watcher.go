package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/me/qcpipe/internal/fsutil"
)

// DefaultSettle is how long a geometry file must stay unchanged before it
// is ingested.
const DefaultSettle = time.Second

// Watcher ingests xyz files as they appear in the input directory.
type Watcher struct {
	dir      string
	ingester *Ingester
	settle   time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan string
	done    chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSettle overrides DefaultSettle.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) { w.settle = d }
}

// New creates a Watcher for the ingester's input directory.
func New(ing *Ingester, logger *slog.Logger, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      ing.inputDir,
		ingester: ing,
		settle:   DefaultSettle,
		logger:   logger.With("component", "watcher"),
		pending:  make(map[string]*time.Timer),
		ready:    make(chan string),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is cancelled. It may be called once. Ingestion
// happens on the calling goroutine, so no ingest is in progress once Run
// returns.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	defer w.stopTimers()

	w.logger.Info("watching for geometry files", "dir", w.dir, "settle", w.settle)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isGeometry(ev.Name) || !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			w.logger.Debug("geometry event", "path", ev.Name, "op", ev.Op.String())
			w.schedule(ev.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", "error", err)
		case path := <-w.ready:
			if !fsutil.Exists(path) {
				continue
			}
			w.logger.Info("new geometry file", "path", path)
			if err := w.ingester.Ingest(path); err != nil {
				w.logger.Error("cannot ingest geometry", "path", path, "error", err)
			}
		}
	}
}

// schedule (re)starts the settle timer for path. Every further write
// pushes ingestion back by another settle interval.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(w.settle, func() { w.fire(path, t) })
	w.pending[path] = t
}

// fire hands path to Run unless t was replaced by a later schedule call
// after it had already expired.
func (w *Watcher) fire(path string, t *time.Timer) {
	w.mu.Lock()
	if w.pending[path] != t {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.mu.Unlock()
	select {
	case w.ready <- path:
	case <-w.done:
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	close(w.done)
}
