package tasks

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"lapscreen/internal/fsutil"
)

// DefaultSettle is how long a file must stay unchanged before it is reported.
const DefaultSettle = 500 * time.Millisecond

// WatchEvent reports an image that appeared or changed.
type WatchEvent struct {
	Path      string    `json:"path"`
	Operation string    `json:"operation"` // "created", "modified"
	Time      time.Time `json:"time"`
}

// Watcher monitors directories for new or rewritten images. Events for one
// path are coalesced until it has been quiet for the settle period, so a file
// still being copied is reported once.
type Watcher struct {
	watcher *fsnotify.Watcher
	Events  chan WatchEvent
	dirs    []string
	settle  time.Duration
	log     *slog.Logger

	// Ignore, when set, drops matching paths (e.g. mask files or outputs).
	Ignore func(path string) bool

	mu      sync.Mutex
	pending map[string]*pendingEvent
	stopped bool
	done    chan struct{}
}

// NewWatcher creates a watcher for dirs. A non-positive settle uses DefaultSettle.
func NewWatcher(dirs []string, settle time.Duration, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Watcher{
		watcher: fw,
		Events:  make(chan WatchEvent, 100),
		dirs:    dirs,
		settle:  settle,
		log:     logger,
		pending: map[string]*pendingEvent{},
		done:    make(chan struct{}),
	}, nil
}

// Start begins monitoring the configured directories.
func (w *Watcher) Start() error {
	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		w.log.Info("watching directory", "dir", dir)
	}
	go w.processEvents()
	return nil
}

// Stop ends monitoring and closes Events.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	for path, pe := range w.pending {
		pe.timer.Stop()
		delete(w.pending, path)
	}
	close(w.done)
	close(w.Events)
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			var operation string
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				operation = "created"
			case event.Op&fsnotify.Write == fsnotify.Write:
				operation = "modified"
			default:
				continue
			}
			if !fsutil.IsImageFile(event.Name) {
				continue
			}
			if w.Ignore != nil && w.Ignore(event.Name) {
				continue
			}
			w.schedule(event.Name, operation)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("filesystem watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// pendingEvent is the settle timer armed for one path.
type pendingEvent struct {
	operation string
	timer     *time.Timer
}

// schedule arms a fresh settle timer for path, replacing any pending one.
// The first operation seen for a pending path is kept.
func (w *Watcher) schedule(path, operation string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if prev, ok := w.pending[path]; ok {
		prev.timer.Stop()
		operation = prev.operation
	}
	pe := &pendingEvent{operation: operation}
	pe.timer = time.AfterFunc(w.settle, func() { w.emit(path, pe) })
	w.pending[path] = pe
}

// emit reports path if pe is still its pending timer. A timer that fired
// while schedule was replacing it finds a newer entry and does nothing.
func (w *Watcher) emit(path string, pe *pendingEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.pending[path] != pe {
		return
	}
	delete(w.pending, path)
	select {
	case w.Events <- WatchEvent{Path: path, Operation: pe.operation, Time: time.Now()}:
	default:
		w.log.Warn("event buffer full, dropping event", "path", path)
	}
}
