// Package watch keeps the combined artifact current while crawlers are
// still writing chunk files. Filesystem events are debounced so a burst of
// chunk writes triggers one merge, not one per event.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"chunkmerge/internal/aggregate"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher watches a chunk directory and re-runs the merge whenever matching
// files change.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	agg         *aggregate.Aggregator
	dir         string
	pattern     string
	outputName  string
	logger      *zap.Logger
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	onMerge     func(*aggregate.Summary)

	stats Stats
}

// Stats tracks watcher activity for debugging and tests.
type Stats struct {
	EventsSeen      int
	MergesTriggered int
	Errors          int
	LastEventTime   time.Time
	LastEventPath   string
}

// New creates a Watcher that re-merges with agg when files matching pattern
// change in dir. Events on outputName itself are ignored, or every merge
// would retrigger the next one.
func New(dir, pattern, outputName string, debounce time.Duration, agg *aggregate.Aggregator, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	return &Watcher{
		watcher:     fsw,
		agg:         agg,
		dir:         dir,
		pattern:     pattern,
		outputName:  outputName,
		logger:      logger,
		debounceMap: make(map[string]time.Time),
		debounceDur: debounce,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// SetOnMerge registers a callback invoked after every successful re-merge,
// with that run's summary. Must be set before Start.
func (w *Watcher) SetOnMerge(fn func(*aggregate.Summary)) {
	w.onMerge = fn
}

// Start begins watching the chunk directory. Non-blocking; the event loop
// runs in a goroutine until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	w.logger.Info("watching chunk directory",
		zap.String("dir", w.dir),
		zap.String("pattern", w.pattern))

	go w.run(ctx)

	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		w.logger.Error("error closing watcher", zap.Error(err))
	}
	w.logger.Info("watcher stopped")
}

// run is the main event loop.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	settleTicker := time.NewTicker(100 * time.Millisecond)
	defer settleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("watcher context cancelled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-settleTicker.C:
			w.processSettled(ctx)
		}
	}
}

// handleEvent records a single filesystem event for debounced processing.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return // chmod etc.
	}

	name := filepath.Base(event.Name)
	if name == w.outputName {
		return
	}
	if ok, err := filepath.Match(w.pattern, name); err != nil || !ok {
		return
	}

	w.logger.Debug("chunk event", zap.String("op", event.Op.String()), zap.String("file", name))

	w.mu.Lock()
	w.stats.EventsSeen++
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.debounceMap[name] = time.Now()
	w.mu.Unlock()
}

// processSettled triggers one merge once every pending event has aged past
// the debounce window.
func (w *Watcher) processSettled(ctx context.Context) {
	w.mu.Lock()
	if len(w.debounceMap) == 0 {
		w.mu.Unlock()
		return
	}
	now := time.Now()
	for _, eventTime := range w.debounceMap {
		if now.Sub(eventTime) < w.debounceDur {
			w.mu.Unlock()
			return
		}
	}
	changed := len(w.debounceMap)
	w.debounceMap = make(map[string]time.Time)
	w.mu.Unlock()

	w.logger.Info("chunk files settled, re-merging", zap.Int("changed", changed))
	summary, err := w.agg.Run(ctx)

	w.mu.Lock()
	if err != nil {
		w.stats.Errors++
	} else {
		w.stats.MergesTriggered++
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("re-merge failed", zap.Error(err))
		return
	}
	w.logger.Info("re-merge complete",
		zap.String("output", summary.OutputPath),
		zap.Int("files", summary.FilesMerged),
		zap.Int64("bytes", summary.BytesWritten))
	if w.onMerge != nil {
		w.onMerge(summary)
	}
}

// GetStats returns the current watcher statistics.
func (w *Watcher) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// IsWatching returns true if the watcher is currently running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
