// Package watcher watches the on-disk plans directory for out-of-band edits
// (an operator hand-editing a plan file, or deleting the directory) and
// notifies a callback so the worker can push a dashboard refresh.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher monitors a directory for create/write/remove events and calls
// onChange with the affected path, debounced to avoid a notification storm
// from editors that write a file in several small syscalls.
type Watcher struct {
	targetPath string
	onChange   func(path string)
	watcher    *fsnotify.Watcher
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.Mutex
	running    bool
	debounce   time.Duration
}

// New creates a Watcher for targetPath. onChange is invoked (from a
// background goroutine) whenever a file under targetPath is created,
// written, or removed, and whenever targetPath itself reappears after
// having been removed.
func New(targetPath string, onChange func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		targetPath: filepath.Clean(targetPath),
		onChange:   onChange,
		watcher:    fsw,
		ctx:        ctx,
		cancel:     cancel,
		debounce:   100 * time.Millisecond,
	}, nil
}

// Start begins watching. Calling Start twice is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addWatch(); err != nil {
		log.Warn().Err(err).Str("path", w.targetPath).Msg("plan watcher: failed to add initial watch")
	}

	go w.watchLoop()
	return nil
}

// Stop stops the watcher. Safe to call when not started.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) addWatch() error {
	if _, err := os.Stat(w.targetPath); os.IsNotExist(err) {
		// The plans directory may not exist yet; watch its parent so we
		// notice when it gets created.
		return w.watcher.Add(filepath.Dir(w.targetPath))
	}
	return w.watcher.Add(w.targetPath)
}

func (w *Watcher) watchLoop() {
	var debounceTimer *time.Timer
	pending := make(map[string]bool)
	var pendingMu sync.Mutex

	flush := func() {
		pendingMu.Lock()
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		pending = make(map[string]bool)
		pendingMu.Unlock()

		for _, p := range paths {
			if w.onChange != nil {
				w.onChange(p)
			}
		}
	}

	for {
		select {
		case <-w.ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) == w.targetPath && event.Op&fsnotify.Create != 0 {
				log.Info().Str("path", w.targetPath).Msg("plan watcher: target recreated, re-establishing watch")
				_ = w.addWatch()
			}

			pendingMu.Lock()
			pending[event.Name] = true
			pendingMu.Unlock()

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, flush)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("plan watcher: error")
		}
	}
}
