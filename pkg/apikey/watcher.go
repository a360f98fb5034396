package apikey

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher hot-reloads the key store when its backing file changes, so
// keys added or revoked by another process take effect without a
// restart.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	debounce time.Duration

	done     chan struct{}
	stopOnce sync.Once

	timerMu sync.Mutex
	timer   *time.Timer
}

// NewWatcher creates a watcher for the store's directory. Watching the
// directory instead of the file survives the atomic rename on save.
func NewWatcher(store *Store, debounce time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	return &Watcher{
		store:    store,
		watcher:  fsWatcher,
		debounce: debounce,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching for key file changes.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.store.Path())); err != nil {
		return fmt.Errorf("failed to watch key directory: %w", err)
	}

	go w.eventLoop()
	log.Info().Str("path", w.store.Path()).Msg("API key watcher started")
	return nil
}

// Stop ends watching.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != keysFileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Key watcher error")

		case <-w.done:
			return
		}
	}
}

// scheduleReload debounces bursts of events into a single reload.
func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
		}

		if err := w.store.Reload(); err != nil {
			log.Error().Err(err).Msg("Failed to reload API keys")
			return
		}
		log.Info().Msg("API keys reloaded")
	})
}
