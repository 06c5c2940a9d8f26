package skills

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 250 * time.Millisecond

// Watcher reloads a registry when anything under its skill directories
// changes. Bursts of events collapse into one reload.
type Watcher struct {
	registry *Registry
	debounce time.Duration
	onReload func(n int)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	paths   map[string]struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher for registry's directories. onReload may be
// nil.
func NewWatcher(registry *Registry, debounce time.Duration, onReload func(n int)) *Watcher {
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	return &Watcher{registry: registry, debounce: debounce, onReload: onReload, paths: make(map[string]struct{})}
}

// Start begins watching. It is a no-op when already running.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fw
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	builtinDir, userDir := w.registry.Dirs()
	for _, root := range []string{builtinDir, userDir} {
		w.addTree(root)
	}

	w.wg.Add(1)
	go w.loop(watchCtx, fw)
	return nil
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	fw := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	var err error
	if fw != nil {
		err = fw.Close()
	}
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer w.wg.Done()

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	scheduleReload := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			if ctx.Err() != nil {
				return
			}
			n := w.registry.Rescan()
			// New skill directories appear between events; pick them up.
			builtinDir, userDir := w.registry.Dirs()
			w.addTree(builtinDir)
			w.addTree(userDir)
			if w.onReload != nil {
				w.onReload(n)
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.add(event.Name)
				}
			}
			scheduleReload()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			slog.Warn("Skill watch error", "error", err)
		}
	}
}

// addTree watches root and its immediate skill directories.
func (w *Watcher) addTree(root string) {
	if root == "" {
		return
	}
	w.add(root)
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			w.add(filepath.Join(root, e.Name()))
		}
	}
}

func (w *Watcher) add(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	cleaned := filepath.Clean(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return
	}
	if _, ok := w.paths[cleaned]; ok {
		return
	}
	if err := w.watcher.Add(cleaned); err != nil {
		slog.Debug("Failed to watch skills path", "path", cleaned, "error", err)
		return
	}
	w.paths[cleaned] = struct{}{}
}
