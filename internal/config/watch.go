package config

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// PromptWatcher watches the system prompt file and serves the latest
// contents to the agent loop without a process restart.
type PromptWatcher struct {
	mu      sync.RWMutex
	prompt  string
	dir     string
	cfg     *Config
	watcher *fsnotify.Watcher
	onErr   func(error)
}

// NewPromptWatcher loads the current system prompt and starts watching the
// config directory for changes to it. Close releases the watch.
func NewPromptWatcher(ctx context.Context, cfg *Config, dir string, onErr func(error)) (*PromptWatcher, error) {
	w := &PromptWatcher{
		prompt: cfg.SystemPrompt(dir),
		dir:    dir,
		cfg:    cfg,
		onErr:  onErr,
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w.watcher = watcher

	// Watch the directory rather than the file: editors replace files on
	// save, which would orphan a direct file watch.
	watchDir := dir
	if cfg.SystemPromptFile != "" {
		watchDir = filepath.Dir(cfg.SystemPromptFile)
	}
	if err := watcher.Add(watchDir); err != nil {
		// The config directory may not exist; fall back to the static prompt.
		_ = watcher.Close()
		w.watcher = nil
		return w, nil
	}

	go w.run(ctx)
	return w, nil
}

// Prompt returns the current system prompt.
func (w *PromptWatcher) Prompt() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.prompt
}

// Close stops the watcher. Safe to call when the watch never started.
func (w *PromptWatcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}

func (w *PromptWatcher) run(ctx context.Context) {
	target := w.cfg.SystemPromptFile
	if target == "" {
		target = filepath.Join(w.dir, "system.md")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(target) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.prompt = w.cfg.SystemPrompt(w.dir)
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.onErr != nil {
				w.onErr(err)
			}
		}
	}
}
