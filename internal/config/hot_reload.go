package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// HotReloader watches the config file and reloads the manager when it
// changes. Editors tend to write files with a rename-replace dance, so the
// watcher follows the parent directory and debounces bursts of events.
type HotReloader struct {
	manager *Manager
	logger  hclog.Logger

	watcher *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	debounceDelay time.Duration

	reloadMu      sync.Mutex
	pendingReload *time.Timer
}

// NewHotReloader creates a hot reloader for the manager's config path.
func NewHotReloader(manager *Manager, logger hclog.Logger) *HotReloader {
	ctx, cancel := context.WithCancel(context.Background())
	return &HotReloader{
		manager:       manager,
		logger:        logger.Named("config-reload"),
		ctx:           ctx,
		cancel:        cancel,
		debounceDelay: 300 * time.Millisecond,
	}
}

// Start begins watching the config file. It is a no-op when the manager was
// loaded without a file.
func (h *HotReloader) Start() error {
	path := h.manager.Path()
	if path == "" {
		h.logger.Debug("no config file to watch, hot reload disabled")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	h.watcher = watcher

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	h.wg.Add(1)
	go h.watchLoop(path)

	h.logger.Info("config hot reload enabled", "path", path)
	return nil
}

// Stop stops the watcher and waits for the watch loop to exit.
func (h *HotReloader) Stop() {
	h.cancel()
	if h.watcher != nil {
		h.watcher.Close()
	}
	h.wg.Wait()
}

func (h *HotReloader) watchLoop(path string) {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			h.scheduleReload(path)
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (h *HotReloader) scheduleReload(path string) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	if h.pendingReload != nil {
		h.pendingReload.Stop()
	}
	h.pendingReload = time.AfterFunc(h.debounceDelay, func() {
		if err := h.manager.Load(path); err != nil {
			h.logger.Warn("config reload failed, keeping previous config", "error", err)
			return
		}
		h.logger.Info("configuration reloaded", "path", path)
	})
}
