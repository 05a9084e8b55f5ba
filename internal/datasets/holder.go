package datasets

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events a single save produces.
const reloadDebounce = 500 * time.Millisecond

// Holder keeps the current Snapshot and reloads it when either file in dir
// changes. A reload that fails keeps the previous snapshot.
type Holder struct {
	dir string
	log *slog.Logger

	mu       sync.RWMutex
	snapshot Snapshot

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewHolder returns a Holder for dir with an empty snapshot. Call Reload to
// read the files and StartWatcher to follow changes.
func NewHolder(dir string, log *slog.Logger) *Holder {
	return &Holder{dir: dir, log: log}
}

// Snapshot returns the current view.
func (h *Holder) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot
}

// Reload re-reads both files and swaps the snapshot on success.
func (h *Holder) Reload() error {
	s, err := Load(h.dir)
	if err != nil {
		h.log.Error("dataset status reload failed", slog.String("dir", h.dir), slog.String("error", err.Error()))
		return err
	}
	h.mu.Lock()
	h.snapshot = s
	h.mu.Unlock()
	h.log.Info("dataset status loaded",
		slog.Int("datasets", len(s.Datasets)),
		slog.Int("enabled", s.EnabledCount()))
	return nil
}

// StartWatcher watches dir until ctx is done. The directory is watched
// rather than the files so that atomic replace-by-rename is seen.
func (h *Holder) StartWatcher(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(h.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", h.dir, err)
	}
	h.watcher = w
	h.done = make(chan struct{})
	h.log.Info("watching dataset status", slog.String("dir", h.dir))
	go h.watchLoop(ctx)
	return nil
}

// Wait blocks until the watch loop has exited.
func (h *Holder) Wait() {
	if h.done != nil {
		<-h.done
	}
}

func (h *Holder) watchLoop(ctx context.Context) {
	defer close(h.done)
	defer h.watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			if name != StatusFile && name != TrackingFile {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			h.log.Debug("dataset status file changed", slog.String("file", name), slog.String("op", ev.Op.String()))
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if ctx.Err() == nil {
					_ = h.Reload()
				}
			})

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.log.Error("dataset status watcher error", slog.String("error", err.Error()))
		}
	}
}
