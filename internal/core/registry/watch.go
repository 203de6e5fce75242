package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

var debounceInterval = 100 * time.Millisecond

// Watch reloads the registry whenever its file changes on disk and then
// calls onChange. It blocks until ctx is cancelled; no reload or onChange
// runs after it returns.
func (r *Registry) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close() // nolint:errcheck // best-effort cleanup

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	// Watch the directory so atomic renames are seen.
	if err := watcher.Add(dir); err != nil {
		return err
	}

	base := filepath.Base(r.path)
	var (
		debounce *time.Timer
		pending  sync.WaitGroup
	)
	// stopPending cancels a scheduled reload that has not started yet.
	stopPending := func() {
		if debounce != nil && debounce.Stop() {
			pending.Done()
		}
	}
	defer func() {
		stopPending()
		pending.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			stopPending()
			pending.Add(1)
			debounce = time.AfterFunc(debounceInterval, func() {
				defer pending.Done()
				if ctx.Err() != nil {
					return
				}
				if err := r.Reload(); err != nil {
					r.logger.Warn("registry reload failed", zap.String("path", r.path), zap.Error(err))
					return
				}
				r.logger.Info("registry reloaded", zap.String("path", r.path), zap.Int("apis", r.Len()))
				if onChange != nil && ctx.Err() == nil {
					onChange()
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("registry watcher error", zap.Error(err))
		}
	}
}
