package sharedfs

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch emits a ReloadEvent each time the reload marker in dir is rewritten.
// The returned channel is closed when ctx is cancelled or the underlying
// watcher fails. A slow consumer sees only the latest pending event.
func Watch(ctx context.Context, dir string) (<-chan ReloadEvent, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch shared dir %s: %w", dir, err)
	}

	out := make(chan ReloadEvent, 1)
	go func() {
		defer close(out)
		defer func() { _ = watcher.Close() }()

		var last ReloadEvent
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != ReloadMarker {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}

				ev, found, err := ReadMarker(dir)
				if err != nil {
					slog.Debug("reload marker unreadable", "error", err)
					continue
				}
				if !found || (ev.Seq == last.Seq && ev.At.Equal(last.At)) {
					continue
				}
				last = ev

				select {
				case out <- ev:
				default:
					// Replace the pending event with the newer one.
					select {
					case <-out:
					default:
					}
					out <- ev
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("shared dir watcher error", "dir", dir, "error", err)
			}
		}
	}()

	return out, nil
}
