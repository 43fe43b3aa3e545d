package policy

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"

	"github.com/linnemanlabs/go-core/log"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads the policy file whenever it changes and hands each valid
// result to onChange. Invalid files are logged and ignored, so the last good
// policy stays in effect. The directory is watched rather than the file
// because editors and config-management tools replace files by rename.
//
// The returned stop function ends the watch and waits for the loop to exit.
func Watch(ctx context.Context, path string, logger log.Logger, onChange func(*Compiled)) (stop func() error, err error) {
	if logger == nil {
		logger = log.Nop()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, oops.With("path", path).Errorf("resolve policy path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, oops.Errorf("create policy watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, oops.With("path", abs).Errorf("watch policy dir: %w", err)
	}

	L := logger.With("component", "policy", "path", abs)
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		var timer *time.Timer
		var fire <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				fire = timer.C

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				L.Warn(ctx, "policy watcher error", "error", err)

			case <-fire:
				fire = nil
				p, err := Load(abs)
				if err != nil {
					L.Warn(ctx, "policy reload rejected, keeping previous policy", "error", err)
					continue
				}
				L.Info(ctx, "policy reloaded")
				onChange(Compile(p))
			}
		}
	}()

	return func() error {
		cancel()
		err := w.Close()
		<-done
		return err
	}, nil
}
