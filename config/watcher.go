package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events editors emit on save.
const DefaultDebounce = 100 * time.Millisecond

// Watch reports a freshly loaded config every time the YAML file at path
// changes, until ctx is done. The parent directory is watched so that
// atomic rename-on-save is picked up. Reload failures are passed to fn
// with a nil config and the previous config stays in effect.
func Watch(ctx context.Context, path string, fn func(*Config, error)) error {
	return watch(ctx, path, DefaultDebounce, fn)
}

func watch(ctx context.Context, path string, debounce time.Duration, fn func(*Config, error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			cfg, err := LoadFile(abs)
			if err != nil {
				fn(nil, err)
				continue
			}
			fn(cfg, nil)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fn(nil, err)
		}
	}
}
