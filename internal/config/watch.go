package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	. "github.com/roelfdiedericks/reportbot/internal/logging"
)

// reloadDebounce absorbs the burst of events an editor save produces.
const reloadDebounce = 500 * time.Millisecond

// Watch reloads the config file at path whenever it changes and passes the
// new config to onChange. Invalid files are logged and skipped. Watch blocks
// until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// watch the directory, editors replace files by rename
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Base(path)
	L_info("config: watching for changes", "file", path)

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			cfg, _, err := Load(path)
			if err != nil {
				L_warn("config: reload failed, keeping previous config", "error", err)
				continue
			}
			L_info("config: reloaded", "file", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			L_warn("config: watcher error", "error", err)
		}
	}
}
