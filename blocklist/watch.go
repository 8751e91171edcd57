package blocklist

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/semihalev/zlog/v2"
)

// Trigger asks a running Run loop for a refresh. It never blocks; triggers
// arriving while one is pending are merged.
func (b *BlockList) Trigger() {
	select {
	case b.trigger <- struct{}{}:
	default:
	}
}

// Run refreshes the blocklist every interval, on Trigger and whenever a
// local source file changes, until ctx is done.
func (b *BlockList) Run(ctx context.Context, interval time.Duration) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := b.clock.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.Chan()
	}

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)

	watcher, err := b.watch()
	if err != nil {
		zlog.Warn("Blocklist file watcher disabled", "error", err.Error())
	} else if watcher != nil {
		defer watcher.Close()
		events, errs = watcher.Events, watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-tick:
			b.Refresh(ctx)

		case <-b.trigger:
			b.Refresh(ctx)

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}

			if b.isRelevantEvent(event) {
				zlog.Debug("Blocklist file event", "event", event.String())
				b.Refresh(ctx)
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			zlog.Error("Blocklist watcher error", "error", err.Error())
		}
	}
}

// watch returns a watcher on the directories of the local sources, or nil
// when every source is remote.
func (b *BlockList) watch() (*fsnotify.Watcher, error) {
	dirs := make(map[string]bool)
	for _, src := range b.sources {
		if !src.remote {
			dirs[filepath.Dir(src.location)] = true
		}
	}

	if len(dirs) == 0 {
		return nil, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, err
		}
	}

	return watcher, nil
}

func (b *BlockList) isRelevantEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return false
	}

	for _, src := range b.sources {
		if src.remote {
			continue
		}

		if filepath.Clean(event.Name) == filepath.Clean(src.location) {
			return true
		}
	}

	return false
}
