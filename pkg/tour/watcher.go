package tour

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/waytale/waytale/internal/log"
)

// Watcher reloads a tour definition when its file changes on disk.
// Invalid files are logged and skipped; the last good tour stays active.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	updates chan *Tour
	logger  *slog.Logger

	// debounce collapses editor write bursts into one reload
	debounce time.Duration
}

// Watch starts watching path and returns the watcher.
// The initial load is the caller's responsibility (via Load).
func Watch(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: editors replace files on save.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		path:     path,
		watcher:  fw,
		updates:  make(chan *Tour, 1),
		logger:   log.Component("tour.watcher"),
		debounce: 250 * time.Millisecond,
	}, nil
}

// Updates delivers each successfully re-loaded tour.
func (w *Watcher) Updates() <-chan *Tour {
	return w.updates
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	t, err := Load(w.path)
	if err != nil {
		w.logger.Warn("reload skipped, keeping active tour", "path", w.path, "error", err)
		return
	}
	w.logger.Info("tour reloaded", "tour", t.ID, "pois", len(t.POIs))
	select {
	case w.updates <- t:
	default:
		// Consumer hasn't drained the previous update; replace it.
		select {
		case <-w.updates:
		default:
		}
		w.updates <- t
	}
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
