package replay

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"pfsap/internal/stats"
)

// DefaultDebounce is how long an archive must stay quiet before it is handed
// to the watch callback.
const DefaultDebounce = 250 * time.Millisecond

// WatchOptions configures Watch.
type WatchOptions struct {
	Debounce time.Duration
	// OnError receives watcher and callback errors; nil drops them.
	OnError func(error)
}

// Watch calls fn with the path of every field archive written under root
// until ctx is done. Subdirectories created after the watch starts are
// picked up as they appear. Each path is delivered once per quiet period.
func Watch(ctx context.Context, root string, opts WatchOptions, fn func(path string) error) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	report := opts.OnError
	if report == nil {
		report = func(error) {}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := addRecursive(watcher, root); err != nil {
		return err
	}

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time
	flush := func() {
		for path := range pending {
			if err := fn(path); err != nil {
				report(err)
			}
		}
		pending = make(map[string]struct{})
		timer, timerC = nil, nil
	}

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
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addRecursive(watcher, event.Name); err != nil {
						report(err)
					}
					// Archives may land before the new directory is watched.
					_ = filepath.WalkDir(event.Name, func(path string, d fs.DirEntry, err error) error {
						if err == nil && !d.IsDir() && d.Name() == stats.FieldFile {
							pending[path] = struct{}{}
						}
						return nil
					})
				}
			}
			if filepath.Base(event.Name) == stats.FieldFile && (event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) {
				pending[event.Name] = struct{}{}
			}
			if len(pending) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(opts.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(opts.Debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			report(err)
		case <-timerC:
			flush()
		}
	}
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return watcher.Add(path)
	})
}
