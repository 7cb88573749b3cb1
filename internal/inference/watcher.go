package inference

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

const pollInterval = 60 * time.Second

// WatchModel reloads the dispatcher's model when the file at its
// current path changes on disk. fsnotify drives the fast path; a slow
// mtime poll covers filesystems where watches are unreliable.
func (d *Dispatcher) WatchModel(ctx context.Context) {
	path := d.ModelPath()
	if path == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[INFER] model watcher unavailable (%v), polling only", err)
		watcher = nil
	} else if err := watcher.Add(path); err != nil {
		log.Printf("[INFER] cannot watch %s (%v), polling only", path, err)
		watcher.Close()
		watcher = nil
	}

	if watcher != nil {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						// Writers may still be flushing.
						time.Sleep(100 * time.Millisecond)
						d.reloadCurrent()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("[INFER] model watcher error: %v", err)
				}
			}
		}()
	}

	go func() {
		var lastMod time.Time
		if fi, err := os.Stat(path); err == nil {
			lastMod = fi.ModTime()
		}
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fi, err := os.Stat(path)
				if err != nil {
					continue
				}
				if fi.ModTime().After(lastMod) {
					lastMod = fi.ModTime()
					d.reloadCurrent()
				}
			}
		}
	}()
}

func (d *Dispatcher) reloadCurrent() {
	path := d.ModelPath()
	if path == "" {
		return
	}
	log.Printf("[INFER] model file changed, reloading %s", path)
	if err := d.LoadModel(path); err != nil {
		log.Printf("[INFER] model reload failed: %v", err)
	}
}
