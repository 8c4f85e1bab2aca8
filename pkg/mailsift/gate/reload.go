package gate

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/mailsift/pkg/mailsift/logging"
)

// Reloader watches the pattern file and hot-reloads the gate's snapshot
// when it changes. Reload failures keep the previous snapshot active.
type Reloader struct {
	gate    *Gate
	watcher *fsnotify.Watcher
	logger  *logging.Logger
}

// NewReloader creates a Reloader for the gate's pattern file. It watches
// the containing directory so editors that replace the file (rename over
// it) are still observed.
func NewReloader(g *Gate) (*Reloader, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fsw.Add(filepath.Dir(g.file)); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	return &Reloader{
		gate:    g,
		watcher: fsw,
		logger:  logging.Get("gate"),
	}, nil
}

// Run processes filesystem events until the context is cancelled.
func (r *Reloader) Run(ctx context.Context) {
	target := filepath.Clean(r.gate.file)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := r.gate.Reload(); err != nil {
				// Reload already logged; previous snapshot stays active.
				continue
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("pattern watcher error", "error", err)
		}
	}
}

// Close releases the underlying filesystem watcher.
func (r *Reloader) Close() error {
	return r.watcher.Close()
}
