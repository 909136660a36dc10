// Package watch reports changes to the template libraries.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Domain identifies which library changed.
type Domain int

const (
	Tabs Domain = iota
	Status
)

func (d Domain) String() string {
	if d == Status {
		return "status"
	}
	return "tabs"
}

// DefaultQuiet is how long a library must stay unchanged before it is reported.
const DefaultQuiet = 300 * time.Millisecond

// Watcher watches the tab directory and the status directory with its subfolders.
type Watcher struct {
	tabDir    string
	statusDir string
	quiet     time.Duration
	w         *fsnotify.Watcher
}

// New starts watching both directories. Missing directories are skipped.
func New(tabDir, statusDir string, quiet time.Duration) (*Watcher, error) {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w := &Watcher{tabDir: filepath.Clean(tabDir), statusDir: filepath.Clean(statusDir), quiet: quiet, w: fw}
	w.add(w.tabDir)
	w.add(w.statusDir)
	if entries, err := os.ReadDir(w.statusDir); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				w.add(filepath.Join(w.statusDir, e.Name()))
			}
		}
	}
	return w, nil
}

func (w *Watcher) add(dir string) {
	if err := w.w.Add(dir); err != nil {
		log.Printf("Not watching %s: %v", dir, err)
	}
}

// Close stops watching.
func (w *Watcher) Close() error { return w.w.Close() }

// Run delivers a domain on out once its directory has been quiet for the debounce
// period. It returns when ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context, out chan<- Domain) {
	pending := map[Domain]time.Time{}
	ticker := time.NewTicker(w.quiet / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			d, ok := w.classify(ev.Name)
			if !ok {
				continue
			}
			// New status folders need their own watch.
			if d == Status && ev.Op&fsnotify.Create == fsnotify.Create && filepath.Dir(ev.Name) == w.statusDir {
				if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
					w.add(ev.Name)
				}
			}
			pending[d] = time.Now()
		case <-ticker.C:
			now := time.Now()
			for d, t := range pending {
				if now.Sub(t) >= w.quiet {
					delete(pending, d)
					select {
					case out <- d:
					case <-ctx.Done():
						return
					}
				}
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			log.Printf("watch error: %v", err)
		}
	}
}

func (w *Watcher) classify(name string) (Domain, bool) {
	name = filepath.Clean(name)
	switch {
	case within(name, w.statusDir):
		return Status, true
	case within(name, w.tabDir):
		return Tabs, true
	}
	return 0, false
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
