// Package features holds the reference descriptor libraries used to identify tabs
// and status icons, and the ratio-test matcher that consults them.
package features

import (
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Descriptors is a computed descriptor set. Rows is the number of descriptors,
// which equals the number of keypoints they were computed from.
type Descriptors interface {
	Rows() int
	Close() error
}

// Extractor computes keypoint descriptors for grayscale images.
type Extractor interface {
	Compute(img image.Image) (Descriptors, error)
	ComputeFile(path string) (Descriptors, error)
}

// Template is one named reference descriptor set.
type Template struct {
	Name string
	Desc Descriptors
}

// Library is an immutable, sorted set of templates. Libraries are shared by
// reference count; the descriptors are released once a replaced library has no
// remaining readers.
type Library struct {
	Templates []Template

	mu      sync.Mutex
	refs    int
	retired bool
}

func newLibrary(templates []Template) *Library {
	sort.SliceStable(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })
	return &Library{Templates: templates}
}

// Len returns the number of templates.
func (l *Library) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Templates)
}

func (l *Library) acquire() {
	l.mu.Lock()
	l.refs++
	l.mu.Unlock()
}

func (l *Library) release() {
	l.mu.Lock()
	l.refs--
	done := l.retired && l.refs == 0
	l.mu.Unlock()
	if done {
		l.close()
	}
}

func (l *Library) retire() {
	l.mu.Lock()
	l.retired = true
	done := l.refs == 0
	l.mu.Unlock()
	if done {
		l.close()
	}
}

func (l *Library) close() {
	for _, t := range l.Templates {
		if t.Desc != nil {
			t.Desc.Close()
		}
	}
}

// StatusLibraries maps a tab key (folder name plus tab image extension) to the
// status icon library for that tab.
type StatusLibraries map[string]*Library

// Snapshot is a consistent view of both domains. Release must be called once the
// caller is done matching.
type Snapshot struct {
	Tabs   *Library
	Status StatusLibraries

	statusSet *statusSet
	once      sync.Once
}

// Release returns the snapshot's libraries to the store.
func (s *Snapshot) Release() {
	s.once.Do(func() {
		s.Tabs.release()
		s.statusSet.release()
	})
}

// StatusFor returns the status library for tab, or nil.
func (s *Snapshot) StatusFor(tab string) *Library {
	return s.Status[tab]
}

// statusSet groups the per-tab libraries so they can be swapped and retired together.
type statusSet struct {
	libs StatusLibraries
}

func (s *statusSet) acquire() {
	for _, l := range s.libs {
		l.acquire()
	}
}

func (s *statusSet) release() {
	for _, l := range s.libs {
		l.release()
	}
}

func (s *statusSet) retire() {
	for _, l := range s.libs {
		l.retire()
	}
}

// Store owns the current tab and status libraries.
type Store struct {
	extractor Extractor
	tabDir    string
	statusDir string
	tabExt    string

	mu     sync.Mutex
	tabs   *Library
	status *statusSet
}

// NewStore returns an empty store. Call RebuildTabs and RebuildStatus to populate it.
func NewStore(extractor Extractor, tabDir, statusDir, tabExt string) *Store {
	if tabExt == "" {
		tabExt = ".png"
	}
	return &Store{
		extractor: extractor,
		tabDir:    tabDir,
		statusDir: statusDir,
		tabExt:    tabExt,
		tabs:      newLibrary(nil),
		status:    &statusSet{libs: StatusLibraries{}},
	}
}

// TabExt returns the extension appended to status folder names.
func (s *Store) TabExt() string { return s.tabExt }

// Acquire returns the current libraries. The snapshot stays valid across rebuilds
// until released.
func (s *Store) Acquire() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tabs.acquire()
	s.status.acquire()
	return &Snapshot{Tabs: s.tabs, Status: s.status.libs, statusSet: s.status}
}

// Rebuild reloads both domains. The domains are independent: a failure in one
// leaves only that domain at its previous state.
func (s *Store) Rebuild() error {
	tabErr := s.RebuildTabs()
	statusErr := s.RebuildStatus()
	if tabErr != nil {
		return tabErr
	}
	return statusErr
}

// RebuildTabs reloads the flat tab library from the tab directory.
func (s *Store) RebuildTabs() error {
	templates, err := s.loadDir(s.tabDir)
	if err != nil {
		return fmt.Errorf("tab templates: %w", err)
	}
	next := newLibrary(templates)

	s.mu.Lock()
	prev := s.tabs
	s.tabs = next
	s.mu.Unlock()
	prev.retire()

	log.Printf("Loaded %d tab templates from %s", next.Len(), s.tabDir)
	return nil
}

// RebuildStatus reloads the status libraries, one per subdirectory of the status
// directory. Each is keyed by the folder name plus the tab image extension.
func (s *Store) RebuildStatus() error {
	dirs, err := os.ReadDir(s.statusDir)
	if err != nil {
		return fmt.Errorf("status templates: %w", err)
	}
	libs := StatusLibraries{}
	total := 0
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		templates, err := s.loadDir(filepath.Join(s.statusDir, d.Name()))
		if err != nil {
			log.Printf("Skipping status folder %s: %v", d.Name(), err)
			continue
		}
		libs[d.Name()+s.tabExt] = newLibrary(templates)
		total += len(templates)
	}
	next := &statusSet{libs: libs}

	s.mu.Lock()
	prev := s.status
	s.status = next
	s.mu.Unlock()
	prev.retire()

	log.Printf("Loaded %d status templates for %d tabs from %s", total, len(libs), s.statusDir)
	return nil
}

// Close retires the live libraries and leaves the store empty. Descriptors held
// by outstanding snapshots are freed when those snapshots are released.
func (s *Store) Close() {
	s.mu.Lock()
	tabs, status := s.tabs, s.status
	s.tabs = newLibrary(nil)
	s.status = &statusSet{libs: StatusLibraries{}}
	s.mu.Unlock()
	tabs.retire()
	status.retire()
}

// loadDir computes descriptors for every image file directly under dir. Files that
// fail to load or yield no descriptors are skipped.
func (s *Store) loadDir(dir string) ([]Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var templates []Template
	for _, e := range entries {
		if e.IsDir() || !isImageFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		desc, err := s.extractor.ComputeFile(path)
		if err != nil {
			log.Printf("Skipping template %s: %v", path, err)
			continue
		}
		if desc == nil || desc.Rows() == 0 {
			if desc != nil {
				desc.Close()
			}
			continue
		}
		templates = append(templates, Template{Name: e.Name(), Desc: desc})
	}
	return templates, nil
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".bmp":
		return true
	}
	return false
}
