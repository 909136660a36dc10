// Package settings persists the OCR preprocessing parameters and the feature-match
// thresholds, and serves them as an immutable snapshot.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// OCR tunes the per-field preprocessing pipeline.
//
// DilateKsize is the "thicken" kernel and ErodeKsize the "thin" kernel. The text is
// dark on light, so thickening is applied with erosion and thinning with dilation.
type OCR struct {
	ScaleFactor   float64  `json:"scale_factor"`
	CLAHEClip     float64  `json:"clahe_clip"`
	MedianKsize   int      `json:"median_ksize"`
	OpeningKsize  int      `json:"opening_ksize"`
	DilateKsize   int      `json:"dilate_ksize"`
	ErodeKsize    int      `json:"erode_ksize"`
	DilateTargets []string `json:"dilate_targets"`
	ErodeTargets  []string `json:"erode_targets"`
}

// Match holds the minimum good-match counts for the two matcher instances.
type Match struct {
	TabThreshold    int `json:"tab_threshold"`
	StatusThreshold int `json:"status_threshold"`
}

// Settings is the persisted document.
type Settings struct {
	OCR   OCR   `json:"ocr"`
	Match Match `json:"match"`
}

// Defaults returns the settings used when no file exists yet.
func Defaults() Settings {
	return Settings{
		OCR: OCR{
			ScaleFactor:  3.0,
			CLAHEClip:    2.0,
			MedianKsize:  3,
			OpeningKsize: 2,
			DilateKsize:  2,
			ErodeKsize:   2,
		},
		Match: Match{
			TabThreshold:    15,
			StatusThreshold: 4,
		},
	}
}

// ValidationError describes the first invalid parameter found.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Validate checks every numeric parameter.
func (s Settings) Validate() error {
	o := s.OCR
	switch {
	case o.ScaleFactor <= 0:
		return &ValidationError{"scale_factor", "must be greater than 0"}
	case o.CLAHEClip <= 0:
		return &ValidationError{"clahe_clip", "must be greater than 0"}
	case o.MedianKsize <= 1 || o.MedianKsize%2 == 0:
		return &ValidationError{"median_ksize", fmt.Sprintf("must be odd and greater than 1, got %d", o.MedianKsize)}
	case o.OpeningKsize < 1:
		return &ValidationError{"opening_ksize", "must be at least 1"}
	case o.DilateKsize < 1:
		return &ValidationError{"dilate_ksize", "must be at least 1"}
	case o.ErodeKsize < 1:
		return &ValidationError{"erode_ksize", "must be at least 1"}
	case s.Match.TabThreshold < 0:
		return &ValidationError{"tab_threshold", "must not be negative"}
	case s.Match.StatusThreshold < 0:
		return &ValidationError{"status_threshold", "must not be negative"}
	}
	return nil
}

// Thickens reports whether field is in the thickening (erosion) set.
func (o OCR) Thickens(field string) bool { return contains(o.DilateTargets, field) }

// Thins reports whether field is in the thinning (dilation) set.
func (o OCR) Thins(field string) bool { return contains(o.ErodeTargets, field) }

// WithThicken returns a copy with field moved into the thickening set.
func (o OCR) WithThicken(field string) OCR {
	out := o.WithoutTarget(field)
	out.DilateTargets = append(out.DilateTargets, field)
	sort.Strings(out.DilateTargets)
	return out
}

// WithThin returns a copy with field moved into the thinning set.
func (o OCR) WithThin(field string) OCR {
	out := o.WithoutTarget(field)
	out.ErodeTargets = append(out.ErodeTargets, field)
	sort.Strings(out.ErodeTargets)
	return out
}

// WithoutTarget returns a copy with field removed from both sets.
func (o OCR) WithoutTarget(field string) OCR {
	o.DilateTargets = without(o.DilateTargets, field)
	o.ErodeTargets = without(o.ErodeTargets, field)
	return o
}

// normalize drops unknown targets and resolves overlap in favour of thickening.
// A nil vocabulary keeps every target.
func (o OCR) normalize(vocabulary []string) OCR {
	known := func(string) bool { return true }
	if vocabulary != nil {
		set := make(map[string]struct{}, len(vocabulary))
		for _, v := range vocabulary {
			set[v] = struct{}{}
		}
		known = func(name string) bool {
			_, ok := set[name]
			return ok
		}
	}

	var thick, thin []string
	seen := map[string]struct{}{}
	for _, t := range o.DilateTargets {
		if _, dup := seen[t]; dup || !known(t) {
			continue
		}
		seen[t] = struct{}{}
		thick = append(thick, t)
	}
	for _, t := range o.ErodeTargets {
		if _, dup := seen[t]; dup || !known(t) {
			continue
		}
		seen[t] = struct{}{}
		thin = append(thin, t)
	}
	sort.Strings(thick)
	sort.Strings(thin)
	o.DilateTargets = thick
	o.ErodeTargets = thin
	return o
}

// Store owns the current settings snapshot and its file.
type Store struct {
	mu   sync.RWMutex
	path string
	cur  Settings
}

// NewStore returns a store holding defaults for path. Call Load to read the file.
func NewStore(path string) *Store {
	return &Store{path: path, cur: Defaults()}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Current returns the active snapshot. Target slices must not be mutated.
func (s *Store) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Load reads the settings file. A missing file keeps the defaults. Target names not in
// vocabulary are dropped; pass nil to keep them all. An invalid file is reported and the
// current snapshot is kept.
func (s *Store) Load(vocabulary []string) error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("settings: %s not found, using defaults", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read settings %s: %w", s.path, err)
	}

	loaded := Defaults()
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse settings %s: %w", s.path, err)
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("settings %s: %w", s.path, err)
	}
	loaded.OCR = loaded.OCR.normalize(vocabulary)

	s.mu.Lock()
	s.cur = loaded
	s.mu.Unlock()
	return nil
}

// Save validates next, writes it, and makes it the active snapshot. On any error the
// previous snapshot stays in effect.
func (s *Store) Save(next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	next.OCR = next.OCR.normalize(nil)

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("failed to write settings %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.cur = next
	s.mu.Unlock()
	log.Printf("settings: saved %s", s.path)
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func without(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
