// Package roi reads and writes the per-tab field rectangles. Coordinates are in
// full-screen space.
package roi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultStatusMarker marks a field as a status-icon field.
const DefaultStatusMarker = "_STATUS"

// ErrCorrupt is attached to entries whose definition is not four numbers.
var ErrCorrupt = errors.New("corrupt ROI definition")

// Entry is one field definition. Err is non-nil when the definition is unusable.
type Entry struct {
	Name   string
	X      int
	Y      int
	Width  int
	Height int
	Err    error
}

// Rect returns the entry as a screen-space rectangle.
func (e Entry) Rect() image.Rectangle {
	return image.Rect(e.X, e.Y, e.X+e.Width, e.Y+e.Height)
}

// IsStatus reports whether name contains marker.
func IsStatus(name, marker string) bool {
	if marker == "" {
		marker = DefaultStatusMarker
	}
	return strings.Contains(name, marker)
}

// Registry maps tab names to files under Dir.
type Registry struct {
	Dir string
}

// NewRegistry returns a registry rooted at dir.
func NewRegistry(dir string) *Registry { return &Registry{Dir: dir} }

// FileFor returns the file backing tab: the tab name without its image extension, plus .json.
func (r *Registry) FileFor(tab string) string {
	stem := strings.TrimSuffix(tab, filepath.Ext(tab))
	return filepath.Join(r.Dir, stem+".json")
}

// Load returns the entries for tab in file order. A missing file is an empty set.
func (r *Registry) Load(tab string) ([]Entry, error) {
	data, err := os.ReadFile(r.FileFor(tab))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ROI file for %s: %w", tab, err)
	}
	entries, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("ROI file for %s: %w", tab, err)
	}
	return entries, nil
}

// Parse decodes a {"name": [x, y, w, h], ...} document keeping key order. Malformed
// values become entries carrying ErrCorrupt; only a malformed document is an error.
func Parse(data []byte) ([]Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected a JSON object")
	}

	var entries []Entry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		entries = append(entries, parseEntry(name, raw))
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return entries, nil
}

func parseEntry(name string, raw json.RawMessage) Entry {
	corrupt := Entry{Name: name, Err: ErrCorrupt}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var parts []any
	if err := dec.Decode(&parts); err != nil || len(parts) != 4 {
		return corrupt
	}
	var v [4]int
	for i, p := range parts {
		n, ok := p.(json.Number)
		if !ok {
			return corrupt
		}
		f, err := n.Float64()
		if err != nil {
			return corrupt
		}
		v[i] = int(f)
	}
	return Entry{Name: name, X: v[0], Y: v[1], Width: v[2], Height: v[3]}
}

// Save writes entries for tab in the given order. Entries with Err set are skipped.
func (r *Registry) Save(tab string, entries []Entry) error {
	var buf bytes.Buffer
	buf.WriteString("{\n")
	first := true
	for _, e := range entries {
		if e.Err != nil {
			continue
		}
		key, err := json.Marshal(e.Name)
		if err != nil {
			return err
		}
		if !first {
			buf.WriteString(",\n")
		}
		first = false
		fmt.Fprintf(&buf, "  %s: [%d, %d, %d, %d]", key, e.X, e.Y, e.Width, e.Height)
	}
	buf.WriteString("\n}\n")

	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create ROI dir: %w", err)
	}
	if err := os.WriteFile(r.FileFor(tab), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write ROI file for %s: %w", tab, err)
	}
	return nil
}

// Tabs lists the tab stems that have a ROI file.
func (r *Registry) Tabs() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(r.Dir, "*.json"))
	if err != nil {
		return nil, err
	}
	tabs := make([]string, 0, len(files))
	for _, f := range files {
		tabs = append(tabs, strings.TrimSuffix(filepath.Base(f), ".json"))
	}
	sort.Strings(tabs)
	return tabs, nil
}

// FieldNames returns the sorted, de-duplicated names of every well-formed non-status
// field across all tabs. Unreadable files are skipped.
func (r *Registry) FieldNames(marker string) []string {
	tabs, err := r.Tabs()
	if err != nil {
		return nil
	}
	seen := map[string]struct{}{}
	names := []string{}
	for _, tab := range tabs {
		entries, err := r.Load(tab)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.Err != nil || IsStatus(e.Name, marker) {
				continue
			}
			if _, ok := seen[e.Name]; ok {
				continue
			}
			seen[e.Name] = struct{}{}
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names
}
