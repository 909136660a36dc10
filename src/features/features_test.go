package features

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

type fakeDesc struct {
	id     string
	rows   int
	closed *atomic.Int32
}

func (d *fakeDesc) Rows() int { return d.rows }

func (d *fakeDesc) Close() error {
	if d.closed != nil {
		d.closed.Add(1)
	}
	return nil
}

type fakeExtractor struct {
	queryRows int
	fileRows  map[string]int
	closed    atomic.Int32
}

func (f *fakeExtractor) Compute(img image.Image) (Descriptors, error) {
	return &fakeDesc{id: "query", rows: f.queryRows}, nil
}

func (f *fakeExtractor) ComputeFile(path string) (Descriptors, error) {
	rows, ok := f.fileRows[filepath.Base(path)]
	if !ok {
		return nil, errors.New("unreadable")
	}
	return &fakeDesc{id: filepath.Base(path), rows: rows, closed: &f.closed}, nil
}

// fakeKnn yields the configured number of good correspondences per train id.
type fakeKnn struct {
	good  map[string]int
	calls int
}

func (f *fakeKnn) KnnMatch(query, train Descriptors, k int) ([]Neighbors, error) {
	f.calls++
	n := f.good[train.(*fakeDesc).id]
	pairs := make([]Neighbors, 0, query.Rows())
	for i := 0; i < query.Rows(); i++ {
		if i < n {
			pairs = append(pairs, Neighbors{10, 100})
		} else {
			pairs = append(pairs, Neighbors{70, 100})
		}
	}
	return pairs, nil
}

func lib(names ...string) *Library {
	var ts []Template
	for _, n := range names {
		ts = append(ts, Template{Name: n, Desc: &fakeDesc{id: n, rows: 50}})
	}
	return newLibrary(ts)
}

func testImage() image.Image { return image.NewGray(image.Rect(0, 0, 40, 40)) }

func TestCountGoodRatio(t *testing.T) {
	pairs := []Neighbors{{69, 100}, {70, 100}, {0, 1}, {5}, nil}
	if got := CountGood(pairs); got != 2 {
		t.Errorf("expected 2 good matches, got %d", got)
	}
}

func TestMatchThresholdIsStrict(t *testing.T) {
	knn := &fakeKnn{good: map[string]int{"MachineA.png": 15}}
	m := NewMatcher(&fakeExtractor{queryRows: 40}, knn)
	if got := m.Match(testImage(), lib("MachineA.png"), 15); got != NoMatch {
		t.Errorf("threshold good matches should not match, got %q", got)
	}
	knn.good["MachineA.png"] = 16
	if got := m.Match(testImage(), lib("MachineA.png"), 15); got != "MachineA.png" {
		t.Errorf("expected MachineA.png, got %q", got)
	}
}

func TestMatchTieKeepsFirstInNameOrder(t *testing.T) {
	knn := &fakeKnn{good: map[string]int{"b.png": 20, "a.png": 20, "c.png": 19}}
	m := NewMatcher(&fakeExtractor{queryRows: 40}, knn)
	for i := 0; i < 5; i++ {
		if got := m.Match(testImage(), lib("c.png", "b.png", "a.png"), 15); got != "a.png" {
			t.Fatalf("run %d: expected a.png, got %q", i, got)
		}
	}
}

func TestMatchPicksHighestCount(t *testing.T) {
	knn := &fakeKnn{good: map[string]int{"a.png": 17, "b.png": 25}}
	m := NewMatcher(&fakeExtractor{queryRows: 40}, knn)
	if got := m.Match(testImage(), lib("a.png", "b.png"), 15); got != "b.png" {
		t.Errorf("expected b.png, got %q", got)
	}
}

func TestMatchFastRejects(t *testing.T) {
	knn := &fakeKnn{good: map[string]int{"a.png": 30}}
	m := NewMatcher(&fakeExtractor{queryRows: 10}, knn)
	if got := m.Match(testImage(), lib("a.png"), 15); got != NoMatch {
		t.Errorf("too few query keypoints should not match, got %q", got)
	}
	if knn.calls != 0 {
		t.Errorf("expected no neighbor search, got %d calls", knn.calls)
	}
	if got := m.Match(testImage(), newLibrary(nil), 0); got != NoMatch {
		t.Errorf("empty library should not match, got %q", got)
	}
	if got := m.Match(testImage(), nil, 0); got != NoMatch {
		t.Errorf("nil library should not match, got %q", got)
	}
}

func TestMatchTabUsesTopHalf(t *testing.T) {
	var seen image.Rectangle
	ext := &boundsExtractor{seen: &seen}
	m := NewMatcher(ext, &fakeKnn{})
	m.MatchTab(image.NewRGBA(image.Rect(100, 0, 300, 80)), lib("a.png"), 0)
	if seen != image.Rect(100, 0, 300, 40) {
		t.Errorf("expected top half, got %v", seen)
	}
}

type boundsExtractor struct{ seen *image.Rectangle }

func (b *boundsExtractor) Compute(img image.Image) (Descriptors, error) {
	*b.seen = img.Bounds()
	return &fakeDesc{rows: 0}, nil
}

func (b *boundsExtractor) ComputeFile(string) (Descriptors, error) { return nil, nil }

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestStoreRebuild(t *testing.T) {
	root := t.TempDir()
	tabs := filepath.Join(root, "tabs")
	status := filepath.Join(root, "status")
	writeFiles(t, tabs, "MachineB.png", "MachineA.png", "Blank.png", "broken.png", "notes.txt")
	writeFiles(t, filepath.Join(status, "MachineA"), "Running.png", "Stopped.png")

	ext := &fakeExtractor{fileRows: map[string]int{
		"MachineA.png": 30, "MachineB.png": 30, "Blank.png": 0,
		"Running.png": 8, "Stopped.png": 8,
	}}
	s := NewStore(ext, tabs, status, ".png")
	if err := s.Rebuild(); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	snap := s.Acquire()
	defer snap.Release()
	if snap.Tabs.Len() != 2 || snap.Tabs.Templates[0].Name != "MachineA.png" {
		t.Errorf("unexpected tab library %+v", snap.Tabs.Templates)
	}
	st := snap.StatusFor("MachineA.png")
	if st.Len() != 2 {
		t.Fatalf("expected 2 status templates under MachineA.png, got %d", st.Len())
	}
	if snap.StatusFor("MachineB.png") != nil {
		t.Error("expected no status library for MachineB.png")
	}
	if ext.closed.Load() != 1 {
		t.Errorf("expected the empty template to be released, got %d closes", ext.closed.Load())
	}
}

func TestRebuildFailureKeepsPreviousDomain(t *testing.T) {
	root := t.TempDir()
	tabs := filepath.Join(root, "tabs")
	writeFiles(t, tabs, "MachineA.png")
	ext := &fakeExtractor{fileRows: map[string]int{"MachineA.png": 30}}
	s := NewStore(ext, tabs, filepath.Join(root, "missing"), ".png")

	if err := s.Rebuild(); err == nil {
		t.Error("expected status rebuild error")
	}
	if err := os.RemoveAll(tabs); err != nil {
		t.Fatal(err)
	}
	if err := s.RebuildTabs(); err == nil {
		t.Error("expected tab rebuild error")
	}
	snap := s.Acquire()
	defer snap.Release()
	if snap.Tabs.Len() != 1 {
		t.Errorf("expected previous tab library to remain, got %d", snap.Tabs.Len())
	}
}

func TestSnapshotOutlivesRebuild(t *testing.T) {
	tabs := t.TempDir()
	writeFiles(t, tabs, "MachineA.png")
	ext := &fakeExtractor{fileRows: map[string]int{"MachineA.png": 30}}
	s := NewStore(ext, tabs, t.TempDir(), ".png")
	if err := s.RebuildTabs(); err != nil {
		t.Fatal(err)
	}

	snap := s.Acquire()
	if err := s.RebuildTabs(); err != nil {
		t.Fatal(err)
	}
	if ext.closed.Load() != 0 {
		t.Fatal("library closed while still acquired")
	}
	snap.Release()
	snap.Release()
	if ext.closed.Load() != 1 {
		t.Errorf("expected old library closed once after release, got %d", ext.closed.Load())
	}
}

func TestStoreCloseReleasesLiveLibraries(t *testing.T) {
	root := t.TempDir()
	tabs := filepath.Join(root, "tabs")
	status := filepath.Join(root, "status")
	writeFiles(t, tabs, "MachineA.png")
	writeFiles(t, filepath.Join(status, "MachineA"), "Running.png", "Stopped.png")
	ext := &fakeExtractor{fileRows: map[string]int{
		"MachineA.png": 30, "Running.png": 8, "Stopped.png": 8,
	}}
	s := NewStore(ext, tabs, status, ".png")
	if err := s.Rebuild(); err != nil {
		t.Fatal(err)
	}

	snap := s.Acquire()
	s.Close()
	if ext.closed.Load() != 0 {
		t.Fatal("libraries closed while a snapshot still holds them")
	}
	snap.Release()
	if ext.closed.Load() != 3 {
		t.Errorf("expected all 3 descriptors closed after release, got %d", ext.closed.Load())
	}

	after := s.Acquire()
	defer after.Release()
	if after.Tabs.Len() != 0 || len(after.Status) != 0 {
		t.Errorf("expected an empty store after Close, got %d tabs and %d status libraries",
			after.Tabs.Len(), len(after.Status))
	}
}

// plainImage exposes only the image.Image methods, so cropping cannot share pixels.
type plainImage struct{ g *image.Gray }

func (p plainImage) ColorModel() color.Model { return p.g.ColorModel() }
func (p plainImage) Bounds() image.Rectangle { return p.g.Bounds() }
func (p plainImage) At(x, y int) color.Color { return p.g.At(x, y) }

func TestSubImageCopiesPlainImages(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			g.SetGray(x, y, color.Gray{Y: uint8(y*8 + x)})
		}
	}

	out := SubImage(plainImage{g}, image.Rect(2, 3, 12, 5))
	b := out.Bounds()
	if b.Dx() != 6 || b.Dy() != 2 {
		t.Fatalf("expected a 6x2 crop clipped to the source, got %v", b)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 6; x++ {
			got := color.GrayModel.Convert(out.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
			if want := uint8((y+3)*8 + x + 2); got != want {
				t.Errorf("pixel (%d,%d) = %d, want %d", x, y, got, want)
			}
		}
	}
}
