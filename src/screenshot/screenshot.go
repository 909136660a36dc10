package screenshot

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/kbinani/screenshot"
)

// Grabber produces one full-screen image per call.
type Grabber interface {
	Grab() (image.Image, error)
}

// Screen grabs the union of all active displays.
type Screen struct{}

func (Screen) Grab() (image.Image, error) { return Capture() }

// File returns the same image file on every call. Used for offline runs.
type File struct {
	Path string
}

func (f File) Grab() (image.Image, error) { return LoadFile(f.Path) }

// Capture captures the entire virtual screen across all active displays. The result
// has a zero origin so pixel (0,0) is the top-left corner of the union.
func Capture() (*image.RGBA, error) {
	union, err := VirtualBounds()
	if err != nil {
		return nil, err
	}
	img, err := screenshot.CaptureRect(union)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screen: %w", err)
	}
	return normalize(img), nil
}

// VirtualBounds returns the union of all active display bounds.
func VirtualBounds() (image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return image.Rectangle{}, fmt.Errorf("no active displays found")
	}
	union := screenshot.GetDisplayBounds(0)
	for i := 1; i < n; i++ {
		union = union.Union(screenshot.GetDisplayBounds(i))
	}
	return union, nil
}

// LoadFile decodes an image file into a zero-origin RGBA image.
func LoadFile(path string) (*image.RGBA, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out, nil
}

func normalize(img *image.RGBA) *image.RGBA {
	if img.Bounds().Min == (image.Point{}) {
		return img
	}
	b := img.Bounds()
	out := *img
	out.Rect = image.Rect(0, 0, b.Dx(), b.Dy())
	return &out
}
