// Package vision is the OpenCV backend: ORB descriptors, brute-force Hamming kNN
// and the grayscale filters used before recognition.
package vision

import (
	"fmt"
	"image"
	"image/draw"
	"sync"

	"gocv.io/x/gocv"

	"panel-capture/src/features"
)

// Engine wraps one ORB detector and one matcher. OpenCV objects are not safe for
// concurrent use, so every call holds the engine lock.
type Engine struct {
	mu      sync.Mutex
	orb     gocv.ORB
	matcher gocv.BFMatcher
}

// NewEngine allocates the detector and matcher. Close releases them.
func NewEngine() *Engine {
	return &Engine{
		orb:     gocv.NewORB(),
		matcher: gocv.NewBFMatcherWithParams(gocv.NormHamming, false),
	}
}

// Close frees the native resources.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orb.Close()
	e.matcher.Close()
}

// Descriptors is an ORB descriptor matrix.
type Descriptors struct {
	mat gocv.Mat
}

// Rows returns the number of descriptors.
func (d *Descriptors) Rows() int {
	if d == nil || d.mat.Empty() {
		return 0
	}
	return d.mat.Rows()
}

// Close frees the matrix.
func (d *Descriptors) Close() error {
	return d.mat.Close()
}

// Compute detects keypoints on the grayscale version of img.
func (e *Engine) Compute(img image.Image) (features.Descriptors, error) {
	mat, err := gocv.ImageGrayToMatGray(toGray(img))
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer mat.Close()
	return e.detect(mat), nil
}

// ComputeFile loads path as grayscale and detects keypoints.
func (e *Engine) ComputeFile(path string) (features.Descriptors, error) {
	mat := gocv.IMRead(path, gocv.IMReadGrayScale)
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("failed to decode %s", path)
	}
	return e.detect(mat), nil
}

func (e *Engine) detect(gray gocv.Mat) *Descriptors {
	e.mu.Lock()
	defer e.mu.Unlock()

	mask := gocv.NewMat()
	defer mask.Close()
	kps, desc := e.orb.DetectAndCompute(gray, mask)
	if len(kps) == 0 {
		desc.Close()
		return &Descriptors{mat: gocv.NewMat()}
	}
	return &Descriptors{mat: desc}
}

// KnnMatch returns the k nearest train distances for each query descriptor.
func (e *Engine) KnnMatch(query, train features.Descriptors, k int) ([]features.Neighbors, error) {
	q, ok := query.(*Descriptors)
	if !ok {
		return nil, fmt.Errorf("unexpected descriptor type %T", query)
	}
	t, ok := train.(*Descriptors)
	if !ok {
		return nil, fmt.Errorf("unexpected descriptor type %T", train)
	}
	if q.Rows() == 0 || t.Rows() == 0 {
		return nil, nil
	}

	e.mu.Lock()
	matches := e.matcher.KnnMatch(q.mat, t.mat, k)
	e.mu.Unlock()

	out := make([]features.Neighbors, 0, len(matches))
	for _, m := range matches {
		n := make(features.Neighbors, 0, len(m))
		for _, d := range m {
			n = append(n, d.Distance)
		}
		out = append(out, n)
	}
	return out, nil
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) && g.Stride == g.Bounds().Dx() {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}
