// Package preprocess conditions a small field crop for text recognition.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"panel-capture/src/settings"
)

// ErrEmptyCrop is returned for crops with zero width or height.
var ErrEmptyCrop = errors.New("empty crop")

// Ops is the image backend for the filtering and morphology steps. Kernels are square.
type Ops interface {
	EqualizeCLAHE(img *image.Gray, clip float64) (*image.Gray, error)
	MedianBlur(img *image.Gray, ksize int) (*image.Gray, error)
	Erode(img *image.Gray, ksize int) (*image.Gray, error)
	Dilate(img *image.Gray, ksize int) (*image.Gray, error)
	ThresholdOtsu(img *image.Gray) (*image.Gray, error)
	Invert(img *image.Gray) (*image.Gray, error)
	Open(img *image.Gray, ksize int) (*image.Gray, error)
}

// Stages keeps every intermediate image. Only Final is fed to the recognizer.
type Stages struct {
	Raw         image.Image
	Gray        *image.Gray
	Conditioned *image.Gray
	Final       *image.Gray
}

// Pipeline runs the conditioning steps with a given backend.
type Pipeline struct {
	Ops Ops

	// DebugDir, when set, receives a PNG of every stage per call.
	DebugDir string
}

// New returns a pipeline using ops.
func New(ops Ops, debugDir string) *Pipeline {
	return &Pipeline{Ops: ops, DebugDir: debugDir}
}

// Prepare upscales, grays, equalizes, denoises, adjusts stroke width for the field,
// binarizes, inverts and opens the crop.
func (p *Pipeline) Prepare(crop image.Image, field string, cfg settings.OCR) (Stages, error) {
	if crop == nil || crop.Bounds().Dx() <= 0 || crop.Bounds().Dy() <= 0 {
		return Stages{}, ErrEmptyCrop
	}
	st := Stages{Raw: crop}

	b := crop.Bounds()
	w := int(float64(b.Dx())*cfg.ScaleFactor + 0.5)
	h := int(float64(b.Dy())*cfg.ScaleFactor + 0.5)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	scaled := imaging.Resize(crop, w, h, imaging.Lanczos)
	st.Gray = toGray(scaled)

	eq, err := p.Ops.EqualizeCLAHE(st.Gray, cfg.CLAHEClip)
	if err != nil {
		return st, fmt.Errorf("clahe: %w", err)
	}
	blurred, err := p.Ops.MedianBlur(eq, cfg.MedianKsize)
	if err != nil {
		return st, fmt.Errorf("median blur: %w", err)
	}

	// Text is dark on light: eroding thickens strokes and dilating thins them.
	conditioned := blurred
	switch {
	case cfg.Thickens(field):
		conditioned, err = p.Ops.Erode(blurred, cfg.DilateKsize)
	case cfg.Thins(field):
		conditioned, err = p.Ops.Dilate(blurred, cfg.ErodeKsize)
	}
	if err != nil {
		return st, fmt.Errorf("stroke adjustment: %w", err)
	}
	st.Conditioned = conditioned

	binary, err := p.Ops.ThresholdOtsu(conditioned)
	if err != nil {
		return st, fmt.Errorf("otsu: %w", err)
	}
	inverted, err := p.Ops.Invert(binary)
	if err != nil {
		return st, fmt.Errorf("invert: %w", err)
	}
	st.Final, err = p.Ops.Open(inverted, cfg.OpeningKsize)
	if err != nil {
		return st, fmt.Errorf("opening: %w", err)
	}

	if p.DebugDir != "" {
		p.dump(field, st)
	}
	return st, nil
}

// toGray converts img to an 8-bit grayscale image with a zero origin.
func toGray(img image.Image) *image.Gray {
	g := imaging.Grayscale(img)
	b := g.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+b.Dx()*4]
		for x := 0; x < b.Dx(); x++ {
			out.Pix[y*out.Stride+x] = row[x*4]
		}
	}
	return out
}

func (p *Pipeline) dump(field string, st Stages) {
	if err := os.MkdirAll(p.DebugDir, 0o755); err != nil {
		log.Printf("Failed to create OCR debug dir: %v", err)
		return
	}
	prefix := fmt.Sprintf("%s_%s", time.Now().Format("20060102_150405.000"), safeName(field))
	images := []struct {
		name string
		img  image.Image
	}{
		{"raw", st.Raw},
		{"gray", st.Gray},
		{"conditioned", st.Conditioned},
		{"final", st.Final},
	}
	for _, s := range images {
		path := filepath.Join(p.DebugDir, prefix+"_"+s.name+".png")
		if err := imaging.Save(s.img, path); err != nil {
			log.Printf("Failed to save OCR debug image %s: %v", path, err)
		}
	}
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '%':
			return '_'
		}
		return r
	}, s)
}
