package ocr

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
)

func TestRecognizeBlankImage(t *testing.T) {
	tess, err := New("")
	if err != nil {
		t.Skipf("Tesseract not available: %v", err)
	}
	defer tess.Close()

	blank := imaging.New(120, 40, color.White)
	got, err := tess.Recognize(blank)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no fragments on a blank image, got %q", got)
	}
}

func TestRecognizeRejectsEmptyImage(t *testing.T) {
	tess, err := New("eng")
	if err != nil {
		t.Skipf("Tesseract not available: %v", err)
	}
	defer tess.Close()

	if _, err := tess.Recognize(image.NewGray(image.Rect(0, 0, 0, 0))); err == nil {
		t.Error("expected an error for an empty image")
	}
}
