// Package ocr reads digits out of preprocessed field images with Tesseract.
package ocr

import (
	"bytes"
	"fmt"
	"image"
	"log"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// AllowList is the set of characters a numeric field may contain.
const AllowList = "0123456789.-"

// Tesseract wraps a single client. Calls are serialized.
type Tesseract struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// New creates a client for lang restricted to AllowList in single-line mode.
func New(lang string) (*Tesseract, error) {
	if lang == "" {
		lang = "eng"
	}
	client := gosseract.NewClient()
	if err := client.SetLanguage(lang); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language %q: %w", lang, err)
	}
	if err := client.SetWhitelist(AllowList); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR allow-list: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR page mode: %w", err)
	}
	log.Printf("OCR initialized (language=%s)", lang)
	return &Tesseract{client: client}, nil
}

// Close releases the client.
func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}

// Recognize returns the recognized word fragments in reading order.
func (t *Tesseract) Recognize(img image.Image) ([]string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("recognition failed: %w", err)
	}
	fragments := make([]string, 0, len(boxes))
	for _, b := range boxes {
		if w := strings.TrimSpace(b.Word); w != "" {
			fragments = append(fragments, w)
		}
	}
	return fragments, nil
}
