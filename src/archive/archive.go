// Package archive saves captures to disk, skipping frames that look the same as
// the last one saved.
package archive

import (
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"
)

// NameLayout is the time layout of archived file names.
const NameLayout = "capture_2006-01-02_15-04-05.png"

// Archive writes captures into Dir.
type Archive struct {
	Dir string
	// MaxDistance is the largest perceptual hash distance treated as a repeat.
	MaxDistance int

	mu       sync.Mutex
	lastHash *goimagehash.ImageHash
}

// New returns an archive, or nil when dir is empty.
func New(dir string, maxDistance int) *Archive {
	if dir == "" {
		return nil
	}
	return &Archive{Dir: dir, MaxDistance: maxDistance}
}

// Save writes img unless it repeats the last saved frame. It returns the written
// path, or "" when skipped. A nil archive skips everything.
func (a *Archive) Save(img image.Image, at time.Time) (string, error) {
	if a == nil {
		return "", nil
	}
	if a.isRepeat(img) {
		return "", nil
	}
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive dir: %w", err)
	}
	path := filepath.Join(a.Dir, at.Format(NameLayout))
	if err := imaging.Save(img, path); err != nil {
		return "", fmt.Errorf("failed to save capture: %w", err)
	}
	return path, nil
}

func (a *Archive) isRepeat(img image.Image) bool {
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		log.Printf("Failed to hash capture: %v", err)
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastHash == nil {
		a.lastHash = hash
		return false
	}
	dist, err := a.lastHash.Distance(hash)
	if err != nil {
		a.lastHash = hash
		return false
	}
	if dist <= a.MaxDistance {
		return true
	}
	a.lastHash = hash
	return false
}
