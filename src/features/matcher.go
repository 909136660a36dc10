package features

import (
	"image"
	"log"

	"github.com/disintegration/imaging"
)

// NoMatch is returned when no template clears the threshold.
const NoMatch = "none"

// RatioThreshold is the nearest/second-nearest distance ratio a correspondence must
// beat to count as a good match.
const RatioThreshold = 0.7

// Neighbors holds the two nearest train distances for one query descriptor,
// nearest first. A slice shorter than two never counts as a good match.
type Neighbors []float64

// KnnMatcher finds the k nearest train descriptors for every query descriptor.
type KnnMatcher interface {
	KnnMatch(query, train Descriptors, k int) ([]Neighbors, error)
}

// Matcher identifies which template an image region shows.
type Matcher struct {
	Extractor Extractor
	Knn       KnnMatcher
}

// NewMatcher returns a matcher using the given extractor and neighbor search.
func NewMatcher(extractor Extractor, knn KnnMatcher) *Matcher {
	return &Matcher{Extractor: extractor, Knn: knn}
}

// Match returns the name of the template in lib with the most good matches above
// threshold, or NoMatch. Ties keep the template that sorts first.
func (m *Matcher) Match(img image.Image, lib *Library, threshold int) string {
	if lib.Len() == 0 || img == nil || img.Bounds().Empty() {
		return NoMatch
	}
	query, err := m.Extractor.Compute(img)
	if err != nil {
		log.Printf("Feature extraction failed: %v", err)
		return NoMatch
	}
	if query == nil {
		return NoMatch
	}
	defer query.Close()
	if query.Rows() < threshold || query.Rows() == 0 {
		return NoMatch
	}

	best := NoMatch
	bestCount := 0
	for _, t := range lib.Templates {
		if t.Desc == nil || t.Desc.Rows() == 0 {
			continue
		}
		pairs, err := m.Knn.KnnMatch(query, t.Desc, 2)
		if err != nil {
			log.Printf("Matching against %s failed: %v", t.Name, err)
			continue
		}
		good := CountGood(pairs)
		if good > threshold && good > bestCount {
			best = t.Name
			bestCount = good
		}
	}
	return best
}

// MatchTab matches the upper half of a split region against the tab library.
func (m *Matcher) MatchTab(split image.Image, lib *Library, threshold int) string {
	b := split.Bounds()
	top := image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+b.Dy()/2)
	return m.Match(SubImage(split, top), lib, threshold)
}

// CountGood counts correspondences that pass the ratio test.
func CountGood(pairs []Neighbors) int {
	good := 0
	for _, p := range pairs {
		if len(p) < 2 {
			continue
		}
		if p[0] < RatioThreshold*p[1] {
			good++
		}
	}
	return good
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// SubImage crops img to r without copying when the image type supports it.
func SubImage(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}
	return imaging.Crop(img, r)
}
