// Package splitter partitions a screen capture into fixed vertical strips.
package splitter

import (
	"fmt"
	"image"
	"strings"
)

// Region is a rectangle in source-image pixel coordinates.
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Rect returns the region as an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Pattern names a fixed strip layout.
type Pattern string

const (
	PatternNone        Pattern = "none"
	Pattern34x34x16x16 Pattern = "p1_34_34_16_16"
	Pattern25x4        Pattern = "p2_25x4"
	Pattern25x25x50    Pattern = "p3_25_25_50"
	Pattern50x50       Pattern = "p4_50_50"
)

// strip widths in percent; each layout sums to 100
var layouts = map[Pattern][]int{
	PatternNone:        {100},
	Pattern34x34x16x16: {34, 34, 16, 16},
	Pattern25x4:        {25, 25, 25, 25},
	Pattern25x25x50:    {25, 25, 50},
	Pattern50x50:       {50, 50},
}

var order = []Pattern{PatternNone, Pattern34x34x16x16, Pattern25x4, Pattern25x25x50, Pattern50x50}

// Patterns lists the supported patterns in display order.
func Patterns() []Pattern {
	out := make([]Pattern, len(order))
	copy(out, order)
	return out
}

// Percents returns the nominal strip widths of p.
func (p Pattern) Percents() []int {
	pc := layouts[p]
	out := make([]int, len(pc))
	copy(out, pc)
	return out
}

// ParsePattern resolves a configured pattern name. The empty string means PatternNone.
func ParsePattern(s string) (Pattern, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PatternNone, nil
	}
	p := Pattern(s)
	if _, ok := layouts[p]; !ok {
		return "", fmt.Errorf("unknown split pattern %q", s)
	}
	return p, nil
}

// Split partitions a width×height image into the strips of p, left to right.
//
// Strip i ends at floor(width*cum_i/100); the last strip always ends at width, so the
// strips tile the image exactly. Unknown patterns behave like PatternNone. Degenerate
// dimensions yield degenerate regions.
func Split(width, height int, p Pattern) []Region {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	percents, ok := layouts[p]
	if !ok || len(percents) == 1 {
		return []Region{{X: 0, Y: 0, Width: width, Height: height}}
	}

	regions := make([]Region, 0, len(percents))
	prev, cum := 0, 0
	for i, pc := range percents {
		cum += pc
		boundary := width * cum / 100
		if i == len(percents)-1 {
			boundary = width
		}
		regions = append(regions, Region{X: prev, Y: 0, Width: boundary - prev, Height: height})
		prev = boundary
	}
	return regions
}

// SplitImage is Split over the bounds of img, offset by the bounds origin.
func SplitImage(img image.Image, p Pattern) []Region {
	b := img.Bounds()
	regions := Split(b.Dx(), b.Dy(), p)
	for i := range regions {
		regions[i].X += b.Min.X
		regions[i].Y += b.Min.Y
	}
	return regions
}
