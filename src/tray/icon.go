package tray

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

const iconSize = 32

var (
	frameColor = color.NRGBA{R: 0x00, G: 0x78, B: 0xd4, A: 0xff}
	barColor   = color.NRGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}
	idleColor  = color.NRGBA{R: 0x99, G: 0x99, B: 0x99, A: 0xff}
	runColor   = color.NRGBA{R: 0x2e, G: 0xa0, B: 0x43, A: 0xff}
)

// iconImage draws a small panel glyph: a framed screen with value bars and a
// status dot that is green while scheduled capture runs.
func iconImage(running bool) *image.NRGBA {
	img := imaging.New(iconSize, iconSize, color.NRGBA{})
	fill := func(x0, y0, x1, y1 int, c color.NRGBA) {
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				img.SetNRGBA(x, y, c)
			}
		}
	}
	fill(2, 4, 30, 6, frameColor)
	fill(2, 24, 30, 26, frameColor)
	fill(2, 4, 4, 26, frameColor)
	fill(28, 4, 30, 26, frameColor)
	fill(7, 9, 20, 11, barColor)
	fill(7, 14, 24, 16, barColor)
	fill(7, 19, 16, 21, barColor)
	dot := idleColor
	if running {
		dot = runColor
	}
	fill(22, 18, 27, 23, dot)
	return img
}

// IconPNG returns the tray icon encoded as PNG.
func IconPNG(running bool) []byte {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, iconImage(running), imaging.PNG); err != nil {
		return nil
	}
	return buf.Bytes()
}

// wrapICO embeds a PNG image in a single-entry ICO container.
func wrapICO(png []byte, size int) []byte {
	var buf bytes.Buffer
	w := func(v any) {
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}
	w(uint16(0)) // reserved
	w(uint16(1)) // icon
	w(uint16(1)) // image count
	dim := uint8(size)
	if size >= 256 {
		dim = 0
	}
	w(dim)
	w(dim)
	w(uint8(0))  // palette
	w(uint8(0))  // reserved
	w(uint16(1)) // planes
	w(uint16(32))
	w(uint32(len(png)))
	w(uint32(6 + 16))
	buf.Write(png)
	return buf.Bytes()
}
