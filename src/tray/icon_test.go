package tray

import (
	"bytes"
	"encoding/binary"
	"image/png"
	"testing"
)

func TestIconPNGDecodes(t *testing.T) {
	for _, on := range []bool{false, true} {
		data := IconPNG(on)
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("decode running=%v: %v", on, err)
		}
		if b := img.Bounds(); b.Dx() != iconSize || b.Dy() != iconSize {
			t.Errorf("size = %v", b)
		}
	}
}

func TestIconStatusDotDiffers(t *testing.T) {
	idle := iconImage(false).NRGBAAt(24, 20)
	run := iconImage(true).NRGBAAt(24, 20)
	if idle == run {
		t.Errorf("status dot should change colour, got %v for both", idle)
	}
	if iconImage(false).NRGBAAt(0, 0).A != 0 {
		t.Error("corner should be transparent")
	}
}

func TestWrapICOHeader(t *testing.T) {
	payload := IconPNG(false)
	ico := wrapICO(payload, iconSize)
	if len(ico) != 22+len(payload) {
		t.Fatalf("len = %d", len(ico))
	}
	if binary.LittleEndian.Uint16(ico[2:]) != 1 || binary.LittleEndian.Uint16(ico[4:]) != 1 {
		t.Error("bad ICO type or count")
	}
	if ico[6] != iconSize {
		t.Errorf("width byte = %d", ico[6])
	}
	if binary.LittleEndian.Uint32(ico[14:]) != uint32(len(payload)) {
		t.Error("bad size field")
	}
	if binary.LittleEndian.Uint32(ico[18:]) != 22 {
		t.Error("bad offset field")
	}
	if !bytes.Equal(ico[22:], payload) {
		t.Error("payload not embedded verbatim")
	}
}

func TestActionString(t *testing.T) {
	if ActionToggle.String() != "toggle" || Action(99).String() != "unknown" {
		t.Error("unexpected action names")
	}
}
