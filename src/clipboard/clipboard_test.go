package clipboard

import (
	"testing"
)

func TestWrite(t *testing.T) {
	// Requires clipboard access; only check it does not fail hard.
	if err := Init(); err != nil {
		t.Skipf("clipboard unavailable: %v", err)
	}
	if err := Write("test text"); err != nil {
		t.Logf("Failed to write to clipboard: %v", err)
	}
}

func TestFormatTSV(t *testing.T) {
	rows := [][]string{
		{"Timestamp", "Temp_℃", "Note"},
		{"2024-03-09 14:05:07", "21.5", "a\tb\nc"},
	}
	want := "Timestamp\tTemp_℃\tNote\n2024-03-09 14:05:07\t21.5\ta b c\n"
	if got := FormatTSV(rows); got != want {
		t.Errorf("FormatTSV = %q, want %q", got, want)
	}
	if got := FormatTSV(nil); got != "" {
		t.Errorf("expected empty output, got %q", got)
	}
}
