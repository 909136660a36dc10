//go:build !windows

package tray

// Icon returns the tray icon bytes.
func Icon(running bool) []byte {
	return IconPNG(running)
}
