//go:build windows

package tray

// Icon returns the tray icon bytes; systray on Windows expects ICO data.
func Icon(running bool) []byte {
	return wrapICO(IconPNG(running), iconSize)
}
