package clipboard

import (
	"strings"
	"sync"

	"golang.design/x/clipboard"
)

var (
	writeMu sync.Mutex
)

func Init() error {
	return clipboard.Init()
}

// Write performs a mutex-guarded clipboard write to prevent corruption under parallel writes.
func Write(text string) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

// FormatTSV renders rows as tab-separated lines, ready to paste into a spreadsheet.
// Tabs and newlines inside cells are replaced with spaces.
func FormatTSV(rows [][]string) string {
	clean := strings.NewReplacer("\t", " ", "\r", " ", "\n", " ")
	var b strings.Builder
	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				b.WriteByte('\t')
			}
			b.WriteString(clean.Replace(cell))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// WriteTable copies rows to the clipboard as TSV.
func WriteTable(rows [][]string) error {
	return Write(FormatTSV(rows))
}
