package fetcher

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Sheet is one worksheet as a grid of cell text. Rows may be ragged.
type Sheet struct {
	Name string
	Rows [][]string
}

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// ReadWorkbook decodes workbook bytes into sheets. The container format is
// sniffed from the content first since the exchange serves some .xlsx
// payloads under an .xls name; the extension of name is the fallback.
func ReadWorkbook(name string, data []byte) ([]Sheet, error) {
	switch {
	case len(data) == 0:
		return nil, eris.Errorf("workbook %s: empty file", filepath.Base(name))
	case bytes.HasPrefix(data, zipMagic):
		return ReadXLSX(data)
	case bytes.HasPrefix(data, oleMagic):
		return ReadXLS(data)
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		return ReadXLSX(data)
	case ".xls":
		return ReadXLS(data)
	default:
		return nil, eris.Errorf("workbook %s: unsupported format", filepath.Base(name))
	}
}

// IsWorkbook reports whether name has a spreadsheet extension.
func IsWorkbook(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xls", ".xlsx":
		return true
	default:
		return false
	}
}
