// Package export renders a corrected transcript into downloadable files.
package export

import (
	"fmt"
)

// Format identifies a download format.
type Format string

const (
	FormatTXT  Format = "txt"
	FormatDOCX Format = "docx"
)

// Filenames are the suggested download names per format.
var Filenames = map[Format]string{
	FormatTXT:  "corrected_transcript.txt",
	FormatDOCX: "corrected_transcript.docx",
}

// Render produces every download format for corrected.
func Render(corrected string) (map[Format][]byte, error) {
	docx, err := DOCX(corrected)
	if err != nil {
		return nil, fmt.Errorf("export: render docx: %w", err)
	}
	return map[Format][]byte{
		FormatTXT:  TXT(corrected),
		FormatDOCX: docx,
	}, nil
}

// TXT returns corrected as UTF-8 bytes.
func TXT(corrected string) []byte {
	return []byte(corrected)
}
