// Package extract turns uploaded reference transcripts into plain text.
//
// Court reporters deliver transcripts as RTF; clients may also paste plain
// text. [Text] detects RTF by its "{\rtf" signature and strips it to text;
// everything else is decoded as UTF-8. The output is NFC-normalised and
// trimmed so that visually identical input compares equal downstream.
package extract

import (
	"bytes"
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ErrUnbalanced is returned by [RTF] when group braces do not match.
var ErrUnbalanced = errors.New("extract: unbalanced rtf groups")

var rtfSignature = []byte(`{\rtf`)

// IsRTF reports whether raw looks like an RTF document. A leading UTF-8 byte
// order mark and whitespace are ignored.
func IsRTF(raw []byte) bool {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	return bytes.HasPrefix(bytes.TrimLeft(raw, " \t\r\n"), rtfSignature)
}

// Text returns the plain-text content of raw. RTF input is stripped of
// markup; if it cannot be parsed, raw is treated as plain text instead.
// Invalid UTF-8 bytes are dropped. Text never fails.
func Text(raw []byte) string {
	if IsRTF(raw) {
		if s, err := RTF(raw); err == nil {
			return finish(s)
		}
	}
	return Plain(raw)
}

// Plain decodes raw as UTF-8, dropping invalid bytes and a leading byte
// order mark, then normalises and trims the result.
func Plain(raw []byte) string {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	return finish(string(raw))
}

func finish(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.TrimSpace(norm.NFC.String(s))
}
