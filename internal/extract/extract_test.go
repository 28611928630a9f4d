package extract_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/casescribe/internal/extract"
)

func TestIsRTF(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{`{\rtf1\ansi hello}`, true},
		{"\xef\xbb\xbf{\\rtf1 x}", true},
		{"\n  {\\rtf1 x}", true},
		{"plain text", false},
		{`{rtf1}`, false},
		{"", false},
	}
	for _, tc := range tests {
		if got := extract.IsRTF([]byte(tc.in)); got != tc.want {
			t.Errorf("IsRTF(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRTF(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "paragraphs",
			in:   `{\rtf1\ansi\deff0 {\fonttbl {\f0 Times New Roman;}}\f0\fs24 Q. Where were you?\par A. At home.\par}`,
			want: "Q. Where were you?\nA. At home.\n",
		},
		{
			name: "skipped destinations",
			in:   `{\rtf1{\colortbl;\red0\green0\blue0;}{\*\generator Riched20;}{\info{\author Clerk}}Body}`,
			want: "Body",
		},
		{
			name: "escaped specials",
			in:   `{\rtf1 a\{b\}c\\d}`,
			want: `a{b}c\d`,
		},
		{
			name: "windows-1252 hex escapes",
			in:   `{\rtf1\ansi\ansicpg1252 caf\'e9 \'93quoted\'94}`,
			want: "café “quoted”",
		},
		{
			name: "windows-1251 code page",
			in:   `{\rtf1\ansi\ansicpg1251 \'c4\'e0}`,
			want: "Да",
		},
		{
			name: "unicode with fallback",
			in:   `{\rtf1\uc1 na\u239?ve}`,
			want: "naïve",
		},
		{
			name: "unicode with hex fallback and uc2",
			in:   `{\rtf1\uc2\u8220\'93\'93x\u8221\'94\'94}`,
			want: "“x”",
		},
		{
			name: "negative unicode",
			in:   `{\rtf1\u-3913?}`,
			want: "\uf0b7",
		},
		{
			name: "surrogate pair",
			in:   `{\rtf1\uc0\u-10179\u-8704}`,
			want: "😀",
		},
		{
			name: "symbols and tabs",
			in:   `{\rtf1 a\tab b\emdash c\line d}`,
			want: "a\tb—c\nd",
		},
		{
			name: "field instruction skipped, result kept",
			in:   `{\rtf1{\field{\*\fldinst HYPERLINK "http://x"}{\fldrslt Exhibit 4}}}`,
			want: "Exhibit 4",
		},
		{
			name: "raw newlines ignored",
			in:   "{\\rtf1 one\r\ntwo}",
			want: "onetwo",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := extract.RTF([]byte(tc.in))
			if err != nil {
				t.Fatalf("RTF: %v", err)
			}
			if got != tc.want {
				t.Errorf("RTF = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRTF_Unbalanced(t *testing.T) {
	t.Parallel()

	for _, in := range []string{`{\rtf1 open`, `{\rtf1 x}}`} {
		if _, err := extract.RTF([]byte(in)); !errors.Is(err, extract.ErrUnbalanced) {
			t.Errorf("RTF(%q) err = %v, want ErrUnbalanced", in, err)
		}
	}
}

func TestText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"rtf stripped and trimmed", `{\rtf1 The councelor spoke.\par}`, "The councelor spoke."},
		{"plain text trimmed", "  The witness.\n\n", "The witness."},
		{"invalid utf-8 dropped", "ab\xffcd", "abcd"},
		{"broken rtf falls back to raw", `{\rtf1 unterminated`, `{\rtf1 unterminated`},
		{"nfc normalised", "cafe\u0301", "caf\u00e9"},
		{"bom removed", "\xef\xbb\xbfhello", "hello"},
		{"empty", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := extract.Text([]byte(tc.in)); got != tc.want {
				t.Errorf("Text = %q, want %q", got, tc.want)
			}
		})
	}
}
