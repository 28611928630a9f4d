package extract

import (
	"strconv"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// skipDestinations are groups whose content is never document text.
var skipDestinations = map[string]bool{
	"fonttbl": true, "colortbl": true, "stylesheet": true, "info": true,
	"pict": true, "object": true, "themedata": true, "colorschememapping": true,
	"latentstyles": true, "datastore": true, "xmlnstbl": true, "listtable": true,
	"listoverridetable": true, "rsidtbl": true, "generator": true, "filetbl": true,
	"revtbl": true, "fldinst": true, "header": true, "headerl": true,
	"headerr": true, "headerf": true, "footer": true, "footerl": true,
	"footerr": true, "footerf": true, "pgdsctbl": true, "mmathPr": true,
}

// symbolWords are control words that stand for literal text.
var symbolWords = map[string]string{
	"par": "\n", "line": "\n", "sect": "\n", "page": "\n", "row": "\n",
	"tab": "\t", "cell": "\t",
	"emdash": "—", "endash": "–", "bullet": "•",
	"lquote": "‘", "rquote": "’",
	"ldblquote": "“", "rdblquote": "”",
	"emspace": " ", "enspace": " ", "qmspace": " ",
}

// codePages maps \ansicpg values to decoders for \'hh escapes.
var codePages = map[int]*charmap.Charmap{
	437:  charmap.CodePage437,
	850:  charmap.CodePage850,
	1250: charmap.Windows1250,
	1251: charmap.Windows1251,
	1252: charmap.Windows1252,
	1253: charmap.Windows1253,
	1254: charmap.Windows1254,
	1255: charmap.Windows1255,
	1256: charmap.Windows1256,
	1257: charmap.Windows1257,
	1258: charmap.Windows1258,
}

// groupState is inherited by nested groups and restored when they close.
type groupState struct {
	skip bool // inside an ignorable destination
	uc   int  // fallback characters to skip after \uN
}

type rtfParser struct {
	src   []byte
	pos   int
	out   []byte
	state groupState
	stack []groupState

	codePage *charmap.Charmap
	// pending counts fallback characters still to be dropped after \uN.
	pending int
	// groupStart is true right after '{', where a destination word may follow.
	groupStart bool
	// high holds a UTF-16 high surrogate awaiting its low half.
	high rune
}

// RTF strips the markup from an RTF document and returns its text. Paragraph
// and line breaks become newlines, tabs and table cells become tabs, \'hh
// escapes are decoded with the document's ANSI code page (Windows-1252 by
// default), and \uN escapes are decoded as UTF-16 code units with \ucN
// fallback skipping. Raw bytes outside escapes are passed through unchanged.
//
// RTF returns [ErrUnbalanced] when the group braces do not match.
func RTF(raw []byte) (string, error) {
	p := &rtfParser{
		src:      raw,
		state:    groupState{uc: 1},
		codePage: charmap.Windows1252,
	}
	if err := p.run(); err != nil {
		return "", err
	}
	return string(p.out), nil
}

func (p *rtfParser) run() error {
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		p.pos++
		switch c {
		case '{':
			p.stack = append(p.stack, p.state)
			p.pending = 0
			p.groupStart = true
			continue
		case '}':
			if len(p.stack) == 0 {
				return ErrUnbalanced
			}
			p.state = p.stack[len(p.stack)-1]
			p.stack = p.stack[:len(p.stack)-1]
			p.pending = 0
		case '\\':
			p.control()
		case '\r', '\n':
			// Raw line breaks are formatting, not content.
		default:
			p.text(c)
		}
		p.groupStart = false
	}
	if len(p.stack) != 0 {
		return ErrUnbalanced
	}
	return nil
}

// text emits one literal byte unless it is skipped.
func (p *rtfParser) text(c byte) {
	if p.pending > 0 {
		p.pending--
		return
	}
	if !p.state.skip {
		p.out = append(p.out, c)
	}
}

// emit appends s unless the current group is skipped.
func (p *rtfParser) emit(s string) {
	if !p.state.skip {
		p.out = append(p.out, s...)
	}
}

// control handles everything after a backslash.
func (p *rtfParser) control() {
	if p.pos >= len(p.src) {
		return
	}
	c := p.src[p.pos]
	switch {
	case c == '\\' || c == '{' || c == '}':
		p.pos++
		p.text(c)
	case c == '\'':
		p.pos++
		p.hexEscape()
	case c == '*':
		p.pos++
		p.state.skip = true
	case c == '~':
		p.pos++
		p.emit(" ")
	case c == '_':
		p.pos++
		p.emit("‑")
	case c == '-':
		p.pos++
	case c == '\r' || c == '\n':
		p.pos++
		p.emit("\n")
	case isASCIILetter(c):
		p.word()
	default:
		// Unknown control symbol.
		p.pos++
	}
}

func (p *rtfParser) hexEscape() {
	if p.pos+2 > len(p.src) {
		p.pos = len(p.src)
		return
	}
	v, err := strconv.ParseUint(string(p.src[p.pos:p.pos+2]), 16, 8)
	p.pos += 2
	if err != nil {
		return
	}
	if p.pending > 0 {
		p.pending--
		return
	}
	p.emit(string(p.codePage.DecodeByte(byte(v))))
}

func (p *rtfParser) word() {
	start := p.pos
	for p.pos < len(p.src) && isASCIILetter(p.src[p.pos]) {
		p.pos++
	}
	name := string(p.src[start:p.pos])

	paramStart := p.pos
	if p.pos < len(p.src) && p.src[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	hasParam := p.pos > paramStart
	param := 0
	if hasParam {
		param, _ = strconv.Atoi(string(p.src[paramStart:p.pos]))
	}
	// A single space delimits the control word and is not text.
	if p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}

	if p.groupStart && skipDestinations[name] {
		p.state.skip = true
		return
	}

	switch name {
	case "ansicpg":
		if cm, ok := codePages[param]; ok {
			p.codePage = cm
		}
	case "uc":
		if hasParam && param >= 0 {
			p.state.uc = param
		}
	case "u":
		if !hasParam {
			return
		}
		if param < 0 {
			param += 0x10000
		}
		p.unicode(rune(param))
		p.pending = p.state.uc
	case "bin":
		if hasParam && param > 0 {
			p.pos = min(p.pos+param, len(p.src))
		}
	default:
		if s, ok := symbolWords[name]; ok {
			p.emit(s)
		}
	}
}

// unicode emits one UTF-16 code unit from a \uN escape, pairing surrogates.
func (p *rtfParser) unicode(r rune) {
	if p.state.skip {
		return
	}
	switch {
	case utf16.IsSurrogate(r) && r < 0xDC00:
		p.high = r
		return
	case utf16.IsSurrogate(r) && p.high != 0:
		r = utf16.DecodeRune(p.high, r)
	}
	p.high = 0
	p.out = utf8.AppendRune(p.out, r)
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
