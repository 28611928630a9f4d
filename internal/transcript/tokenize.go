package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenize splits text into word and symbol tokens in source order.
//
// A word token is a maximal run of letters, digits and underscores. Every
// other non-whitespace rune is emitted as a single-rune symbol token.
// Whitespace separates tokens and is never emitted.
func Tokenize(text string) []string {
	var tokens []string
	start := -1
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			i += size
			continue
		}
		if start >= 0 {
			tokens = append(tokens, text[start:i])
			start = -1
		}
		if !isSpace(r) {
			tokens = append(tokens, text[i:i+size])
		}
		i += size
	}
	if start >= 0 {
		tokens = append(tokens, text[start:])
	}
	return tokens
}

// Lower returns a lower-cased copy of tokens. Folding is applied per token so
// the result always has the same length as the input, even for runes whose
// lower-case form would tokenize differently.
func Lower(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = strings.ToLower(t)
	}
	return out
}

// isSpace extends unicode.IsSpace with the information separators
// U+001C..U+001F, which regular expression \s engines also skip.
func isSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1c && r <= 0x1f)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}
