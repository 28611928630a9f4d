package transcript

import "strings"

// Rule pairs an erroneous substring with its correction.
type Rule struct {
	Error      string
	Correction string
}

// KnownErrors is an ordered table of lexical error rules used both to flag
// errors in a reference text and to correct them. Order is significant: rules
// are applied in sequence, so the output of one substitution is visible to
// every later rule.
type KnownErrors []Rule

// DefaultKnownErrors is the built-in table.
var DefaultKnownErrors = KnownErrors{
	{Error: "councelor", Correction: "counselor"},
	{Error: "inadmissable", Correction: "inadmissible"},
}

// Flag returns one spelling [Discrepancy] per rule whose error form occurs
// anywhere in text, regardless of how often it occurs. Matching is exact and
// case-sensitive. The position is always line 1, column 1.
func (k KnownErrors) Flag(text string) []Discrepancy {
	var out []Discrepancy
	for _, r := range k {
		if r.Error == "" || !strings.Contains(text, r.Error) {
			continue
		}
		out = append(out, Discrepancy{
			Line:       1,
			Column:     1,
			Original:   r.Error,
			Suggested:  r.Correction,
			Confidence: spellingConfidence,
			Kind:       KindSpelling,
		})
	}
	return out
}

// Correct replaces every occurrence of each rule's error form with its
// correction, applying the rules in table order.
func (k KnownErrors) Correct(text string) string {
	for _, r := range k {
		if r.Error == "" {
			continue
		}
		text = strings.ReplaceAll(text, r.Error, r.Correction)
	}
	return text
}

// FlagKnownErrors flags text against [DefaultKnownErrors].
func FlagKnownErrors(text string) []Discrepancy {
	return DefaultKnownErrors.Flag(text)
}

// Correct corrects text against [DefaultKnownErrors].
func Correct(text string) string {
	return DefaultKnownErrors.Correct(text)
}
