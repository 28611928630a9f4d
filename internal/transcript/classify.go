package transcript

import "strings"

// Classify turns every non-equal opcode into an audio-mismatch [Discrepancy],
// in opcode order.
//
// refLower and obsLower are the sequences the opcodes were computed on.
// refOriginal must be index-parallel to refLower; it supplies the reference
// text shown to the user. When refOriginal is nil the lower-cased reference is
// shown instead. Observed text is always shown lower-cased.
//
// Positions are coarse: Line is always 1 and Column counts emitted
// discrepancies starting at 1.
func Classify(ops []Opcode, refLower, obsLower, refOriginal []string) []Discrepancy {
	if refOriginal == nil {
		refOriginal = refLower
	}

	var out []Discrepancy
	line, col := 1, 1
	for _, op := range ops {
		switch op.Tag {
		case TagReplace, TagDelete:
			out = append(out, Discrepancy{
				Line:       line,
				Column:     col,
				Original:   orSentinel(joinSpan(refOriginal[op.I1:op.I2]), Missing),
				Suggested:  orSentinel(joinSpan(obsLower[op.J1:op.J2]), Remove),
				Confidence: mismatchConfidence,
				Kind:       KindAudioMismatch,
			})
		case TagInsert:
			out = append(out, Discrepancy{
				Line:       line,
				Column:     col,
				Original:   Missing,
				Suggested:  joinSpan(obsLower[op.J1:op.J2]),
				Confidence: insertConfidence,
				Kind:       KindAudioMismatch,
			})
		default:
			continue
		}
		col++
	}
	return out
}

// joinSpan space-joins tokens and truncates the result to maxSpanRunes runes.
func joinSpan(tokens []string) string {
	return truncateRunes(strings.Join(tokens, " "), maxSpanRunes)
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func orSentinel(s, sentinel string) string {
	if s == "" {
		return sentinel
	}
	return s
}
