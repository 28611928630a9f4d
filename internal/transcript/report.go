package transcript

import "time"

// Summarize counts ds by kind and derives the overall confidence score. The
// score is 0.80 whenever ds is non-empty and 0.95 otherwise. elapsed is
// reported as-is; it is never derived from the content.
func Summarize(ds []Discrepancy, elapsed time.Duration) Summary {
	byType := make(map[Kind]int)
	for _, d := range ds {
		byType[d.Kind]++
	}
	score := confidenceClean
	if len(ds) > 0 {
		score = confidenceWithErrors
	}
	return Summary{
		TotalErrors:     len(ds),
		ByType:          byType,
		ConfidenceScore: score,
		ProcessingTime:  elapsed.Seconds(),
	}
}
