package services

// ResolveFeedback returns the message of the first range, in configuration
// order, whose closed interval contains score. The second return is false
// when no range matches or the list is empty. Ranges are assumed to be
// validated beforehand; this is a pure lookup.
func ResolveFeedback(score int, ranges []ScoreRange) (string, bool) {
	for _, r := range ranges {
		if r.Min <= score && score <= r.Max {
			return r.Message, true
		}
	}
	return "", false
}

// ValidateScoreRanges drops entries violating min <= max and returns the
// sanitized list plus the number of dropped entries so callers can log
// the loss without the validation itself failing.
func ValidateScoreRanges(raw []ScoreRange) ([]ScoreRange, int) {
	if len(raw) == 0 {
		return nil, 0
	}
	clean := make([]ScoreRange, 0, len(raw))
	dropped := 0
	for _, r := range raw {
		if r.Min > r.Max {
			dropped++
			continue
		}
		clean = append(clean, r)
	}
	if len(clean) == 0 {
		return nil, dropped
	}
	return clean, dropped
}

// OverlappingRanges reports index pairs of ranges whose intervals
// intersect. Overlap is legal (first match wins at resolution time) but
// is usually an operator mistake, so writes log it as a warning.
func OverlappingRanges(ranges []ScoreRange) [][2]int {
	var out [][2]int
	for i := 0; i < len(ranges); i++ {
		for j := i + 1; j < len(ranges); j++ {
			if ranges[i].Min <= ranges[j].Max && ranges[j].Min <= ranges[i].Max {
				out = append(out, [2]int{i, j})
			}
		}
	}
	return out
}
