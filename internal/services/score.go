package services

// ComputeTotalScore folds a response set into a single integer total.
// Only fields flagged HasNumericValues whose type carries a contribution
// rule participate. Missing answers, unmatched options and malformed
// values contribute 0; the aggregator never fails.
func ComputeTotalScore(responses ResponseSet, fields []FieldDefinition) int {
	total := 0
	for _, f := range fields {
		if !f.HasNumericValues {
			continue
		}
		rule := RuleFor(f.Type)
		if rule == RuleNone {
			continue
		}
		ans, ok := responses[f.ID]
		if !ok || ans.IsZero() {
			continue
		}
		switch rule {
		case RuleMultiSelect:
			for _, sel := range ans.selections() {
				if opt := findOption(f.Options, sel); opt != nil && opt.NumericValue != nil {
					total += *opt.NumericValue
				}
			}
		case RuleBinary:
			idx := 1
			if ans.affirmative() {
				idx = 0
			}
			if idx < len(f.Options) && f.Options[idx].NumericValue != nil {
				total += *f.Options[idx].NumericValue
			}
		case RuleSingleSelect:
			if v, ok := ans.asString(); ok {
				if opt := findOption(f.Options, v); opt != nil && opt.NumericValue != nil {
					total += *opt.NumericValue
				}
			}
		case RuleDirect:
			if n, ok := ans.asInt(); ok {
				total += n
			}
		}
	}
	return total
}

func findOption(opts []Option, value string) *Option {
	for i := range opts {
		if opts[i].Value == value {
			return &opts[i]
		}
	}
	return nil
}
