package evaluation

func codeSet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}

func topK(codes []string, k int) []string {
	if k >= 0 && k < len(codes) {
		return codes[:k]
	}
	return codes
}

// RecallAtK is the share of expected codes found among the first k suggestions.
// Zero when nothing is expected.
func RecallAtK(expected, suggested []string, k int) float64 {
	if len(expected) == 0 {
		return 0
	}
	want := codeSet(expected)
	found := 0
	for c := range codeSet(topK(suggested, k)) {
		if _, ok := want[c]; ok {
			found++
		}
	}
	return float64(found) / float64(len(want))
}

// PrecisionAtK is the share of the first k suggestions that were expected.
func PrecisionAtK(expected, suggested []string, k int) float64 {
	top := topK(suggested, k)
	if len(top) == 0 {
		return 0
	}
	want := codeSet(expected)
	hits := 0
	for _, c := range top {
		if _, ok := want[c]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(top))
}

// MRRAtK is 1/rank of the first expected code among the first k suggestions.
func MRRAtK(expected, suggested []string, k int) float64 {
	want := codeSet(expected)
	for i, c := range topK(suggested, k) {
		if _, ok := want[c]; ok {
			return 1 / float64(i+1)
		}
	}
	return 0
}
