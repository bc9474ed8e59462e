package resolver

import "unicode/utf8"

// levenshtein returns the edit distance between a and b using two rows.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}

	prev := make([]int, len(ra)+1)
	curr := make([]int, len(ra)+1)
	for i := range prev {
		prev[i] = i
	}

	for j := 1; j <= len(rb); j++ {
		curr[0] = j
		for i := 1; i <= len(ra); i++ {
			if ra[i-1] == rb[j-1] {
				curr[i] = prev[i-1]
			} else {
				curr[i] = 1 + min(prev[i-1], prev[i], curr[i-1])
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(ra)]
}

// ratio maps edit distance onto [0,1]; 1 means identical.
func ratio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

// tokenOverlap is a soft token match: each query token is paired with its
// closest name token, normalized by the longer token list so extra or
// missing words cost.
func tokenOverlap(query, name []string) float64 {
	if len(query) == 0 || len(name) == 0 {
		return 0
	}
	var sum float64
	for _, q := range query {
		var best float64
		for _, n := range name {
			best = max(best, ratio(q, n))
		}
		sum += best
	}
	return sum / float64(max(len(query), len(name)))
}
