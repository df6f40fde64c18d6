// Package similarity computes normalized edit-distance similarity between strings.
//
// Distances are measured in runes, not bytes, so CJK text compares per character.
package similarity

// Strings returns (max(len(a),len(b)) - levenshtein(a,b)) / max(len(a),len(b)).
//
// Two empty strings are identical (1); exactly one empty string is 0.
// The result is symmetric and always within [0, 1].
func Strings(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 && lb == 0 {
		return 1
	}
	if la == 0 || lb == 0 {
		return 0
	}
	longest := la
	if lb > longest {
		longest = lb
	}
	return float64(longest-levenshtein(ra, rb)) / float64(longest)
}

// Levenshtein returns the rune edit distance between a and b.
func Levenshtein(a, b string) int {
	return levenshtein([]rune(a), []rune(b))
}

// levenshtein uses the two-row dynamic programming formulation.
func levenshtein(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
