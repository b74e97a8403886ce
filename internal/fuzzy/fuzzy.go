// Package fuzzy implements the string-similarity primitives behind vendor
// name matching: edit distance, token ratios, soundex, TF-IDF cosine over
// character n-grams, and OCR confusion variants.
//
// All similarity functions are pure and return a score in [0, 1].
package fuzzy

import (
	"sort"
	"strings"
)

// Composite weights. Token-sort carries the most mass because vendor
// names are commonly reordered ("ACME Corp" vs "Corp ACME") but rarely
// misspelled wholesale.
const (
	weightLevenshtein = 0.3
	weightTokenSort   = 0.4
	weightTokenSet    = 0.3
)

// LevenshteinRatio returns 1 - editDistance/maxLen. Two empty strings
// are identical (1.0).
func LevenshteinRatio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(ra, rb))/float64(maxLen)
}

// levenshtein computes edit distance with the two-row dynamic program.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// TokenSortRatio lowercases, splits on whitespace, sorts the tokens and
// compares the rejoined strings character-by-character.
func TokenSortRatio(a, b string) float64 {
	return LevenshteinRatio(sortedTokens(a), sortedTokens(b))
}

// TokenSetRatio compares the two strings as token sets, which makes it
// robust to duplicated and reordered tokens.
func TokenSetRatio(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}

	var inter []string
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			inter = append(inter, tok)
		}
	}
	sort.Strings(inter)
	interStr := strings.Join(inter, " ")

	joinedA := joinSet(setA)
	joinedB := joinSet(setB)

	// Best of: intersection vs each full set, and set vs set.
	best := LevenshteinRatio(joinedA, joinedB)
	if interStr != "" {
		if r := LevenshteinRatio(interStr, joinedA); r > best {
			best = r
		}
		if r := LevenshteinRatio(interStr, joinedB); r > best {
			best = r
		}
	}
	return best
}

// CompositeScore is the weighted mean of the three character/token
// ratios: levenshtein 0.3, token-sort 0.4, token-set 0.3.
func CompositeScore(a, b string) float64 {
	return weightLevenshtein*LevenshteinRatio(strings.ToLower(a), strings.ToLower(b)) +
		weightTokenSort*TokenSortRatio(a, b) +
		weightTokenSet*TokenSetRatio(a, b)
}

func sortedTokens(s string) string {
	toks := strings.Fields(strings.ToLower(s))
	sort.Strings(toks)
	return strings.Join(toks, " ")
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = struct{}{}
	}
	return set
}

func joinSet(set map[string]struct{}) string {
	toks := make([]string, 0, len(set))
	for tok := range set {
		toks = append(toks, tok)
	}
	sort.Strings(toks)
	return strings.Join(toks, " ")
}
