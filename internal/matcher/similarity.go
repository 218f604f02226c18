package matcher

import (
	"strings"
	"unicode"
)

// normalize lowercases, strips punctuation and collapses whitespace, per
// SPEC_FULL.md §4.4 step 1.
func normalize(title string) string {
	var b strings.Builder
	lastWasSpace := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastWasSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			if !lastWasSpace {
				b.WriteRune(' ')
				lastWasSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// levenshteinSimilarity returns 1 − (edit distance / max length), i.e. 1.0
// for identical strings and decreasing toward 0 as the strings diverge.
func levenshteinSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := len([]rune(a))
	if bl := len([]rune(b)); bl > maxLen {
		maxLen = bl
	}
	if maxLen == 0 {
		return 1.0
	}
	dist := levenshteinDistance(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}

func levenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)

	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			cur[j] = minOf3(del, ins, sub)
		}
		prev, cur = cur, prev
	}
	return prev[lb]
}

func minOf3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// tokenSet splits normalized text into a deduplicated token set, expanding
// each token through the synonym table so e.g. a ticker and its full name
// collide to the same canonical token.
func tokenSet(normalized string, synonyms Synonyms) map[string]struct{} {
	tokens := strings.Fields(normalized)
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[synonyms.Canonical(tok)] = struct{}{}
	}
	return set
}

// jaccard returns |A ∩ B| / |A ∪ B| over two token sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// combinedSimilarity implements SPEC_FULL.md §4.4 step 3: the max of
// Levenshtein similarity over normalized titles and Jaccard similarity over
// synonym-expanded token sets.
func combinedSimilarity(normA, normB string, synonyms Synonyms) float64 {
	lev := levenshteinSimilarity(normA, normB)
	jac := jaccard(tokenSet(normA, synonyms), tokenSet(normB, synonyms))
	if lev > jac {
		return lev
	}
	return jac
}
