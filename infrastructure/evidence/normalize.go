package evidence

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
)

// normalizer folds case, collapses whitespace and trims punctuation so that
// trivially different snippets compare equal. A cases.Caser carries state,
// so each normalizer owns one and must not be shared across goroutines.
type normalizer struct {
	caser cases.Caser
}

func newNormalizer() *normalizer {
	return &normalizer{caser: cases.Fold()}
}

// Normalize returns the canonical comparison form of s.
func (n *normalizer) Normalize(s string) string {
	return strings.Join(n.Words(s), " ")
}

// Words returns the case-folded words of s with surrounding punctuation
// removed. Words that are pure punctuation are dropped.
func (n *normalizer) Words(s string) []string {
	folded := n.caser.String(s)
	fields := strings.Fields(folded)
	out := fields[:0]
	for _, f := range fields {
		w := strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// Normalize is a convenience wrapper for one-off normalisation.
func Normalize(s string) string {
	return newNormalizer().Normalize(s)
}

// Similarity returns 1 - levenshtein(a,b)/max(len) over runes, in [0,1].
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}

	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	maxLen := max(la, lb)
	if maxLen == 0 {
		return 1.0
	}

	distance := levenshtein.ComputeDistance(a, b)
	sim := 1.0 - float64(distance)/float64(maxLen)
	if sim < 0 {
		sim = 0
	}
	return sim
}

// nearDuplicate reports whether two normalised texts are the same snippet.
// The length ratio bounds the best possible similarity, which lets most
// unrelated pairs skip the edit-distance computation.
func nearDuplicate(a, b string, threshold float64) bool {
	if a == b {
		return true
	}
	if threshold > 1 {
		return false
	}

	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	lo, hi := min(la, lb), max(la, lb)
	if hi == 0 || float64(lo)/float64(hi) < threshold {
		return false
	}
	return Similarity(a, b) >= threshold
}
