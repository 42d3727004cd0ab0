package transcript

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
	"github.com/cespare/xxhash/v2"
)

// Similarity returns 2*LCS(a, b) / (len(a)+len(b)) over lowercased runes.
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchr.LongestCommonSubsequence(a, b)) / float64(total)
}

// Fingerprint hashes text exactly as given, case included.
func Fingerprint(text string) uint64 {
	return xxhash.Sum64String(text)
}
