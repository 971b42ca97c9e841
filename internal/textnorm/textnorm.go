// Package textnorm holds the text normalization shared by alignment and scoring.
package textnorm

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// stripped is the fixed punctuation set removed before comparison.
const stripped = ".,/#!$%^&*;:{}=-_`~()"

var stripper = func() *strings.Replacer {
	pairs := make([]string, 0, len(stripped)*2)
	for _, r := range stripped {
		pairs = append(pairs, string(r), "")
	}
	return strings.NewReplacer(pairs...)
}()

// Normalize lower-cases s, removes the fixed punctuation set and collapses
// whitespace runs to single spaces.
func Normalize(s string) string {
	return strings.Join(Words(s), " ")
}

// Words returns the normalized words of s.
func Words(s string) []string {
	s = norm.NFC.String(s)
	s = strings.ToLower(s)
	s = stripper.Replace(s)
	return strings.Fields(s)
}

// WordCount returns the number of whitespace separated tokens in s.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
