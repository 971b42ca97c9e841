// Package filler counts filler words in a transcript.
package filler

import (
	"regexp"
	"strings"

	"github.com/loqalabs/loqa-coach/internal/lexicon"
)

type matcher struct {
	entry string
	re    *regexp.Regexp
}

// Detector counts whole-word filler occurrences. It is stateless after
// construction and safe for concurrent use.
type Detector struct {
	matchers []matcher
}

// NewDetector compiles one case-insensitive, word-bounded pattern per lexicon entry.
// Words inside a multi-word entry may be separated by any whitespace run.
func NewDetector(lex *lexicon.Lexicon) *Detector {
	entries := lex.Entries()
	d := &Detector{matchers: make([]matcher, 0, len(entries))}
	for _, entry := range entries {
		parts := strings.Fields(entry)
		for i, p := range parts {
			parts[i] = regexp.QuoteMeta(p)
		}
		re := regexp.MustCompile(`(?i)\b` + strings.Join(parts, `\s+`) + `\b`)
		d.matchers = append(d.matchers, matcher{entry: entry, re: re})
	}
	return d
}

// Count returns the total number of filler occurrences in text.
func (d *Detector) Count(text string) int {
	total := 0
	for _, m := range d.matchers {
		total += len(m.re.FindAllStringIndex(text, -1))
	}
	return total
}

// Matches returns occurrence counts keyed by lexicon entry. Entries with no
// occurrence are omitted.
func (d *Detector) Matches(text string) map[string]int {
	out := make(map[string]int)
	for _, m := range d.matchers {
		if n := len(m.re.FindAllStringIndex(text, -1)); n > 0 {
			out[m.entry] = n
		}
	}
	return out
}
