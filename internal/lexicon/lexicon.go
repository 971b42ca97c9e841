// Package lexicon provides the static filler-word vocabulary.
package lexicon

import "strings"

// DefaultFillers are the filler entries recognized out of the box.
var DefaultFillers = []string{"um", "uh", "like", "you know", "actually", "basically", "literally"}

// Lexicon is an immutable set of filler entries. Entries are lower-cased and
// may contain more than one word.
type Lexicon struct {
	entries []string
	set     map[string]struct{}
}

// New builds a lexicon from entries. Blank and duplicate entries are dropped.
func New(entries ...string) *Lexicon {
	l := &Lexicon{set: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		e = strings.Join(strings.Fields(strings.ToLower(e)), " ")
		if e == "" {
			continue
		}
		if _, ok := l.set[e]; ok {
			continue
		}
		l.set[e] = struct{}{}
		l.entries = append(l.entries, e)
	}
	return l
}

// Default returns the lexicon built from DefaultFillers plus any extras.
func Default(extra ...string) *Lexicon {
	return New(append(append([]string(nil), DefaultFillers...), extra...)...)
}

// Entries returns the entries in insertion order.
func (l *Lexicon) Entries() []string {
	return append([]string(nil), l.entries...)
}

func (l *Lexicon) Len() int { return len(l.entries) }
