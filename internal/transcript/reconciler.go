// Package transcript reconciles timestamped recognition fragments into one
// running transcript.
package transcript

import (
	"slices"
	"strings"
)

// Fragment is one unit of recognized text keyed by its audio start offset.
type Fragment struct {
	StartOffset int64
	Text        string
	IsFinal     bool
}

// Reconciler keeps the latest text per start offset and renders them in
// ascending offset order. The zero value is ready to use. It is not safe for
// concurrent use; the owning session serializes access.
type Reconciler struct {
	texts    map[int64]string
	offsets  []int64
	rendered string
	final    map[int64]bool
}

// Ingest records f, overwriting any earlier text at the same offset, and
// returns the re-rendered transcript.
func (r *Reconciler) Ingest(f Fragment) string {
	if r.texts == nil {
		r.texts = make(map[int64]string)
	}
	text := strings.TrimSpace(f.Text)
	prev, seen := r.texts[f.StartOffset]
	if !seen {
		i, _ := slices.BinarySearch(r.offsets, f.StartOffset)
		r.offsets = slices.Insert(r.offsets, i, f.StartOffset)
	}
	r.texts[f.StartOffset] = text
	if f.IsFinal {
		if r.final == nil {
			r.final = make(map[int64]bool)
		}
		r.final[f.StartOffset] = true
	} else {
		delete(r.final, f.StartOffset)
	}
	if !seen || prev != text {
		r.rendered = r.render()
	}
	return r.rendered
}

// Render returns the current transcript without modifying state.
func (r *Reconciler) Render() string {
	return r.rendered
}

// Len reports how many distinct offsets have been seen.
func (r *Reconciler) Len() int {
	return len(r.offsets)
}

// Finals reports how many offsets currently hold final text.
func (r *Reconciler) Finals() int {
	return len(r.final)
}

// Reset discards every fragment.
func (r *Reconciler) Reset() {
	r.texts = nil
	r.offsets = nil
	r.rendered = ""
	r.final = nil
}

func (r *Reconciler) render() string {
	var b strings.Builder
	for _, off := range r.offsets {
		text := r.texts[off]
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String()
}
