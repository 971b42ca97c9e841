package filler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loqalabs/loqa-coach/internal/lexicon"
)

func TestCountWholeWordOnly(t *testing.T) {
	d := NewDetector(lexicon.New("um"))
	assert.Equal(t, 1, d.Count("umbrella um"))
}

func TestCountCaseInsensitive(t *testing.T) {
	d := NewDetector(lexicon.Default())
	assert.Equal(t, 3, d.Count("Um, I LIKE this. uh"))
}

func TestCountMultiWordEntries(t *testing.T) {
	d := NewDetector(lexicon.Default())
	assert.Equal(t, 2, d.Count("you know it is, you\tknow, crucial"))
	assert.Equal(t, 0, d.Count("younger knowledge"))
}

func TestCountIgnoresEmbeddedFillers(t *testing.T) {
	d := NewDetector(lexicon.Default())
	assert.Equal(t, 0, d.Count("likely factually basic literal huh"))
}

func TestMatchesBreakdown(t *testing.T) {
	d := NewDetector(lexicon.Default())
	got := d.Matches("um so um actually you know")
	assert.Equal(t, map[string]int{"um": 2, "actually": 1, "you know": 1}, got)
}

func TestCountRecomputesOverFullText(t *testing.T) {
	d := NewDetector(lexicon.Default())
	assert.Equal(t, 1, d.Count("basically"))
	assert.Equal(t, 0, d.Count("basic"))
}
