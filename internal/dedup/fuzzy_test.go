package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJaroWinkler(t *testing.T) {
	assert.Equal(t, 1.0, JaroWinkler("martha", "martha"))
	assert.Equal(t, 0.0, JaroWinkler("", "abc"))

	// Classic example: MARTHA vs MARHTA
	assert.InDelta(t, 0.961, JaroWinkler("martha", "marhta"), 0.01)

	// Shared prefix boosts similarity above plain Jaro
	assert.Greater(t, JaroWinkler("peter", "petra"), jaroSimilarity("peter", "petra"))
	assert.Less(t, JaroWinkler("abc", "xyz"), 0.1)
}

func TestTrigramJaccard(t *testing.T) {
	assert.Equal(t, 1.0, TrigramJaccard("kovac", "kovac"))
	assert.Equal(t, 0.0, TrigramJaccard("abc", "xyz"))

	similar := TrigramJaccard("jan kovac", "jan kovacs")
	assert.Greater(t, similar, 0.6)
	assert.Less(t, similar, 1.0)
}

func TestSoundex(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"robert", "R163"},
		{"rupert", "R163"},
		{"kovac", "K120"},
		{"kovacs", "K120"},
		{"smith", "S530"},
		{"smyth", "S530"},
		{"", ""},
		{"123", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Soundex(tt.input), "soundex(%q)", tt.input)
	}
}

func TestMatchNames(t *testing.T) {
	t.Run("identical names", func(t *testing.T) {
		m := MatchNames("jan kovac", "jan kovac")
		assert.True(t, m.Matched)
		assert.Equal(t, 1.0, m.Confidence)
	})

	t.Run("single typo matches", func(t *testing.T) {
		m := MatchNames("jan kovac", "jan kovacs")
		assert.True(t, m.Matched)
		assert.Greater(t, m.Confidence, 0.8)
	})

	t.Run("transposed characters match", func(t *testing.T) {
		m := MatchNames("peter novak", "peter nvoak")
		assert.True(t, m.Matched)
	})

	t.Run("unrelated names do not match", func(t *testing.T) {
		m := MatchNames("jan kovac", "maria horvathova")
		assert.False(t, m.Matched)
	})

	t.Run("empty input never matches", func(t *testing.T) {
		assert.False(t, MatchNames("", "jan kovac").Matched)
		assert.False(t, MatchNames("jan kovac", "").Matched)
	})

	t.Run("symmetric", func(t *testing.T) {
		a := MatchNames("jan kovac", "jan kovacs")
		b := MatchNames("jan kovacs", "jan kovac")
		assert.Equal(t, a.Matched, b.Matched)
		assert.InDelta(t, a.Confidence, b.Confidence, 0.0001)
	})

	t.Run("short dissimilar names do not match", func(t *testing.T) {
		// Edit distance alone passes here, but the combined confidence is
		// too low to call these the same person
		assert.False(t, MatchNames("kim", "kam").Matched)
		assert.False(t, MatchNames("bob", "pip").Matched)
	})
}
