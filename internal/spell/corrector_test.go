package spell

import (
	"sync"
	"testing"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/tokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCorrector(t *testing.T, counts map[string]uint64, opts ...Option) *Corrector {
	t.Helper()
	model, err := NewModel(1000)
	require.NoError(t, err)
	c := NewCorrector(model, opts...)
	c.Seed(counts)
	return c
}

func TestCorrectKnownWordUnchanged(t *testing.T) {
	c := newTestCorrector(t, map[string]uint64{"teh": 1, "the": 100, "moon": 10})

	for _, w := range []string{"teh", "the", "moon", "Moon", "MOON!"} {
		assert.Equal(t, tokenizer.Normalize(w), c.Correct(w), w)
	}
	assert.Equal(t, "teh", c.Correct("teh"))
	assert.Equal(t, "moon", c.Correct("MOON!"))
}

func TestCorrectDistanceOne(t *testing.T) {
	c := newTestCorrector(t, map[string]uint64{"spelling": 10, "history": 50, "apollo": 5})

	tests := []struct {
		in, want string
	}{
		{"speling", "spelling"},   // insertion
		{"spellling", "spelling"}, // deletion
		{"hsitory", "history"},    // transposition
		{"apillo", "apollo"},      // substitution
		{"Speling", "spelling"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Correct(tt.in), tt.in)
	}
}

func TestCorrectDistanceTwo(t *testing.T) {
	c := newTestCorrector(t, map[string]uint64{"corrected": 3})
	assert.Equal(t, "corrected", c.Correct("korrectud"))
}

func TestCorrectPrefersFrequencyThenLexicographic(t *testing.T) {
	c := newTestCorrector(t, map[string]uint64{"cat": 5, "bat": 3})
	assert.Equal(t, "cat", c.Correct("hat"))

	tied := newTestCorrector(t, map[string]uint64{"cat": 3, "bat": 3})
	assert.Equal(t, "bat", tied.Correct("hat"))
}

func TestCorrectPrefersDistanceOneOverFrequentDistanceTwo(t *testing.T) {
	c := newTestCorrector(t, map[string]uint64{"moan": 1, "mold": 1000})
	assert.Equal(t, "moan", c.Correct("moon"))
}

func TestCorrectUnknownPassesThrough(t *testing.T) {
	c := newTestCorrector(t, map[string]uint64{"moon": 1})
	assert.Equal(t, "zzzzzzzz", c.Correct("ZZZZZZZZ"))
	assert.Equal(t, "", c.Correct("!!!"))
	assert.Equal(t, "", c.Correct(""))
}

func TestMaxWordLengthSkipsDistanceTwo(t *testing.T) {
	c := newTestCorrector(t, map[string]uint64{"corrected": 3}, WithMaxWordLength(5))
	assert.Equal(t, "korrectud", c.Correct("korrectud"))
}

func TestCheckQueryNoopWhenAllKnown(t *testing.T) {
	c := newTestCorrector(t, map[string]uint64{"apollo": 1, "moon": 1, "landing": 1})

	query := "  Apollo   moon, landing "
	res := c.CheckQuery(query)
	assert.Equal(t, query, res.OriginalQuery)
	assert.Equal(t, query, res.CorrectedQuery)
	assert.Empty(t, res.Corrections)
	assert.False(t, res.Changed())
}

func TestCheckQueryCorrectsAndLearns(t *testing.T) {
	c := newTestCorrector(t, map[string]uint64{"apollo": 4, "moon": 7})

	res := c.CheckQuery("apolo  moon")
	assert.Equal(t, "apolo  moon", res.OriginalQuery)
	assert.Equal(t, "apollo moon", res.CorrectedQuery)
	assert.Equal(t, []Correction{{Original: "apolo", Corrected: "apollo"}}, res.Corrections)
	assert.True(t, res.Changed())
	assert.Equal(t, uint64(5), c.Frequency("apollo"))
	assert.Equal(t, uint64(7), c.Frequency("moon"))
}

func TestCheckQueryWithoutLearning(t *testing.T) {
	c := newTestCorrector(t, map[string]uint64{"apollo": 4}, WithLearnCorrected(false))

	c.CheckQuery("apolo")
	assert.Equal(t, uint64(4), c.Frequency("apollo"))
}

func TestCheckQueryEmpty(t *testing.T) {
	c := newTestCorrector(t, map[string]uint64{"moon": 1})
	for _, q := range []string{"", "   ", "\t\n"} {
		res := c.CheckQuery(q)
		assert.Equal(t, q, res.CorrectedQuery)
		assert.Empty(t, res.Corrections)
	}
}

func TestLearnText(t *testing.T) {
	c := newTestCorrector(t, nil)
	c.LearnText("The moon, the MOON and the stars")

	assert.Equal(t, uint64(3), c.Frequency("the"))
	assert.Equal(t, uint64(2), c.Frequency("moon"))
	assert.True(t, c.Known("Stars"))
	assert.False(t, c.Known("sun"))
}

func TestConcurrentCheckQuery(t *testing.T) {
	c := newTestCorrector(t, map[string]uint64{"apollo": 1})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.CheckQuery("apolo")
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(51), c.Frequency("apollo"))
}

func TestDefaultVocabulary(t *testing.T) {
	vocab, err := LoadVocabulary("")
	require.NoError(t, err)
	require.NotEmpty(t, vocab.Words)

	c := NewCorrector(nil)
	vocab.Apply(c)

	assert.True(t, c.Known("history"))
	assert.True(t, c.Known("footage"))
	assert.Equal(t, "history", c.Correct("histroy"))
	assert.Equal(t, "climate data", c.CheckQuery("climte data").CorrectedQuery)
}

func BenchmarkCorrectDistanceTwo(b *testing.B) {
	model, _ := NewModel(1000)
	c := NewCorrector(model)
	c.Seed(map[string]uint64{"corrected": 3, "history": 10})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Correct("korrectud")
	}
}
