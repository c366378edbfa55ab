package expand

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExpander(t *testing.T, opts ...Option) *Expander {
	t.Helper()
	lex, err := LoadLexicon("")
	require.NoError(t, err)
	return New(lex, opts...)
}

func TestHybridExpressionClimateData(t *testing.T) {
	e := newTestExpander(t)

	expr := e.BuildHybridSearchExpression("climate data", true)
	require.NotNil(t, expr)
	assert.Contains(t, *expr, "(climate data)")
	assert.Contains(t, *expr, "climate~")
	assert.Contains(t, *expr, "data*")
	assert.Contains(t, *expr, `"weather"`)
}

func TestHybridExpressionWithoutSynonyms(t *testing.T) {
	e := newTestExpander(t)

	expr := e.BuildHybridSearchExpression("climate data", false)
	require.NotNil(t, expr)
	assert.Equal(t, "(climate data)^3 OR (climate~ data~) OR (climate* data*)", *expr)
}

func TestHybridExpressionSkipsStopWordsInClauses(t *testing.T) {
	e := newTestExpander(t)

	expr := e.BuildHybridSearchExpression("History of the Moon", false)
	require.NotNil(t, expr)
	assert.Equal(t, "(history of the moon)^3 OR (history~ moon~) OR (history* moon*)", *expr)
}

func TestHybridExpressionNil(t *testing.T) {
	e := newTestExpander(t)

	for _, q := range []string{"", "   ", "hi", "tv", "of the", "!!!", `"apollo 11"`, "moon*"} {
		assert.Nil(t, e.BuildHybridSearchExpression(q, true), q)
	}
}

func TestHybridExpressionSynonymsNotRepeated(t *testing.T) {
	e := newTestExpander(t)

	expr := e.BuildHybridSearchExpression("video film", true)
	require.NotNil(t, expr)
	assert.NotContains(t, *expr, `"film"`)
	assert.NotContains(t, *expr, `"video"`)
	assert.Equal(t, 1, strings.Count(*expr, `"movies"`))
}

func TestHeuristicRefinement(t *testing.T) {
	e := newTestExpander(t)

	assert.Nil(t, e.BuildHeuristicRefinement("hi"))

	refined := e.BuildHeuristicRefinement("apollo moon landing footage")
	require.NotNil(t, refined)
	assert.Contains(t, *refined, "apollo~")
	assert.Contains(t, *refined, "apollo*")
	assert.Contains(t, *refined, `"lunar"`)
}

func TestSuggestAlternativeQueriesBookHistory(t *testing.T) {
	e := newTestExpander(t)

	alts := e.SuggestAlternativeQueries("book history")
	assert.GreaterOrEqual(t, len(alts), 2)
	assert.LessOrEqual(t, len(alts), 5)
	assert.Contains(t, alts, "books history")
	assert.NotContains(t, alts, "book history")

	hasHistorical := false
	for _, a := range alts {
		if strings.Contains(a, "historical") {
			hasHistorical = true
		}
	}
	assert.True(t, hasHistorical, "alternatives %v", alts)
	assertUniqueFold(t, alts)
}

func TestSuggestAlternativeQueriesOrder(t *testing.T) {
	e := newTestExpander(t)

	assert.Equal(t, []string{
		"books history",
		"book histories",
		"texts history",
		"book historical",
		"literature history",
	}, e.SuggestAlternativeQueries("book history"))
}

func TestSuggestAlternativeQueriesNeverOriginal(t *testing.T) {
	e := newTestExpander(t)

	for _, q := range []string{"Book History", "historic video", "hi", "the", "xyz", "moon landing"} {
		alts := e.SuggestAlternativeQueries(q)
		assert.GreaterOrEqual(t, len(alts), 2, q)
		assert.LessOrEqual(t, len(alts), 5, q)
		for _, a := range alts {
			assert.NotEqual(t, strings.ToLower(q), strings.ToLower(a), q)
		}
		assertUniqueFold(t, alts)
	}
}

func TestSuggestAlternativeQueriesFallbacks(t *testing.T) {
	e := New(nil)

	alts := e.SuggestAlternativeQueries("xyz")
	assert.Equal(t, []string{"xyzs", `"xyz"`, "xyz*"}, alts)

	assert.Nil(t, e.SuggestAlternativeQueries("   "))
	assert.Nil(t, e.SuggestAlternativeQueries("!!!"))
}

func TestSuggestAlternativeQueriesHonoursLimit(t *testing.T) {
	e := newTestExpander(t, WithMaxAlternatives(2))

	assert.Len(t, e.SuggestAlternativeQueries("book history"), 2)
}

type fakeVocabulary map[string]uint64

func (f fakeVocabulary) Frequency(term string) uint64 { return f[term] }

func TestVocabularyOrdersSynonyms(t *testing.T) {
	e := newTestExpander(t, WithVocabulary(fakeVocabulary{"literature": 10, "texts": 1}))

	alts := e.SuggestAlternativeQueries("book")
	assert.Equal(t, []string{"books", "literature", "texts"}, alts)
}

func TestExpand(t *testing.T) {
	e := newTestExpander(t, WithSynonyms(false))

	exp := e.Expand("climate data")
	require.NotNil(t, exp.HybridExpression)
	assert.NotContains(t, *exp.HybridExpression, `"weather"`)
	assert.NotEmpty(t, exp.AlternativeQueries)

	trivial := e.Expand("hi")
	assert.Nil(t, trivial.HybridExpression)
}

func TestDeterministic(t *testing.T) {
	e := newTestExpander(t)
	first := e.Expand("historic video footage")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Expand("historic video footage"))
	}
}

func assertUniqueFold(t *testing.T, alts []string) {
	t.Helper()
	seen := map[string]bool{}
	for _, a := range alts {
		key := strings.ToLower(a)
		assert.False(t, seen[key], "duplicate %q in %v", a, alts)
		seen[key] = true
	}
}
