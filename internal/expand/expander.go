// Package expand rewrites user queries for better recall. It builds a
// boosted hybrid expression for the archive's query syntax (literal phrase,
// fuzzy and wildcard clauses, quoted synonyms) and suggests alternative
// phrasings from inflection and synonym substitution.
package expand

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/tokenizer"
)

const (
	// DefaultMaxAlternatives caps SuggestAlternativeQueries.
	DefaultMaxAlternatives = 5

	minAlternatives   = 2
	phraseBoost       = "^3"
	fuzzyMarker       = "~"
	wildcardMarker    = "*"
	minSingleTokenLen = 4
	querySyntaxRunes  = "\"~*()^"
)

// Vocabulary reports how often a term has been seen. spell.Corrector
// satisfies it.
type Vocabulary interface {
	Frequency(term string) uint64
}

// QueryExpansion bundles the two expansion outputs for one query.
type QueryExpansion struct {
	HybridExpression   *string  `json:"hybridExpression"`
	AlternativeQueries []string `json:"alternativeQueries"`
}

// Expander is safe for concurrent use as long as its Vocabulary is.
type Expander struct {
	lexicon         *Lexicon
	vocab           Vocabulary
	enableSynonyms  bool
	maxAlternatives int
	logger          *slog.Logger
}

// Option configures an Expander.
type Option func(*Expander)

// WithVocabulary orders synonyms by their frequency in vocab.
func WithVocabulary(vocab Vocabulary) Option {
	return func(e *Expander) {
		e.vocab = vocab
	}
}

// WithSynonyms toggles synonym clauses in BuildHeuristicRefinement and
// Expand. Enabled by default.
func WithSynonyms(enabled bool) Option {
	return func(e *Expander) {
		e.enableSynonyms = enabled
	}
}

func WithMaxAlternatives(n int) Option {
	return func(e *Expander) {
		if n >= minAlternatives {
			e.maxAlternatives = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Expander) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Expander over lexicon. A nil lexicon expands without
// synonyms.
func New(lexicon *Lexicon, opts ...Option) *Expander {
	if lexicon == nil {
		lexicon = NewLexicon()
	}
	e := &Expander{
		lexicon:         lexicon,
		enableSynonyms:  true,
		maxAlternatives: DefaultMaxAlternatives,
		logger:          slog.Default().With("component", "query-expander"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Lexicon returns the synonym table in use.
func (e *Expander) Lexicon() *Lexicon {
	return e.lexicon
}

// SynonymsEnabled reports whether Expand adds synonym clauses.
func (e *Expander) SynonymsEnabled() bool {
	return e.enableSynonyms
}

// Expand returns the heuristic refinement and the alternatives for query.
func (e *Expander) Expand(query string) QueryExpansion {
	return QueryExpansion{
		HybridExpression:   e.BuildHybridSearchExpression(query, e.enableSynonyms),
		AlternativeQueries: e.SuggestAlternativeQueries(query),
	}
}

// BuildHeuristicRefinement returns the hybrid expression for query, or nil
// when the query is too trivial for any refinement to help.
func (e *Expander) BuildHeuristicRefinement(query string) *string {
	return e.BuildHybridSearchExpression(query, e.enableSynonyms)
}

// BuildHybridSearchExpression builds
//
//	(literal phrase)^3 OR (t1~ t2~) OR (t1* t2*) OR ("syn1" OR "syn2")
//
// over the significant terms of query. It returns nil for empty queries,
// queries without significant terms, single tokens shorter than four
// characters and queries that already use query syntax.
func (e *Expander) BuildHybridSearchExpression(query string, enableSynonyms bool) *string {
	if strings.ContainsAny(query, querySyntaxRunes) {
		return nil
	}
	words := tokenizer.Words(query)
	if len(words) == 0 {
		return nil
	}
	if len(words) == 1 && len(words[0]) < minSingleTokenLen {
		return nil
	}
	terms := unique(tokenizer.Significant(query))
	if len(terms) == 0 {
		return nil
	}

	fuzzy := make([]string, len(terms))
	wildcard := make([]string, len(terms))
	for i, t := range terms {
		fuzzy[i] = t + fuzzyMarker
		wildcard[i] = t + wildcardMarker
	}
	clauses := []string{
		"(" + strings.Join(words, " ") + ")" + phraseBoost,
		"(" + strings.Join(fuzzy, " ") + ")",
		"(" + strings.Join(wildcard, " ") + ")",
	}

	if enableSynonyms {
		inQuery := make(map[string]struct{}, len(words))
		for _, w := range words {
			inQuery[w] = struct{}{}
		}
		var quoted []string
		seen := make(map[string]struct{})
		for _, t := range terms {
			for _, syn := range e.synonyms(t) {
				if _, ok := inQuery[syn]; ok {
					continue
				}
				if _, ok := seen[syn]; ok {
					continue
				}
				seen[syn] = struct{}{}
				quoted = append(quoted, `"`+syn+`"`)
			}
		}
		if len(quoted) > 0 {
			clauses = append(clauses, "("+strings.Join(quoted, " OR ")+")")
		}
	}

	expr := strings.Join(clauses, " OR ")
	e.logger.Debug("hybrid expression built", "query", query, "terms", len(terms))
	return &expr
}

// SuggestAlternativeQueries returns between two and the configured maximum
// of distinct rephrasings of query, never including query itself. Inflected
// variants come first, then synonym substitutions taken one synonym per term
// per round, then fallbacks. Queries without any token yield nil.
func (e *Expander) SuggestAlternativeQueries(query string) []string {
	words := tokenizer.Words(query)
	if len(words) == 0 {
		return nil
	}
	set := newAlternativeSet(query, e.maxAlternatives)

	for i, w := range words {
		if !tokenizer.IsSignificant(w) {
			continue
		}
		if inf := tokenizer.Inflect(w); inf != w {
			set.add(replaceAt(words, i, inf))
		}
	}

	subs := make([][]string, len(words))
	rounds := 0
	for i, w := range words {
		if !tokenizer.IsSignificant(w) {
			continue
		}
		subs[i] = e.synonyms(w)
		if len(subs[i]) > rounds {
			rounds = len(subs[i])
		}
	}
	for r := 0; r < rounds && !set.full(); r++ {
		for i := range words {
			if r < len(subs[i]) {
				set.add(replaceAt(words, i, subs[i][r]))
			}
		}
	}

	if set.len() < minAlternatives {
		for _, fb := range fallbacks(words) {
			set.add(fb)
		}
	}
	return set.items
}

func fallbacks(words []string) []string {
	phrase := strings.Join(words, " ")
	out := []string{`"` + phrase + `"`}

	var significant, inflected []string
	for _, w := range words {
		if tokenizer.IsSignificant(w) {
			significant = append(significant, w)
		}
		if tokenizer.IsStopWord(w) {
			inflected = append(inflected, w)
		} else {
			inflected = append(inflected, tokenizer.Inflect(w))
		}
	}
	if len(significant) > 0 {
		out = append(out, strings.Join(significant, " "))
	}
	out = append(out, strings.Join(inflected, " "), phrase+wildcardMarker)
	return out
}

// synonyms returns the synonyms of term, most frequent first when a
// vocabulary is configured. Unknown synonyms keep table order after the
// known ones.
func (e *Expander) synonyms(term string) []string {
	syns := e.lexicon.Synonyms(term)
	if e.vocab == nil || len(syns) < 2 {
		return syns
	}
	freq := make(map[string]uint64, len(syns))
	for _, s := range syns {
		freq[s] = e.vocab.Frequency(s)
	}
	sort.SliceStable(syns, func(i, j int) bool {
		return freq[syns[i]] > freq[syns[j]]
	})
	return syns
}

type alternativeSet struct {
	items []string
	seen  map[string]struct{}
	limit int
}

func newAlternativeSet(original string, limit int) *alternativeSet {
	return &alternativeSet{
		seen:  map[string]struct{}{foldKey(original): {}},
		limit: limit,
	}
}

func (s *alternativeSet) add(q string) {
	if s.full() || strings.TrimSpace(q) == "" {
		return
	}
	key := foldKey(q)
	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}
	s.items = append(s.items, q)
}

func (s *alternativeSet) full() bool { return len(s.items) >= s.limit }

func (s *alternativeSet) len() int { return len(s.items) }

// foldKey compares queries case-insensitively with whitespace collapsed.
func foldKey(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

func replaceAt(words []string, i int, with string) string {
	out := make([]string, len(words))
	copy(out, words)
	out[i] = with
	return strings.Join(out, " ")
}

func unique(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
