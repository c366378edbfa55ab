// Package spell proposes corrections for misspelled query tokens using a
// frequency-ranked edit-distance search over an owned, bounded vocabulary.
package spell

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/tokenizer"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// DefaultMaxWordLength is the longest token searched at edit distance two.
const DefaultMaxWordLength = 24

// Correction records one word-level change applied to a query.
type Correction struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
}

// SpellCheck is the result of checking a whole query.
type SpellCheck struct {
	OriginalQuery  string       `json:"originalQuery"`
	CorrectedQuery string       `json:"correctedQuery"`
	Corrections    []Correction `json:"corrections"`
}

// Changed reports whether any token was corrected.
func (s SpellCheck) Changed() bool {
	return len(s.Corrections) > 0
}

// Corrector owns a Model and serialises every read and write to it, so one
// Corrector may be shared by concurrent requests.
type Corrector struct {
	mu             sync.Mutex
	model          *Model
	learnCorrected bool
	maxWordLength  int
	logger         *slog.Logger
}

// Option configures a Corrector.
type Option func(*Corrector)

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Corrector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLearnCorrected controls whether CheckQuery feeds corrections back into
// the model. Enabled by default.
func WithLearnCorrected(learn bool) Option {
	return func(c *Corrector) {
		c.learnCorrected = learn
	}
}

// WithMaxWordLength bounds the distance-two search.
func WithMaxWordLength(n int) Option {
	return func(c *Corrector) {
		if n > 0 {
			c.maxWordLength = n
		}
	}
}

// NewCorrector wraps model. A nil model is replaced by an empty one of
// DefaultCapacity.
func NewCorrector(model *Model, opts ...Option) *Corrector {
	if model == nil {
		model, _ = NewModel(DefaultCapacity)
	}
	c := &Corrector{
		model:          model,
		learnCorrected: true,
		maxWordLength:  DefaultMaxWordLength,
		logger:         slog.Default().With("component", "spell-corrector"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LearnText adds one occurrence of every token in text to the model.
func (c *Corrector) LearnText(text string) {
	words := tokenizer.Words(text)
	if len(words) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range words {
		c.model.Add(w, 1)
	}
}

// Seed loads counts into the model without touching existing entries'
// relative order beyond the increments.
func (c *Corrector) Seed(counts map[string]uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for word, n := range counts {
		if w := tokenizer.Normalize(word); w != "" {
			c.model.Add(w, n)
		}
	}
}

// Known reports whether the normalised word is in the vocabulary.
func (c *Corrector) Known(word string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.Contains(tokenizer.Normalize(word))
}

// Frequency returns the count of the normalised word.
func (c *Corrector) Frequency(word string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.Frequency(tokenizer.Normalize(word))
}

func (c *Corrector) Stats() Stats {
	return c.model.Stats()
}

// Correct returns the most likely intended spelling of word. Known words are
// returned normalised and unchanged. Unknown words resolve to the most
// frequent known word at edit distance one, then two, with ties going to the
// lexicographically smallest candidate. With no known candidate the
// normalised input is returned.
func (c *Corrector) Correct(word string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.correct(tokenizer.Normalize(word))
}

func (c *Corrector) correct(word string) string {
	if word == "" || c.model.Contains(word) {
		return word
	}

	var best candidate
	edits1(word, best.consider(c.model))
	if best.found() {
		return best.word
	}
	if len(word) > c.maxWordLength {
		return word
	}

	visit := best.consider(c.model)
	edits1(word, func(e1 string) {
		edits1(e1, visit)
	})
	if best.found() {
		return best.word
	}
	return word
}

// CheckQuery corrects every whitespace-separated token of query. When no
// token changes the original string is returned verbatim; otherwise tokens
// are rejoined with single spaces.
func (c *Corrector) CheckQuery(query string) SpellCheck {
	result := SpellCheck{
		OriginalQuery:  query,
		CorrectedQuery: query,
		Corrections:    []Correction{},
	}
	parts := strings.Fields(query)
	if len(parts) == 0 {
		return result
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(parts))
	for _, part := range parts {
		norm := tokenizer.Normalize(part)
		corrected := c.correct(norm)
		if corrected == norm {
			out = append(out, part)
			continue
		}
		result.Corrections = append(result.Corrections, Correction{
			Original:  part,
			Corrected: corrected,
		})
		if c.learnCorrected {
			c.model.Add(corrected, 1)
		}
		out = append(out, corrected)
	}

	if len(result.Corrections) > 0 {
		result.CorrectedQuery = strings.Join(out, " ")
		c.logger.Debug("query corrected",
			"original", query,
			"corrected", result.CorrectedQuery,
			"corrections", len(result.Corrections),
		)
	}
	return result
}

type candidate struct {
	word string
	freq uint64
}

func (b *candidate) found() bool {
	return b.freq > 0
}

func (b *candidate) consider(model *Model) func(string) {
	return func(w string) {
		n := model.Frequency(w)
		if n == 0 {
			return
		}
		if n > b.freq || (n == b.freq && w < b.word) {
			b.word = w
			b.freq = n
		}
	}
}

// edits1 calls fn with every string at edit distance one from word:
// deletions, adjacent transpositions, substitutions and insertions over
// the token alphabet. Duplicates are possible; empty strings are skipped.
func edits1(word string, fn func(string)) {
	n := len(word)
	for i := 0; i < n; i++ {
		if d := word[:i] + word[i+1:]; d != "" {
			fn(d)
		}
	}
	for i := 0; i < n-1; i++ {
		fn(word[:i] + string(word[i+1]) + string(word[i]) + word[i+2:])
	}
	for i := 0; i < n; i++ {
		for j := 0; j < len(alphabet); j++ {
			if alphabet[j] != word[i] {
				fn(word[:i] + string(alphabet[j]) + word[i+1:])
			}
		}
	}
	for i := 0; i <= n; i++ {
		for j := 0; j < len(alphabet); j++ {
			fn(word[:i] + string(alphabet[j]) + word[i:])
		}
	}
}
