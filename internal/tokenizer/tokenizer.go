// Package tokenizer normalises free text into lowercase alphanumeric tokens.
// It provides the shared vocabulary primitives of the pipeline: raw word
// splitting, stop-word removal, significant-term selection, Snowball
// stemming and English plural inflection.
package tokenizer

import (
	"strings"

	"github.com/kljensen/snowball/english"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {}, "about": {},
	"into": {}, "over": {}, "than": {}, "then": {}, "these": {},
	"those": {}, "there": {}, "how": {}, "why": {}, "all": {},
	"any": {}, "some": {}, "our": {}, "your": {}, "my": {}, "me": {},
	"we": {}, "you": {}, "i": {}, "am": {}, "been": {}, "being": {},
	"get": {}, "show": {}, "find": {}, "search": {},
}

// Token is a single stemmed term and its position among the significant
// terms of the original text.
type Token struct {
	Term     string
	Position int
}

func isTokenRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

// Words lowercases text and splits it on every rune outside [a-z0-9].
// Stop words are kept.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isTokenRune(r)
	})
}

// Normalize lowercases word and drops every rune outside [a-z0-9].
func Normalize(word string) string {
	lower := strings.ToLower(word)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if isTokenRune(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func IsStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}

// Terms returns the non-stop-word tokens of text that are at least two
// characters long, unstemmed and in order.
func Terms(text string) []string {
	words := Words(text)
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 2 || IsStopWord(w) {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

// IsSignificant reports whether a normalised term carries enough meaning to
// be expanded: not a stop word and at least three characters.
func IsSignificant(term string) bool {
	return len(term) >= 3 && !IsStopWord(term)
}

// Significant returns the significant terms of text in order, keeping
// duplicates.
func Significant(text string) []string {
	words := Words(text)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if IsSignificant(w) {
			out = append(out, w)
		}
	}
	return out
}

// Stem returns the English Snowball stem of a lowercase token.
func Stem(word string) string {
	if len(word) < 3 {
		return word
	}
	if s := english.Stem(word, false); s != "" {
		return s
	}
	return word
}

// Tokenize breaks text into stemmed Tokens with stop words removed.
func Tokenize(text string) []Token {
	terms := Terms(text)
	tokens := make([]Token, 0, len(terms))
	for i, term := range terms {
		tokens = append(tokens, Token{
			Term:     Stem(term),
			Position: i,
		})
	}
	return tokens
}

// StemSet returns the distinct stems of text.
func StemSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok.Term] = struct{}{}
	}
	return set
}
