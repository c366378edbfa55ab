package tokenizer

import "github.com/gertd/go-pluralize"

// Words that have no distinct plural form.
var uncountable = map[string]struct{}{
	"data": {}, "media": {}, "news": {}, "music": {}, "software": {},
	"footage": {}, "information": {}, "series": {}, "species": {},
	"equipment": {}, "research": {}, "audio": {},
}

// Archive vocabulary the stock rule set gets wrong or leaves ambiguous.
var irregularPlural = map[string]string{
	"child":  "children",
	"person": "people",
	"man":    "men",
	"woman":  "women",
	"mouse":  "mice",
	"goose":  "geese",
	"foot":   "feet",
	"tooth":  "teeth",
	"movie":  "movies",
	"index":  "indices",
}

// inflector is shared; rules are only added here, so concurrent use is safe.
var inflector = newInflector()

func newInflector() *pluralize.Client {
	c := pluralize.NewClient()
	for word := range uncountable {
		c.AddUncountableRule(word)
	}
	for singular, plural := range irregularPlural {
		c.AddIrregularRule(singular, plural)
	}
	return c
}

// IsPlural reports whether a lowercase word is an English plural.
// Uncountable words are neither.
func IsPlural(word string) bool {
	if word == "" {
		return false
	}
	if _, ok := uncountable[word]; ok {
		return false
	}
	return inflector.IsPlural(word)
}

// Pluralize returns the English plural of a lowercase singular word.
func Pluralize(word string) string {
	if word == "" {
		return word
	}
	return inflector.Plural(word)
}

// Singularize returns the singular of a lowercase plural word. Words that do
// not look plural are returned unchanged.
func Singularize(word string) string {
	if !IsPlural(word) {
		return word
	}
	return inflector.Singular(word)
}

// Inflect flips the grammatical number of word: plurals are singularised and
// singulars pluralised. Uncountable words come back unchanged.
func Inflect(word string) string {
	if IsPlural(word) {
		return Singularize(word)
	}
	return Pluralize(word)
}
