package expand

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed data/synonyms.yaml
var defaultSynonyms []byte

// Lexicon maps a term to its synonyms. Groups are bidirectional: every member
// of a group lists every other member.
type Lexicon struct {
	synonyms map[string][]string
	version  string
}

// NewLexicon returns an empty lexicon.
func NewLexicon() *Lexicon {
	return &Lexicon{synonyms: make(map[string][]string)}
}

// ParseLexicon decodes a YAML synonym table of the form
//
//	synonyms:
//	  - canonical: video
//	    variants: [film, movies]
//
// Blank members are dropped and every term is lowercased.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var f struct {
		Synonyms []struct {
			Canonical string   `yaml:"canonical"`
			Variants  []string `yaml:"variants"`
		} `yaml:"synonyms"`
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing synonyms: %w", err)
	}
	lex := NewLexicon()
	for _, entry := range f.Synonyms {
		group := make([]string, 0, len(entry.Variants)+1)
		group = append(group, entry.Canonical)
		group = append(group, entry.Variants...)
		lex.AddGroup(group...)
	}
	sum := sha256.Sum256(data)
	lex.version = hex.EncodeToString(sum[:8])
	return lex, nil
}

// LoadLexicon reads the table at path, or the embedded default when path is
// empty.
func LoadLexicon(path string) (*Lexicon, error) {
	if path == "" {
		return ParseLexicon(defaultSynonyms)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading synonyms %s: %w", path, err)
	}
	return ParseLexicon(data)
}

// AddGroup links every member of terms to every other member.
func (l *Lexicon) AddGroup(terms ...string) {
	members := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.Join(strings.Fields(t), " "))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		members = append(members, t)
	}
	for _, m := range members {
		for _, other := range members {
			if other != m && !contains(l.synonyms[m], other) {
				l.synonyms[m] = append(l.synonyms[m], other)
			}
		}
	}
}

// Synonyms returns the synonyms of term in table order, or nil.
func (l *Lexicon) Synonyms(term string) []string {
	syns := l.synonyms[strings.ToLower(term)]
	if len(syns) == 0 {
		return nil
	}
	out := make([]string, len(syns))
	copy(out, syns)
	return out
}

// Len returns the number of terms with at least one synonym.
func (l *Lexicon) Len() int {
	return len(l.synonyms)
}

// Version identifies the table contents; empty for lexicons built in code.
func (l *Lexicon) Version() string {
	return l.version
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
