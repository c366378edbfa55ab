package safety

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/tokenizer"
	"gopkg.in/yaml.v3"
)

//go:embed data/keywords.yaml
var defaultKeywords []byte

const maxKeywordDepth = 8

// Keys that describe a category rather than hold phrases.
var categoryMetaKeys = map[string]struct{}{
	"name": {}, "category": {}, "severity": {}, "level": {},
	"id": {}, "description": {}, "version": {}, "comment": {},
}

// Keys whose phrases neutralise benign collisions before matching.
var allowKeys = map[string]struct{}{
	"allow": {}, "allowlist": {}, "exceptions": {}, "safe_phrases": {},
}

// KeywordSet holds the normalised phrase lists of each severity. A phrase is
// a space-joined sequence of tokens. Explicit phrases never appear in the
// mild list; violent phrases may.
type KeywordSet struct {
	explicit []string
	mild     []string
	violent  []string
	allow    []string
	version  string
}

// NewKeywordSet builds a set from phrase lists.
func NewKeywordSet(explicit, mild, violent []string) *KeywordSet {
	b := newKeywordBuilder()
	for _, p := range explicit {
		b.add(SeverityExplicit, p)
	}
	for _, p := range mild {
		b.add(SeverityMild, p)
	}
	for _, p := range violent {
		b.add(SeverityViolent, p)
	}
	return b.build()
}

// ParseKeywordSet decodes a YAML or JSON keyword payload. Categories may be
// given as top-level severity keys, under a keywords: or categories: key, as
// a list of {name, severity, keywords} objects, or as a bare list of
// explicit phrases. Category names are mapped through the severity aliases
// and unknown categories are dropped. Only a payload that cannot be decoded
// at all is an error.
func ParseKeywordSet(payload []byte) (*KeywordSet, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("parsing keyword set: %w", err)
	}
	b := newKeywordBuilder()
	doc := &root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	var sev Severity
	if doc.Kind == yaml.SequenceNode {
		sev = SeverityExplicit
	}
	b.walk(doc, sev, 0)
	return b.build(), nil
}

// LoadKeywordSet reads the payload at path, or the embedded default when
// path is empty.
func LoadKeywordSet(path string) (*KeywordSet, error) {
	if path == "" {
		return ParseKeywordSet(defaultKeywords)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keyword set %s: %w", path, err)
	}
	return ParseKeywordSet(data)
}

// DefaultKeywordSet returns the embedded keyword set.
func DefaultKeywordSet() *KeywordSet {
	set, err := ParseKeywordSet(defaultKeywords)
	if err != nil {
		panic(fmt.Sprintf("embedded keyword set: %v", err))
	}
	return set
}

func (k *KeywordSet) Explicit() []string { return append([]string(nil), k.explicit...) }
func (k *KeywordSet) Mild() []string     { return append([]string(nil), k.mild...) }
func (k *KeywordSet) Violent() []string  { return append([]string(nil), k.violent...) }
func (k *KeywordSet) Allow() []string    { return append([]string(nil), k.allow...) }

// Version is a digest of the normalised contents. Two sets with the same
// phrases in the same order share a version.
func (k *KeywordSet) Version() string { return k.version }

// Len returns the number of distinct match phrases.
func (k *KeywordSet) Len() int {
	return len(k.explicit) + len(k.mild) + len(k.violent)
}

type phraseList struct {
	items []string
	seen  map[string]struct{}
}

func (p *phraseList) add(phrase string) {
	if _, dup := p.seen[phrase]; dup {
		return
	}
	if p.seen == nil {
		p.seen = make(map[string]struct{})
	}
	p.seen[phrase] = struct{}{}
	p.items = append(p.items, phrase)
}

type keywordBuilder struct {
	lists map[Severity]*phraseList
	allow phraseList
}

func newKeywordBuilder() *keywordBuilder {
	return &keywordBuilder{
		lists: map[Severity]*phraseList{
			SeverityExplicit: {},
			SeverityMild:     {},
			SeverityViolent:  {},
		},
	}
}

func normalizePhrase(raw string) string {
	return strings.Join(tokenizer.Words(raw), " ")
}

func (b *keywordBuilder) add(sev Severity, raw string) {
	list, ok := b.lists[sev]
	if !ok {
		return
	}
	if phrase := normalizePhrase(raw); phrase != "" {
		list.add(phrase)
	}
}

func (b *keywordBuilder) walk(n *yaml.Node, sev Severity, depth int) {
	if n == nil || depth > maxKeywordDepth {
		return
	}
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			b.walk(c, sev, depth+1)
		}
	case yaml.AliasNode:
		b.walk(n.Alias, sev, depth+1)
	case yaml.ScalarNode:
		if sev == "" || n.Tag == "!!null" {
			return
		}
		for _, part := range strings.Split(n.Value, ",") {
			b.add(sev, part)
		}
	case yaml.SequenceNode:
		for _, item := range n.Content {
			b.walk(item, sev, depth+1)
		}
	case yaml.MappingNode:
		b.walkMapping(n, sev, depth)
	}
}

func (b *keywordBuilder) walkMapping(n *yaml.Node, sev Severity, depth int) {
	if own, isCategory := categorySeverity(n); isCategory && own != "" {
		sev = own
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := strings.ToLower(strings.TrimSpace(n.Content[i].Value))
		val := n.Content[i+1]
		if _, meta := categoryMetaKeys[key]; meta {
			continue
		}
		if _, ok := allowKeys[key]; ok {
			b.walkAllow(val, depth+1)
			continue
		}
		if s, ok := ParseSeverity(key); ok {
			if s == SeverityNone {
				continue
			}
			b.walk(val, s, depth+1)
			continue
		}
		b.walk(val, sev, depth+1)
	}
}

// categorySeverity inspects a {name, severity} style object. The second
// result reports whether the mapping is a category object at all; the
// severity is empty when neither field resolves, in which case the
// category's own phrases inherit the enclosing severity or are dropped.
func categorySeverity(n *yaml.Node) (Severity, bool) {
	var name, level string
	isCategory := false
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := strings.ToLower(n.Content[i].Value)
		val := n.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			continue
		}
		switch key {
		case "severity", "level":
			level = val.Value
			isCategory = true
		case "name", "category", "id":
			name = val.Value
			isCategory = true
		}
	}
	if !isCategory {
		return "", false
	}
	if s, ok := ParseSeverity(level); ok {
		return s, true
	}
	if s, ok := ParseSeverity(name); ok {
		return s, true
	}
	return "", true
}

func (b *keywordBuilder) walkAllow(n *yaml.Node, depth int) {
	if n == nil || depth > maxKeywordDepth {
		return
	}
	switch n.Kind {
	case yaml.ScalarNode:
		if p := normalizePhrase(n.Value); p != "" {
			b.allow.add(p)
		}
	case yaml.SequenceNode:
		for _, item := range n.Content {
			b.walkAllow(item, depth+1)
		}
	}
}

func (b *keywordBuilder) build() *KeywordSet {
	explicit := b.lists[SeverityExplicit].items
	inExplicit := b.lists[SeverityExplicit].seen

	mild := make([]string, 0, len(b.lists[SeverityMild].items))
	for _, p := range b.lists[SeverityMild].items {
		if _, dup := inExplicit[p]; !dup {
			mild = append(mild, p)
		}
	}

	set := &KeywordSet{
		explicit: nonNil(explicit),
		mild:     mild,
		violent:  nonNil(b.lists[SeverityViolent].items),
		allow:    nonNil(b.allow.items),
	}
	h := sha256.New()
	for _, section := range [][]string{set.explicit, set.mild, set.violent, set.allow} {
		h.Write([]byte(strings.Join(section, "\n")))
		h.Write([]byte{0})
	}
	set.version = hex.EncodeToString(h.Sum(nil)[:8])
	return set
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
