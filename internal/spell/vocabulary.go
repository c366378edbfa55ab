package spell

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed data/vocabulary.yaml
var defaultVocabulary []byte

type vocabularyFile struct {
	Words map[string]uint64 `yaml:"words"`
	Text  []string          `yaml:"text"`
}

// Vocabulary is a seed for a Model: explicit counts plus sample text that is
// learned one occurrence per token.
type Vocabulary struct {
	Words map[string]uint64
	Text  []string
}

// ParseVocabulary decodes a YAML seed vocabulary.
func ParseVocabulary(data []byte) (Vocabulary, error) {
	var f vocabularyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Vocabulary{}, fmt.Errorf("parsing vocabulary: %w", err)
	}
	if f.Words == nil {
		f.Words = map[string]uint64{}
	}
	return Vocabulary{Words: f.Words, Text: f.Text}, nil
}

// LoadVocabulary reads the seed at path, or the embedded default when path
// is empty.
func LoadVocabulary(path string) (Vocabulary, error) {
	if path == "" {
		return ParseVocabulary(defaultVocabulary)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("reading vocabulary %s: %w", path, err)
	}
	return ParseVocabulary(data)
}

// Apply seeds c with the vocabulary.
func (v Vocabulary) Apply(c *Corrector) {
	c.Seed(v.Words)
	for _, text := range v.Text {
		c.LearnText(text)
	}
}
