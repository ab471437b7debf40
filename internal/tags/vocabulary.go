package tags

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

//go:embed yue_tags.json
var defaultVocabulary []byte

// Category names, in prompt order.
const (
	CategoryGenres      = "genres"
	CategoryInstruments = "instruments"
	CategoryMoods       = "moods"
	CategoryGender      = "gender"
	CategoryTimbre      = "timbre"
)

// Vocabulary is the fixed tag set the model chooses from. It is read once at
// startup and not modified afterwards.
type Vocabulary struct {
	Genres      []string `json:"genres"`
	Instruments []string `json:"instruments"`
	Moods       []string `json:"moods"`
	Gender      []string `json:"gender"`
	Timbre      []string `json:"timbre"`

	index map[string]string
}

type vocabularyDocument struct {
	Tags *Vocabulary `json:"yue_tags"`
}

// DefaultVocabulary returns the vocabulary compiled into the binary.
func DefaultVocabulary() (*Vocabulary, error) {
	return ParseVocabulary(defaultVocabulary)
}

// LoadVocabulary reads a vocabulary document from path, or the compiled-in
// default when path is empty.
func LoadVocabulary(path string) (*Vocabulary, error) {
	if path == "" {
		return DefaultVocabulary()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tags: read vocabulary: %w", err)
	}
	return ParseVocabulary(data)
}

func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var doc vocabularyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("tags: parse vocabulary: %w", err)
	}
	if doc.Tags == nil {
		return nil, fmt.Errorf("tags: vocabulary document has no yue_tags object")
	}
	v := doc.Tags
	v.index = make(map[string]string)
	for _, c := range v.categories() {
		if len(c.tags) == 0 {
			return nil, fmt.Errorf("tags: vocabulary category %q is empty", c.name)
		}
		for _, tag := range c.tags {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				return nil, fmt.Errorf("tags: vocabulary category %q has a blank tag", c.name)
			}
			if other, ok := v.index[tag]; ok && other != c.name {
				return nil, fmt.Errorf("tags: tag %q appears in both %q and %q", tag, other, c.name)
			}
			v.index[tag] = c.name
		}
	}
	return v, nil
}

type category struct {
	name string
	tags []string
}

func (v *Vocabulary) categories() []category {
	return []category{
		{CategoryGenres, v.Genres},
		{CategoryInstruments, v.Instruments},
		{CategoryMoods, v.Moods},
		{CategoryGender, v.Gender},
		{CategoryTimbre, v.Timbre},
	}
}

// CategoryOf returns the category holding tag. Matching is case-exact.
func (v *Vocabulary) CategoryOf(tag string) (string, bool) {
	name, ok := v.index[tag]
	return name, ok
}
