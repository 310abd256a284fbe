// Package category holds the allowed event category vocabulary.
package category

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var defaultYAML []byte

// Category is one allowed category id.
type Category struct {
	ID          string `yaml:"id"`
	Label       string `yaml:"label"`
	Description string `yaml:"description"`
}

// Vocabulary is the closed set of category ids events may carry, plus the
// fallback assigned when none survive validation.
type Vocabulary struct {
	items    []Category
	index    map[string]struct{}
	fallback string
}

type file struct {
	Categories struct {
		Fallback string     `yaml:"fallback"`
		Items    []Category `yaml:"items"`
	} `yaml:"categories"`
}

// Default returns the built-in vocabulary.
func Default() *Vocabulary {
	v, err := Parse(defaultYAML)
	if err != nil {
		panic(err)
	}
	return v
}

// Load reads a vocabulary file. An empty path yields Default.
func Load(path string) (*Vocabulary, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "category: read %s", path)
	}
	return Parse(data)
}

// Parse decodes a vocabulary document.
func Parse(data []byte) (*Vocabulary, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "category: parse vocabulary")
	}
	return New(f.Categories.Items, f.Categories.Fallback)
}

// New builds a vocabulary. The fallback must be one of items.
func New(items []Category, fallback string) (*Vocabulary, error) {
	v := &Vocabulary{index: make(map[string]struct{}, len(items)), fallback: fallback}
	for _, c := range items {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return nil, eris.New("category: empty id")
		}
		if _, dup := v.index[id]; dup {
			return nil, eris.Errorf("category: duplicate id %q", id)
		}
		c.ID = id
		v.index[id] = struct{}{}
		v.items = append(v.items, c)
	}
	if len(v.items) == 0 {
		return nil, eris.New("category: vocabulary is empty")
	}
	if _, ok := v.index[fallback]; !ok {
		return nil, eris.Errorf("category: fallback %q is not in the vocabulary", fallback)
	}
	return v, nil
}

// Allowed reports whether id is in the vocabulary.
func (v *Vocabulary) Allowed(id string) bool {
	_, ok := v.index[id]
	return ok
}

// Fallback is the category assigned when none of the proposed ones survive.
func (v *Vocabulary) Fallback() string { return v.fallback }

// IDs lists the allowed ids in file order.
func (v *Vocabulary) IDs() []string {
	out := make([]string, len(v.items))
	for i, c := range v.items {
		out[i] = c.ID
	}
	return out
}

// Describe renders the vocabulary for inclusion in a prompt.
func (v *Vocabulary) Describe() string {
	var sb strings.Builder
	for _, c := range v.items {
		sb.WriteString("- ")
		sb.WriteString(c.ID)
		if c.Label != "" {
			sb.WriteString(" (" + c.Label + ")")
		}
		if c.Description != "" {
			sb.WriteString(": " + c.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
