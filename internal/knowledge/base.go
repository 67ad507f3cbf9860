// Package knowledge loads the curated FAQ and documentation collections and
// indexes them in their own TF-IDF space.
package knowledge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrUnsupportedFormat = errors.New("unsupported knowledge base format")

type FAQ struct {
	ID       string   `json:"id,omitempty" yaml:"id,omitempty"`
	Question string   `json:"question" yaml:"question"`
	Answer   string   `json:"answer" yaml:"answer"`
	Category string   `json:"category,omitempty" yaml:"category,omitempty"`
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// Doc is a documentation entry. Key is its name in the documentation mapping.
type Doc struct {
	Key      string   `json:"key" yaml:"-"`
	Title    string   `json:"title" yaml:"title"`
	Content  string   `json:"content" yaml:"content"`
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// Base is the read-only curated knowledge loaded at startup.
type Base struct {
	FAQ           []FAQ `json:"faq" yaml:"faq"`
	Documentation Docs  `json:"documentation" yaml:"documentation"`
}

// Docs keeps documentation entries in file order; index rows depend on it.
type Docs []Doc

func (d *Docs) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*d = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("documentation must be an object, got %v", tok)
	}

	var out Docs
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		var doc Doc
		if err := dec.Decode(&doc); err != nil {
			return fmt.Errorf("documentation %q: %w", keyTok, err)
		}
		doc.Key = keyTok.(string)
		out = append(out, doc)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*d = out
	return nil
}

func (d Docs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, doc := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(doc.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(struct {
			Title    string   `json:"title"`
			Content  string   `json:"content"`
			Keywords []string `json:"keywords,omitempty"`
		}{doc.Title, doc.Content, doc.Keywords})
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *Docs) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("documentation must be a mapping (line %d)", value.Line)
	}
	out := make(Docs, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var doc Doc
		if err := value.Content[i+1].Decode(&doc); err != nil {
			return fmt.Errorf("documentation %q: %w", value.Content[i].Value, err)
		}
		doc.Key = value.Content[i].Value
		out = append(out, doc)
	}
	*d = out
	return nil
}

// Load reads a knowledge base from a .json, .yaml or .yml file.
func Load(path string) (*Base, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base failed: %w", err)
	}

	var b Base
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &b)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &b)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("decode knowledge base failed: %w", err)
	}
	return &b, nil
}

type Stats struct {
	TotalFAQs      int            `json:"total_faqs"`
	TotalDocuments int            `json:"total_documents"`
	Categories     int            `json:"categories"`
	TotalEntries   int            `json:"total_entries"`
	ByCategory     map[string]int `json:"categories_breakdown"`
	TotalKeywords  int            `json:"total_keywords"`
}

func (b *Base) Stats() Stats {
	s := Stats{
		TotalFAQs:      len(b.FAQ),
		TotalDocuments: len(b.Documentation),
		TotalEntries:   len(b.FAQ) + len(b.Documentation),
		ByCategory:     make(map[string]int),
	}
	keywords := make(map[string]struct{})
	for _, f := range b.FAQ {
		s.ByCategory[f.Category]++
		for _, k := range f.Keywords {
			keywords[strings.ToLower(k)] = struct{}{}
		}
	}
	for _, d := range b.Documentation {
		for _, k := range d.Keywords {
			keywords[strings.ToLower(k)] = struct{}{}
		}
	}
	s.Categories = len(s.ByCategory)
	s.TotalKeywords = len(keywords)
	return s
}

// Categories lists the distinct FAQ categories in sorted order.
func (b *Base) Categories() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range b.FAQ {
		if _, ok := seen[f.Category]; ok || f.Category == "" {
			continue
		}
		seen[f.Category] = struct{}{}
		out = append(out, f.Category)
	}
	sort.Strings(out)
	return out
}

// SearchByCategory matches the FAQ category case-insensitively.
func (b *Base) SearchByCategory(category string) []FAQ {
	var out []FAQ
	for _, f := range b.FAQ {
		if strings.EqualFold(f.Category, category) {
			out = append(out, f)
		}
	}
	return out
}

// KeywordMatches holds the entries sharing at least one keyword with a query.
type KeywordMatches struct {
	FAQ           []FAQ `json:"faq"`
	Documentation []Doc `json:"documentation"`
}

func (b *Base) SearchByKeywords(keywords []string) KeywordMatches {
	want := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			want[kw] = struct{}{}
		}
	}
	hit := func(have []string) bool {
		for _, kw := range have {
			if _, ok := want[strings.ToLower(kw)]; ok {
				return true
			}
		}
		return false
	}

	var m KeywordMatches
	for _, f := range b.FAQ {
		if hit(f.Keywords) {
			m.FAQ = append(m.FAQ, f)
		}
	}
	for _, d := range b.Documentation {
		if hit(d.Keywords) {
			m.Documentation = append(m.Documentation, d)
		}
	}
	return m
}
