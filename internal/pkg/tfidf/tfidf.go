// Package tfidf implements a term frequency / inverse document frequency
// vectorizer over word unigrams and bigrams with sparse, L2-normalised rows.
package tfidf

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

const (
	DefaultMaxFeatures = 5000
	DefaultNGramMin    = 1
	DefaultNGramMax    = 2
)

var (
	ErrEmptyCorpus     = errors.New("empty corpus for tf-idf fit")
	ErrEmptyVocabulary = errors.New("empty vocabulary; documents may contain only stop words")
	ErrNotFitted       = errors.New("tf-idf vectorizer not fitted")
)

// Tokens are runs of two or more letters, digits or underscores.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Config controls the analyzer and the vocabulary cap.
type Config struct {
	MaxFeatures int
	NGramMin    int
	NGramMax    int
}

// DefaultConfig mirrors the settings used by every index in the service:
// unigrams and bigrams, English stop words removed, at most 5000 terms.
func DefaultConfig() Config {
	return Config{
		MaxFeatures: DefaultMaxFeatures,
		NGramMin:    DefaultNGramMin,
		NGramMax:    DefaultNGramMax,
	}
}

func (c Config) normalized() Config {
	if c.NGramMin <= 0 {
		c.NGramMin = DefaultNGramMin
	}
	if c.NGramMax < c.NGramMin {
		c.NGramMax = c.NGramMin
	}
	return c
}

// Vector is a sparse row with strictly increasing indices.
type Vector struct {
	Indices []int     `json:"i"`
	Values  []float64 `json:"v"`
}

// Len returns the number of non-zero entries.
func (v Vector) Len() int { return len(v.Indices) }

// Norm returns the Euclidean norm.
func (v Vector) Norm() float64 {
	sum := 0.0
	for _, x := range v.Values {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Dot computes the inner product of two sparse rows by merging their indices.
func (v Vector) Dot(o Vector) float64 {
	i, j := 0, 0
	sum := 0.0
	for i < len(v.Indices) && j < len(o.Indices) {
		switch {
		case v.Indices[i] == o.Indices[j]:
			sum += v.Values[i] * o.Values[j]
			i++
			j++
		case v.Indices[i] < o.Indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// Cosine returns the cosine similarity of a and b, or 0 when either is empty.
func Cosine(a, b Vector) float64 {
	na, nb := a.Norm(), b.Norm()
	if na == 0 || nb == 0 {
		return 0
	}
	s := a.Dot(b) / (na * nb)
	if s > 1 {
		s = 1
	}
	if s < 0 {
		s = 0
	}
	return s
}

// Vectorizer learns a vocabulary and idf weights from a corpus and maps
// text onto that fixed space. A fitted Vectorizer is never mutated again,
// so it can be shared by concurrent readers.
type Vectorizer struct {
	cfg        Config
	vocabulary map[string]int
	terms      []string
	idf        []float64
}

// New creates an unfitted vectorizer.
func New(cfg Config) *Vectorizer {
	return &Vectorizer{cfg: cfg.normalized()}
}

// Fit builds a new vectorizer from corpus. The receiver is not modified.
func Fit(cfg Config, corpus []string) (*Vectorizer, error) {
	v := New(cfg)
	if err := v.fit(corpus); err != nil {
		return nil, err
	}
	return v, nil
}

// FitTransform fits a vectorizer on corpus and returns it with the
// transformed rows, one per corpus entry and in the same order.
func FitTransform(cfg Config, corpus []string) (*Vectorizer, []Vector, error) {
	v, err := Fit(cfg, corpus)
	if err != nil {
		return nil, nil, err
	}
	rows := make([]Vector, len(corpus))
	for i, text := range corpus {
		rows[i] = v.Transform(text)
	}
	return v, rows, nil
}

func (v *Vectorizer) fit(corpus []string) error {
	if len(corpus) == 0 {
		return ErrEmptyCorpus
	}

	df := make(map[string]int)
	tf := make(map[string]int)
	for _, text := range corpus {
		seen := make(map[string]struct{})
		for _, term := range v.analyze(text) {
			tf[term]++
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			df[term]++
		}
	}
	if len(df) == 0 {
		return ErrEmptyVocabulary
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	if v.cfg.MaxFeatures > 0 && len(terms) > v.cfg.MaxFeatures {
		sort.Slice(terms, func(i, j int) bool {
			if tf[terms[i]] != tf[terms[j]] {
				return tf[terms[i]] > tf[terms[j]]
			}
			return terms[i] < terms[j]
		})
		terms = terms[:v.cfg.MaxFeatures]
	}
	sort.Strings(terms)

	n := float64(len(corpus))
	v.terms = terms
	v.vocabulary = make(map[string]int, len(terms))
	v.idf = make([]float64, len(terms))
	for i, term := range terms {
		v.vocabulary[term] = i
		v.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}
	return nil
}

// Fitted reports whether the vectorizer has a vocabulary.
func (v *Vectorizer) Fitted() bool { return v != nil && len(v.terms) > 0 }

// VocabularySize returns the number of terms, 0 when unfitted.
func (v *Vectorizer) VocabularySize() int {
	if v == nil {
		return 0
	}
	return len(v.terms)
}

// Transform maps text onto the fitted vocabulary. Terms never seen during
// fit are dropped. The result is L2-normalised; text with no known terms
// yields an empty vector.
func (v *Vectorizer) Transform(text string) Vector {
	if !v.Fitted() {
		return Vector{}
	}
	counts := make(map[int]int)
	for _, term := range v.analyze(text) {
		if idx, ok := v.vocabulary[term]; ok {
			counts[idx]++
		}
	}
	if len(counts) == 0 {
		return Vector{}
	}

	indices := make([]int, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	values := make([]float64, len(indices))
	norm := 0.0
	for i, idx := range indices {
		w := float64(counts[idx]) * v.idf[idx]
		values[i] = w
		norm += w * w
	}
	norm = math.Sqrt(norm)
	for i := range values {
		values[i] /= norm
	}
	return Vector{Indices: indices, Values: values}
}

// Analyze exposes the analyzer: lowercase, tokenize, drop stop words and
// emit the configured n-grams.
func (v *Vectorizer) Analyze(text string) []string { return v.analyze(text) }

func (v *Vectorizer) analyze(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := raw[:0]
	for _, tok := range raw {
		if _, stop := englishStopWords[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
	}

	var out []string
	for n := v.cfg.NGramMin; n <= v.cfg.NGramMax; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			if n == 1 {
				out = append(out, tokens[i])
				continue
			}
			out = append(out, strings.Join(tokens[i:i+n], " "))
		}
	}
	return out
}

// State is the serialisable form of a fitted vectorizer.
type State struct {
	MaxFeatures int       `json:"max_features"`
	NGramMin    int       `json:"ngram_min"`
	NGramMax    int       `json:"ngram_max"`
	Terms       []string  `json:"terms"`
	IDF         []float64 `json:"idf"`
}

// State returns a copy of the fitted parameters.
func (v *Vectorizer) State() State {
	s := State{
		MaxFeatures: v.cfg.MaxFeatures,
		NGramMin:    v.cfg.NGramMin,
		NGramMax:    v.cfg.NGramMax,
	}
	s.Terms = append([]string(nil), v.terms...)
	s.IDF = append([]float64(nil), v.idf...)
	return s
}

// FromState restores a vectorizer saved with State.
func FromState(s State) (*Vectorizer, error) {
	if len(s.Terms) != len(s.IDF) {
		return nil, fmt.Errorf("restore tf-idf state failed: %d terms but %d idf weights", len(s.Terms), len(s.IDF))
	}
	v := New(Config{MaxFeatures: s.MaxFeatures, NGramMin: s.NGramMin, NGramMax: s.NGramMax})
	v.terms = append([]string(nil), s.Terms...)
	v.idf = append([]float64(nil), s.IDF...)
	v.vocabulary = make(map[string]int, len(v.terms))
	for i, term := range v.terms {
		if i > 0 && v.terms[i-1] >= term {
			return nil, fmt.Errorf("restore tf-idf state failed: terms not sorted at %d", i)
		}
		v.vocabulary[term] = i
	}
	return v, nil
}
