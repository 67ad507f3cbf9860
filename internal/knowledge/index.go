package knowledge

import (
	"errors"
	"log/slog"
	"sort"
	"strings"

	"certguide/internal/pkg/tfidf"
)

// RelevanceFloor is the score an entry must exceed to be returned.
const RelevanceFloor = 0.1

type Kind string

const (
	KindFAQ           Kind = "faq"
	KindDocumentation Kind = "documentation"
)

// Match is a scored entry; exactly one of FAQ and Doc is set, matching Kind.
type Match struct {
	Kind  Kind
	FAQ   *FAQ
	Doc   *Doc
	Score float64
}

// Index is fitted once over the FAQ and documentation blobs with a single
// shared vectorizer so both sub-matrices share IDF statistics. It is
// immutable after construction.
type Index struct {
	base       *Base
	vectorizer *tfidf.Vectorizer
	faqRows    []tfidf.Vector
	docRows    []tfidf.Vector
}

// NewIndex fits the index. An empty or stop-word-only base yields an index
// that retrieves nothing.
func NewIndex(base *Base, cfg tfidf.Config, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if base == nil {
		base = &Base{}
	}
	ix := &Index{base: base}

	blobs := make([]string, 0, len(base.FAQ)+len(base.Documentation))
	for _, f := range base.FAQ {
		blobs = append(blobs, faqBlob(f))
	}
	for _, d := range base.Documentation {
		blobs = append(blobs, docBlob(d))
	}
	if len(blobs) == 0 {
		logger.Warn("knowledge base is empty")
		return ix, nil
	}

	vectorizer, rows, err := tfidf.FitTransform(cfg, blobs)
	if errors.Is(err, tfidf.ErrEmptyVocabulary) {
		logger.Warn("knowledge base has no indexable terms")
		return ix, nil
	}
	if err != nil {
		return nil, err
	}

	faqCount := len(base.FAQ)
	ix.vectorizer = vectorizer
	ix.faqRows = rows[:faqCount]
	ix.docRows = rows[faqCount:]
	logger.Info("knowledge base index fitted", "faqs", faqCount, "documents", len(base.Documentation), "vocabulary", vectorizer.VocabularySize())
	return ix, nil
}

func faqBlob(f FAQ) string {
	return f.Question + " " + f.Answer + " " + strings.Join(f.Keywords, " ")
}

func docBlob(d Doc) string {
	return d.Title + " " + d.Content + " " + strings.Join(d.Keywords, " ")
}

func (ix *Index) Base() *Base { return ix.base }

func (ix *Index) Fitted() bool { return ix.vectorizer != nil }

// Retrieve scores every entry against query and returns those above
// RelevanceFloor, best first. Ties keep FAQ entries before documentation,
// each in file order. topK <= 0 returns every match.
func (ix *Index) Retrieve(query string, topK int) []Match {
	if ix.vectorizer == nil || strings.TrimSpace(query) == "" {
		return nil
	}
	q := ix.vectorizer.Transform(query)
	if q.Len() == 0 {
		return nil
	}

	var out []Match
	for i, row := range ix.faqRows {
		if score := tfidf.Cosine(q, row); score > RelevanceFloor {
			f := ix.base.FAQ[i]
			out = append(out, Match{Kind: KindFAQ, FAQ: &f, Score: score})
		}
	}
	for i, row := range ix.docRows {
		if score := tfidf.Cosine(q, row); score > RelevanceFloor {
			d := ix.base.Documentation[i]
			out = append(out, Match{Kind: KindDocumentation, Doc: &d, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
