// Package vectorindex holds the document store for ingested text and the
// TF-IDF index fitted over its active documents.
package vectorindex

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"certguide/internal/pkg/tfidf"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrFitFailed        = errors.New("vectorizer fit failed")
)

// minSimilarScore keeps Similar from returning unrelated documents.
const minSimilarScore = 1e-9

// Document is one entry of the store. Deleted documents stay in the arena
// until Rebuild compacts it.
type Document struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	AddedAt   time.Time      `json:"added_at"`
	Position  int            `json:"index_position"`
	Deleted   bool           `json:"deleted"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
}

func (d Document) clone() Document {
	if d.Metadata != nil {
		meta := make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			meta[k] = v
		}
		d.Metadata = meta
	}
	if d.DeletedAt != nil {
		at := *d.DeletedAt
		d.DeletedAt = &at
	}
	return d
}

// NewDocument is the input to AddDocuments. ID is optional.
type NewDocument struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// Hit is a single search result.
type Hit struct {
	Document Document `json:"document"`
	Score    float64  `json:"similarity_score"`
	Rank     int      `json:"rank"`
}

// Stats summarises the store and the fitted model.
type Stats struct {
	TotalDocuments   int  `json:"total_documents"`
	ActiveDocuments  int  `json:"active_documents"`
	DeletedDocuments int  `json:"deleted_documents"`
	Fitted           bool `json:"is_fitted"`
	VocabularySize   int  `json:"vectorizer_vocabulary_size"`
}

// fitted is the derived search state. It is built whole and swapped in
// under the write lock; readers never see a partially built value.
type fitted struct {
	vectorizer *tfidf.Vectorizer
	matrix     []tfidf.Vector
	// rows[i] is the arena position of matrix row i.
	rows []int
}

type Options struct {
	Vectorizer tfidf.Config
	Logger     *slog.Logger
	Now        func() time.Time
}

// Index is safe for concurrent use. Searches share a read lock; every
// mutation re-fits the vectorizer under the write lock.
type Index struct {
	mu        sync.RWMutex
	docs      []Document
	positions map[string]int
	state     *fitted

	cfg    tfidf.Config
	logger *slog.Logger
	now    func() time.Time
}

func New(opts Options) *Index {
	cfg := opts.Vectorizer
	if cfg.MaxFeatures == 0 && cfg.NGramMin == 0 && cfg.NGramMax == 0 {
		cfg = tfidf.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Index{
		positions: make(map[string]int),
		cfg:       cfg,
		logger:    logger,
		now:       now,
	}
}

// AddDocuments appends every document with non-empty text and re-fits.
// The returned ids are valid even when the fit fails; in that case the
// index is left unfitted and the error wraps ErrFitFailed.
func (x *Index) AddDocuments(docs []NewDocument) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	ids := make([]string, 0, len(docs))
	for _, in := range docs {
		if strings.TrimSpace(in.Text) == "" {
			continue
		}
		now := x.now()
		id := in.ID
		if id == "" {
			id = fmt.Sprintf("doc_%d_%d", len(x.docs), now.UnixNano())
		}
		if pos, dup := x.positions[id]; dup {
			x.tombstone(pos, now)
		}
		var meta map[string]any
		if len(in.Metadata) > 0 {
			meta = make(map[string]any, len(in.Metadata))
			for k, v := range in.Metadata {
				meta[k] = v
			}
		}
		pos := len(x.docs)
		x.docs = append(x.docs, Document{
			ID:       id,
			Text:     in.Text,
			Metadata: meta,
			AddedAt:  now,
			Position: pos,
		})
		x.positions[id] = pos
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	err := x.refit()
	x.logger.Info("documents added to vector index", "count", len(ids), "total", len(x.docs), "fitted", x.state != nil)
	return ids, err
}

// DeleteDocument soft-deletes id and re-fits without it.
func (x *Index) DeleteDocument(id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	pos, ok := x.positions[id]
	if !ok {
		return ErrDocumentNotFound
	}
	x.tombstone(pos, x.now())
	x.logger.Info("document marked deleted", "id", id)
	return x.refit()
}

// DeleteWhere soft-deletes every active document matching fn with a single
// re-fit and returns the deleted ids.
func (x *Index) DeleteWhere(fn func(Document) bool) ([]string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	now := x.now()
	var ids []string
	for i := range x.docs {
		if x.docs[i].Deleted || !fn(x.docs[i]) {
			continue
		}
		ids = append(ids, x.docs[i].ID)
		x.tombstone(i, now)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, x.refit()
}

func (x *Index) tombstone(pos int, at time.Time) {
	d := &x.docs[pos]
	d.Deleted = true
	d.DeletedAt = &at
	delete(x.positions, d.ID)
}

// Rebuild drops tombstoned documents, renumbers positions from zero and re-fits.
func (x *Index) Rebuild() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	active := make([]Document, 0, len(x.docs))
	for _, d := range x.docs {
		if d.Deleted {
			continue
		}
		d.Position = len(active)
		active = append(active, d)
	}
	positions := make(map[string]int, len(active))
	for i, d := range active {
		positions[d.ID] = i
	}
	dropped := len(x.docs) - len(active)
	x.docs = active
	x.positions = positions

	x.logger.Info("vector index rebuilt", "active", len(active), "dropped", dropped)
	return x.refit()
}

// Clear resets the store and the fitted model.
func (x *Index) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.docs = nil
	x.positions = make(map[string]int)
	x.state = nil
	x.logger.Info("vector index cleared")
}

// refit must be called with the write lock held.
func (x *Index) refit() error {
	var texts []string
	var rows []int
	for i, d := range x.docs {
		if d.Deleted {
			continue
		}
		texts = append(texts, d.Text)
		rows = append(rows, i)
	}
	if len(texts) == 0 {
		x.state = nil
		return nil
	}

	vectorizer, matrix, err := tfidf.FitTransform(x.cfg, texts)
	if err != nil {
		x.state = nil
		x.logger.Error("fit vectorizer failed", "documents", len(texts), "error", err)
		return fmt.Errorf("%w: %w", ErrFitFailed, err)
	}
	x.state = &fitted{vectorizer: vectorizer, matrix: matrix, rows: rows}
	return nil
}

// Search returns active documents scoring at least threshold against query,
// best first, at most topK of them. An unfitted index, an empty store or an
// empty query all yield no results.
func (x *Index) Search(query string, topK int, threshold float64) []Hit {
	if strings.TrimSpace(query) == "" || topK <= 0 {
		return nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.searchLocked(query, topK, threshold, "")
}

func (x *Index) searchLocked(query string, topK int, threshold float64, exclude string) []Hit {
	state := x.state
	if state == nil || len(x.docs) == 0 {
		return nil
	}

	q := state.vectorizer.Transform(query)
	if q.Len() == 0 {
		return nil
	}

	var hits []Hit
	for i, row := range state.matrix {
		score := tfidf.Cosine(q, row)
		if score < threshold {
			continue
		}
		doc := x.docs[state.rows[i]]
		if doc.ID == exclude {
			continue
		}
		hits = append(hits, Hit{Document: doc.clone(), Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	for i := range hits {
		hits[i].Rank = i + 1
	}
	return hits
}

// Get returns an active document by id.
func (x *Index) Get(id string) (Document, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	pos, ok := x.positions[id]
	if !ok {
		return Document{}, false
	}
	return x.docs[pos].clone(), true
}

// Similar finds documents close to the text of id, excluding id itself.
func (x *Index) Similar(id string, topK int) ([]Hit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	pos, ok := x.positions[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	if topK <= 0 {
		return nil, nil
	}
	return x.searchLocked(x.docs[pos].Text, topK, minSimilarScore, id), nil
}

// Documents returns copies of all stored documents, tombstones included.
func (x *Index) Documents() []Document {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Document, len(x.docs))
	for i, d := range x.docs {
		out[i] = d.clone()
	}
	return out
}

func (x *Index) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()

	s := Stats{TotalDocuments: len(x.docs)}
	for _, d := range x.docs {
		if d.Deleted {
			s.DeletedDocuments++
		}
	}
	s.ActiveDocuments = s.TotalDocuments - s.DeletedDocuments
	if x.state != nil {
		s.Fitted = true
		s.VocabularySize = x.state.vectorizer.VocabularySize()
	}
	return s
}
