package vectorindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"certguide/internal/pkg/tfidf"
)

const snapshotVersion = 1

var ErrSnapshot = errors.New("vector index snapshot failed")

// Snapshot is the persisted form of an Index: the document arena and the
// fitted vocabulary. Rows are re-derived on restore.
type Snapshot struct {
	Version    int          `json:"version"`
	SavedAt    time.Time    `json:"saved_at"`
	Documents  []Document   `json:"documents"`
	Vectorizer *tfidf.State `json:"vectorizer,omitempty"`
}

// SnapshotStore persists snapshots. Load returns (nil, nil) when nothing
// has been saved yet.
type SnapshotStore interface {
	Save(s *Snapshot) error
	Load() (*Snapshot, error)
}

func (x *Index) Snapshot() *Snapshot {
	x.mu.RLock()
	defer x.mu.RUnlock()

	s := &Snapshot{
		Version:   snapshotVersion,
		SavedAt:   x.now(),
		Documents: make([]Document, len(x.docs)),
	}
	for i, d := range x.docs {
		s.Documents[i] = d.clone()
	}
	if x.state != nil {
		st := x.state.vectorizer.State()
		s.Vectorizer = &st
	}
	return s
}

// Restore replaces the index content with s. The stored vocabulary is used
// as is when present; otherwise the index is re-fitted.
func (x *Index) Restore(s *Snapshot) error {
	if s == nil {
		return nil
	}
	if s.Version != snapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrSnapshot, s.Version)
	}

	docs := make([]Document, len(s.Documents))
	positions := make(map[string]int, len(s.Documents))
	for i, d := range s.Documents {
		d = d.clone()
		d.Position = i
		docs[i] = d
		if !d.Deleted {
			positions[d.ID] = i
		}
	}

	var state *fitted
	if s.Vectorizer != nil {
		vectorizer, err := tfidf.FromState(*s.Vectorizer)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSnapshot, err)
		}
		state = &fitted{vectorizer: vectorizer}
		for i, d := range docs {
			if d.Deleted {
				continue
			}
			state.matrix = append(state.matrix, vectorizer.Transform(d.Text))
			state.rows = append(state.rows, i)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.docs = docs
	x.positions = positions
	x.state = state
	if state == nil && len(positions) > 0 {
		if err := x.refit(); err != nil {
			return err
		}
	}
	x.logger.Info("vector index restored", "documents", len(docs), "active", len(positions))
	return nil
}

// FileSnapshotStore keeps a snapshot as a single JSON file.
type FileSnapshotStore struct {
	path string
}

func NewFileSnapshotStore(path string) *FileSnapshotStore {
	return &FileSnapshotStore{path: path}
}

func (f *FileSnapshotStore) Path() string { return f.path }

// Save writes to a temp file in the same directory and renames it over the
// target so a crash never leaves a truncated snapshot.
func (f *FileSnapshotStore) Save(s *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("%w: create dir: %w", ErrSnapshot, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp: %w", ErrSnapshot, err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(s); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: encode: %w", ErrSnapshot, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp: %w", ErrSnapshot, err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("%w: rename: %w", ErrSnapshot, err)
	}
	return nil
}

func (f *FileSnapshotStore) Load() (*Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read: %w", ErrSnapshot, err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrSnapshot, err)
	}
	return &s, nil
}
