package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"certguide/internal/knowledge"
	"certguide/internal/pkg/pdfextract"
	"certguide/internal/pkg/textchunk"
	"certguide/internal/retrieval"
	"certguide/internal/vectorindex"
)

var (
	ErrNoTextExtracted  = errors.New("no text could be extracted from PDF")
	ErrDocumentNotFound = errors.New("document not found")
)

// RAGConfig holds ingestion and context limits.
type RAGConfig struct {
	ChunkSize        int
	ChunkOverlap     int
	PagesPerBatch    int
	MaxPDFBytes      int64
	MaxContextLength int
}

// RAGService owns the vector index, the knowledge base index and the
// snapshot store. Ingests are serialised; searches run concurrently.
type RAGService struct {
	index     *vectorindex.Index
	kb        *knowledge.Index
	retriever *retrieval.Retriever
	store     vectorindex.SnapshotStore
	splitter  *textchunk.Splitter
	cfg       RAGConfig
	logger    *slog.Logger
	now       func() time.Time

	writeMu sync.Mutex
}

func NewRAGService(
	index *vectorindex.Index,
	kb *knowledge.Index,
	retriever *retrieval.Retriever,
	store vectorindex.SnapshotStore,
	cfg RAGConfig,
	logger *slog.Logger,
) *RAGService {
	if cfg.PagesPerBatch <= 0 {
		cfg.PagesPerBatch = pdfextract.DefaultPagesPerBatch
	}
	if cfg.MaxPDFBytes <= 0 {
		cfg.MaxPDFBytes = pdfextract.DefaultMaxBytes
	}
	if cfg.MaxContextLength <= 0 {
		cfg.MaxContextLength = retrieval.DefaultMaxContextLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RAGService{
		index:     index,
		kb:        kb,
		retriever: retriever,
		store:     store,
		splitter:  textchunk.New(textchunk.Options{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// IngestSource is one file to ingest. Metadata is copied onto every chunk;
// a source_path entry there replaces the local path, for files that are
// staged in a temporary location.
type IngestSource struct {
	Path     string
	Metadata map[string]any
}

type IngestError struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

type IngestReport struct {
	ProcessedSources []string      `json:"processed_sources"`
	Errors           []IngestError `json:"errors"`
	ChunksAdded      int           `json:"chunks_added"`
	Superseded       int           `json:"superseded"`
}

// Ingest processes paths without extra metadata.
func (s *RAGService) Ingest(ctx context.Context, paths []string) (*IngestReport, error) {
	sources := make([]IngestSource, len(paths))
	for i, p := range paths {
		sources[i] = IngestSource{Path: p}
	}
	return s.IngestSources(ctx, sources)
}

// IngestSources extracts, chunks and indexes each source. Per-source
// failures are collected in the report; only a failed snapshot save or a
// cancelled context is returned as an error.
func (s *RAGService) IngestSources(ctx context.Context, sources []IngestSource) (*IngestReport, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	report := &IngestReport{ProcessedSources: []string{}, Errors: []IngestError{}}
	changed := false
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return report, s.saveIfChanged(changed, err)
		}
		added, superseded, err := s.ingestOne(ctx, src)
		if added > 0 || superseded > 0 {
			changed = true
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return report, s.saveIfChanged(changed, err)
			}
			s.logger.Warn("ingest source failed", "source", src.Path, "error", err)
			report.Errors = append(report.Errors, IngestError{Source: src.Path, Error: err.Error()})
			continue
		}
		report.ProcessedSources = append(report.ProcessedSources, src.Path)
		report.ChunksAdded += added
		report.Superseded += superseded
		s.logger.Info("ingested source", "source", src.Path, "chunks", added, "superseded", superseded)
	}

	return report, s.saveIfChanged(changed, nil)
}

// saveIfChanged persists the index when an ingest touched it, including
// ingests stopped by cancellation, and joins any save failure to cause.
func (s *RAGService) saveIfChanged(changed bool, cause error) error {
	if !changed {
		return cause
	}
	return errors.Join(cause, s.save())
}

func (s *RAGService) ingestOne(ctx context.Context, src IngestSource) (added, superseded int, err error) {
	info, err := pdfextract.Validate(src.Path, s.cfg.MaxPDFBytes)
	if err != nil {
		return 0, 0, err
	}
	hash, err := pdfextract.FileHash(src.Path)
	if err != nil {
		return 0, 0, err
	}
	doc, err := pdfextract.Open(src.Path)
	if err != nil {
		return 0, 0, err
	}
	defer doc.Close()

	base := s.sourceMetadata(src, info, hash)
	batches := make(chan pdfextract.Batch, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(batches)
		for n := 1; n <= doc.BatchCount(s.cfg.PagesPerBatch); n++ {
			b := doc.ReadBatch(n, s.cfg.PagesPerBatch)
			select {
			case batches <- b:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	chunkIndex := 0
	g.Go(func() error {
		for b := range batches {
			for _, perr := range b.Errors {
				s.logger.Warn("page extraction failed", "source", src.Path, "page", perr.Page, "error", perr.Err)
			}
			docs := s.chunkBatch(b, base, hash, &chunkIndex)
			if len(docs) == 0 {
				continue
			}
			if added == 0 {
				n, serr := s.supersede(hash)
				superseded = n
				if serr != nil && !errors.Is(serr, vectorindex.ErrFitFailed) {
					return serr
				}
			}
			ids, err := s.index.AddDocuments(docs)
			if err != nil {
				s.logger.Warn("index refit failed", "source", src.Path, "batch", b.Number, "error", err)
			}
			added += len(ids)
			s.logger.Debug("batch indexed", "source", src.Path, "batch", b.Number, "chunks", len(ids), "progress", b.Progress())
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return added, superseded, err
	}
	if added == 0 {
		return 0, superseded, ErrNoTextExtracted
	}
	return added, superseded, nil
}

// supersede retires chunks of an earlier ingest of the same file content.
func (s *RAGService) supersede(hash string) (int, error) {
	ids, err := s.index.DeleteWhere(func(d vectorindex.Document) bool {
		return d.Metadata["file_hash"] == hash
	})
	return len(ids), err
}

func (s *RAGService) sourceMetadata(src IngestSource, info pdfextract.Info, hash string) map[string]any {
	meta := make(map[string]any, len(src.Metadata)+7)
	for k, v := range src.Metadata {
		meta[k] = v
	}
	name := filepath.Base(src.Path)
	if orig, ok := src.Metadata["original_filename"].(string); ok && orig != "" {
		name = orig
	}
	meta["source_file"] = name
	if _, ok := src.Metadata["source_path"]; !ok {
		meta["source_path"] = src.Path
	}
	meta["file_size"] = info.Size
	meta["file_hash"] = hash
	meta["total_pages"] = info.Pages
	meta["processed_at"] = s.now().UTC().Format(time.RFC3339)
	meta["extraction_method"] = "batched"
	return meta
}

func (s *RAGService) chunkBatch(b pdfextract.Batch, base map[string]any, hash string, next *int) []vectorindex.NewDocument {
	var docs []vectorindex.NewDocument
	for _, page := range b.Pages {
		for _, c := range s.splitter.SplitParagraphs(page.Text, base) {
			c.Metadata["page"] = page.Number
			c.Metadata["chunk_index"] = *next
			c.Metadata["chunk_hash"] = c.Hash
			docs = append(docs, vectorindex.NewDocument{
				ID:       fmt.Sprintf("pdf_%s_%d", hash[:12], *next),
				Text:     c.Text,
				Metadata: c.Metadata,
			})
			*next++
		}
	}
	return docs
}

// Retrieve returns merged results from both indexes.
func (s *RAGService) Retrieve(query string, topK int) []retrieval.Result {
	return s.retriever.Retrieve(query, topK)
}

// ContextForQuery returns "" when nothing relevant was found.
func (s *RAGService) ContextForQuery(query string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = s.cfg.MaxContextLength
	}
	return s.retriever.ContextFor(query, maxLen)
}

func (s *RAGService) Stats() vectorindex.Stats { return s.index.Stats() }

func (s *RAGService) KnowledgeBase() *knowledge.Base { return s.kb.Base() }

func (s *RAGService) MaxPDFBytes() int64 { return s.cfg.MaxPDFBytes }

func (s *RAGService) PagesPerBatch() int { return s.cfg.PagesPerBatch }

func (s *RAGService) MergeStrategy() retrieval.Strategy { return s.retriever.Strategy() }

func (s *RAGService) Clear() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.index.Clear()
	return s.save()
}

// Rebuild compacts the index. The snapshot is saved even when the refit
// fails so tombstones are not resurrected on restart.
func (s *RAGService) Rebuild() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	fitErr := s.index.Rebuild()
	if err := s.save(); err != nil {
		return err
	}
	return fitErr
}

func (s *RAGService) DeleteDocument(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err := s.index.DeleteDocument(id)
	if errors.Is(err, vectorindex.ErrDocumentNotFound) {
		return ErrDocumentNotFound
	}
	if saveErr := s.save(); saveErr != nil {
		return saveErr
	}
	return err
}

func (s *RAGService) Similar(id string, topK int) ([]vectorindex.Hit, error) {
	hits, err := s.index.Similar(id, topK)
	if errors.Is(err, vectorindex.ErrDocumentNotFound) {
		return nil, ErrDocumentNotFound
	}
	return hits, err
}

// Load restores the last snapshot. A missing snapshot leaves the index empty.
func (s *RAGService) Load() error {
	if s.store == nil {
		return nil
	}
	snap, err := s.store.Load()
	if err != nil {
		return err
	}
	if snap == nil {
		s.logger.Info("no vector index snapshot found, starting empty")
		return nil
	}
	return s.index.Restore(snap)
}

func (s *RAGService) Save() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.save()
}

func (s *RAGService) save() error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Save(s.index.Snapshot()); err != nil {
		s.logger.Error("save vector index snapshot failed", "error", err)
		return err
	}
	return nil
}
