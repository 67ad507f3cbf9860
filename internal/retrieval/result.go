// Package retrieval merges vector index hits with knowledge base matches and
// renders them into a bounded prompt context.
package retrieval

import (
	"encoding/json"
	"fmt"
	"time"

	"certguide/internal/knowledge"
	"certguide/internal/vectorindex"
)

type SourceType string

const (
	TypeFAQ            SourceType = "faq"
	TypeDocumentation  SourceType = "documentation"
	TypeVectorDocument SourceType = "vector_document"
)

// Result is one of *FAQResult, *DocumentationResult or *VectorDocumentResult.
type Result interface {
	Type() SourceType
	// Score is the cosine similarity in [0,1] from the result's own space.
	Score() float64
	Rank() int
	// SourceID identifies the originating entry or document.
	SourceID() string
	// Title and Content are the parts rendered into the prompt context.
	Title() string
	Content() string

	setRank(int)
}

type scored struct {
	score float64
	rank  int
}

func (s *scored) Score() float64 { return s.score }
func (s *scored) Rank() int { return s.rank }
func (s *scored) setRank(rank int) { s.rank = rank }

type FAQResult struct {
	scored
	Entry knowledge.FAQ
}

func NewFAQResult(entry knowledge.FAQ, score float64) *FAQResult {
	return &FAQResult{scored: scored{score: score}, Entry: entry}
}

func (r *FAQResult) Type() SourceType { return TypeFAQ }
func (r *FAQResult) SourceID() string {
	if r.Entry.ID != "" {
		return r.Entry.ID
	}
	return r.Entry.Question
}
func (r *FAQResult) Title() string { return r.Entry.Question }
func (r *FAQResult) Content() string { return r.Entry.Answer }

func (r *FAQResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type SourceType `json:"type"`
		knowledge.FAQ
		Score float64 `json:"score"`
		Rank  int     `json:"rank"`
	}{TypeFAQ, r.Entry, r.score, r.rank})
}

type DocumentationResult struct {
	scored
	Entry knowledge.Doc
}

func NewDocumentationResult(entry knowledge.Doc, score float64) *DocumentationResult {
	return &DocumentationResult{scored: scored{score: score}, Entry: entry}
}

func (r *DocumentationResult) Type() SourceType { return TypeDocumentation }
func (r *DocumentationResult) SourceID() string { return r.Entry.Key }
func (r *DocumentationResult) Title() string { return r.Entry.Title }
func (r *DocumentationResult) Content() string { return r.Entry.Content }

func (r *DocumentationResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     SourceType `json:"type"`
		Key      string     `json:"key"`
		Title    string     `json:"title"`
		Content  string     `json:"content"`
		Keywords []string   `json:"keywords,omitempty"`
		Score    float64    `json:"score"`
		Rank     int        `json:"rank"`
	}{TypeDocumentation, r.Entry.Key, r.Entry.Title, r.Entry.Content, r.Entry.Keywords, r.score, r.rank})
}

type VectorDocumentResult struct {
	scored
	Document vectorindex.Document
}

func NewVectorDocumentResult(doc vectorindex.Document, score float64) *VectorDocumentResult {
	return &VectorDocumentResult{scored: scored{score: score}, Document: doc}
}

func (r *VectorDocumentResult) Type() SourceType { return TypeVectorDocument }
func (r *VectorDocumentResult) SourceID() string { return r.Document.ID }
func (r *VectorDocumentResult) Content() string { return r.Document.Text }

// Title names the chunk by its source file and page when known.
func (r *VectorDocumentResult) Title() string {
	name, _ := r.Document.Metadata["source_file"].(string)
	if name == "" {
		return "Document " + r.Document.ID
	}
	switch page := r.Document.Metadata["page"].(type) {
	case int:
		return fmt.Sprintf("%s (page %d)", name, page)
	case float64:
		return fmt.Sprintf("%s (page %d)", name, int(page))
	}
	return name
}

func (r *VectorDocumentResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     SourceType     `json:"type"`
		ID       string         `json:"id"`
		Title    string         `json:"title"`
		Text     string         `json:"text"`
		Metadata map[string]any `json:"metadata,omitempty"`
		AddedAt  time.Time      `json:"added_at"`
		Score    float64        `json:"score"`
		Rank     int            `json:"rank"`
	}{TypeVectorDocument, r.Document.ID, r.Title(), r.Document.Text, r.Document.Metadata, r.Document.AddedAt, r.score, r.rank})
}

// Block renders a result the way it appears in the prompt context.
func Block(r Result) string {
	if r.Type() == TypeFAQ {
		return fmt.Sprintf("**Q: %s**\nA: %s", r.Title(), r.Content())
	}
	return fmt.Sprintf("**%s**\n%s", r.Title(), r.Content())
}
