package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"certguide/internal/app"
	"certguide/internal/retrieval"
	"certguide/internal/transport/http/response"
)

const maxSearchTopK = 20

type KnowledgeHandler struct {
	rag *app.RAGService
}

type SearchKnowledgeRequest struct {
	Query string `json:"query" binding:"required,max=1000"`
	TopK  int    `json:"top_k" binding:"omitempty,min=1"`
}

func NewKnowledgeHandler(rag *app.RAGService) *KnowledgeHandler {
	return &KnowledgeHandler{rag: rag}
}

func (h *KnowledgeHandler) RAGStatus(c *gin.Context) {
	base := h.rag.KnowledgeBase()
	response.OK(c, gin.H{
		"knowledge_base_loaded": len(base.FAQ)+len(base.Documentation) > 0,
		"faq_count":             len(base.FAQ),
		"documentation_count":   len(base.Documentation),
		"merge_strategy":        h.rag.MergeStrategy(),
		"vector_store":          h.rag.Stats(),
	})
}

func (h *KnowledgeHandler) SearchKnowledge(c *gin.Context) {
	var req SearchKnowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	topK := req.TopK
	if topK == 0 {
		topK = retrieval.DefaultTopK
	}
	if topK > maxSearchTopK {
		topK = maxSearchTopK
	}

	results := h.rag.Retrieve(req.Query, topK)
	response.OK(c, gin.H{
		"query":   req.Query,
		"results": results,
		"total":   len(results),
	})
}

func (h *KnowledgeHandler) KnowledgeStats(c *gin.Context) {
	base := h.rag.KnowledgeBase()
	response.OK(c, gin.H{
		"stats":      base.Stats(),
		"categories": base.Categories(),
	})
}

func (h *KnowledgeHandler) VectorStoreStats(c *gin.Context) {
	response.OK(c, h.rag.Stats())
}

func (h *KnowledgeHandler) ClearVectorStore(c *gin.Context) {
	if err := h.rag.Clear(); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "clear vector store failed")
		return
	}
	response.OK(c, gin.H{"cleared": true, "vector_store": h.rag.Stats()})
}

func (h *KnowledgeHandler) RebuildVectorStore(c *gin.Context) {
	if err := h.rag.Rebuild(); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "rebuild vector store failed: "+err.Error())
		return
	}
	response.OK(c, gin.H{"rebuilt": true, "vector_store": h.rag.Stats()})
}

func (h *KnowledgeHandler) DeleteDocument(c *gin.Context) {
	id := c.Param("id")
	err := h.rag.DeleteDocument(id)
	switch {
	case errors.Is(err, app.ErrDocumentNotFound):
		response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
		return
	case err != nil:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete document failed")
		return
	}
	response.OK(c, gin.H{"deleted_document_id": id})
}

func (h *KnowledgeHandler) SimilarDocuments(c *gin.Context) {
	topK := 5
	if raw := c.Query("top_k"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			topK = min(parsed, maxSearchTopK)
		}
	}

	hits, err := h.rag.Similar(c.Param("id"), topK)
	switch {
	case errors.Is(err, app.ErrDocumentNotFound):
		response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
		return
	case err != nil:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "similar documents failed")
		return
	}
	response.OK(c, gin.H{"document_id": c.Param("id"), "similar": hits})
}

func (h *KnowledgeHandler) PDFUploadLimits(c *gin.Context) {
	limit := h.rag.MaxPDFBytes()
	response.OK(c, gin.H{
		"max_file_size_bytes":   limit,
		"max_file_size_mb":      float64(limit) / (1 << 20),
		"max_files_per_request": maxFilesPerUpload,
		"pages_per_batch":       h.rag.PagesPerBatch(),
		"supported_formats":     []string{".pdf"},
		"recommendations": []string{
			"Text-based PDFs extract better than scanned images",
			"Large documents are processed in page batches",
			"Re-uploading identical content replaces the earlier chunks",
		},
	})
}
