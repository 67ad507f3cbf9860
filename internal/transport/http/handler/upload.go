package handler

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"certguide/internal/app"
	"certguide/internal/transport/http/middleware"
	"certguide/internal/transport/http/response"
)

const maxFilesPerUpload = 10

type UploadHandler struct {
	rag *app.RAGService
}

func NewUploadHandler(rag *app.RAGService) *UploadHandler {
	return &UploadHandler{rag: rag}
}

func (h *UploadHandler) UploadPDF(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file field")
		return
	}
	if status, code, msg := h.checkFile(file); status != 0 {
		response.Error(c, status, code, msg)
		return
	}
	h.ingest(c, []*multipart.FileHeader{file}, nil)
}

func (h *UploadHandler) UploadMultiplePDFs(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil || len(form.File["files"]) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing files field")
		return
	}
	files := form.File["files"]
	if len(files) > maxFilesPerUpload {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, fmt.Sprintf("at most %d files per request", maxFilesPerUpload))
		return
	}

	var accepted []*multipart.FileHeader
	var rejected []app.IngestError
	for _, f := range files {
		if _, _, msg := h.checkFile(f); msg != "" {
			rejected = append(rejected, app.IngestError{Source: f.Filename, Error: msg})
			continue
		}
		accepted = append(accepted, f)
	}
	h.ingest(c, accepted, rejected)
}

func (h *UploadHandler) checkFile(f *multipart.FileHeader) (int, int, string) {
	if !strings.EqualFold(filepath.Ext(f.Filename), ".pdf") {
		return http.StatusBadRequest, response.CodeBadRequest, "only PDF files are supported"
	}
	if f.Size > h.rag.MaxPDFBytes() {
		return http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge,
			fmt.Sprintf("file too large: %.1fMB (max: %.1fMB)", float64(f.Size)/(1<<20), float64(h.rag.MaxPDFBytes())/(1<<20))
	}
	return 0, 0, ""
}

// ingest stores the uploads in a temp dir, indexes them and reports per
// original filename. The temp dir is always removed.
func (h *UploadHandler) ingest(c *gin.Context, files []*multipart.FileHeader, rejected []app.IngestError) {
	userID, _ := middleware.UserID(c)

	dir, err := os.MkdirTemp("", "certguide-upload-*")
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "create temp dir failed")
		return
	}
	defer os.RemoveAll(dir)

	names := make(map[string]string, len(files))
	sources := make([]app.IngestSource, 0, len(files))
	uploadedAt := time.Now().UTC().Format(time.RFC3339)
	for i, f := range files {
		path := filepath.Join(dir, fmt.Sprintf("%03d.pdf", i))
		if err := c.SaveUploadedFile(f, path); err != nil {
			rejected = append(rejected, app.IngestError{Source: f.Filename, Error: "save upload failed"})
			continue
		}
		names[path] = f.Filename
		sources = append(sources, app.IngestSource{Path: path, Metadata: map[string]any{
			"original_filename": f.Filename,
			"source_path":       f.Filename,
			"uploaded_by":       userID,
			"upload_timestamp":  uploadedAt,
		}})
	}

	report, err := h.rag.IngestSources(c.Request.Context(), sources)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "ingest failed: "+err.Error())
		return
	}

	processed := make([]string, 0, len(report.ProcessedSources))
	for _, p := range report.ProcessedSources {
		processed = append(processed, names[p])
	}
	errs := append([]app.IngestError{}, rejected...)
	for _, e := range report.Errors {
		errs = append(errs, app.IngestError{Source: names[e.Source], Error: strings.ReplaceAll(e.Error, e.Source, names[e.Source])})
	}

	data := gin.H{
		"processed_files": processed,
		"errors":          errs,
		"chunks_added":    report.ChunksAdded,
		"superseded":      report.Superseded,
		"vector_store":    h.rag.Stats(),
	}
	if len(processed) == 0 {
		c.JSON(http.StatusUnprocessableEntity, response.APIResponse{
			Code:    response.CodeUnprocessable,
			Message: "no PDF could be processed",
			Data:    data,
		})
		return
	}
	response.OK(c, data)
}
