// Package pdfextract validates PDF files and reads their text in bounded
// page batches.
package pdfextract

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	DefaultMaxBytes      int64 = 100 << 20
	DefaultPagesPerBatch       = 10
)

var (
	ErrNotFound = errors.New("file not found")
	ErrNotPDF   = errors.New("not a PDF file")
	ErrTooLarge = errors.New("file too large")
	ErrCorrupt  = errors.New("invalid PDF file")
	ErrNoPages  = errors.New("PDF has no pages")
)

// ValidationError rejects a whole source before extraction starts.
type ValidationError struct {
	Path string
	Err  error
	// Detail carries the underlying cause, e.g. the parser message.
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %v: %s", e.Path, e.Err, e.Detail)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ExtractionError reports a single page whose text could not be read.
type ExtractionError struct {
	Page int
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract page %d failed: %v", e.Page, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

type Info struct {
	Path  string `json:"path"`
	Size  int64  `json:"file_size"`
	Pages int    `json:"pages"`
}

// Validate checks existence, extension, size and structure. maxBytes <= 0
// uses DefaultMaxBytes.
func Validate(path string, maxBytes int64) (Info, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	info := Info{Path: path}

	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return info, &ValidationError{Path: path, Err: ErrNotFound}
	}
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return info, &ValidationError{Path: path, Err: ErrNotPDF}
	}
	info.Size = st.Size()
	if info.Size > maxBytes {
		return info, &ValidationError{
			Path:   path,
			Err:    ErrTooLarge,
			Detail: fmt.Sprintf("%.1fMB (max: %.1fMB)", float64(info.Size)/(1<<20), float64(maxBytes)/(1<<20)),
		}
	}

	doc, err := Open(path)
	if err != nil {
		return info, err
	}
	defer doc.Close()
	info.Pages = doc.NumPages()
	if info.Pages == 0 {
		return info, &ValidationError{Path: path, Err: ErrNoPages}
	}
	return info, nil
}

// FileHash returns the hex md5 of the file content.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hash failed: %w", err)
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file failed: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Document is an open PDF. Pages are read on demand.
type Document struct {
	path  string
	file  *os.File
	r     *pdf.Reader
	pages int
}

func Open(path string) (*Document, error) {
	return open(path, func(_ *os.File, r *pdf.Reader) int { return r.NumPage() })
}

// open recovers from parser panics and closes the file opened before one.
func open(path string, numPage func(*os.File, *pdf.Reader) int) (doc *Document, err error) {
	var f *os.File
	defer func() {
		if rec := recover(); rec != nil {
			if f != nil {
				f.Close()
			}
			doc = nil
			err = &ValidationError{Path: path, Err: ErrCorrupt, Detail: fmt.Sprint(rec)}
		}
	}()

	var r *pdf.Reader
	f, r, err = pdf.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ValidationError{Path: path, Err: ErrNotFound}
		}
		return nil, &ValidationError{Path: path, Err: ErrCorrupt, Detail: err.Error()}
	}
	return &Document{path: path, file: f, r: r, pages: numPage(f, r)}, nil
}

func (d *Document) NumPages() int { return d.pages }

func (d *Document) Close() error { return d.file.Close() }

type Page struct {
	Number int    `json:"page_number"`
	Text   string `json:"text"`
}

// Batch is one bounded group of pages. Pages holds only pages that produced
// text; failures are listed in Errors.
type Batch struct {
	Number     int
	StartPage  int
	EndPage    int
	TotalPages int
	Pages      []Page
	Errors     []*ExtractionError
}

// Progress is the share of the document read once this batch is done, 0..100.
func (b Batch) Progress() float64 {
	if b.TotalPages == 0 {
		return 100
	}
	return float64(b.EndPage) / float64(b.TotalPages) * 100
}

// BatchCount is the number of batches of size pages.
func (d *Document) BatchCount(size int) int {
	if size <= 0 {
		size = DefaultPagesPerBatch
	}
	return (d.pages + size - 1) / size
}

// ReadBatch extracts batch number n (1-based) of size pages. A failing page
// is recorded and skipped.
func (d *Document) ReadBatch(n, size int) Batch {
	if size <= 0 {
		size = DefaultPagesPerBatch
	}
	start := (n-1)*size + 1
	end := start + size - 1
	if end > d.pages {
		end = d.pages
	}
	b := Batch{Number: n, StartPage: start, EndPage: end, TotalPages: d.pages}
	for i := start; i <= end; i++ {
		text, err := d.pageText(i)
		if err != nil {
			b.Errors = append(b.Errors, &ExtractionError{Page: i, Err: err})
			continue
		}
		if text = Clean(text); text != "" {
			b.Pages = append(b.Pages, Page{Number: i, Text: text})
		}
	}
	return b
}

func (d *Document) pageText(i int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("parser panic: %v", rec)
		}
	}()
	p := d.r.Page(i)
	if p.V.IsNull() {
		return "", errors.New("missing page object")
	}
	return p.GetPlainText(nil)
}

var (
	controlChars   = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	horizontalRuns = regexp.MustCompile(`[ \t\p{Zs}]+`)
	paragraphBreak = regexp.MustCompile(`\n\s*\n`)
)

// Clean strips control characters and normalises whitespace. Blank-line
// paragraph breaks survive as "\n\n"; single line breaks become spaces.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = controlChars.ReplaceAllString(text, "")
	text = horizontalRuns.ReplaceAllString(text, " ")

	paras := paragraphBreak.Split(text, -1)
	out := paras[:0]
	for _, p := range paras {
		p = strings.Join(strings.Fields(strings.ReplaceAll(p, "\n", " ")), " ")
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
