package pdfextract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ledongthuc/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certguide/internal/pkg/pdfextract/pdftest"
)

func writePDF(t *testing.T, name string, data []byte) string {
	t.Helper()
	return pdftest.Write(t, t.TempDir(), name, data)
}

func TestValidate_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Validate(filepath.Join(dir, "missing.pdf"), 0)
	assert.ErrorIs(t, err, ErrNotFound)

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hello"), 0o644))
	_, err = Validate(txt, 0)
	assert.ErrorIs(t, err, ErrNotPDF)

	big := writePDF(t, "big.pdf", pdftest.Build("one"))
	_, err = Validate(big, 10)
	assert.ErrorIs(t, err, ErrTooLarge)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, big, verr.Path)

	corrupt := writePDF(t, "corrupt.pdf", []byte("this is not a pdf at all"))
	_, err = Validate(corrupt, 0)
	assert.ErrorIs(t, err, ErrCorrupt)

	empty := writePDF(t, "empty.pdf", pdftest.Build())
	_, err = Validate(empty, 0)
	assert.ErrorIs(t, err, ErrNoPages)
}

func TestValidate_OK(t *testing.T) {
	path := writePDF(t, "syllabus.PDF", pdftest.Build("Page one", "Page two", "Page three"))

	info, err := Validate(path, 0)

	require.NoError(t, err)
	assert.Equal(t, 3, info.Pages)
	assert.Greater(t, info.Size, int64(0))
}

func TestReadBatch(t *testing.T) {
	path := writePDF(t, "s.pdf", pdftest.Build("Testing fundamentals", "Static testing", "Test management"))
	doc, err := Open(path)
	require.NoError(t, err)
	defer doc.Close()

	require.Equal(t, 2, doc.BatchCount(2))

	first := doc.ReadBatch(1, 2)
	assert.Equal(t, 1, first.StartPage)
	assert.Equal(t, 2, first.EndPage)
	assert.Empty(t, first.Errors)
	require.Len(t, first.Pages, 2)
	assert.Contains(t, first.Pages[0].Text, "Testing fundamentals")
	assert.Equal(t, 2, first.Pages[1].Number)

	last := doc.ReadBatch(2, 2)
	assert.Equal(t, 3, last.StartPage)
	assert.Equal(t, 3, last.EndPage)
	assert.InDelta(t, 100.0, last.Progress(), 1e-9)
	require.Len(t, last.Pages, 1)
	assert.Contains(t, last.Pages[0].Text, "Test management")
}

func TestOpen_PanicClosesFile(t *testing.T) {
	path := writePDF(t, "a.pdf", pdftest.Build("one"))
	var opened *os.File

	doc, err := open(path, func(f *os.File, _ *pdf.Reader) int {
		opened = f
		panic("malformed page tree")
	})

	assert.Nil(t, doc)
	assert.ErrorIs(t, err, ErrCorrupt)
	require.NotNil(t, opened)
	assert.ErrorIs(t, opened.Close(), os.ErrClosed)
}

func TestOpen_CountsPages(t *testing.T) {
	doc, err := Open(writePDF(t, "a.pdf", pdftest.Build("one", "two")))
	require.NoError(t, err)
	defer doc.Close()
	assert.Equal(t, 2, doc.NumPages())
}

func TestFileHash(t *testing.T) {
	a := writePDF(t, "a.pdf", []byte("same bytes"))
	b := writePDF(t, "b.pdf", []byte("same bytes"))
	c := writePDF(t, "c.pdf", []byte("other bytes"))

	ha, err := FileHash(a)
	require.NoError(t, err)
	hb, _ := FileHash(b)
	hc, _ := FileHash(c)

	assert.Len(t, ha, 32)
	assert.Equal(t, ha, hb)
	assert.NotEqual(t, ha, hc)

	_, err = FileHash(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"control chars", "a\x00b\x07c", "abc"},
		{"collapses spaces", "foo   \t bar", "foo bar"},
		{"joins lines", "line one\nline two", "line one line two"},
		{"keeps paragraphs", "para one\r\n\r\n\n  para two  ", "para one\n\npara two"},
		{"drops blank paragraphs", "\n\n \n\nonly\n\n", "only"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}
