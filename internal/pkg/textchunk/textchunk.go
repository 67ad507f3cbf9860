// Package textchunk splits long text into bounded, overlapping chunks that
// prefer paragraph, sentence and word boundaries.
package textchunk

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// Chunk is an immutable slice of a source text. Start and End are rune
// offsets into the source (End exclusive) before whitespace trimming.
type Chunk struct {
	Index     int            `json:"chunk_index"`
	Text      string         `json:"text"`
	CharCount int            `json:"char_count"`
	Hash      string         `json:"chunk_hash"`
	Start     int            `json:"start_pos"`
	End       int            `json:"end_pos"`
	Page      int            `json:"page,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Options configures a Splitter. Zero values fall back to the defaults.
type Options struct {
	Size    int
	Overlap int
}

type Splitter struct {
	size    int
	overlap int
}

func New(opts Options) *Splitter {
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}
	overlap := opts.Overlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Splitter{size: size, overlap: overlap}
}

func (s *Splitter) Size() int { return s.size }
func (s *Splitter) Overlap() int { return s.overlap }

// Split scans text left to right. Each window ends at the last paragraph
// break past the window midpoint, else the last sentence end, else the last
// whitespace, else the hard size limit. The next window starts overlap runes
// before the previous end but always after the previous start.
func (s *Splitter) Split(text string, metadata map[string]any) []Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < n {
		end := start + s.size
		if end >= n {
			end = n
		} else {
			end = s.boundary(runes, start, end)
		}

		if c, ok := newChunk(runes, start, end, len(chunks), metadata); ok {
			chunks = append(chunks, c)
		}
		if end >= n {
			break
		}

		next := end - s.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func (s *Splitter) boundary(runes []rune, start, end int) int {
	mid := start + s.size/2
	if i := lastIndex(runes, start, end, []rune("\n\n")); i > mid {
		return i + 2
	}
	if i := lastIndex(runes, start, end, []rune(". ")); i > mid {
		return i + 2
	}
	for i := end - 1; i > mid; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return end
}

// SplitParagraphs packs blank-line separated paragraphs into chunks of at
// most Size runes. A paragraph that alone exceeds Size is wrapped with Split
// without overlap so no sentence is cut unless it is longer than a chunk.
func (s *Splitter) SplitParagraphs(text string, metadata map[string]any) []Chunk {
	var chunks []Chunk
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if c, ok := newChunk([]rune(current.String()), 0, currentLen, len(chunks), metadata); ok {
			chunks = append(chunks, c)
		}
		current.Reset()
		currentLen = 0
	}

	wrapper := &Splitter{size: s.size}
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		plen := utf8.RuneCountInString(para)

		if plen > s.size {
			flush()
			for _, piece := range wrapper.Split(para, nil) {
				if c, ok := newChunk([]rune(piece.Text), 0, piece.CharCount, len(chunks), metadata); ok {
					chunks = append(chunks, c)
				}
			}
			continue
		}

		sep := 0
		if currentLen > 0 {
			sep = 2
		}
		if currentLen+sep+plen > s.size {
			flush()
			sep = 0
		}
		if sep > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentLen += sep + plen
	}
	flush()
	return chunks
}

func newChunk(runes []rune, start, end, index int, metadata map[string]any) (Chunk, bool) {
	text := strings.TrimSpace(string(runes[start:end]))
	if text == "" {
		return Chunk{}, false
	}
	c := Chunk{
		Index:     index,
		Text:      text,
		CharCount: utf8.RuneCountInString(text),
		Hash:      Hash(text),
		Start:     start,
		End:       end,
	}
	if len(metadata) > 0 {
		c.Metadata = make(map[string]any, len(metadata))
		for k, v := range metadata {
			c.Metadata[k] = v
		}
	}
	return c, true
}

// Hash returns the hex md5 of text, used as chunk identity.
func Hash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// lastIndex finds the last occurrence of sep fully inside runes[start:end].
func lastIndex(runes []rune, start, end int, sep []rune) int {
	for i := end - len(sep); i >= start; i-- {
		match := true
		for j := range sep {
			if runes[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
