package textchunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_Empty(t *testing.T) {
	s := New(Options{})
	assert.Empty(t, s.Split("", nil))
	assert.Empty(t, s.Split("   \n\n  ", nil))
}

func TestSplit_ShortTextIsOneTrimmedChunk(t *testing.T) {
	s := New(Options{Size: 100, Overlap: 20})

	chunks := s.Split("  ISTQB Foundation Level covers fundamentals.  \n", nil)

	require.Len(t, chunks, 1)
	assert.Equal(t, "ISTQB Foundation Level covers fundamentals.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, Hash(chunks[0].Text), chunks[0].Hash)
	assert.Equal(t, utf8.RuneCountInString(chunks[0].Text), chunks[0].CharCount)
}

func TestSplit_PrefersParagraphBreakPastMidpoint(t *testing.T) {
	s := New(Options{Size: 40, Overlap: 5})
	text := strings.Repeat("a", 30) + "\n\n" + strings.Repeat("b", 30)

	chunks := s.Split(text, nil)

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, strings.Repeat("a", 30), chunks[0].Text)
	assert.Equal(t, 32, chunks[0].End)
}

func TestSplit_FallsBackToSentenceThenWord(t *testing.T) {
	s := New(Options{Size: 30, Overlap: 0})

	sentence := s.Split("Testers plan tests. Analysts design cases here", nil)
	require.NotEmpty(t, sentence)
	assert.Equal(t, "Testers plan tests.", sentence[0].Text)

	word := s.Split("alpha bravo charlie delta echo foxtrot golf", nil)
	require.NotEmpty(t, word)
	assert.Equal(t, "alpha bravo charlie delta", word[0].Text)
}

func TestSplit_HardCutWithoutBoundaries(t *testing.T) {
	s := New(Options{Size: 10, Overlap: 2})

	chunks := s.Split(strings.Repeat("x", 25), nil)

	for _, c := range chunks {
		assert.LessOrEqual(t, c.CharCount, 10)
	}
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 10, chunks[0].End)
	assert.Equal(t, 8, chunks[1].Start)
}

func TestSplit_CoversWholeTextWithoutGaps(t *testing.T) {
	text := strings.Repeat("Software testing finds defects early. ", 40) +
		"\n\n" + strings.Repeat("Risk based testing prioritises effort ", 30)
	s := New(Options{Size: 200, Overlap: 50})

	chunks := s.Split(text, map[string]any{"source_file": "syllabus.pdf"})
	require.Greater(t, len(chunks), 1)

	covered := 0
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.LessOrEqual(t, c.Start, covered, "gap before chunk %d", i)
		assert.Greater(t, c.End, c.Start)
		if c.End > covered {
			covered = c.End
		}
		assert.Equal(t, "syllabus.pdf", c.Metadata["source_file"])
	}
	assert.Equal(t, utf8.RuneCountInString(text), covered)
}

func TestSplit_MetadataIsCopiedPerChunk(t *testing.T) {
	meta := map[string]any{"k": "v"}
	chunks := New(Options{Size: 10}).Split("one two three four five six", meta)
	require.Greater(t, len(chunks), 1)

	chunks[0].Metadata["k"] = "changed"
	assert.Equal(t, "v", chunks[1].Metadata["k"])
	assert.Equal(t, "v", meta["k"])
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("Exploratory testing sessions. ", 100)
	s := New(Options{Size: 120, Overlap: 30})
	assert.Equal(t, s.Split(text, nil), s.Split(text, nil))
}

func TestNew_ClampsOverlap(t *testing.T) {
	s := New(Options{Size: 100, Overlap: 150})
	assert.Equal(t, 50, s.Overlap())
	assert.Equal(t, DefaultSize, New(Options{}).Size())
}

func TestSplitParagraphs_PacksParagraphs(t *testing.T) {
	s := New(Options{Size: 30})
	text := "First para here.\n\nSecond one.\n\nThird paragraph text."

	chunks := s.SplitParagraphs(text, nil)

	require.Len(t, chunks, 2)
	assert.Equal(t, "First para here.\n\nSecond one.", chunks[0].Text)
	assert.Equal(t, "Third paragraph text.", chunks[1].Text)
	assert.Equal(t, 1, chunks[1].Index)
}

func TestSplitParagraphs_WrapsOversizedParagraph(t *testing.T) {
	s := New(Options{Size: 40})
	long := strings.Repeat("Sentence number one. ", 6)

	chunks := s.SplitParagraphs("Intro.\n\n"+long+"\n\nOutro.", nil)

	require.Greater(t, len(chunks), 3)
	assert.Equal(t, "Intro.", chunks[0].Text)
	assert.Equal(t, "Outro.", chunks[len(chunks)-1].Text)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.LessOrEqual(t, c.CharCount, 40)
	}
}

func TestSplitParagraphs_Empty(t *testing.T) {
	assert.Empty(t, New(Options{}).SplitParagraphs("\n\n\n\n", nil))
}
