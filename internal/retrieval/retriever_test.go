package retrieval

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certguide/internal/knowledge"
	"certguide/internal/pkg/tfidf"
	"certguide/internal/vectorindex"
)

type fakeVectors struct {
	hits          []vectorindex.Hit
	lastThreshold float64
}

func (f *fakeVectors) Search(_ string, topK int, threshold float64) []vectorindex.Hit {
	f.lastThreshold = threshold
	if len(f.hits) > topK {
		return f.hits[:topK]
	}
	return f.hits
}

type fakeKnowledge []knowledge.Match

func (f fakeKnowledge) Retrieve(string, int) []knowledge.Match { return f }

func vecHit(id, text string, score float64, rank int) vectorindex.Hit {
	return vectorindex.Hit{
		Document: vectorindex.Document{ID: id, Text: text, Metadata: map[string]any{"source_file": "syllabus.pdf", "page": 4}},
		Score:    score,
		Rank:     rank,
	}
}

func faqMatch(id string, score float64) knowledge.Match {
	return knowledge.Match{Kind: knowledge.KindFAQ, FAQ: &knowledge.FAQ{ID: id, Question: "Q " + id, Answer: "A " + id}, Score: score}
}

func docMatch(key string, score float64) knowledge.Match {
	return knowledge.Match{Kind: knowledge.KindDocumentation, Doc: &knowledge.Doc{Key: key, Title: "T " + key, Content: "C " + key}, Score: score}
}

func TestRetrieve_MergesByScoreWithVectorFirstOnTies(t *testing.T) {
	vectors := &fakeVectors{hits: []vectorindex.Hit{vecHit("v1", "chunk", 0.5, 1)}}
	kb := fakeKnowledge{faqMatch("f1", 0.8), docMatch("d1", 0.5), faqMatch("f2", 0.2)}
	r := New(vectors, kb, Options{})

	results := r.Retrieve("query", 3)

	require.Len(t, results, 3)
	assert.Equal(t, []string{"f1", "v1", "d1"}, SourceIDs(results))
	assert.Equal(t, TypeFAQ, results[0].Type())
	assert.Equal(t, TypeVectorDocument, results[1].Type())
	assert.Equal(t, TypeDocumentation, results[2].Type())
	for i, res := range results {
		assert.Equal(t, i+1, res.Rank())
	}
	assert.Equal(t, DefaultVectorThreshold, vectors.lastThreshold)
}

func TestRetrieve_NeverExceedsTopK(t *testing.T) {
	kb := fakeKnowledge{faqMatch("a", 0.9), faqMatch("b", 0.7), docMatch("c", 0.6), docMatch("d", 0.4)}
	r := New(nil, kb, Options{})

	for _, k := range []int{1, 2, 3, 10} {
		results := r.Retrieve("q", k)
		assert.LessOrEqual(t, len(results), k)
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].Score(), results[i].Score())
		}
	}
	assert.Empty(t, r.Retrieve("q", 0))
	assert.Empty(t, r.Retrieve("  ", 3))
}

func TestRetrieve_RankStrategyInterleaves(t *testing.T) {
	vectors := &fakeVectors{hits: []vectorindex.Hit{vecHit("v1", "x", 0.35, 1), vecHit("v2", "y", 0.31, 2)}}
	kb := fakeKnowledge{faqMatch("f1", 0.9), faqMatch("f2", 0.8)}
	r := New(vectors, kb, Options{Strategy: StrategyRank})

	results := r.Retrieve("q", 4)

	assert.Equal(t, []string{"v1", "f1", "v2", "f2"}, SourceIDs(results))
	assert.Equal(t, 0.9, results[1].Score())
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyScore, s)

	s, err = ParseStrategy(" Rank ")
	require.NoError(t, err)
	assert.Equal(t, StrategyRank, s)

	_, err = ParseStrategy("average")
	assert.Error(t, err)
}

func TestContextFor_RendersBlocks(t *testing.T) {
	vectors := &fakeVectors{hits: []vectorindex.Hit{vecHit("v1", "Chunk text about testing.", 0.6, 1)}}
	kb := fakeKnowledge{faqMatch("f1", 0.9), docMatch("d1", 0.4)}
	r := New(vectors, kb, Options{})

	ctx := r.ContextFor("q", 1500)

	assert.Equal(t, ContextHeader+
		"\n\n**Q: Q f1**\nA: A f1"+
		"\n\n**syllabus.pdf (page 4)**\nChunk text about testing."+
		"\n\n**T d1**\nC d1", ctx)
}

func TestContextFor_EmptyWhenNothingRetrieved(t *testing.T) {
	r := New(&fakeVectors{}, fakeKnowledge{}, Options{})
	assert.Equal(t, "", r.ContextFor("q", 1500))
}

func TestRender_BlocksAreAllOrNothing(t *testing.T) {
	long := strings.Repeat("x", 200)
	results := []Result{
		NewFAQResult(knowledge.FAQ{Question: "short", Answer: "answer"}, 0.9),
		NewDocumentationResult(knowledge.Doc{Title: "long", Content: long}, 0.8),
		NewFAQResult(knowledge.FAQ{Question: "tiny", Answer: "a"}, 0.7),
	}
	maxLen := utf8.RuneCountInString(ContextHeader) + 60

	ctx := Render(results, maxLen)

	assert.LessOrEqual(t, utf8.RuneCountInString(ctx), maxLen)
	assert.Contains(t, ctx, "**Q: short**")
	assert.NotContains(t, ctx, "x")
	assert.NotContains(t, ctx, "tiny")
}

func TestRender_NoBlockFits(t *testing.T) {
	results := []Result{NewFAQResult(knowledge.FAQ{Question: "q", Answer: strings.Repeat("a", 100)}, 0.5)}
	assert.Equal(t, "", Render(results, 50))
}

func TestRender_CountsRunes(t *testing.T) {
	results := []Result{NewFAQResult(knowledge.FAQ{Question: "é", Answer: "ü"}, 0.5)}
	block := "\n\n" + Block(results[0])
	maxLen := utf8.RuneCountInString(ContextHeader) + utf8.RuneCountInString(block)

	assert.NotEmpty(t, Render(results, maxLen))
	assert.Empty(t, Render(results, maxLen-1))
}

func TestVectorDocumentTitle(t *testing.T) {
	doc := vectorindex.Document{ID: "doc_1"}
	assert.Equal(t, "Document doc_1", NewVectorDocumentResult(doc, 0).Title())

	doc.Metadata = map[string]any{"source_file": "a.pdf"}
	assert.Equal(t, "a.pdf", NewVectorDocumentResult(doc, 0).Title())

	doc.Metadata["page"] = float64(7)
	assert.Equal(t, "a.pdf (page 7)", NewVectorDocumentResult(doc, 0).Title())
}

func TestResultJSONCarriesType(t *testing.T) {
	results := []Result{
		NewFAQResult(knowledge.FAQ{ID: "f", Question: "q", Answer: "a"}, 0.5),
		NewDocumentationResult(knowledge.Doc{Key: "d", Title: "t", Content: "c"}, 0.4),
		NewVectorDocumentResult(vectorindex.Document{ID: "v", Text: "x"}, 0.3),
	}
	data, err := json.Marshal(results)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 3)
	assert.Equal(t, "faq", decoded[0]["type"])
	assert.Equal(t, "q", decoded[0]["question"])
	assert.Equal(t, "documentation", decoded[1]["type"])
	assert.Equal(t, "vector_document", decoded[2]["type"])
	assert.Equal(t, 0.3, decoded[2]["score"])
}

func TestRetrieve_EndToEndWithRealIndexes(t *testing.T) {
	vx := vectorindex.New(vectorindex.Options{})
	_, err := vx.AddDocuments([]vectorindex.NewDocument{
		{ID: "chunk-1", Text: "Boundary value analysis tests the edges of equivalence partitions"},
		{ID: "chunk-2", Text: "Test management covers planning monitoring and control"},
	})
	require.NoError(t, err)

	kb, err := knowledge.NewIndex(&knowledge.Base{
		FAQ: []knowledge.FAQ{{ID: "f1", Question: "What is boundary value analysis?", Answer: "A black-box technique.", Keywords: []string{"boundary"}}},
		Documentation: knowledge.Docs{
			{Key: "levels", Title: "Test Levels", Content: "Component and system testing."},
		},
	}, tfidf.DefaultConfig(), nil)
	require.NoError(t, err)

	r := New(vx, kb, Options{})
	results := r.Retrieve("boundary value analysis", 3)

	require.NotEmpty(t, results)
	ids := SourceIDs(results)
	assert.Contains(t, ids, "chunk-1")
	assert.Contains(t, ids, "f1")
	assert.NotContains(t, ids, "chunk-2")
	assert.Contains(t, r.ContextFor("boundary value analysis", 1500), ContextHeader)
}
