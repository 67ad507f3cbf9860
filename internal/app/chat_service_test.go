package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certguide/internal/knowledge"
	"certguide/internal/model"
	"certguide/internal/retrieval"
)

type fakeRetriever struct {
	results []retrieval.Result
	context string
	topKs   []int
}

func (f *fakeRetriever) Retrieve(_ string, topK int) []retrieval.Result {
	f.topKs = append(f.topKs, topK)
	if len(f.results) > topK {
		return f.results[:topK]
	}
	return f.results
}

func (f *fakeRetriever) ContextForQuery(string, int) string { return f.context }

type fakeGenerator struct {
	gen          Generation
	err          error
	systemPrompt string
	userMessage  string
}

func (f *fakeGenerator) Generate(_ context.Context, systemPrompt, userMessage string) (Generation, error) {
	f.systemPrompt = systemPrompt
	f.userMessage = userMessage
	return f.gen, f.err
}

type fakePublisher struct {
	published []model.Message
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, msg model.Message) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

type fakeHistory struct {
	cached  map[string][]model.Message
	dirty   map[string]bool
	deletes int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{cached: map[string][]model.Message{}, dirty: map[string]bool{}}
}

func (f *fakeHistory) GetHistory(_ context.Context, id string) ([]model.Message, bool, error) {
	m, ok := f.cached[id]
	return m, ok, nil
}

func (f *fakeHistory) SetHistory(_ context.Context, id string, m []model.Message) error {
	f.cached[id] = m
	return nil
}

func (f *fakeHistory) DeleteHistory(_ context.Context, id string) error {
	f.deletes++
	delete(f.cached, id)
	return nil
}

func (f *fakeHistory) MarkDirty(_ context.Context, id string) error {
	f.dirty[id] = true
	return nil
}

func (f *fakeHistory) IsDirty(_ context.Context, id string) (bool, error) { return f.dirty[id], nil }

type fakeMessages struct {
	messages []model.Message
	calls    int
}

func (f *fakeMessages) ListBySessionID(string, uint, int) ([]model.Message, error) {
	f.calls++
	return f.messages, nil
}

func faqRetriever() *fakeRetriever {
	faq := knowledge.FAQ{ID: "faq_1", Question: "What is CTFL?", Answer: "CTFL is the ISTQB Foundation Level certificate."}
	results := []retrieval.Result{retrieval.NewFAQResult(faq, 0.7)}
	return &fakeRetriever{
		results: results,
		context: retrieval.Render(results, 1500),
	}
}

func TestSendMessage_UsesGenerator(t *testing.T) {
	rag := faqRetriever()
	gen := &fakeGenerator{gen: Generation{Text: "  Start with CTFL.  ", TokensUsed: 123}}
	pub := &fakePublisher{}
	svc := NewChatService(rag, gen, pub, nil, nil, ChatConfig{}, nil)

	reply, err := svc.SendMessage(context.Background(), SendMessageInput{UserID: 7, SessionID: "s-1", Content: "Which certification should I start with?"})

	require.NoError(t, err)
	assert.Equal(t, "Start with CTFL.", reply.Message)
	assert.Equal(t, SourceGenerator, reply.Source)
	assert.Equal(t, IntentCertificationRecommendation, reply.Intent)
	require.NotNil(t, reply.TokensUsed)
	assert.Equal(t, 123, *reply.TokensUsed)
	assert.Equal(t, []string{"faq_1"}, reply.RetrievedContent)
	assert.True(t, reply.RAGContextUsed)
	assert.Equal(t, "s-1", reply.SessionID)
	assert.NotEmpty(t, reply.Suggestions)

	assert.Contains(t, gen.systemPrompt, rag.context)
	assert.Contains(t, gen.systemPrompt, "User context: User ID: 7, Session: s-1")
	assert.Equal(t, "Which certification should I start with?", gen.userMessage)

	require.Len(t, pub.published, 2)
	assert.Equal(t, "user", pub.published[0].Role)
	assert.Equal(t, "assistant", pub.published[1].Role)
	assert.Equal(t, "Start with CTFL.", pub.published[1].Content)
}

func TestSendMessage_FallbackEmbedsTopResult(t *testing.T) {
	rag := faqRetriever()
	gen := &fakeGenerator{err: errors.New("connection refused")}
	svc := NewChatService(rag, gen, nil, nil, nil, ChatConfig{}, nil)

	reply, err := svc.SendMessage(context.Background(), SendMessageInput{UserID: 1, Content: "Tell me about the foundation level"})

	require.NoError(t, err)
	assert.Equal(t, SourceFallbackWithRAG, reply.Source)
	assert.Equal(t, IntentFoundationLevel, reply.Intent)
	assert.True(t, strings.HasSuffix(reply.Message, "**Related Information:**\nCTFL is the ISTQB Foundation Level certificate."))
	assert.Equal(t, []string{"faq_1"}, reply.RetrievedContent)
	assert.True(t, reply.RAGContextUsed)
	assert.Nil(t, reply.TokensUsed)
	assert.Equal(t, []int{2}, rag.topKs)
}

func TestSendMessage_FallbackDocumentationLabel(t *testing.T) {
	doc := knowledge.Doc{Key: "test_levels", Title: "Test Levels", Content: "Component, integration, system, acceptance."}
	results := []retrieval.Result{retrieval.NewDocumentationResult(doc, 0.4)}
	rag := &fakeRetriever{results: results, context: retrieval.Render(results, 1500)}
	svc := NewChatService(rag, nil, nil, nil, nil, ChatConfig{}, nil)

	reply, err := svc.SendMessage(context.Background(), SendMessageInput{UserID: 1, Content: "what are test levels"})

	require.NoError(t, err)
	assert.Contains(t, reply.Message, "**From ISTQB Documentation:**\nComponent, integration, system, acceptance.")
	assert.Equal(t, SourceFallbackWithRAG, reply.Source)
}

func TestSendMessage_FallbackWithoutContext(t *testing.T) {
	svc := NewChatService(&fakeRetriever{}, nil, nil, nil, nil, ChatConfig{}, nil)

	reply, err := svc.SendMessage(context.Background(), SendMessageInput{UserID: 1, Content: "hello there"})

	require.NoError(t, err)
	assert.Equal(t, SourceFallbackWithoutRAG, reply.Source)
	assert.Equal(t, IntentGreeting, reply.Intent)
	assert.Empty(t, reply.RetrievedContent)
	assert.NotNil(t, reply.RetrievedContent)
	assert.False(t, reply.RAGContextUsed)
	assert.Len(t, reply.SessionID, 36)
}

func TestSendMessage_EmptyGeneratorTextFallsBack(t *testing.T) {
	svc := NewChatService(&fakeRetriever{}, &fakeGenerator{gen: Generation{Text: "   "}}, nil, nil, nil, ChatConfig{}, nil)

	reply, err := svc.SendMessage(context.Background(), SendMessageInput{UserID: 1, Content: "career prospects?"})

	require.NoError(t, err)
	assert.Equal(t, SourceFallbackWithoutRAG, reply.Source)
	assert.Equal(t, IntentCareerAdvice, reply.Intent)
}

func TestSendMessage_Validation(t *testing.T) {
	svc := NewChatService(&fakeRetriever{}, nil, nil, nil, nil, ChatConfig{MaxMessageLength: 10}, nil)
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, SendMessageInput{UserID: 1, Content: "   "})
	assert.ErrorIs(t, err, ErrMessageEmpty)

	_, err = svc.SendMessage(ctx, SendMessageInput{UserID: 1, Content: strings.Repeat("é", 11)})
	assert.ErrorIs(t, err, ErrMessageTooLong)

	_, err = svc.SendMessage(ctx, SendMessageInput{UserID: 1, Content: strings.Repeat("é", 10)})
	assert.NoError(t, err)

	_, err = svc.SendMessage(ctx, SendMessageInput{Content: "hi"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSendMessage_PublishFailure(t *testing.T) {
	history := newFakeHistory()
	svc := NewChatService(&fakeRetriever{}, nil, &fakePublisher{err: errors.New("channel closed")}, history, nil, ChatConfig{}, nil)

	_, err := svc.SendMessage(context.Background(), SendMessageInput{UserID: 1, SessionID: "s", Content: "hi"})

	assert.ErrorIs(t, err, ErrMessageEnqueue)
	assert.True(t, history.dirty["s"])
}

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"Which certification should I take?", IntentCertificationRecommendation},
		{"Tell me about CTFL", IntentFoundationLevel},
		{"What comes after CTAL-TA?", IntentAdvancedLevel},
		{"Where can I find a course", IntentTrainingProviders},
		{"I have 3 years in QA", IntentExperienceAdvice},
		{"Is there an AI testing cert", IntentSpecialist},
		{"Is it worth it for my career", IntentCareerAdvice},
		{"Hi!", IntentGreeting},
		{"help", IntentHelp},
		{"this is chaos", IntentGeneral},
		{"paint the house", IntentGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectIntent(tt.message))
		})
	}
}

func TestSuggestionsFor_ReturnsCopy(t *testing.T) {
	s := SuggestionsFor(IntentGreeting)
	require.NotEmpty(t, s)
	s[0] = "changed"
	assert.NotEqual(t, "changed", SuggestionsFor(IntentGreeting)[0])
	assert.NotEmpty(t, SuggestionsFor("nonexistent"))
}

func TestSystemPrompt_NoContext(t *testing.T) {
	prompt := SystemPrompt("", "")
	assert.Contains(t, prompt, "No specific knowledge base entries matched this question.")
	assert.Contains(t, prompt, "User context: New conversation")
}

func TestGetHistory_CacheAndStore(t *testing.T) {
	history := newFakeHistory()
	store := &fakeMessages{messages: []model.Message{
		{SessionID: "s", UserID: 1, Role: "user", Content: "hi"},
		{SessionID: "s", UserID: 1, Role: "assistant", Content: "hello"},
	}}
	svc := NewChatService(&fakeRetriever{}, nil, nil, history, store, ChatConfig{}, nil)
	ctx := context.Background()

	got, err := svc.GetHistory(ctx, 1, "s", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, store.calls)

	got, err = svc.GetHistory(ctx, 1, "s", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Content)

	got, err = svc.GetHistory(ctx, 2, "s", 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	history.dirty["s"] = true
	_, err = svc.GetHistory(ctx, 1, "s", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)

	_, err = svc.GetHistory(ctx, 1, " ", 10)
	assert.ErrorIs(t, err, ErrSessionRequired)
}
