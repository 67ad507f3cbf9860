package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"certguide/internal/model"
	"certguide/internal/retrieval"
)

var (
	ErrMessageEmpty         = errors.New("message content is empty")
	ErrMessageTooLong       = errors.New("message content is too long")
	ErrMessageEnqueue       = errors.New("message enqueue failed")
	ErrGeneratorUnavailable = errors.New("generator unavailable")
	ErrSessionRequired      = errors.New("session id is required")
)

const (
	SourceGenerator          = "openai_with_rag"
	SourceFallbackWithRAG    = "rule_based_with_rag"
	SourceFallbackWithoutRAG = "rule_based_no_rag"
)

// Generation is the output of one generator call.
type Generation struct {
	Text       string
	TokensUsed int
}

// Generator produces an answer from a system prompt and the user message.
// Implementations wrap ErrGeneratorUnavailable when the backend cannot answer.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userMessage string) (Generation, error)
}

// ContextRetriever is the retrieval surface the chat flow needs.
type ContextRetriever interface {
	Retrieve(query string, topK int) []retrieval.Result
	ContextForQuery(query string, maxLen int) string
}

type AsyncMessagePublisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID string) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, sessionID string, messages []model.Message) error
	DeleteHistory(ctx context.Context, sessionID string) error
	MarkDirty(ctx context.Context, sessionID string) error
	IsDirty(ctx context.Context, sessionID string) (bool, error)
}

type MessageStore interface {
	ListBySessionID(sessionID string, userID uint, limit int) ([]model.Message, error)
}

type ChatConfig struct {
	MaxMessageLength int
	MaxContextLength int
	// RetrievedTopK is the number of retrieved ids reported with a generated answer.
	RetrievedTopK int
	// FallbackTopK bounds retrieval for the rule-based path.
	FallbackTopK int
}

type ChatService struct {
	rag          ContextRetriever
	generator    Generator
	publisher    AsyncMessagePublisher
	historyCache HistoryCache
	messages     MessageStore
	cfg          ChatConfig
	logger       *slog.Logger
	now          func() time.Time
}

// NewChatService accepts nil generator, publisher, cache and store; the
// corresponding features are skipped.
func NewChatService(
	rag ContextRetriever,
	generator Generator,
	publisher AsyncMessagePublisher,
	historyCache HistoryCache,
	messages MessageStore,
	cfg ChatConfig,
	logger *slog.Logger,
) *ChatService {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 1000
	}
	if cfg.MaxContextLength <= 0 {
		cfg.MaxContextLength = retrieval.DefaultMaxContextLength
	}
	if cfg.RetrievedTopK <= 0 {
		cfg.RetrievedTopK = retrieval.DefaultTopK
	}
	if cfg.FallbackTopK <= 0 {
		cfg.FallbackTopK = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		rag:          rag,
		generator:    generator,
		publisher:    publisher,
		historyCache: historyCache,
		messages:     messages,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

type SendMessageInput struct {
	UserID    uint
	SessionID string
	Content   string
}

type ChatReply struct {
	SessionID        string    `json:"session_id"`
	Message          string    `json:"message"`
	Intent           string    `json:"intent"`
	Suggestions      []string  `json:"suggestions"`
	Timestamp        time.Time `json:"timestamp"`
	Source           string    `json:"source"`
	TokensUsed       *int      `json:"tokens_used,omitempty"`
	RetrievedContent []string  `json:"retrieved_content"`
	RAGContextUsed   bool      `json:"rag_context_used"`
}

// SendMessage answers one user message. Generator failures are never
// returned; the reply falls back to the rule-based template.
func (s *ChatService) SendMessage(ctx context.Context, input SendMessageInput) (*ChatReply, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, ErrMessageEmpty
	}
	if utf8.RuneCountInString(content) > s.cfg.MaxMessageLength {
		return nil, ErrMessageTooLong
	}
	sessionID := strings.TrimSpace(input.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if err := s.record(ctx, model.Message{
		SessionID: sessionID,
		UserID:    input.UserID,
		Role:      "user",
		Content:   content,
		CreatedAt: s.now(),
	}); err != nil {
		return nil, err
	}

	ragContext := s.rag.ContextForQuery(content, s.cfg.MaxContextLength)
	reply, err := s.generate(ctx, content, ragContext, input.UserID, sessionID)
	if err != nil {
		s.logger.Warn("generator failed, using fallback", "session_id", sessionID, "error", err)
		reply = s.fallback(content, ragContext)
	}
	reply.SessionID = sessionID
	reply.Timestamp = s.now()

	if err := s.record(ctx, model.Message{
		SessionID: sessionID,
		UserID:    input.UserID,
		Role:      "assistant",
		Content:   reply.Message,
		CreatedAt: reply.Timestamp,
	}); err != nil {
		return nil, err
	}
	return reply, nil
}

func (s *ChatService) generate(ctx context.Context, content, ragContext string, userID uint, sessionID string) (*ChatReply, error) {
	if s.generator == nil {
		return nil, ErrGeneratorUnavailable
	}
	userContext := fmt.Sprintf("User ID: %d, Session: %s", userID, sessionID)
	gen, err := s.generator.Generate(ctx, SystemPrompt(ragContext, userContext), content)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(gen.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrGeneratorUnavailable)
	}

	intent := DetectIntent(content)
	tokens := gen.TokensUsed
	return &ChatReply{
		Message:          text,
		Intent:           intent,
		Suggestions:      SuggestionsFor(intent),
		Source:           SourceGenerator,
		TokensUsed:       &tokens,
		RetrievedContent: retrieval.SourceIDs(s.rag.Retrieve(content, s.cfg.RetrievedTopK)),
		RAGContextUsed:   ragContext != "",
	}, nil
}

// fallback builds the rule-based reply and appends the top retrieved
// entry's text when retrieval produced context.
func (s *ChatService) fallback(content, ragContext string) *ChatReply {
	rule := matchRule(content)
	reply := &ChatReply{
		Message:          rule.message,
		Intent:           rule.intent,
		Suggestions:      append([]string(nil), rule.suggestions...),
		Source:           SourceFallbackWithoutRAG,
		RetrievedContent: []string{},
	}
	if ragContext == "" {
		return reply
	}
	results := s.rag.Retrieve(content, s.cfg.FallbackTopK)
	if len(results) == 0 {
		return reply
	}

	top := results[0]
	label := "**From ISTQB Documentation:**"
	if top.Type() == retrieval.TypeFAQ {
		label = "**Related Information:**"
	}
	reply.Message += "\n\n" + label + "\n" + top.Content()
	reply.Source = SourceFallbackWithRAG
	reply.RetrievedContent = retrieval.SourceIDs(results)
	reply.RAGContextUsed = true
	return reply
}

// SystemPrompt embeds the retrieved context and the caller description.
func SystemPrompt(ragContext, userContext string) string {
	if ragContext == "" {
		ragContext = "No specific knowledge base entries matched this question."
	}
	if userContext == "" {
		userContext = "New conversation"
	}
	return "You are an expert ISTQB (International Software Testing Qualifications Board) certification guidance assistant. " +
		"You help software testers choose the right certification path, understand exam requirements, find training providers and advance their careers.\n\n" +
		"Relevant Knowledge Base Information:\n" + ragContext + "\n\n" +
		"Guidelines:\n" +
		"1. Use the relevant information above to provide accurate, helpful responses\n" +
		"2. Prioritize information from the knowledge base in your responses\n" +
		"3. If asked about non-ISTQB topics, politely redirect to ISTQB-related guidance\n" +
		"4. Provide specific recommendations based on the user's experience level\n" +
		"5. Include practical advice about study time, costs and career benefits\n" +
		"6. Cite specific information from the knowledge base when applicable\n\n" +
		"User context: " + userContext + "\n"
}

func (s *ChatService) record(ctx context.Context, msg model.Message) error {
	if s.publisher == nil {
		return nil
	}
	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, msg.SessionID)
		_ = s.historyCache.DeleteHistory(ctx, msg.SessionID)
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.logger.Error("publish chat message failed", "session_id", msg.SessionID, "role", msg.Role, "error", err)
		return ErrMessageEnqueue
	}
	return nil
}

// GetHistory serves from the cache unless a write marked the session dirty.
func (s *ChatService) GetHistory(ctx context.Context, userID uint, sessionID string, limit int) ([]model.Message, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrSessionRequired
	}
	if s.messages == nil {
		return []model.Message{}, nil
	}

	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, sessionID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, sessionID); cacheErr == nil && hit {
				return trimMessages(ownedBy(cached, userID), limit), nil
			}
		}
	}

	messages, err := s.messages.ListBySessionID(sessionID, userID, limit)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, sessionID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, sessionID, messages)
		}
	}
	return messages, nil
}

func ownedBy(messages []model.Message, userID uint) []model.Message {
	out := messages[:0:0]
	for _, m := range messages {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out
}

func trimMessages(messages []model.Message, limit int) []model.Message {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[len(messages)-limit:]
}
