package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certguide/internal/app"
)

func newLLMServer(t *testing.T, status int) (*httptest.Server, *map[string]any) {
	t.Helper()
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
			w.WriteHeader(status)
		case "/v1/chat/completions":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
			if status != http.StatusOK {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error":"boom"}`))
				return
			}
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Take CTFL first."}}],"usage":{"total_tokens":321}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func TestGenerator_Generate(t *testing.T) {
	srv, captured := newLLMServer(t, http.StatusOK)
	g := NewGenerator(NewOpenAICompatibleClient(0), ChatConfig{BaseURL: srv.URL + "/v1/", APIKey: "key", Model: "gpt-test", Temperature: 0.7, MaxTokens: 600})

	out, err := g.Generate(context.Background(), "system prompt", "hello")

	require.NoError(t, err)
	assert.Equal(t, "Take CTFL first.", out.Text)
	assert.Equal(t, 321, out.TokensUsed)

	body := *captured
	assert.Equal(t, "gpt-test", body["model"])
	assert.InDelta(t, 0.7, body["temperature"], 1e-9)
	assert.EqualValues(t, 600, body["max_tokens"])
	messages := body["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "hello", messages[1].(map[string]any)["content"])
}

func TestGenerator_ErrorsWrapUnavailable(t *testing.T) {
	srv, _ := newLLMServer(t, http.StatusInternalServerError)

	_, err := NewGenerator(NewOpenAICompatibleClient(0), ChatConfig{BaseURL: srv.URL + "/v1", APIKey: "key", Model: "m"}).
		Generate(context.Background(), "s", "u")
	assert.ErrorIs(t, err, app.ErrGeneratorUnavailable)

	_, err = NewGenerator(NewOpenAICompatibleClient(0), ChatConfig{BaseURL: srv.URL + "/v1", Model: "m"}).
		Generate(context.Background(), "s", "u")
	assert.ErrorIs(t, err, app.ErrGeneratorUnavailable)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGenerator_Status(t *testing.T) {
	up, _ := newLLMServer(t, http.StatusOK)
	down, _ := newLLMServer(t, http.StatusUnauthorized)
	client := NewOpenAICompatibleClient(0)

	st := NewGenerator(client, ChatConfig{BaseURL: up.URL + "/v1", APIKey: "key", Model: "m"}).Status(context.Background())
	assert.True(t, st.Available)
	assert.Empty(t, st.Error)

	st = NewGenerator(client, ChatConfig{BaseURL: down.URL + "/v1", APIKey: "key", Model: "m"}).Status(context.Background())
	assert.False(t, st.Available)
	assert.True(t, st.Configured)
	assert.Contains(t, st.Error, "401")

	st = NewGenerator(client, ChatConfig{}).Status(context.Background())
	assert.False(t, st.Configured)
	assert.False(t, st.Available)
}
