package ai

import (
	"context"
	"fmt"
	"time"

	"certguide/internal/app"
)

// Generator adapts the chat client to app.Generator with fixed settings.
type Generator struct {
	client *OpenAICompatibleClient
	cfg    ChatConfig
}

func NewGenerator(client *OpenAICompatibleClient, cfg ChatConfig) *Generator {
	return &Generator{client: client, cfg: cfg}
}

func (g *Generator) Generate(ctx context.Context, systemPrompt, userMessage string) (app.Generation, error) {
	if !g.cfg.Configured() {
		return app.Generation{}, fmt.Errorf("%w: %w", app.ErrGeneratorUnavailable, ErrNotConfigured)
	}
	out, err := g.client.Complete(ctx, g.cfg, []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userMessage},
	})
	if err != nil {
		return app.Generation{}, fmt.Errorf("%w: %w", app.ErrGeneratorUnavailable, err)
	}
	return app.Generation{Text: out.Text, TokensUsed: out.TotalTokens}, nil
}

type Status struct {
	Available  bool   `json:"available"`
	Configured bool   `json:"configured"`
	Model      string `json:"model"`
	Error      string `json:"error,omitempty"`
}

// Status probes the endpoint with a short timeout.
func (g *Generator) Status(ctx context.Context) Status {
	st := Status{Configured: g.cfg.Configured(), Model: g.cfg.Model}
	if !st.Configured {
		st.Error = ErrNotConfigured.Error()
		return st
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := g.client.Ping(ctx, g.cfg); err != nil {
		st.Error = err.Error()
		return st
	}
	st.Available = true
	return st
}
