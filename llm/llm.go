// Package llm wraps the hosted language model used for free-form replies.
package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/agnivade/voiceagent/config"
)

// Generator produces a single completion for a prompt. An empty string with
// a nil error means the model had nothing to say.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Gemini generates replies with the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// New returns a Gemini generator, or a Disabled one when no API key is set.
func New(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	if cfg.APIKey == "" {
		return Disabled{}, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create genai client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model}, nil
}

func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generate content with %s: %w", g.model, err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// Disabled is used when no model credentials are configured.
type Disabled struct{}

func (Disabled) Generate(context.Context, string) (string, error) {
	return "", nil
}
