package aimount

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultModel = "claude-sonnet-4-5"

// AnthropicSynthesizer backs synthesis with the Anthropic Messages API.
type AnthropicSynthesizer struct {
	client anthropic.Client
	model  string
}

// NewAnthropicSynthesizer builds a synthesizer from a backend config.
func NewAnthropicSynthesizer(cfg BackendConfig) *AnthropicSynthesizer {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}
	model := cfg.Model
	if model == "" {
		model = anthropicDefaultModel
	}
	return &AnthropicSynthesizer{client: anthropic.NewClient(opts...), model: model}
}

// DefaultModel returns the model synthesis runs on.
func (s *AnthropicSynthesizer) DefaultModel() string { return s.model }

// Synthesize asks the model to produce a short value for the object path.
func (s *AnthropicSynthesizer) Synthesize(ctx context.Context, path string) (string, error) {
	msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: 256,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(synthesisPrompt(path))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("aimount: anthropic request: %w", err)
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("aimount: anthropic response carried no text")
}

func synthesisPrompt(path string) string {
	return "Produce a single short plain-text value describing the data object at the path " +
		path + ". Reply with the value only, no preamble."
}
