package aimount

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const openaiDefaultModel = "gpt-4o-mini"

// OpenAISynthesizer backs synthesis with the OpenAI chat completions API.
type OpenAISynthesizer struct {
	client openai.Client
	model  string
}

// NewOpenAISynthesizer builds a synthesizer from a backend config.
func NewOpenAISynthesizer(cfg BackendConfig) *OpenAISynthesizer {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}
	model := cfg.Model
	if model == "" {
		model = openaiDefaultModel
	}
	return &OpenAISynthesizer{client: openai.NewClient(opts...), model: model}
}

// DefaultModel returns the model synthesis runs on.
func (s *OpenAISynthesizer) DefaultModel() string { return s.model }

// Synthesize asks the model to produce a short value for the object path.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, path string) (string, error) {
	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(synthesisPrompt(path)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("aimount: openai request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("aimount: openai response carried no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
