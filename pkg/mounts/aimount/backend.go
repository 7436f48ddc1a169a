package aimount

import (
	"context"

	"github.com/arborstore/arbor/pkg/domain"
)

// Backend is the aggregate root tracking the LLM endpoint a synthesizing
// mount calls: identity, configuration, availability and usage metrics.
type Backend struct {
	domain.AggregateRoot

	Name string              `json:"name"`
	Type domain.ProviderType `json:"type"`

	Config BackendConfig `json:"config"`

	Status    domain.ConnectionStatus `json:"status"`
	Available bool                    `json:"available"`

	Metrics BackendMetrics `json:"metrics"`

	CreatedAt domain.Timestamp `json:"created_at"`
	UpdatedAt domain.Timestamp `json:"updated_at"`
}

// NewBackend creates a Backend aggregate.
func NewBackend(name string, backendType domain.ProviderType, cfg BackendConfig) *Backend {
	b := &Backend{
		Name:      name,
		Type:      backendType,
		Config:    cfg,
		Status:    domain.StatusIdle,
		Available: true,
		CreatedAt: domain.Now(),
		UpdatedAt: domain.Now(),
	}
	b.SetID(domain.NewID())
	return b
}

// MarkAvailable sets the backend as usable.
func (b *Backend) MarkAvailable() {
	b.Available = true
	b.Status = domain.StatusConnected
	b.UpdatedAt = domain.Now()
}

// MarkUnavailable sets the backend as unusable.
func (b *Backend) MarkUnavailable(reason string) {
	b.Available = false
	b.Status = domain.StatusError
	b.Metrics.LastError = reason
	b.UpdatedAt = domain.Now()
}

// RecordRequest tracks a completed synthesis call.
func (b *Backend) RecordRequest(promptTokens, completionTokens int, durationMS int64) {
	b.Metrics.RequestCount++
	b.Metrics.PromptTokens += int64(promptTokens)
	b.Metrics.CompletionTokens += int64(completionTokens)
	b.Metrics.TotalDurationMS += durationMS
	b.Metrics.LastRequestAt = domain.Now()
	b.UpdatedAt = domain.Now()
}

// RecordError tracks a failed call.
func (b *Backend) RecordError(err string) {
	b.Metrics.ErrorCount++
	b.Metrics.LastError = err
	b.Metrics.LastErrorAt = domain.Now()
	b.UpdatedAt = domain.Now()
}

// BackendConfig holds backend-specific configuration.
type BackendConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
}

// BackendMetrics tracks backend usage statistics.
type BackendMetrics struct {
	RequestCount     int64            `json:"request_count"`
	ErrorCount       int64            `json:"error_count"`
	PromptTokens     int64            `json:"prompt_tokens"`
	CompletionTokens int64            `json:"completion_tokens"`
	TotalDurationMS  int64            `json:"total_duration_ms"`
	LastRequestAt    domain.Timestamp `json:"last_request_at"`
	LastError        string           `json:"last_error,omitempty"`
	LastErrorAt      domain.Timestamp `json:"last_error_at"`
}

// Synthesizer is the inference contract the mount drives; one adapter per
// backend type.
type Synthesizer interface {
	// Synthesize produces a textual value for the object at path.
	Synthesize(ctx context.Context, path string) (string, error)
	// DefaultModel returns the model used when none is configured.
	DefaultModel() string
}
