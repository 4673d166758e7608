// Package llm wraps the language-model providers behind the three operations
// the engine needs: structure detection, content extraction, and article-link
// identification. Responses are parsed into strict records and validated;
// a shape mismatch is an error, never a partial accept.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents one chat message.
type Message struct {
	Role    Role
	Content string
}

// Request is a completion request to a provider.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64

	// JSONSchema, when set, forces structured JSON output. The map uses
	// JSON-schema vocabulary: "type", "properties", "required".
	JSONSchema map[string]any

	// SchemaName labels the extraction tool for providers that need one.
	SchemaName string
}

// Usage tracks token consumption for one request.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the provider's reply.
type Response struct {
	Content  string
	Model    string
	Usage    Usage
	Duration time.Duration
}

// Provider is the transport-level seam. Implementations translate Request
// into one vendor API call.
type Provider interface {
	Execute(ctx context.Context, req Request) (*Response, error)
	Name() string
	Model() string
}

// ProviderConfig holds provider construction settings.
type ProviderConfig struct {
	APIKey     string
	Model      string
	MaxRetries int
}

// NewProvider constructs the named provider.
func NewProvider(name string, cfg ProviderConfig) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "openai":
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q (available: anthropic, openai)", name)
	}
}
