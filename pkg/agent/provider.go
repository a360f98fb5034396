package agent

import (
	"context"
	"fmt"

	"github.com/harunnryd/k8sai/pkg/session"
	"github.com/harunnryd/k8sai/pkg/tools"
)

// Provider is a model backend capable of one conversation completion.
type Provider interface {
	// Provider returns the backend name, e.g. "openai" or "anthropic".
	Provider() string

	// Call sends the conversation and tool declarations to the model
	// and returns its next turn.
	Call(ctx context.Context, request Request) (*Response, error)
}

// Request is one model call: the full conversation so far plus the
// tool surface the model may use.
type Request struct {
	Model        string
	Turns        []session.Turn
	Tools        []tools.ModelSpec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Response is the model's next turn: text, tool call requests, or
// both.
type Response struct {
	Text      string
	ToolCalls []session.ToolCall
	Usage     *TokenUsage
}

// TokenUsage tracks token consumption for one call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// NewProvider creates a Provider by backend name.
func NewProvider(name, apiKey string) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required for provider %q", name)
	}
	switch name {
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (supported: openai, anthropic)", name)
	}
}
