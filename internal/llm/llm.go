// Package llm adapts chat-completion providers to a single Completer
// interface and turns their unstructured replies into JSON objects.
package llm

import (
	"context"

	"github.com/sells-group/certstate-cli/internal/model"
)

// Completer sends one conversation to a model and returns its reply.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Message is one conversational turn.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Request is a provider-neutral completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64

	// JSONMode asks the provider for a JSON object response when it
	// supports one.
	JSONMode bool

	// CacheSystem marks the system prompt as a prompt-cache breakpoint.
	CacheSystem bool
}

// Response is a provider-neutral completion.
type Response struct {
	Text         string
	FinishReason string
	Usage        model.TokenUsage
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (*Response, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
