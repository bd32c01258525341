package llm

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/certstate-cli/internal/model"
	"github.com/sells-group/certstate-cli/internal/resilience"
	"github.com/sells-group/certstate-cli/pkg/anthropic"
)

// DefaultMaxTokens is sent when a request leaves MaxTokens unset; the
// Messages API requires one.
const DefaultMaxTokens = 4096

// AnthropicCompleter sends requests through the Anthropic Messages API.
type AnthropicCompleter struct {
	client   anthropic.Client
	cacheTTL string
}

// NewAnthropicCompleter wraps client. An empty cacheTTL uses the client default.
func NewAnthropicCompleter(client anthropic.Client, cacheTTL string) *AnthropicCompleter {
	return &AnthropicCompleter{client: client, cacheTTL: cacheTTL}
}

// Complete implements Completer.
func (c *AnthropicCompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	temp := req.Temperature

	mreq := anthropic.MessageRequest{
		Model:       req.Model,
		MaxTokens:   int64(maxTokens),
		Temperature: &temp,
	}
	if req.System != "" {
		if req.CacheSystem {
			mreq.System = anthropic.BuildCachedSystemBlocks(req.System, c.cacheTTL)
		} else {
			mreq.System = []anthropic.SystemBlock{{Text: req.System}}
		}
	}
	for _, m := range req.Messages {
		mreq.Messages = append(mreq.Messages, anthropic.Message{Role: m.Role, Content: m.Content})
	}

	resp, err := c.client.CreateMessage(ctx, mreq)
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			err = resilience.ClassifyStatus(err, apiErr.StatusCode)
		}
		return nil, eris.Wrap(err, "llm: anthropic complete")
	}

	return &Response{
		Text:         resp.Text(),
		FinishReason: resp.StopReason,
		Usage: model.TokenUsage{
			InputTokens:         int(resp.Usage.InputTokens),
			OutputTokens:        int(resp.Usage.OutputTokens),
			CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
			CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
		},
	}, nil
}
