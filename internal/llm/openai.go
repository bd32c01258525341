package llm

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"

	"github.com/sells-group/certstate-cli/internal/model"
	"github.com/sells-group/certstate-cli/internal/resilience"
)

// OpenAICompleter sends requests to an OpenAI-compatible chat completions
// endpoint.
type OpenAICompleter struct {
	client *openai.Client
}

// NewOpenAICompleter creates a completer for apiKey. A non-empty baseURL
// points it at a compatible gateway.
func NewOpenAICompleter(apiKey, baseURL string) *OpenAICompleter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAICompleter{client: openai.NewClientWithConfig(cfg)}
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	creq := openai.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}
	if req.System != "" {
		creq.Messages = append(creq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		creq.Messages = append(creq.Messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	if req.JSONMode {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, eris.Wrap(classifyOpenAI(err), "llm: openai complete")
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("llm: openai complete: no choices in response")
	}

	choice := resp.Choices[0]
	usage := model.TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if d := resp.Usage.PromptTokensDetails; d != nil {
		usage.CacheReadTokens = d.CachedTokens
	}
	return &Response{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage:        usage,
	}, nil
}

func classifyOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return resilience.ClassifyStatus(err, apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return resilience.ClassifyStatus(err, reqErr.HTTPStatusCode)
	}
	return err
}
