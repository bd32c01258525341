package tokens

import "strings"

// Per-message framing overhead for chat requests.
const (
	tokensPerMessage = 3
	replyPriming     = 3
)

// ParagraphSeparator splits paragraphs for ChunkByParagraph.
const ParagraphSeparator = "\n\n"

// Message is a chat message for CountMessages.
type Message struct {
	Role    string
	Content string
}

// Estimator answers budget questions for one target model.
type Estimator struct {
	model   string
	counter Counter
	limit   ModelLimit
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithCounter replaces the heuristic counter.
func WithCounter(c Counter) Option {
	return func(e *Estimator) { e.counter = c }
}

// WithLimits supplies per-model overrides of the built-in limit table.
func WithLimits(overrides map[string]ModelLimit) Option {
	return func(e *Estimator) { e.limit = LookupLimit(e.model, overrides) }
}

// NewEstimator returns an Estimator for model.
func NewEstimator(model string, opts ...Option) *Estimator {
	e := &Estimator{
		model:   model,
		counter: NewHeuristic(),
		limit:   LookupLimit(model, nil),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Model returns the target model identifier.
func (e *Estimator) Model() string { return e.model }

// MaxTokens returns the model's context window.
func (e *Estimator) MaxTokens() int { return e.limit.MaxTokens }

// ResponseReserve returns the tokens held back for the model's answer.
func (e *Estimator) ResponseReserve() int { return e.limit.ResponseReserve }

// Counter returns the underlying counter.
func (e *Estimator) Counter() Counter { return e.counter }

// CountTokens returns the token count of text.
func (e *Estimator) CountTokens(text string) int {
	return e.counter.Count(text)
}

// CountMessages counts a chat request: each message costs its role and
// content plus a fixed framing overhead, and the reply is primed once.
func (e *Estimator) CountMessages(msgs []Message) int {
	n := replyPriming
	for _, m := range msgs {
		n += tokensPerMessage + e.counter.Count(m.Role) + e.counter.Count(m.Content)
	}
	return n
}

// AvailableTokens returns how many tokens of content still fit beside the
// system prompt and existing content, floored at zero.
func (e *Estimator) AvailableTokens(systemPrompt, existing string) int {
	n := e.limit.MaxTokens - e.CountTokens(systemPrompt) - e.CountTokens(existing) - e.limit.ResponseReserve
	return max(n, 0)
}

// ChunkByParagraph groups paragraphs into chunks of at most chunkSize tokens.
// Paragraphs are never split; one larger than chunkSize becomes its own
// oversized chunk.
func (e *Estimator) ChunkByParagraph(text string, chunkSize int) []string {
	var chunks, current []string
	currentTokens := 0
	for _, para := range strings.Split(text, ParagraphSeparator) {
		n := e.CountTokens(para)
		if currentTokens+n > chunkSize && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, ParagraphSeparator))
			current, currentTokens = nil, 0
		}
		current = append(current, para)
		currentTokens += n
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, ParagraphSeparator))
	}
	return chunks
}

// TruncateToTokenLimit cuts text to maxTokens when it is over; otherwise
// text is returned unchanged.
func (e *Estimator) TruncateToTokenLimit(text string, maxTokens int) string {
	if e.CountTokens(text) <= maxTokens {
		return text
	}
	out := e.counter.Truncate(text, maxTokens)
	// BPE re-encoding of a decoded prefix can land a token over.
	for limit := maxTokens - 1; limit >= 0 && e.CountTokens(out) > maxTokens; limit-- {
		out = e.counter.Truncate(text, limit)
	}
	return out
}
