package tokens

import "strings"

// ModelLimit is the context window and response reserve for a model.
type ModelLimit struct {
	MaxTokens       int `mapstructure:"max_tokens" json:"max_tokens"`
	ResponseReserve int `mapstructure:"response_reserve" json:"response_reserve"`
}

// Fallbacks for unknown model identifiers.
const (
	DefaultMaxTokens       = 8192
	DefaultResponseReserve = 2000
)

// builtinLimits is matched exactly first, then by longest key prefix.
var builtinLimits = map[string]ModelLimit{
	"gpt-4o":            {MaxTokens: 128000, ResponseReserve: DefaultResponseReserve},
	"gpt-4":             {MaxTokens: 8192, ResponseReserve: DefaultResponseReserve},
	"gpt-3.5-turbo":     {MaxTokens: 16384, ResponseReserve: DefaultResponseReserve},
	"gpt-3.5-turbo-16k": {MaxTokens: 16384, ResponseReserve: DefaultResponseReserve},
	"claude-opus-4":     {MaxTokens: 200000, ResponseReserve: 4096},
	"claude-sonnet-4":   {MaxTokens: 200000, ResponseReserve: 4096},
	"claude-haiku-4":    {MaxTokens: 200000, ResponseReserve: 4096},
	"claude-3-5":        {MaxTokens: 200000, ResponseReserve: 4096},
}

// LookupLimit resolves the limit for model, consulting overrides before the
// built-in table. Unknown models get the default limit.
func LookupLimit(model string, overrides map[string]ModelLimit) ModelLimit {
	if l, ok := matchLimit(model, overrides); ok {
		return l
	}
	if l, ok := matchLimit(model, builtinLimits); ok {
		return l
	}
	return ModelLimit{MaxTokens: DefaultMaxTokens, ResponseReserve: DefaultResponseReserve}
}

func matchLimit(model string, table map[string]ModelLimit) (ModelLimit, bool) {
	if l, ok := table[model]; ok {
		return l, true
	}
	best := ""
	for key := range table {
		if strings.HasPrefix(model, key) && len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return ModelLimit{}, false
	}
	return table[best], true
}
