// Package cost prices LLM token usage.
package cost

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/certstate-cli/internal/model"
)

// Rates maps a model name (or name prefix) to its pricing.
type Rates map[string]ModelRate

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input" json:"input"`
	Output        float64 `yaml:"output" mapstructure:"output" json:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul" json:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul" json:"cache_read_mul"`

	// CachedInInput is set for providers whose input count already includes
	// cache reads (OpenAI); those tokens are then billed only at the cache rate.
	CachedInInput bool `yaml:"cached_in_input" mapstructure:"cached_in_input" json:"cached_in_input"`
}

// Calculator computes costs for completion usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator. Entries in rates override or extend
// DefaultRates.
func NewCalculator(rates Rates) *Calculator {
	merged := DefaultRates()
	for k, v := range rates {
		merged[k] = v
	}
	return &Calculator{rates: merged}
}

// Rate returns the pricing for model, matching the exact name first and then
// the longest configured prefix (so dated snapshots share their family rate).
func (c *Calculator) Rate(model string) (ModelRate, bool) {
	if r, ok := c.rates[model]; ok {
		return r, true
	}
	best := ""
	for k := range c.rates {
		if strings.HasPrefix(model, k) && len(k) > len(best) {
			best = k
		}
	}
	if best == "" {
		return ModelRate{}, false
	}
	return c.rates[best], true
}

// Completion computes the cost of one or more completions. Unknown models
// cost 0.
func (c *Calculator) Completion(model string, u model.TokenUsage) float64 {
	rate, ok := c.Rate(model)
	if !ok {
		return 0
	}

	input := u.InputTokens
	if rate.CachedInInput {
		input = max(input-u.CacheReadTokens, 0)
	}

	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(u.OutputTokens) / 1e6) * rate.Output
	cwCost := (float64(u.CacheCreationTokens) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(u.CacheReadTokens) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// LogCost logs token usage and estimated cost with structured zap fields.
func (c *Calculator) LogCost(model, phase string, u model.TokenUsage) float64 {
	cost := c.Completion(model, u)
	zap.L().Info("cost attribution",
		zap.String("model", model),
		zap.String("phase", phase),
		zap.Int("input_tokens", u.InputTokens),
		zap.Int("output_tokens", u.OutputTokens),
		zap.Int("cache_write_tokens", u.CacheCreationTokens),
		zap.Int("cache_read_tokens", u.CacheReadTokens),
		zap.Float64("estimated_cost_usd", cost),
	)
	return cost
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		"claude-haiku-4-5": {Input: 1.00, Output: 5.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		"claude-sonnet-4":  {Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		"claude-opus-4":    {Input: 15.00, Output: 75.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		"gpt-4o-mini":      {Input: 0.15, Output: 0.60, CacheReadMul: 0.5, CachedInInput: true},
		"gpt-4o":           {Input: 2.50, Output: 10.00, CacheReadMul: 0.5, CachedInInput: true},
		"gpt-4":            {Input: 30.00, Output: 60.00},
		"gpt-3.5-turbo":    {Input: 0.50, Output: 1.50},
	}
}
