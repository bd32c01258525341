package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristic_Count(t *testing.T) {
	t.Parallel()

	h := NewHeuristic()
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"whitespace", " \n\t ", 0},
		{"short word", "EU", 1},
		{"four runes", "RoHS", 1},
		{"five runes", "RoHS2", 2},
		{"words and punctuation", "RoHS, EU.", 4},
		{"cjk", "指令", 2},
		{"directive", "Directive 2011/65/EU", 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, h.Count(tt.text))
		})
	}
}

func TestHeuristic_Monotonic(t *testing.T) {
	h := NewHeuristic()
	samples := []string{"", "a", "ab", "RoHS", " ", "2011/65", "指令", "hazardous substances", "\n\n# H", "é"}
	for _, a := range samples {
		for _, b := range samples {
			assert.LessOrEqual(t, h.Count(a), h.Count(a+b), "a=%q b=%q", a, b)
		}
	}
}

func TestHeuristic_Truncate(t *testing.T) {
	h := NewHeuristic()
	text := "Restriction of Hazardous Substances (RoHS) Directive 2011/65/EU"
	total := h.Count(text)

	assert.Equal(t, text, h.Truncate(text, total))
	assert.Equal(t, "", h.Truncate(text, 0))

	for limit := 1; limit < total; limit++ {
		out := h.Truncate(text, limit)
		require.True(t, strings.HasPrefix(text, out))
		assert.LessOrEqual(t, h.Count(out), limit)
		// one more rune would break the limit
		rest := strings.TrimPrefix(text, out)
		if rest != "" {
			next := out + string([]rune(rest)[0])
			assert.Greater(t, h.Count(next), limit, "limit %d", limit)
		}
	}
}

func TestLookupLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  ModelLimit
	}{
		{"gpt-4o", ModelLimit{128000, 2000}},
		{"gpt-4o-mini", ModelLimit{128000, 2000}},
		{"gpt-4", ModelLimit{8192, 2000}},
		{"gpt-3.5-turbo-16k", ModelLimit{16384, 2000}},
		{"claude-sonnet-4-5-20250929", ModelLimit{200000, 4096}},
		{"mystery-model", ModelLimit{DefaultMaxTokens, DefaultResponseReserve}},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, LookupLimit(tt.model, nil))
		})
	}

	override := map[string]ModelLimit{"gpt-4": {MaxTokens: 32000, ResponseReserve: 1000}}
	assert.Equal(t, ModelLimit{32000, 1000}, LookupLimit("gpt-4", override))
	assert.Equal(t, ModelLimit{128000, 2000}, LookupLimit("gpt-4o", override))
}

func TestEstimator_AvailableTokens(t *testing.T) {
	e := NewEstimator("gpt-4")
	assert.Equal(t, 8192-2000, e.AvailableTokens("", ""))
	assert.Equal(t, 8192-2000-1-2, e.AvailableTokens("RoHS", "RoHS2"))

	huge := strings.Repeat("word ", 10000)
	assert.Equal(t, 0, e.AvailableTokens(huge, huge))
}

func TestEstimator_CountMessages(t *testing.T) {
	e := NewEstimator("gpt-4o")
	n := e.CountMessages([]Message{
		{Role: "system", Content: "JSON"},
		{Role: "user", Content: "RoHS"},
	})
	// 3 priming + 2*(3 framing) + system(2) + JSON(1) + user(1) + RoHS(1)
	assert.Equal(t, 14, n)
}

func TestEstimator_ChunkByParagraph(t *testing.T) {
	e := NewEstimator("gpt-4o")

	t.Run("groups paragraphs", func(t *testing.T) {
		text := "aaaa\n\nbbbb\n\ncccc"
		assert.Equal(t, []string{"aaaa\n\nbbbb", "cccc"}, e.ChunkByParagraph(text, 2))
	})

	t.Run("oversized paragraph stays whole", func(t *testing.T) {
		big := strings.Repeat("x", 40)
		chunks := e.ChunkByParagraph("aaaa\n\n"+big+"\n\nbbbb", 2)
		assert.Equal(t, []string{"aaaa", big, "bbbb"}, chunks)
	})

	t.Run("never splits inside a paragraph", func(t *testing.T) {
		text := "one two three\nfour five\n\nsix"
		for _, c := range e.ChunkByParagraph(text, 1) {
			assert.NotContains(t, c, "\n\n")
		}
	})
}

func TestEstimator_TruncateToTokenLimit(t *testing.T) {
	e := NewEstimator("gpt-4o")
	text := "Directive 2011/65/EU on hazardous substances"

	assert.Equal(t, text, e.TruncateToTokenLimit(text, 1000))
	out := e.TruncateToTokenLimit(text, 5)
	assert.LessOrEqual(t, e.CountTokens(out), 5)
	assert.True(t, strings.HasPrefix(text, out))
}

func TestNewCounter(t *testing.T) {
	c, err := NewCounter("")
	require.NoError(t, err)
	assert.IsType(t, Heuristic{}, c)

	_, err = NewCounter("p50k_edit")
	assert.Error(t, err)
}
