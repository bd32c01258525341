package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatusValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status RunStatus
		want   string
	}{
		{RunStatusRunning, "running"},
		{RunStatusComplete, "complete"},
		{RunStatusFailed, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, string(tt.status))
		})
	}
}

func TestPageRecord_RawText(t *testing.T) {
	p := PageRecord{URL: "https://x", Markdown: "# RoHS", Summary: "Directive 2011/65/EU"}
	assert.Equal(t, "# RoHS\n\nDirective 2011/65/EU", p.RawText())
	assert.False(t, p.IsBlank())
	assert.True(t, PageRecord{URL: "https://x", Summary: "  \n"}.IsBlank())
}

func TestPageRecord_JSON(t *testing.T) {
	var pages []PageRecord
	require.NoError(t, json.Unmarshal([]byte(`[{"url":"u","markdown":"m"}]`), &pages))
	require.Len(t, pages, 1)
	assert.Equal(t, PageRecord{URL: "u", Markdown: "m"}, pages[0])
}

func TestRunSummary_Record(t *testing.T) {
	var s RunSummary
	s.Record(PageReport{Outcome: PageMerged, Usage: TokenUsage{InputTokens: 100, Cost: 0.01}})
	s.Record(PageReport{Outcome: PageSkipped, Failure: FailureParse, Usage: TokenUsage{InputTokens: 50}})
	s.Record(PageReport{Outcome: PageSkipped, Failure: FailureValidation})

	assert.Equal(t, 3, s.Pages)
	assert.Equal(t, 1, s.Merged)
	assert.Equal(t, 2, s.Skipped)
	assert.Equal(t, 1, s.ParseFailures)
	assert.Equal(t, 1, s.ValidationFailures)
	assert.Equal(t, 150, s.Usage.InputTokens)
	assert.InDelta(t, 0.01, s.Usage.Cost, 1e-9)
}

func TestTokenUsage_Add(t *testing.T) {
	u := TokenUsage{InputTokens: 1, OutputTokens: 2}
	u.Add(TokenUsage{InputTokens: 3, OutputTokens: 4, CacheReadTokens: 5, CacheCreationTokens: 6, Cost: 1.5})
	assert.Equal(t, TokenUsage{InputTokens: 4, OutputTokens: 6, CacheReadTokens: 5, CacheCreationTokens: 6, Cost: 1.5}, u)
}
