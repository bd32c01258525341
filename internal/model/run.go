package model

import (
	"time"

	"github.com/sells-group/certstate-cli/internal/certstate"
)

// RunStatus represents the current state of an ingestion run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one ingestion of a page set into a scheme's record.
type Run struct {
	ID        string           `json:"id"`
	Scheme    string           `json:"scheme"`
	Model     string           `json:"model"`
	Status    RunStatus        `json:"status"`
	Summary   *RunSummary      `json:"summary,omitempty"`
	State     *certstate.State `json:"state,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// RunSummary aggregates the page reports of a finished run.
type RunSummary struct {
	Pages              int        `json:"pages"`
	Merged             int        `json:"merged"`
	Skipped            int        `json:"skipped"`
	ParseFailures      int        `json:"parse_failures"`
	ValidationFailures int        `json:"validation_failures"`
	Usage              TokenUsage `json:"usage"`
	DurationMs         int64      `json:"duration_ms"`
}

// Record folds one page report into the summary.
func (s *RunSummary) Record(r PageReport) {
	s.Pages++
	switch r.Outcome {
	case PageMerged:
		s.Merged++
	case PageSkipped:
		s.Skipped++
	}
	switch r.Failure {
	case FailureParse:
		s.ParseFailures++
	case FailureValidation:
		s.ValidationFailures++
	}
	s.Usage.Add(r.Usage)
}

// RunFilter narrows a run listing.
type RunFilter struct {
	Scheme       string
	Status       RunStatus
	CreatedAfter time.Time
	Limit        int
	Offset       int
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	CacheCreationTokens int     `json:"cache_creation_tokens"`
	CacheReadTokens     int     `json:"cache_read_tokens"`
	Cost                float64 `json:"cost"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CacheCreationTokens += other.CacheCreationTokens
	t.CacheReadTokens += other.CacheReadTokens
	t.Cost += other.Cost
}
