package model

import (
	"strings"

	"github.com/sells-group/certstate-cli/internal/certstate"
)

// PageRecord is one scraped page handed to the ingestion loop.
type PageRecord struct {
	URL      string `json:"url"`
	Markdown string `json:"markdown"`
	Summary  string `json:"summary"`
}

// RawText returns markdown and summary joined by a blank line; the text
// evidence is drawn from.
func (p PageRecord) RawText() string {
	return p.Markdown + "\n\n" + p.Summary
}

// IsBlank reports whether the page carries no text at all.
func (p PageRecord) IsBlank() bool {
	return strings.TrimSpace(p.Markdown) == "" && strings.TrimSpace(p.Summary) == ""
}

// EvidenceMode tells how the evidence block of a prompt was assembled.
type EvidenceMode string

const (
	// EvidenceSnippets means per-field keyword windows were found.
	EvidenceSnippets EvidenceMode = "snippets"
	// EvidenceSignal means no field matched and the filtered signal text was used.
	EvidenceSignal EvidenceMode = "signal"
)

// PromptDiagnostics describes one sparse prompt build.
type PromptDiagnostics struct {
	RawTokens    int          `json:"raw_tokens"`
	PromptTokens int          `json:"prompt_tokens"`
	BudgetTokens int          `json:"budget_tokens"`
	EmptyFields  []string     `json:"empty_fields"`
	EvidenceMode EvidenceMode `json:"evidence_mode"`
	Trimmed      bool         `json:"trimmed"`
}

// PageOutcome is the terminal state of a page.
type PageOutcome string

const (
	PageMerged  PageOutcome = "merged"
	PageSkipped PageOutcome = "skipped"
)

// FailureKind names the stage a skipped page failed at.
type FailureKind string

const (
	FailureParse      FailureKind = "parse"
	FailureValidation FailureKind = "validation"
)

// PageReport is the per-page diagnostic record of a run.
type PageReport struct {
	Index        int                      `json:"index"`
	URL          string                   `json:"url"`
	Outcome      PageOutcome              `json:"outcome"`
	Failure      FailureKind              `json:"failure,omitempty"`
	Error        string                   `json:"error,omitempty"`
	Trace        []string                 `json:"trace"`
	Attempts     int                      `json:"attempts"`
	FinishReason string                   `json:"finish_reason,omitempty"`
	Coercions    certstate.CoercionReport `json:"coercions,omitempty"`
	Diagnostics  PromptDiagnostics        `json:"diagnostics"`
	Usage        TokenUsage               `json:"usage"`
}
