package evidence

import (
	"github.com/sells-group/certstate-cli/internal/certstate"
	"github.com/sells-group/certstate-cli/internal/model"
)

// ReportRow is the offline token estimate for one page.
type ReportRow struct {
	Index        int                `json:"index"`
	URL          string             `json:"url"`
	RawTokens    int                `json:"raw_page_tokens"`
	PromptTokens int                `json:"prompt_tokens"`
	EmptyFields  int                `json:"empty_fields"`
	EvidenceMode model.EvidenceMode `json:"evidence_mode"`
	Trimmed      bool               `json:"trimmed"`
}

// Report summarizes prompt sizes for a page set without calling a model.
type Report struct {
	Model             string      `json:"model"`
	BudgetTokens      int         `json:"budget_tokens"`
	Pages             []ReportRow `json:"per_page"`
	TotalRawTokens    int         `json:"total_raw_page_tokens"`
	TotalPromptTokens int         `json:"total_prompt_tokens"`
	AvgRawTokens      float64     `json:"avg_raw_page_tokens"`
	AvgPromptTokens   float64     `json:"avg_prompt_tokens"`
}

// Report builds the prompt every page would get against state and tallies
// the token counts. Pages are measured independently; state is not advanced.
func (s *Selector) Report(rules string, state *certstate.State, pages []model.PageRecord, maxTotal, reserve int) (*Report, error) {
	r := &Report{Model: s.est.Model(), BudgetTokens: maxTotal - reserve, Pages: []ReportRow{}}
	for i, p := range pages {
		_, diag, err := s.BuildPrompt(rules, state, p.RawText(), maxTotal, reserve)
		if err != nil {
			return nil, err
		}
		r.Pages = append(r.Pages, ReportRow{
			Index:        i + 1,
			URL:          p.URL,
			RawTokens:    diag.RawTokens,
			PromptTokens: diag.PromptTokens,
			EmptyFields:  len(diag.EmptyFields),
			EvidenceMode: diag.EvidenceMode,
			Trimmed:      diag.Trimmed,
		})
		r.TotalRawTokens += diag.RawTokens
		r.TotalPromptTokens += diag.PromptTokens
	}
	n := float64(max(len(pages), 1))
	r.AvgRawTokens = float64(r.TotalRawTokens) / n
	r.AvgPromptTokens = float64(r.TotalPromptTokens) / n
	return r, nil
}
