// Package monitoring summarizes recent ingestion runs and raises webhook
// alerts when failure, skip or cost thresholds are crossed.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/certstate-cli/internal/model"
)

// maxRuns bounds one collection pass.
const maxRuns = 10000

// Snapshot holds a point-in-time view of ingestion health.
type Snapshot struct {
	// Runs within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`

	// Pages of finished runs.
	PagesTotal         int     `json:"pages_total"`
	PagesMerged        int     `json:"pages_merged"`
	PagesSkipped       int     `json:"pages_skipped"`
	ParseFailures      int     `json:"parse_failures"`
	ValidationFailures int     `json:"validation_failures"`
	PageSkipRate       float64 `json:"page_skip_rate"`

	CostUSD           float64  `json:"cost_usd"`
	AvgTokensPerRun   int      `json:"avg_tokens_per_run"`
	AvgTokensPerPage  int      `json:"avg_tokens_per_page"`
	SchemesWithErrors []string `json:"schemes_with_errors,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)
}

// Collector gathers run statistics from the store.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect summarizes the runs created in the last lookbackHours.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.runs.ListRuns(ctx, model.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        maxRuns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var totalTokens int
	failedSchemes := map[string]bool{}
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
			if !failedSchemes[r.Scheme] {
				failedSchemes[r.Scheme] = true
				snap.SchemesWithErrors = append(snap.SchemesWithErrors, r.Scheme)
			}
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		if s := r.Summary; s != nil {
			snap.PagesTotal += s.Pages
			snap.PagesMerged += s.Merged
			snap.PagesSkipped += s.Skipped
			snap.ParseFailures += s.ParseFailures
			snap.ValidationFailures += s.ValidationFailures
			snap.CostUSD += s.Usage.Cost
			totalTokens += s.Usage.InputTokens + s.Usage.OutputTokens
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.RunsTotal > 0 {
		snap.AvgTokensPerRun = totalTokens / snap.RunsTotal
	}
	if snap.PagesTotal > 0 {
		snap.PageSkipRate = float64(snap.PagesSkipped) / float64(snap.PagesTotal)
		snap.AvgTokensPerPage = totalTokens / snap.PagesTotal
	}
	return snap, nil
}
