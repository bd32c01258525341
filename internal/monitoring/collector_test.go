package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/certstate-cli/internal/model"
)

// fakeRuns implements RunLister for testing.
type fakeRuns struct {
	runs    []model.Run
	listErr error
	filter  model.RunFilter
}

func (f *fakeRuns) ListRuns(_ context.Context, filter model.RunFilter) ([]model.Run, error) {
	f.filter = filter
	if f.listErr != nil {
		return nil, f.listErr
	}
	var filtered []model.Run
	for _, r := range f.runs {
		if !filter.CreatedAfter.IsZero() && r.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

func summary(pages, merged, parse, validation, in, out int, cost float64) *model.RunSummary {
	return &model.RunSummary{
		Pages:              pages,
		Merged:             merged,
		Skipped:            parse + validation,
		ParseFailures:      parse,
		ValidationFailures: validation,
		Usage:              model.TokenUsage{InputTokens: in, OutputTokens: out, Cost: cost},
	}
}

func TestCollector_EmptyStore(t *testing.T) {
	c := NewCollector(&fakeRuns{})

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.RunsTotal)
	assert.Equal(t, 0.0, snap.RunFailRate)
	assert.Equal(t, 0.0, snap.PageSkipRate)
	assert.Equal(t, 0.0, snap.CostUSD)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_RunMetrics(t *testing.T) {
	now := time.Now().UTC()
	runs := &fakeRuns{
		runs: []model.Run{
			{ID: "1", Scheme: "rohs", Status: model.RunStatusComplete, CreatedAt: now.Add(-1 * time.Hour), Summary: summary(4, 3, 1, 0, 4000, 400, 0.75)},
			{ID: "2", Scheme: "ce", Status: model.RunStatusComplete, CreatedAt: now.Add(-2 * time.Hour), Summary: summary(2, 1, 0, 1, 2000, 200, 0.25)},
			{ID: "3", Scheme: "reach", Status: model.RunStatusFailed, CreatedAt: now.Add(-3 * time.Hour), Summary: summary(2, 0, 2, 0, 1000, 0, 0.10)},
			{ID: "4", Scheme: "reach", Status: model.RunStatusFailed, CreatedAt: now.Add(-4 * time.Hour)},
			{ID: "5", Scheme: "weee", Status: model.RunStatusRunning, CreatedAt: now.Add(-30 * time.Minute)},
			// Outside lookback window.
			{ID: "6", Scheme: "old", Status: model.RunStatusFailed, CreatedAt: now.Add(-48 * time.Hour)},
		},
	}

	c := NewCollector(runs)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 5, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsComplete)
	assert.Equal(t, 2, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.InDelta(t, 0.5, snap.RunFailRate, 0.001)

	assert.Equal(t, 8, snap.PagesTotal)
	assert.Equal(t, 4, snap.PagesMerged)
	assert.Equal(t, 4, snap.PagesSkipped)
	assert.Equal(t, 3, snap.ParseFailures)
	assert.Equal(t, 1, snap.ValidationFailures)
	assert.InDelta(t, 0.5, snap.PageSkipRate, 0.001)

	assert.InDelta(t, 1.10, snap.CostUSD, 0.001)
	assert.Equal(t, 1520, snap.AvgTokensPerRun) // 7600/5
	assert.Equal(t, 950, snap.AvgTokensPerPage) // 7600/8
	assert.Equal(t, []string{"reach"}, snap.SchemesWithErrors)

	assert.Equal(t, maxRuns, runs.filter.Limit)
	assert.WithinDuration(t, now.Add(-24*time.Hour), runs.filter.CreatedAfter, time.Minute)
}

func TestCollector_FailureRateZeroFinished(t *testing.T) {
	now := time.Now().UTC()
	c := NewCollector(&fakeRuns{
		runs: []model.Run{
			{ID: "1", Status: model.RunStatusRunning, CreatedAt: now.Add(-1 * time.Hour)},
			{ID: "2", Status: model.RunStatusRunning, CreatedAt: now.Add(-2 * time.Hour)},
		},
	})

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	// No finished runs, so failure rate should be 0.
	assert.Equal(t, 0.0, snap.RunFailRate)
	assert.Equal(t, 2, snap.RunsRunning)
}

func TestCollector_ListError(t *testing.T) {
	c := NewCollector(&fakeRuns{listErr: errors.New("db down")})

	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}
