package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/certstate-cli/internal/model"
	"github.com/sells-group/certstate-cli/internal/monitoring"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			Scheme:    "eu-rohs",
			Model:     "claude-haiku-4-5",
			Status:    model.RunStatusComplete,
			Summary:   &model.RunSummary{Pages: 5, Merged: 4, Skipped: 1},
			CreatedAt: now,
			UpdatedAt: now.Add(2 * time.Minute),
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Scheme:    "uk-ca",
			Model:     "gpt-4o-mini",
			Status:    model.RunStatusRunning,
			CreatedAt: now.Add(-1 * time.Hour),
			UpdatedAt: now.Add(-30 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "SCHEME")
	assert.Contains(t, output, "MERGED/SKIPPED")
	assert.Contains(t, output, "eu-rohs")
	assert.Contains(t, output, "4/1")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "uk-ca")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "2m0s")
}

func TestFormatRunsList_NoSummary(t *testing.T) {
	var buf bytes.Buffer
	formatRunsList(&buf, []model.Run{{ID: "r1", Scheme: "s", Status: model.RunStatusFailed}})
	assert.Contains(t, buf.String(), "failed")
	assert.Contains(t, buf.String(), " - ")
}

func TestFormatRunStats(t *testing.T) {
	snap := &monitoring.Snapshot{
		LookbackHours:     24,
		RunsTotal:         10,
		RunsComplete:      8,
		RunsFailed:        2,
		RunFailRate:       0.2,
		PagesTotal:        40,
		PagesMerged:       30,
		PagesSkipped:      10,
		PageSkipRate:      0.25,
		ParseFailures:     6,
		CostUSD:           0.125,
		AvgTokensPerRun:   1200,
		SchemesWithErrors: []string{"eu-rohs"},
	}

	var buf bytes.Buffer
	formatRunStats(&buf, snap)

	output := buf.String()
	assert.Contains(t, output, "24h")
	assert.Contains(t, output, "2 (20.0%)")
	assert.Contains(t, output, "10 (25.0%)")
	assert.Contains(t, output, "$0.1250")
	assert.Contains(t, output, "1200")
	assert.Contains(t, output, "eu-rohs")
}

func TestFormatRunStats_Empty(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, &monitoring.Snapshot{LookbackHours: 1})
	assert.Contains(t, buf.String(), "Total runs:")
	assert.NotContains(t, buf.String(), "Avg tokens/run")
	assert.NotContains(t, buf.String(), "Schemes with errors")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "", truncateID(""))
}
