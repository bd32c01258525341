// Package store persists ingestion runs, their page reports and the final
// record of each run.
package store

import (
	"context"
	"errors"

	"github.com/sells-group/certstate-cli/internal/certstate"
	"github.com/sells-group/certstate-cli/internal/model"
)

// ErrNotFound is returned (wrapped) when a run does not exist.
var ErrNotFound = errors.New("store: not found")

// Store defines the persistence interface for ingestion runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, scheme, llmModel string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, state *certstate.State, summary *model.RunSummary) error
	FailRun(ctx context.Context, runID string, summary *model.RunSummary, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)

	// Page reports
	SavePageReport(ctx context.Context, runID string, report model.PageReport) error
	ListPageReports(ctx context.Context, runID string) ([]model.PageReport, error)

	// LatestState returns the final record of the newest complete run for
	// scheme, or nil when there is none.
	LatestState(ctx context.Context, scheme string) (*certstate.State, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100
