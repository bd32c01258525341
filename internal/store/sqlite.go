package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/certstate-cli/internal/certstate"
	"github.com/sells-group/certstate-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	scheme     TEXT NOT NULL,
	model      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	summary    TEXT,
	state      TEXT,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS page_reports (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	idx        INTEGER NOT NULL,
	url        TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	failure    TEXT,
	report     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_scheme_updated ON runs(scheme, updated_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, scheme, llmModel string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, scheme, model, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, scheme, llmModel, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Scheme:    scheme,
		Model:     llmModel,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, state *certstate.State, summary *model.RunSummary) error {
	stateJSON, summaryJSON, err := marshalResult(state, summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: complete run")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, state = ?, summary = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), nullString(stateJSON), nullString(summaryJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, summary *model.RunSummary, errMsg string) error {
	_, summaryJSON, err := marshalResult(nil, summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: fail run")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), nullString(summaryJSON), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

const sqliteRunColumns = `id, scheme, model, status, summary, state, error, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get run %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Scheme != "" {
		query += ` AND scheme = ?`
		args = append(args, filter.Scheme)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SavePageReport(ctx context.Context, runID string, report model.PageReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal page report")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO page_reports (run_id, idx, url, outcome, failure, report, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, idx) DO UPDATE SET url = excluded.url, outcome = excluded.outcome,
		   failure = excluded.failure, report = excluded.report`,
		runID, report.Index, report.URL, string(report.Outcome), string(report.Failure), string(reportJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save page report %s/%d", runID, report.Index)
}

func (s *SQLiteStore) ListPageReports(ctx context.Context, runID string) ([]model.PageReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT report FROM page_reports WHERE run_id = ? ORDER BY idx`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list page reports")
	}
	defer rows.Close() //nolint:errcheck

	reports := []model.PageReport{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan page report")
		}
		var r model.PageReport
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal page report")
		}
		reports = append(reports, r)
	}
	return reports, eris.Wrap(rows.Err(), "sqlite: list page reports iterate")
}

func (s *SQLiteStore) LatestState(ctx context.Context, scheme string) (*certstate.State, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM runs
		 WHERE scheme = ? AND status = ? AND state IS NOT NULL
		 ORDER BY updated_at DESC LIMIT 1`,
		scheme, string(model.RunStatusComplete),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest state %s", scheme)
	}
	return unmarshalState([]byte(raw))
}

// helpers

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var summaryJSON, stateJSON, errMsg sql.NullString

	err := row.Scan(&r.ID, &r.Scheme, &r.Model, &r.Status, &summaryJSON, &stateJSON, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.Error = errMsg.String

	if err := unmarshalResult(&r, []byte(summaryJSON.String), []byte(stateJSON.String)); err != nil {
		return nil, err
	}
	return &r, nil
}

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// marshalResult encodes the optional state and summary; nil inputs stay nil.
func marshalResult(state *certstate.State, summary *model.RunSummary) (stateJSON, summaryJSON []byte, err error) {
	if state != nil {
		if stateJSON, err = json.Marshal(state); err != nil {
			return nil, nil, eris.Wrap(err, "marshal state")
		}
	}
	if summary != nil {
		if summaryJSON, err = json.Marshal(summary); err != nil {
			return nil, nil, eris.Wrap(err, "marshal summary")
		}
	}
	return stateJSON, summaryJSON, nil
}

// unmarshalResult decodes non-empty summary and state columns into r.
func unmarshalResult(r *model.Run, summaryJSON, stateJSON []byte) error {
	if len(summaryJSON) > 0 {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
			return eris.Wrap(err, "store: unmarshal summary")
		}
	}
	if len(stateJSON) > 0 {
		st, err := unmarshalState(stateJSON)
		if err != nil {
			return err
		}
		r.State = st
	}
	return nil
}

func unmarshalState(raw []byte) (*certstate.State, error) {
	st := certstate.New()
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal state")
	}
	return st, nil
}
