package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/certstate-cli/internal/certstate"
	"github.com/sells-group/certstate-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, scheme, model, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"get_run":           `SELECT ` + postgresRunColumns + ` FROM runs WHERE id = $1`,
	"list_page_reports": `SELECT report FROM page_reports WHERE run_id = $1 ORDER BY idx`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Prepare registers the hot statements on a connection. Wire it as
// pgxpool.Config.AfterConnect when statement caching is disabled.
func Prepare(ctx context.Context, conn *pgx.Conn) error {
	for name, sql := range preparedStatements {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return eris.Wrapf(err, "postgres: prepare %s", name)
		}
	}
	return nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	scheme     TEXT NOT NULL,
	model      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	summary    JSONB,
	state      JSONB,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS page_reports (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	idx        INTEGER NOT NULL,
	url        TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	failure    TEXT,
	report     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_scheme_updated ON runs(scheme, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_page_reports_outcome ON page_reports(outcome);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, scheme, llmModel string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, scheme, model, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, scheme, llmModel, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	return checkTag(tag, runID)
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, state *certstate.State, summary *model.RunSummary) error {
	stateJSON, summaryJSON, err := marshalResult(state, summary)
	if err != nil {
		return eris.Wrap(err, "postgres: complete run")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, state = $2, summary = $3, updated_at = $4 WHERE id = $5`,
		string(model.RunStatusComplete), stateJSON, summaryJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	return checkTag(tag, runID)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, summary *model.RunSummary, errMsg string) error {
	_, summaryJSON, err := marshalResult(nil, summary)
	if err != nil {
		return eris.Wrap(err, "postgres: fail run")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, summary = $2, error = $3, updated_at = $4 WHERE id = $5`,
		string(model.RunStatusFailed), summaryJSON, errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	return checkTag(tag, runID)
}

const postgresRunColumns = `id, scheme, model, status, summary, state, error, created_at, updated_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPostgresRun(s.pool.QueryRow(ctx,
		`SELECT `+postgresRunColumns+` FROM runs WHERE id = $1`,
		runID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	query := `SELECT ` + postgresRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Scheme != "" {
		query += fmt.Sprintf(` AND scheme = $%d`, argIdx)
		args = append(args, filter.Scheme)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SavePageReport(ctx context.Context, runID string, report model.PageReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal page report")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO page_reports (run_id, idx, url, outcome, failure, report, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (run_id, idx) DO UPDATE SET url = EXCLUDED.url, outcome = EXCLUDED.outcome,
		   failure = EXCLUDED.failure, report = EXCLUDED.report`,
		runID, report.Index, report.URL, string(report.Outcome), string(report.Failure), reportJSON, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save page report %s/%d", runID, report.Index)
}

func (s *PostgresStore) ListPageReports(ctx context.Context, runID string) ([]model.PageReport, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT report FROM page_reports WHERE run_id = $1 ORDER BY idx`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list page reports")
	}
	defer rows.Close()

	reports := []model.PageReport{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan page report")
		}
		var r model.PageReport
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal page report")
		}
		reports = append(reports, r)
	}
	return reports, eris.Wrap(rows.Err(), "postgres: list page reports iterate")
}

func (s *PostgresStore) LatestState(ctx context.Context, scheme string) (*certstate.State, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM runs
		 WHERE scheme = $1 AND status = $2 AND state IS NOT NULL
		 ORDER BY updated_at DESC LIMIT 1`,
		scheme, string(model.RunStatusComplete),
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest state %s", scheme)
	}
	return unmarshalState(raw)
}

func checkTag(tag pgconn.CommandTag, runID string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func scanPostgresRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var summaryJSON, stateJSON []byte
	var errMsg *string

	if err := row.Scan(&r.ID, &r.Scheme, &r.Model, &r.Status, &summaryJSON, &stateJSON, &errMsg, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	if err := unmarshalResult(&r, summaryJSON, stateJSON); err != nil {
		return nil, err
	}
	return &r, nil
}
