package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/certstate-cli/internal/certstate"
	"github.com/sells-group/certstate-cli/internal/evidence"
	"github.com/sells-group/certstate-cli/internal/ingest"
	"github.com/sells-group/certstate-cli/internal/llm"
	"github.com/sells-group/certstate-cli/internal/metrics"
	"github.com/sells-group/certstate-cli/internal/model"
	"github.com/sells-group/certstate-cli/internal/monitoring"
	"github.com/sells-group/certstate-cli/internal/store"
	"github.com/sells-group/certstate-cli/internal/tokens"
)

const rohsURL = "https://environment.ec.europa.eu/topics/waste-and-recycling/rohs-directive_en"

var rohsPage = model.PageRecord{
	URL:      rohsURL,
	Markdown: "# RoHS Directive\n\nThe RoHS Directive 2011/65/EU restricts hazardous substances in EEE.",
	Summary:  "EU directive restricting hazardous substances in electronics.",
}

// stateJSON renders a full-shape record with set applied.
func stateJSON(t *testing.T, set map[string]any) json.RawMessage {
	t.Helper()
	obj := certstate.New().Map()
	for k, v := range set {
		obj[k] = v
	}
	b, err := json.Marshal(obj)
	require.NoError(t, err)
	return b
}

func replyingCompleter(t *testing.T, set map[string]any) llm.Completer {
	reply := string(stateJSON(t, set))
	return llm.CompleterFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: reply, FinishReason: "stop", Usage: model.TokenUsage{InputTokens: 120, OutputTokens: 30}}, nil
	})
}

type testEnv struct {
	store   store.Store
	handler http.Handler
}

func newTestEnv(t *testing.T, c llm.Completer, withStore bool) *testEnv {
	t.Helper()
	sel, err := evidence.NewSelector(nil, tokens.NewEstimator("gpt-4o"))
	require.NoError(t, err)
	opts := ingest.DefaultOptions("gpt-4o")
	opts.RetryBackoff = 0
	opts.MaxRetries = 0

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	in := ingest.New(c, sel, opts, ingest.WithMetrics(m))

	env := &testEnv{}
	srvOpts := []Option{WithGatherer(reg)}
	if withStore {
		st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() }) //nolint:errcheck
		require.NoError(t, st.Migrate(context.Background()))
		env.store = st
		srvOpts = append(srvOpts, WithStore(st), WithStats(monitoring.NewCollector(st)))
	}
	env.handler = New(ingest.NewRunner(in, env.store, m), srvOpts...).Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type ingestReply struct {
	RunID   string             `json:"run_id"`
	Status  model.RunStatus    `json:"status"`
	State   map[string]any     `json:"state"`
	Pages   []model.PageReport `json:"pages"`
	Summary model.RunSummary   `json:"summary"`
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, replyingCompleter(t, nil), false)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestIngest_PersistsAndLists(t *testing.T) {
	env := newTestEnv(t, replyingCompleter(t, map[string]any{
		"name":      "RoHS",
		"region":    "EU/EEA",
		"mandatory": true,
	}), true)

	rec := env.do(t, http.MethodPost, "/v1/ingest", map[string]any{
		"scheme": "rohs",
		"pages":  []model.PageRecord{rohsPage},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[ingestReply](t, rec)
	require.NotEmpty(t, got.RunID)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	assert.Equal(t, "RoHS", got.State["name"])
	assert.Equal(t, true, got.State["mandatory"])
	assert.Equal(t, []any{rohsURL}, got.State["sources"])
	require.Len(t, got.Pages, 1)
	assert.Equal(t, model.PageMerged, got.Pages[0].Outcome)
	assert.Equal(t, 1, got.Summary.Merged)

	rec = env.do(t, http.MethodGet, "/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]model.Run](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, got.RunID, runs[0].ID)
	assert.Equal(t, "rohs", runs[0].Scheme)

	rec = env.do(t, http.MethodGet, "/v1/runs/"+got.RunID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[model.Run](t, rec)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	name, _ := run.State.Text("name")
	assert.Equal(t, "RoHS", name)

	rec = env.do(t, http.MethodGet, "/v1/runs/"+got.RunID+"/pages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pages := decode[[]model.PageReport](t, rec)
	require.Len(t, pages, 1)
	assert.Equal(t, rohsURL, pages[0].URL)

	rec = env.do(t, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[monitoring.Snapshot](t, rec)
	assert.Equal(t, 1, snap.RunsTotal)
	assert.Equal(t, 1, snap.PagesMerged)
}

func TestIngest_InitialStateAndOverwrite(t *testing.T) {
	c := replyingCompleter(t, map[string]any{"name": "RoHS"})
	initial := stateJSON(t, map[string]any{"name": "Old name"})

	tests := []struct {
		name      string
		overwrite *bool
		want      string
	}{
		{"fill only", nil, "Old name"},
		{"overwrite", boolPtr(true), "RoHS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, c, false)
			body := map[string]any{
				"scheme":        "rohs",
				"pages":         []model.PageRecord{rohsPage},
				"initial_state": initial,
			}
			if tt.overwrite != nil {
				body["prefer_overwrite"] = *tt.overwrite
			}
			rec := env.do(t, http.MethodPost, "/v1/ingest", body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			got := decode[ingestReply](t, rec)
			assert.Empty(t, got.RunID)
			assert.Equal(t, tt.want, got.State["name"])
		})
	}
}

func boolPtr(b bool) *bool { return &b }

func TestIngest_EnvelopedInitialState(t *testing.T) {
	env := newTestEnv(t, replyingCompleter(t, nil), false)
	initial := map[string]json.RawMessage{certstate.Envelope: stateJSON(t, map[string]any{"name": "RoHS"})}

	rec := env.do(t, http.MethodPost, "/v1/ingest", map[string]any{
		"scheme":        "rohs",
		"pages":         []model.PageRecord{},
		"initial_state": initial,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[ingestReply](t, rec)
	assert.Equal(t, "RoHS", got.State["name"])
	assert.Empty(t, got.Pages)
}

func TestIngest_BadRequests(t *testing.T) {
	env := newTestEnv(t, replyingCompleter(t, nil), false)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{"scheme":`, "invalid request body"},
		{"missing scheme", `{"pages":[]}`, "scheme is required"},
		{"blank scheme", `{"scheme":"  ","pages":[]}`, "scheme is required"},
		{"bad initial state", `{"scheme":"rohs","initial_state":{"name":"x"}}`, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decode[errorBody](t, rec).Error, tt.want)
		})
	}
}

func TestIngest_BodyTooLarge(t *testing.T) {
	sel, err := evidence.NewSelector(nil, tokens.NewEstimator("gpt-4o"))
	require.NoError(t, err)
	in := ingest.New(replyingCompleter(t, nil), sel, ingest.DefaultOptions("gpt-4o"))
	h := New(ingest.NewRunner(in, nil, nil), WithMaxBodyBytes(64)).Handler()

	body := `{"scheme":"rohs","pages":[{"url":"u","markdown":"` + strings.Repeat("x", 200) + `"}]}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngest_LLMOutageStillSucceeds(t *testing.T) {
	c := llm.CompleterFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		return nil, errors.New("connection refused")
	})
	env := newTestEnv(t, c, true)

	rec := env.do(t, http.MethodPost, "/v1/ingest", map[string]any{
		"scheme": "rohs",
		"pages":  []model.PageRecord{rohsPage},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[ingestReply](t, rec)
	require.Len(t, got.Pages, 1)
	assert.Equal(t, model.PageSkipped, got.Pages[0].Outcome)
	assert.Equal(t, model.FailureParse, got.Pages[0].Failure)
	assert.Nil(t, got.State["name"])
}

func TestIngest_ConfigurationError(t *testing.T) {
	sel, err := evidence.NewSelector(nil, tokens.NewEstimator("gpt-4o"))
	require.NoError(t, err)
	opts := ingest.DefaultOptions("gpt-4o")
	opts.ReserveTokens = opts.ContextTokens
	in := ingest.New(replyingCompleter(t, nil), sel, opts)
	h := New(ingest.NewRunner(in, nil, nil)).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"scheme":"rohs","pages":[]}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[errorBody](t, rec).Error, "reserve_tokens")
}

func TestRuns_NotFound(t *testing.T) {
	env := newTestEnv(t, replyingCompleter(t, nil), true)

	rec := env.do(t, http.MethodGet, "/v1/runs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/runs/does-not-exist/pages", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRuns_EmptyListIsArray(t *testing.T) {
	env := newTestEnv(t, replyingCompleter(t, nil), true)

	rec := env.do(t, http.MethodGet, "/v1/runs?scheme=ce&status=complete", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRuns_BadPaging(t *testing.T) {
	env := newTestEnv(t, replyingCompleter(t, nil), true)

	for _, q := range []string{"limit=abc", "limit=-1", "offset=x"} {
		rec := env.do(t, http.MethodGet, "/v1/runs?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestRuns_NoStore(t *testing.T) {
	env := newTestEnv(t, replyingCompleter(t, nil), false)

	for _, path := range []string{"/v1/runs", "/v1/runs/abc", "/v1/stats"} {
		rec := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestStats_BadHours(t *testing.T) {
	env := newTestEnv(t, replyingCompleter(t, nil), true)

	rec := env.do(t, http.MethodGet, "/v1/stats?hours=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, replyingCompleter(t, map[string]any{"name": "RoHS"}), false)

	rec := env.do(t, http.MethodPost, "/v1/ingest", map[string]any{
		"scheme": "rohs",
		"pages":  []model.PageRecord{rohsPage},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "certstate_")
}

func TestCORS(t *testing.T) {
	sel, err := evidence.NewSelector(nil, tokens.NewEstimator("gpt-4o"))
	require.NoError(t, err)
	in := ingest.New(replyingCompleter(t, nil), sel, ingest.DefaultOptions("gpt-4o"))
	h := New(ingest.NewRunner(in, nil, nil), WithAllowedOrigins([]string{"https://app.example"})).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/v1/ingest", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestIntParam(t *testing.T) {
	n, err := intParam("", 7, 10)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = intParam("50", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = intParam("50", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	_, err = intParam("-3", 0, -1)
	assert.Error(t, err)
}

func TestAddr(t *testing.T) {
	assert.Equal(t, ":8080", Addr(8080))
}
