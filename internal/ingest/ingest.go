// Package ingest folds an ordered page set into a certification record, one
// page at a time: sparse prompt, LLM call with retry, validation, merge.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/certstate-cli/internal/certstate"
	"github.com/sells-group/certstate-cli/internal/cost"
	"github.com/sells-group/certstate-cli/internal/evidence"
	"github.com/sells-group/certstate-cli/internal/llm"
	"github.com/sells-group/certstate-cli/internal/metrics"
	"github.com/sells-group/certstate-cli/internal/model"
	"github.com/sells-group/certstate-cli/internal/resilience"
)

// Options configures one ingestion.
type Options struct {
	Model           string
	PreferOverwrite bool
	ContextTokens   int
	ReserveTokens   int
	MaxRetries      int
	RetryBackoff    time.Duration

	// MaxOutputTokens caps the reply; 0 uses ReserveTokens.
	MaxOutputTokens int
	Temperature     float64
	JSONMode        bool
	CacheSystem     bool
}

// DefaultOptions returns the stock budget and retry settings for model.
func DefaultOptions(model string) Options {
	return Options{
		Model:         model,
		ContextTokens: 60000,
		ReserveTokens: 4000,
		MaxRetries:    2,
		RetryBackoff:  llm.DefaultRetryBackoff,
		JSONMode:      true,
		CacheSystem:   true,
	}
}

// ConfigurationError reports settings under which no valid prompt can be
// built. It is raised before any page is processed.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("ingest: invalid configuration: %s %s", e.Field, e.Reason)
}

// PageHook observes every finished page.
type PageHook func(model.PageReport)

// Ingester runs the per-page loop. It holds no per-run state and may serve
// concurrent runs.
type Ingester struct {
	completer llm.Completer
	selector  *evidence.Selector
	opts      Options
	metrics   *metrics.Metrics
	costs     *cost.Calculator
	now       func() time.Time
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithMetrics records page outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(in *Ingester) { in.metrics = m }
}

// WithCostCalculator prices usage with c.
func WithCostCalculator(c *cost.Calculator) Option {
	return func(in *Ingester) { in.costs = c }
}

// WithClock replaces time.Now for the updated_at stamp and durations.
func WithClock(now func() time.Time) Option {
	return func(in *Ingester) { in.now = now }
}

// New creates an Ingester.
func New(c llm.Completer, sel *evidence.Selector, opts Options, o ...Option) *Ingester {
	in := &Ingester{
		completer: c,
		selector:  sel,
		opts:      opts,
		costs:     cost.NewCalculator(nil),
		now:       time.Now,
	}
	for _, fn := range o {
		fn(in)
	}
	return in
}

// Options returns the ingester's settings.
func (in *Ingester) Options() Options { return in.opts }

// WithOptions returns a copy of in that runs with opts.
func (in *Ingester) WithOptions(opts Options) *Ingester {
	cp := *in
	cp.opts = opts
	return &cp
}

// Validate checks the token budget and retry settings.
func (in *Ingester) Validate() error {
	o := in.opts
	switch {
	case strings.TrimSpace(o.Model) == "":
		return &ConfigurationError{Field: "model", Reason: "is required"}
	case o.ContextTokens <= 0:
		return &ConfigurationError{Field: "context_tokens", Reason: "must be positive"}
	case o.ReserveTokens < 0:
		return &ConfigurationError{Field: "reserve_tokens", Reason: "must not be negative"}
	case o.ReserveTokens >= o.ContextTokens:
		return &ConfigurationError{
			Field:  "reserve_tokens",
			Reason: fmt.Sprintf("(%d) must be less than context_tokens (%d)", o.ReserveTokens, o.ContextTokens),
		}
	case o.MaxRetries < 0:
		return &ConfigurationError{Field: "max_retries", Reason: "must not be negative"}
	case o.RetryBackoff < 0:
		return &ConfigurationError{Field: "retry_backoff", Reason: "must not be negative"}
	}

	if limit := in.selector.Estimator().MaxTokens(); o.ContextTokens > limit {
		return &ConfigurationError{
			Field:  "context_tokens",
			Reason: fmt.Sprintf("(%d) exceeds the %d-token window of %s", o.ContextTokens, limit, in.selector.Estimator().Model()),
		}
	}
	if framing := in.selector.FramingTokens(); o.ContextTokens-o.ReserveTokens < framing {
		return &ConfigurationError{
			Field:  "context_tokens",
			Reason: fmt.Sprintf("leave %d prompt tokens, fewer than the %d-token framing", o.ContextTokens-o.ReserveTokens, framing),
		}
	}
	return nil
}

// Result is the outcome of one ingestion.
type Result struct {
	State   *certstate.State   `json:"state"`
	Pages   []model.PageReport `json:"pages"`
	Summary model.RunSummary   `json:"summary"`
}

// Ingest folds pages, in order, into a copy of initial (a fresh empty record
// when nil) and stamps updated_at when done. Pages that fail to parse or
// validate are skipped; a run where every page is skipped still succeeds.
// Only a *ConfigurationError, detected before the first page, or a done ctx
// ends the run with an error; the partial state is returned alongside it.
func (in *Ingester) Ingest(ctx context.Context, pages []model.PageRecord, initial *certstate.State, rules string, hooks ...PageHook) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(rules) == "" {
		rules = evidence.DefaultSystemRules
	}

	start := in.now()
	acc := certstate.New()
	if initial != nil {
		acc = initial.Clone()
	}

	log := zap.L().With(zap.String("model", in.opts.Model))
	log.Info("ingest: starting run",
		zap.Int("pages", len(pages)),
		zap.Int("empty_fields", len(acc.EmptyFields())),
		zap.Bool("prefer_overwrite", in.opts.PreferOverwrite),
	)

	res := &Result{Pages: make([]model.PageReport, 0, len(pages))}
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			res.State = acc
			return res, eris.Wrapf(err, "ingest: stopped before page %d", i)
		}

		report, next, err := in.ingestPage(ctx, log, i, page, acc, rules)
		if err != nil {
			res.State = acc
			return res, err
		}
		acc = next

		res.Pages = append(res.Pages, report)
		res.Summary.Record(report)
		in.metrics.ObservePage(string(report.Outcome), string(report.Failure), report.Attempts, report.Diagnostics.PromptTokens)
		for _, h := range hooks {
			h(report)
		}
	}

	end := in.now()
	res.State = acc.WithUpdatedAt(end)
	res.Summary.DurationMs = end.Sub(start).Milliseconds()

	u := res.Summary.Usage
	in.metrics.AddTokens(u.InputTokens, u.OutputTokens, u.CacheReadTokens, u.CacheCreationTokens)
	in.costs.LogCost(in.opts.Model, "ingest", u)

	log.Info("ingest: run complete",
		zap.Int("pages", res.Summary.Pages),
		zap.Int("merged", res.Summary.Merged),
		zap.Int("skipped", res.Summary.Skipped),
		zap.Int("parse_failures", res.Summary.ParseFailures),
		zap.Int("validation_failures", res.Summary.ValidationFailures),
		zap.Int("remaining_empty", len(res.State.EmptyFields())),
		zap.Int64("duration_ms", res.Summary.DurationMs),
	)
	return res, nil
}

// ingestPage runs one page through the state machine and returns its report
// and the new accumulator. A non-nil error aborts the run.
func (in *Ingester) ingestPage(ctx context.Context, log *zap.Logger, idx int, page model.PageRecord, acc *certstate.State, rules string) (model.PageReport, *certstate.State, error) {
	t := newPageTracker()
	report := model.PageReport{Index: idx, URL: page.URL}
	log = log.With(zap.Int("page", idx), zap.String("url", page.URL))

	prompt, diag, err := in.selector.BuildPrompt(rules, acc, page.RawText(), in.opts.ContextTokens, in.opts.ReserveTokens)
	report.Diagnostics = diag
	if err != nil {
		return report, acc, eris.Wrapf(err, "ingest: build prompt for page %d", idx)
	}
	t.to(StagePromptBuilt)

	maxOut := in.opts.MaxOutputTokens
	if maxOut <= 0 {
		maxOut = in.opts.ReserveTokens
	}
	req := llm.Request{
		Model:       in.opts.Model,
		System:      prompt.System,
		Messages:    []llm.Message{{Role: "user", Content: prompt.User}},
		MaxTokens:   maxOut,
		Temperature: in.opts.Temperature,
		JSONMode:    in.opts.JSONMode,
		CacheSystem: in.opts.CacheSystem,
	}
	policy := llm.RetryPolicy{
		MaxRetries: in.opts.MaxRetries,
		Backoff:    in.opts.RetryBackoff,
		OnRetry:    resilience.RetryLogger("llm", "complete", zap.Int("page", idx), zap.String("url", page.URL)),
	}

	call, callErr := llm.CallWithRetry(ctx, in.completer, req, policy)
	t.to(StageCalled)
	report.Attempts = call.Attempts
	report.FinishReason = call.FinishReason
	report.Usage = call.Usage
	report.Usage.Cost = in.costs.Completion(in.opts.Model, call.Usage)

	if callErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, acc, eris.Wrapf(ctxErr, "ingest: stopped during page %d", idx)
		}
		t.to(StageParseFailed)
		return in.skip(log, t, report, model.FailureParse, callErr, call.Raw), acc, nil
	}
	t.to(StageParsed)

	cand, coercions, err := certstate.ValidateCandidate(call.Object)
	report.Coercions = coercions
	if err != nil {
		t.to(StageValidationFailed)
		return in.skip(log, t, report, model.FailureValidation, err, call.Raw), acc, nil
	}
	t.to(StageValidated)

	next := certstate.Merge(acc, cand, in.opts.PreferOverwrite, page.URL)
	t.to(StageMerged)
	report.Outcome = model.PageMerged
	report.Trace = t.trace

	log.Info("ingest: page merged",
		zap.String("outcome", string(report.Outcome)),
		zap.String("stage", string(t.stage)),
		zap.Int("raw_tokens", diag.RawTokens),
		zap.Int("prompt_tokens", diag.PromptTokens),
		zap.Bool("trimmed", diag.Trimmed),
		zap.String("evidence_mode", string(diag.EvidenceMode)),
		zap.Int("attempts", report.Attempts),
		zap.Int("coercions", len(coercions)),
		zap.Int("filled", len(acc.EmptyFields())-len(next.EmptyFields())),
	)
	return report, next, nil
}

func (in *Ingester) skip(log *zap.Logger, t *pageTracker, report model.PageReport, kind model.FailureKind, err error, raw string) model.PageReport {
	t.to(StageSkipped)
	report.Outcome = model.PageSkipped
	report.Failure = kind
	report.Error = err.Error()
	report.Trace = t.trace

	fields := []zap.Field{
		zap.String("outcome", string(report.Outcome)),
		zap.String("failure", string(kind)),
		zap.Int("raw_tokens", report.Diagnostics.RawTokens),
		zap.Int("prompt_tokens", report.Diagnostics.PromptTokens),
		zap.Int("attempts", report.Attempts),
		zap.String("finish_reason", report.FinishReason),
		zap.String("raw", preview(raw, 160)),
		zap.Error(err),
	}
	var pe *llm.ParseError
	if errors.As(err, &pe) && !llm.IsNoJSON(err) {
		fields = append(fields, zap.Bool("transient", resilience.IsTransient(pe.Cause)))
	}
	log.Warn("ingest: page skipped", fields...)
	return report
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
