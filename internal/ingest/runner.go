package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/certstate-cli/internal/certstate"
	"github.com/sells-group/certstate-cli/internal/metrics"
	"github.com/sells-group/certstate-cli/internal/model"
	"github.com/sells-group/certstate-cli/internal/store"
)

// Job is one scheme's page set.
type Job struct {
	Scheme  string             `json:"scheme" yaml:"scheme"`
	Pages   []model.PageRecord `json:"pages" yaml:"-"`
	Initial *certstate.State   `json:"initial,omitempty" yaml:"-"`
	Rules   string             `json:"rules,omitempty" yaml:"rules"`

	// Resume starts from the newest complete record of Scheme when Initial
	// is nil.
	Resume bool `json:"resume,omitempty" yaml:"resume"`

	// PreferOverwrite overrides the ingester's merge policy when set.
	PreferOverwrite *bool `json:"prefer_overwrite,omitempty" yaml:"prefer_overwrite"`
}

// Runner wraps an Ingester with run bookkeeping. A nil store runs without
// persistence.
type Runner struct {
	ingester *Ingester
	store    store.Store
	metrics  *metrics.Metrics
}

// NewRunner creates a Runner.
func NewRunner(in *Ingester, st store.Store, m *metrics.Metrics) *Runner {
	return &Runner{ingester: in, store: st, metrics: m}
}

// Ingester returns the wrapped ingester.
func (r *Runner) Ingester() *Ingester { return r.ingester }

// Run ingests job and records the run. The returned run reflects its final
// status; on failure the partial result is returned alongside the error.
func (r *Runner) Run(ctx context.Context, job Job) (*model.Run, *Result, error) {
	in := r.ingester
	if job.PreferOverwrite != nil && *job.PreferOverwrite != in.Options().PreferOverwrite {
		o := in.Options()
		o.PreferOverwrite = *job.PreferOverwrite
		in = in.WithOptions(o)
	}
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}
	log := zap.L().With(zap.String("scheme", job.Scheme))

	initial := job.Initial
	if initial == nil && job.Resume && r.store != nil {
		latest, err := r.store.LatestState(ctx, job.Scheme)
		if err != nil {
			return nil, nil, eris.Wrap(err, "ingest: load latest state")
		}
		if latest != nil {
			log.Info("ingest: resuming from latest record", zap.Int("empty_fields", len(latest.EmptyFields())))
		}
		initial = latest
	}

	modelName := in.Options().Model
	run := &model.Run{Scheme: job.Scheme, Model: modelName, Status: model.RunStatusRunning}
	var hooks []PageHook
	if r.store != nil {
		created, err := r.store.CreateRun(ctx, job.Scheme, modelName)
		if err != nil {
			return nil, nil, eris.Wrap(err, "ingest: create run")
		}
		run = created
		log = log.With(zap.String("run_id", run.ID))
		hooks = append(hooks, func(rep model.PageReport) {
			if err := r.store.SavePageReport(ctx, run.ID, rep); err != nil {
				log.Warn("ingest: failed to save page report", zap.Int("page", rep.Index), zap.Error(err))
			}
		})
	}

	start := time.Now()
	res, err := in.Ingest(ctx, job.Pages, initial, job.Rules, hooks...)
	if err != nil {
		run.Status = model.RunStatusFailed
		run.Error = err.Error()
		if res != nil {
			run.Summary = &res.Summary
		}
		if r.store != nil {
			// The run's ctx may already be done.
			if ferr := r.store.FailRun(context.WithoutCancel(ctx), run.ID, run.Summary, run.Error); ferr != nil {
				log.Warn("ingest: failed to record run failure", zap.Error(ferr))
			}
		}
		r.metrics.ObserveRun(string(run.Status), time.Since(start))
		return run, res, err
	}

	run.Status = model.RunStatusComplete
	run.State = res.State
	run.Summary = &res.Summary
	if r.store != nil {
		if err := r.store.CompleteRun(ctx, run.ID, res.State, &res.Summary); err != nil {
			r.metrics.ObserveRun(string(model.RunStatusFailed), time.Since(start))
			return run, res, eris.Wrap(err, "ingest: complete run")
		}
	}
	r.metrics.ObserveRun(string(run.Status), time.Since(start))
	return run, res, nil
}

// IsConfigurationError reports whether err is a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
