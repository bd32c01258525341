package main

import (
	"context"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/certstate-cli/internal/config"
	"github.com/sells-group/certstate-cli/internal/cost"
	"github.com/sells-group/certstate-cli/internal/evidence"
	"github.com/sells-group/certstate-cli/internal/ingest"
	"github.com/sells-group/certstate-cli/internal/llm"
	"github.com/sells-group/certstate-cli/internal/metrics"
	"github.com/sells-group/certstate-cli/internal/resilience"
	"github.com/sells-group/certstate-cli/internal/store"
	"github.com/sells-group/certstate-cli/internal/tokens"
	anthropicpkg "github.com/sells-group/certstate-cli/pkg/anthropic"
)

// ingestEnv holds everything the ingest, batch and serve commands share.
type ingestEnv struct {
	Store    store.Store // nil when store.driver is none
	Runner   *ingest.Runner
	Registry *prometheus.Registry
	Rules    string
}

// Close releases resources held by the environment.
func (e *ingestEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initIngestEnv validates cfg for mode and builds the completer, the
// selector, the ingester and, unless disabled, the run store. Callers should
// defer env.Close().
func initIngestEnv(ctx context.Context, mode string) (*ingestEnv, error) {
	if err := cfg.ValidateFor(mode); err != nil {
		return nil, err
	}

	sel, err := initSelector()
	if err != nil {
		return nil, err
	}
	rules, err := loadRules(cfg.Ingest.SystemRulesFile)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	in := ingest.New(initCompleter(), sel, cfg.IngestOptions(),
		ingest.WithMetrics(m),
		ingest.WithCostCalculator(cost.NewCalculator(cfg.Pricing)),
	)
	if err := in.Validate(); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	return &ingestEnv{
		Store:    st,
		Runner:   ingest.NewRunner(in, st, m),
		Registry: reg,
		Rules:    rules,
	}, nil
}

// initCompleter builds the configured provider behind a rate limiter and a
// circuit breaker.
func initCompleter() llm.Completer {
	var c llm.Completer
	switch cfg.LLM.Provider {
	case config.ProviderAnthropic:
		c = llm.NewAnthropicCompleter(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.CacheTTL)
	default:
		c = llm.NewOpenAICompleter(cfg.OpenAI.Key, cfg.OpenAI.BaseURL)
	}
	if cfg.LLM.RateLimitRPS > 0 {
		c = llm.NewRateLimited(c, cfg.LLM.RateLimitRPS)
	}
	return llm.NewBreaker(c, cfg.LLM.Provider, resilience.DefaultCircuitBreakerConfig())
}

// initSelector builds the token estimator and evidence selector.
func initSelector() (*evidence.Selector, error) {
	counter, err := tokens.NewCounter(cfg.Tokens.Encoding)
	if err != nil {
		return nil, err
	}
	est := tokens.NewEstimator(cfg.LLM.Model,
		tokens.WithCounter(counter),
		tokens.WithLimits(cfg.Tokens.ModelLimits),
	)

	evCfg := evidence.DefaultConfig()
	if cfg.Evidence.KeywordsFile != "" {
		evCfg, err = evidence.LoadConfig(cfg.Evidence.KeywordsFile)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Evidence.MaxSnippets > 0 {
		evCfg.MaxSnippets = cfg.Evidence.MaxSnippets
	}
	if cfg.Evidence.WindowLines > 0 {
		evCfg.WindowLines = cfg.Evidence.WindowLines
	}

	var opts []evidence.Option
	if cfg.Evidence.MinEvidenceTokens > 0 {
		opts = append(opts, evidence.WithMinEvidenceTokens(cfg.Evidence.MinEvidenceTokens))
	}
	if cfg.Evidence.SentenceTrimRatio > 0 {
		opts = append(opts, evidence.WithSentenceTrimRatio(cfg.Evidence.SentenceTrimRatio))
	}
	if cfg.Evidence.ShrinkRatio > 0 {
		opts = append(opts, evidence.WithShrinkRatio(cfg.Evidence.ShrinkRatio))
	}
	return evidence.NewSelector(evCfg, est, opts...)
}

// openStore opens and migrates the configured store. It returns nil for the
// none driver.
func openStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case config.DriverNone:
		zap.L().Debug("run store disabled")
		return nil, nil
	case config.DriverSQLite:
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case config.DriverPostgres:
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := st.Migrate(migrateCtx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// requireStore opens the store for commands that only read run history.
func requireStore(ctx context.Context) (store.Store, error) {
	if err := cfg.ValidateFor(config.ModeOffline); err != nil {
		return nil, err
	}
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("no run store configured (store.driver is none)")
	}
	return st, nil
}

// loadRules reads the system rules file. Empty path keeps the built-in
// rules.
func loadRules(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "read system rules %s", path)
	}
	return string(b), nil
}
