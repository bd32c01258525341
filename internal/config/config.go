// Package config loads application settings from config.yaml and
// CERTSTATE_-prefixed environment variables.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/certstate-cli/internal/cost"
	"github.com/sells-group/certstate-cli/internal/ingest"
	"github.com/sells-group/certstate-cli/internal/tokens"
)

// Config holds the full application configuration.
type Config struct {
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Tokens     TokensConfig     `yaml:"tokens" mapstructure:"tokens"`
	Evidence   EvidenceConfig   `yaml:"evidence" mapstructure:"evidence"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Pricing    cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Fetch backends.
const (
	BackendFirecrawl = "firecrawl"
	BackendJina      = "jina"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// LLMConfig selects the completion provider and request settings.
type LLMConfig struct {
	Provider          string  `yaml:"provider" mapstructure:"provider"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxOutputTokens   int     `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	RateLimitRPS      float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	CacheSystemPrompt bool    `yaml:"cache_system_prompt" mapstructure:"cache_system_prompt"`
	JSONMode          bool    `yaml:"json_mode" mapstructure:"json_mode"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	CacheTTL string `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// OpenAIConfig holds OpenAI API settings. BaseURL points at any
// OpenAI-compatible endpoint.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FirecrawlConfig holds Firecrawl API settings.
type FirecrawlConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	Concurrency      int    `yaml:"concurrency" mapstructure:"concurrency"`
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
}

// JinaConfig holds Jina AI Reader settings. The key is optional.
type JinaConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// FetchConfig selects the page source of the fetch command.
type FetchConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"`
}

// IngestConfig holds the token budget and retry settings of a run.
type IngestConfig struct {
	PreferOverwrite bool   `yaml:"prefer_overwrite" mapstructure:"prefer_overwrite"`
	ContextTokens   int    `yaml:"context_tokens" mapstructure:"context_tokens"`
	ReserveTokens   int    `yaml:"reserve_tokens" mapstructure:"reserve_tokens"`
	MaxRetries      int    `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBackoffMs  int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	SystemRulesFile string `yaml:"system_rules_file" mapstructure:"system_rules_file"`
}

// TokensConfig selects the token counter and model window overrides.
type TokensConfig struct {
	Encoding    string                      `yaml:"encoding" mapstructure:"encoding"`
	ModelLimits map[string]tokens.ModelLimit `yaml:"model_limits" mapstructure:"model_limits"`
}

// EvidenceConfig tunes snippet selection and prompt shrinking.
type EvidenceConfig struct {
	KeywordsFile      string  `yaml:"keywords_file" mapstructure:"keywords_file"`
	MaxSnippets       int     `yaml:"max_snippets" mapstructure:"max_snippets"`
	WindowLines       int     `yaml:"window_lines" mapstructure:"window_lines"`
	MinEvidenceTokens int     `yaml:"min_evidence_tokens" mapstructure:"min_evidence_tokens"`
	SentenceTrimRatio float64 `yaml:"sentence_trim_ratio" mapstructure:"sentence_trim_ratio"`
	ShrinkRatio       float64 `yaml:"shrink_ratio" mapstructure:"shrink_ratio"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// BatchConfig configures multi-scheme runs.
type BatchConfig struct {
	MaxConcurrentRuns int `yaml:"max_concurrent_runs" mapstructure:"max_concurrent_runs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures run health alerts.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	SkipRateThreshold    float64 `yaml:"skip_rate_threshold" mapstructure:"skip_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CERTSTATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("llm.provider", ProviderOpenAI)
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_output_tokens", 0)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.rate_limit_rps", 0.0)
	v.SetDefault("llm.cache_system_prompt", true)
	v.SetDefault("llm.json_mode", true)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.cache_ttl", "5m")
	v.SetDefault("openai.key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("firecrawl.key", "")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("firecrawl.concurrency", 4)
	v.SetDefault("firecrawl.poll_interval_secs", 2)
	v.SetDefault("jina.key", "")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("fetch.backend", BackendFirecrawl)
	v.SetDefault("jina.concurrency", 2)
	v.SetDefault("ingest.prefer_overwrite", false)
	v.SetDefault("ingest.context_tokens", 60000)
	v.SetDefault("ingest.reserve_tokens", 4000)
	v.SetDefault("ingest.max_retries", 2)
	v.SetDefault("ingest.retry_backoff_ms", 500)
	v.SetDefault("ingest.system_rules_file", "")
	v.SetDefault("tokens.encoding", tokens.EncodingHeuristic)
	v.SetDefault("evidence.keywords_file", "")
	v.SetDefault("evidence.max_snippets", 6)
	v.SetDefault("evidence.window_lines", 3)
	v.SetDefault("evidence.min_evidence_tokens", 500)
	v.SetDefault("evidence.sentence_trim_ratio", 0.8)
	v.SetDefault("evidence.shrink_ratio", 0.9)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.database_url", "certstate.db")
	v.SetDefault("batch.max_concurrent_runs", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.skip_rate_threshold", 0.5)
	v.SetDefault("monitoring.cost_threshold_usd", 0.0)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate rejects unknown provider, driver and encoding names and token
// budgets no prompt fits in.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		return &ingest.ConfigurationError{Field: "llm.provider", Reason: "must be anthropic or openai, got " + quote(c.LLM.Provider)}
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return &ingest.ConfigurationError{Field: "llm.model", Reason: "is required"}
	}
	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres, DriverNone:
	default:
		return &ingest.ConfigurationError{Field: "store.driver", Reason: "must be sqlite, postgres or none, got " + quote(c.Store.Driver)}
	}
	if c.Store.Driver != DriverNone && c.Store.DatabaseURL == "" {
		return &ingest.ConfigurationError{Field: "store.database_url", Reason: "is required for " + c.Store.Driver}
	}
	switch c.Tokens.Encoding {
	case "", tokens.EncodingHeuristic, tokens.EncodingCL100K, tokens.EncodingO200K:
	default:
		return &ingest.ConfigurationError{Field: "tokens.encoding", Reason: "is unknown: " + quote(c.Tokens.Encoding)}
	}
	if c.Ingest.ContextTokens <= 0 {
		return &ingest.ConfigurationError{Field: "ingest.context_tokens", Reason: "must be positive"}
	}
	if c.Ingest.ReserveTokens < 0 || c.Ingest.ReserveTokens >= c.Ingest.ContextTokens {
		return &ingest.ConfigurationError{Field: "ingest.reserve_tokens", Reason: "must be in [0, context_tokens)"}
	}
	if c.Ingest.MaxRetries < 0 {
		return &ingest.ConfigurationError{Field: "ingest.max_retries", Reason: "must not be negative"}
	}
	if c.Batch.MaxConcurrentRuns <= 0 {
		return &ingest.ConfigurationError{Field: "batch.max_concurrent_runs", Reason: "must be positive"}
	}
	return nil
}

// Modes accepted by ValidateFor.
const (
	ModeIngest  = "ingest"
	ModeServe   = "serve"
	ModeFetch   = "fetch"
	ModeOffline = "offline"
)

// ValidateFor runs Validate and then checks the credentials a command mode
// needs. All missing settings are reported together.
func (c *Config) ValidateFor(mode string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	var missing []string
	switch mode {
	case ModeIngest, ModeServe:
		if c.LLM.Provider == ProviderAnthropic && c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required")
		}
		if c.LLM.Provider == ProviderOpenAI && c.OpenAI.Key == "" && c.OpenAI.BaseURL == "" {
			missing = append(missing, "openai.key is required")
		}
		if mode == ModeServe && c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	case ModeFetch:
		switch c.Fetch.Backend {
		case BackendFirecrawl:
			if c.Firecrawl.Key == "" {
				missing = append(missing, "firecrawl.key is required")
			}
		case BackendJina:
		default:
			return &ingest.ConfigurationError{Field: "fetch.backend", Reason: "must be firecrawl or jina, got " + quote(c.Fetch.Backend)}
		}
	case ModeOffline:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: %s", strings.Join(missing, "; "))
	}
	return nil
}

// IngestOptions maps the llm and ingest sections onto ingest.Options.
func (c *Config) IngestOptions() ingest.Options {
	o := ingest.DefaultOptions(c.LLM.Model)
	o.PreferOverwrite = c.Ingest.PreferOverwrite
	o.ContextTokens = c.Ingest.ContextTokens
	o.ReserveTokens = c.Ingest.ReserveTokens
	o.MaxRetries = c.Ingest.MaxRetries
	o.RetryBackoff = time.Duration(c.Ingest.RetryBackoffMs) * time.Millisecond
	o.MaxOutputTokens = c.LLM.MaxOutputTokens
	o.Temperature = c.LLM.Temperature
	o.JSONMode = c.LLM.JSONMode
	o.CacheSystem = c.LLM.CacheSystemPrompt
	return o
}

func quote(s string) string { return `"` + s + `"` }

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
