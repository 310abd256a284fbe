package config

import (
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Media     MediaConfig     `yaml:"media" mapstructure:"media"`
	OCR       OCRConfig       `yaml:"ocr" mapstructure:"ocr"`
	Gateway   GatewayConfig   `yaml:"gateway" mapstructure:"gateway"`
	Queue     QueueConfig     `yaml:"queue" mapstructure:"queue"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the document store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LLMConfig selects the language-model provider and its call budget.
type LLMConfig struct {
	Provider          string  `yaml:"provider" mapstructure:"provider"`
	Model             string  `yaml:"model" mapstructure:"model"`
	FastModel         string  `yaml:"fast_model" mapstructure:"fast_model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// OpenAIConfig holds OpenAI-compatible API settings.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// RetryConfig configures the retry policy applied to every model call.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// PipelineConfig configures extraction and validation behavior.
type PipelineConfig struct {
	ReferenceZone     string `yaml:"reference_zone" mapstructure:"reference_zone"`
	MaxTextLength     int    `yaml:"max_text_length" mapstructure:"max_text_length"`
	CandidateLimit    int    `yaml:"candidate_limit" mapstructure:"candidate_limit"`
	FutureHorizonDays int    `yaml:"future_horizon_days" mapstructure:"future_horizon_days"`
	CategoriesFile    string `yaml:"categories_file" mapstructure:"categories_file"`
}

// MediaConfig configures the object store.
type MediaConfig struct {
	Bucket      string `yaml:"bucket" mapstructure:"bucket"`
	CDNDomain   string `yaml:"cdn_domain" mapstructure:"cdn_domain"`
	Prefix      string `yaml:"prefix" mapstructure:"prefix"`
	Credentials string `yaml:"credentials" mapstructure:"credentials"`
}

// OCRConfig configures image text recognition.
type OCRConfig struct {
	Provider     string `yaml:"provider" mapstructure:"provider"`
	MistralKey   string `yaml:"mistral_key" mapstructure:"mistral_key"`
	MistralModel string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// GatewayConfig holds chat-transport gateway settings.
type GatewayConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey            string  `yaml:"api_key" mapstructure:"api_key"`
	Session           string  `yaml:"session" mapstructure:"session"`
	ConfirmChatID     string  `yaml:"confirm_chat_id" mapstructure:"confirm_chat_id"`
	AliasCacheTTLMins int     `yaml:"alias_cache_ttl_mins" mapstructure:"alias_cache_ttl_mins"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// QueueConfig configures the sequential pipeline queue.
type QueueConfig struct {
	Buffer int `yaml:"buffer" mapstructure:"buffer"`
}

// ServerConfig configures the intake server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// LLMTimeout returns the per-call model timeout.
func (c LLMConfig) LLMTimeout() time.Duration {
	if c.TimeoutSecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VALLEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("llm.fast_model", "claude-haiku-4-5-20251001")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.requests_per_second", 2.0)
	v.SetDefault("llm.timeout_secs", 60)
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.2)
	v.SetDefault("pipeline.reference_zone", "Asia/Jerusalem")
	v.SetDefault("pipeline.max_text_length", 4000)
	v.SetDefault("pipeline.candidate_limit", 5)
	v.SetDefault("pipeline.future_horizon_days", 365)
	v.SetDefault("media.prefix", "events")
	v.SetDefault("ocr.provider", "vision")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("gateway.alias_cache_ttl_mins", 720)
	v.SetDefault("gateway.requests_per_second", 5.0)
	v.SetDefault("queue.buffer", 256)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
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

// Validate checks that the settings required by mode are present. Modes:
// "serve" needs the full stack, "ingest" only the store and a model provider.
func (c *Config) Validate(mode string) error {
	var missing []string

	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url")
	}
	switch c.LLM.Provider {
	case "anthropic":
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key")
		}
	case "openai":
		if c.OpenAI.Key == "" {
			missing = append(missing, "openai.key")
		}
	default:
		return eris.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}
	if _, err := time.LoadLocation(c.Pipeline.ReferenceZone); err != nil {
		return eris.Wrapf(err, "config: reference zone %q", c.Pipeline.ReferenceZone)
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			return eris.Errorf("config: invalid server.port %d", c.Server.Port)
		}
		if c.Gateway.BaseURL == "" {
			missing = append(missing, "gateway.base_url")
		}
		if c.Media.Bucket == "" {
			missing = append(missing, "media.bucket")
		}
		if c.OCR.Provider == "mistral" && c.OCR.MistralKey == "" {
			missing = append(missing, "ocr.mistral_key")
		}
	}

	if len(missing) > 0 {
		return eris.Errorf("config: missing required settings for %s: %s", mode, strings.Join(missing, ", "))
	}
	return nil
}

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
