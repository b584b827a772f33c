// Package config provides configuration loading, validation, and the static model registry.
//
// Configuration is read from a single file whose format is chosen by extension:
// .json and .jsonc are parsed as JSON (comments and trailing commas tolerated),
// .yaml and .yml as YAML. A missing file yields the defaults.
//
// USAGE PATTERNS:
//
//	cfg, err := config.Load(".cblit/config.jsonc")
//	info, _ := config.GetModelInfo(cfg.Model.Name)
//	key, err := config.GetAPIKey(info.Provider)
//
// Algorithm parameters that users should not tune (eviction rule, structured
// reply extraction) are constants in their own packages, not settings here.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/d-lowl/cblit/pkg/logx"
)

//nolint:gochecknoglobals // Package logger for config operations
var logger = logx.NewLogger("config")

// LogInfo logs an info message using the config logger.
func LogInfo(format string, args ...any) {
	logger.Info(format, args...)
}

// ModelInfo contains static information about a known LLM model.
// This data is hardcoded in the application, not user-configurable.
type ModelInfo struct {
	Provider         string  // API provider (anthropic, openai)
	InputCPM         float64 // Cost per million input tokens (USD)
	OutputCPM        float64 // Cost per million output tokens (USD)
	MaxContextTokens int     // Maximum context window size in tokens
	MaxOutputTokens  int     // Maximum output tokens per request
}

// KnownModels registry contains pricing and provider information for common models.
// This is optional - unknown models will be inferred via ProviderPatterns.
//
//nolint:gochecknoglobals // Intentional global for static model registry
var KnownModels = map[string]ModelInfo{
	// OpenAI GPT models
	ModelGPT35Turbo: {
		Provider:         ProviderOpenAI,
		InputCPM:         0.5,
		OutputCPM:        1.5,
		MaxContextTokens: 16385,
		MaxOutputTokens:  4096,
	},
	ModelGPT4o: {
		Provider:         ProviderOpenAI,
		InputCPM:         2.5,
		OutputCPM:        10.0,
		MaxContextTokens: 128000,
		MaxOutputTokens:  4096,
	},
	ModelGPT4oMini: {
		Provider:         ProviderOpenAI,
		InputCPM:         0.15,
		OutputCPM:        0.6,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},

	// Claude models (Anthropic)
	ModelClaudeSonnet4: {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	ModelClaudeHaiku35: {
		Provider:         ProviderAnthropic,
		InputCPM:         0.8,
		OutputCPM:        4.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},

	// Google Gemini models
	ModelGemini25Flash: {
		Provider:         ProviderGoogle,
		InputCPM:         0.30,
		OutputCPM:        2.50,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  65536,
	},
}

// ProviderPattern represents a pattern for inferring provider from model name.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns defines rules for inferring providers from unknown model names.
//
//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	// Ollama models - common open-source model prefixes
	{"phi", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"ollama:", ProviderOllama}, // Explicit prefix like "ollama:phi4"
}

// GetModelProvider returns the API provider for a given model.
// First checks KnownModels, then tries pattern matching.
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}

	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}

	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match - cannot determine API provider", modelName)
}

// GetModelInfo returns the ModelInfo for a given model name.
// Returns the info and true if found in KnownModels, or a default info with inferred provider and false if not found.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, exists := KnownModels[modelName]; exists {
		return info, true
	}

	provider, _ := GetModelProvider(modelName)

	// Conservative defaults for unknown models
	return ModelInfo{
		Provider:         provider,
		MaxContextTokens: 32000,
		MaxOutputTokens:  4096,
	}, false
}

// CalculateCost calculates the cost in USD for a given model and token usage.
// Returns 0 cost for unknown models (allows using new models without pricing data).
func CalculateCost(modelName string, promptTokens, completionTokens int) float64 {
	info, exists := KnownModels[modelName]
	if !exists {
		return 0.0
	}
	inputCost := (float64(promptTokens) / 1_000_000.0) * info.InputCPM
	outputCost := (float64(completionTokens) / 1_000_000.0) * info.OutputCPM
	return inputCost + outputCost
}

// All constants bundled together for easy maintenance.
const (
	SchemaVersion = "1.0"

	// Project layout.
	ConfigDir        = ".cblit"
	ConfigFilename   = "config.jsonc"
	DatabaseFilename = "sessions.db"

	// Model name constants.
	ModelGPT35Turbo    = "gpt-3.5-turbo"
	ModelGPT4o         = "gpt-4o"
	ModelGPT4oMini     = "gpt-4o-mini"
	ModelClaudeSonnet4 = "claude-sonnet-4-5"
	ModelClaudeHaiku35 = "claude-3-5-haiku-latest"
	ModelGemini25Flash = "gemini-2.5-flash"
	DefaultModel       = ModelGPT35Turbo

	// Session defaults.
	DefaultMaxReplyTokens    = 1024
	DefaultTemperature       = 0.7
	DefaultStructuredRetries = 3

	// Resilience defaults.
	DefaultRequestTimeout  = 3 * time.Minute
	MaxRetryAttempts       = 3   // Maximum number of attempts for transient failures
	RetryBackoffMultiplier = 2.0 // Exponential backoff multiplier for retries

	// Provider constants for middleware rate limiting.
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"

	// API key environment variable names.
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"

	DefaultOllamaHost = "http://localhost:11434"
)

// RetryConfig defines configuration for retry behavior.
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts" yaml:"max_attempts"`     // Maximum number of attempts (including initial)
	InitialDelay  time.Duration `json:"initial_delay" yaml:"initial_delay"`   // Initial delay before first retry
	MaxDelay      time.Duration `json:"max_delay" yaml:"max_delay"`           // Maximum delay between retries
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"` // Multiplier for exponential backoff
	Jitter        bool          `json:"jitter" yaml:"jitter"`                 // Add random jitter to prevent thundering herd
}

// ProviderLimits defines rate limiting configuration for a specific API provider.
type ProviderLimits struct {
	TokensPerMinute int `json:"tokens_per_minute" yaml:"tokens_per_minute"`
	MaxConcurrency  int `json:"max_concurrency" yaml:"max_concurrency"`
}

// RateLimitConfig defines rate limiting configuration grouped by API provider.
type RateLimitConfig struct {
	Anthropic ProviderLimits `json:"anthropic" yaml:"anthropic"`
	OpenAI    ProviderLimits `json:"openai" yaml:"openai"`
	Google    ProviderLimits `json:"google" yaml:"google"`
	Ollama    ProviderLimits `json:"ollama" yaml:"ollama"`
}

// For returns the limits configured for provider.
func (r RateLimitConfig) For(provider string) ProviderLimits {
	switch provider {
	case ProviderAnthropic:
		return r.Anthropic
	case ProviderOpenAI:
		return r.OpenAI
	case ProviderGoogle:
		return r.Google
	case ProviderOllama:
		return r.Ollama
	default:
		return ProviderLimits{}
	}
}

// ProviderDefaults defines default rate limits for each provider.
//
//nolint:gochecknoglobals // Intentional global for provider defaults
var ProviderDefaults = map[string]ProviderLimits{
	ProviderAnthropic: {TokensPerMinute: 300000, MaxConcurrency: 5},
	ProviderOpenAI:    {TokensPerMinute: 150000, MaxConcurrency: 5},
	ProviderGoogle:    {TokensPerMinute: 1200000, MaxConcurrency: 5},
	ProviderOllama:    {TokensPerMinute: 1000000, MaxConcurrency: 2}, // Local inference, GPU bound
}

// ResilienceConfig bundles all resilience-related middleware configuration.
type ResilienceConfig struct {
	Retry     RetryConfig     `json:"retry" yaml:"retry"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Timeout   time.Duration   `json:"timeout" yaml:"timeout"` // Per-request timeout
}

// MetricsConfig defines configuration for metrics collection.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Listen    string `json:"listen" yaml:"listen"` // Address for the /metrics endpoint
}

// ModelConfig selects the remote model.
type ModelConfig struct {
	Name    string `json:"name" yaml:"name"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"` // Override the provider endpoint
}

// SessionConfig holds per-session exchange settings.
type SessionConfig struct {
	SystemPrompt      string  `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	MaxReplyTokens    int     `json:"max_reply_tokens" yaml:"max_reply_tokens"`
	Temperature       float32 `json:"temperature" yaml:"temperature"`
	MaxEvictions      int     `json:"max_evictions" yaml:"max_evictions"` // 0 = evict until the window is exhausted
	PreflightEviction bool    `json:"preflight_eviction" yaml:"preflight_eviction"`
	MaxContextTokens  int     `json:"max_context_tokens,omitempty" yaml:"max_context_tokens,omitempty"` // 0 = take from KnownModels
	StructuredRetries *int    `json:"structured_retries,omitempty" yaml:"structured_retries,omitempty"` // nil = DefaultStructuredRetries
}

// Retries returns the structured-reply regeneration budget. An explicit 0 disables regeneration.
func (s SessionConfig) Retries() int {
	if s.StructuredRetries == nil {
		return DefaultStructuredRetries
	}
	return *s.StructuredRetries
}

// StoreConfig locates the session database.
type StoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

// LoggingConfig controls the zap sink behind logx.
type LoggingConfig struct {
	Level        string   `json:"level" yaml:"level"`
	Development  bool     `json:"development" yaml:"development"`
	DebugDomains []string `json:"debug_domains,omitempty" yaml:"debug_domains,omitempty"`
}

// Config is the root configuration document.
type Config struct {
	SchemaVersion string           `json:"schema_version" yaml:"schema_version"`
	Model         ModelConfig      `json:"model" yaml:"model"`
	Session       SessionConfig    `json:"session" yaml:"session"`
	Resilience    ResilienceConfig `json:"resilience" yaml:"resilience"`
	Metrics       MetricsConfig    `json:"metrics" yaml:"metrics"`
	Store         StoreConfig      `json:"store" yaml:"store"`
	Logging       LoggingConfig    `json:"logging" yaml:"logging"`
}

// Default returns a fully populated configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the configuration at path. A missing file yields Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file %s not found, using defaults", path)
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config %s: %w", path, err)
		}
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path in the format implied by its extension.
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid config: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SchemaVersion
	}
	if cfg.Model.Name == "" {
		cfg.Model.Name = DefaultModel
	}

	if cfg.Session.MaxReplyTokens == 0 {
		cfg.Session.MaxReplyTokens = DefaultMaxReplyTokens
	}
	if cfg.Session.Temperature == 0 {
		cfg.Session.Temperature = DefaultTemperature
	}

	retry := &cfg.Resilience.Retry
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = MaxRetryAttempts
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 500 * time.Millisecond
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 30 * time.Second
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = RetryBackoffMultiplier
	}

	limits := &cfg.Resilience.RateLimit
	for provider, target := range map[string]*ProviderLimits{
		ProviderAnthropic: &limits.Anthropic,
		ProviderOpenAI:    &limits.OpenAI,
		ProviderGoogle:    &limits.Google,
		ProviderOllama:    &limits.Ollama,
	} {
		def := ProviderDefaults[provider]
		if target.TokensPerMinute == 0 {
			target.TokensPerMinute = def.TokensPerMinute
		}
		if target.MaxConcurrency == 0 {
			target.MaxConcurrency = def.MaxConcurrency
		}
	}

	if cfg.Resilience.Timeout == 0 {
		cfg.Resilience.Timeout = DefaultRequestTimeout
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "cblit"
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = "127.0.0.1:9464"
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(ConfigDir, DatabaseFilename)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks field ranges and model resolution.
func (c *Config) Validate() error {
	if c.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema version %q (expected %q)", c.SchemaVersion, SchemaVersion)
	}
	if _, err := GetModelProvider(c.Model.Name); err != nil {
		return err
	}
	if c.Session.MaxReplyTokens < 0 {
		return fmt.Errorf("session.max_reply_tokens must be non-negative, got %d", c.Session.MaxReplyTokens)
	}
	if c.Session.Temperature < 0 || c.Session.Temperature > 2 {
		return fmt.Errorf("session.temperature must be within [0, 2], got %v", c.Session.Temperature)
	}
	if c.Session.MaxEvictions < 0 {
		return fmt.Errorf("session.max_evictions must be non-negative, got %d", c.Session.MaxEvictions)
	}
	if c.Session.MaxContextTokens < 0 {
		return fmt.Errorf("session.max_context_tokens must be non-negative, got %d", c.Session.MaxContextTokens)
	}
	if c.Session.Retries() < 0 {
		return fmt.Errorf("session.structured_retries must be non-negative, got %d", c.Session.Retries())
	}
	if c.Resilience.Retry.MaxAttempts < 1 {
		return fmt.Errorf("resilience.retry.max_attempts must be at least 1, got %d", c.Resilience.Retry.MaxAttempts)
	}
	if c.Resilience.Retry.BackoffFactor < 1 {
		return fmt.Errorf("resilience.retry.backoff_factor must be at least 1, got %v", c.Resilience.Retry.BackoffFactor)
	}
	return nil
}

// ContextWindow returns the session's context budget: the explicit
// max_context_tokens when set, otherwise the window of the configured model.
// It is resolved on each call so a model override after loading is honoured.
func (c *Config) ContextWindow() int {
	if c.Session.MaxContextTokens > 0 {
		return c.Session.MaxContextTokens
	}
	info, _ := GetModelInfo(c.Model.Name)
	return info.MaxContextTokens
}

// Provider resolves the provider of the configured model.
func (c *Config) Provider() (string, error) {
	return GetModelProvider(c.Model.Name)
}

// GetAPIKey returns the API key for a given provider.
// Checks secrets file first, then falls back to environment variables.
// For Ollama, returns the host URL instead of an API key.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		if host, err := GetSecret(EnvOllamaHost); err == nil {
			return host, nil
		}
		return DefaultOllamaHost, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	key, err := GetSecret(envVar)
	if err == nil && key != "" {
		return key, nil
	}

	return "", fmt.Errorf("API key not found: %s not found in secrets file or environment variables", envVar)
}
