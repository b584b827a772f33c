// Package provider builds remote completion clients with their middleware chain.
package provider

import (
	"fmt"
	"strings"

	"github.com/d-lowl/cblit/pkg/config"
	"github.com/d-lowl/cblit/pkg/llm"
	"github.com/d-lowl/cblit/pkg/llm/middleware/resilience/ratelimit"
	"github.com/d-lowl/cblit/pkg/llm/middleware/resilience/retry"
	"github.com/d-lowl/cblit/pkg/llm/middleware/resilience/timeout"
	"github.com/d-lowl/cblit/pkg/logx"
	"github.com/d-lowl/cblit/pkg/metrics"
	"github.com/d-lowl/cblit/pkg/provider/internal/llmimpl/anthropic"
	"github.com/d-lowl/cblit/pkg/provider/internal/llmimpl/google"
	"github.com/d-lowl/cblit/pkg/provider/internal/llmimpl/ollama"
	"github.com/d-lowl/cblit/pkg/provider/internal/llmimpl/openaiofficial"
	"github.com/d-lowl/cblit/pkg/utils"
)

// Factory creates LLM clients with properly configured middleware chains.
// Clients from one factory share rate limiters, so concurrent sessions draw from the same quota.
type Factory struct {
	config    *config.Config
	recorder  metrics.Recorder
	limiters  *ratelimit.ProviderLimiterMap
	counter   *utils.TokenCounter
	logger    *logx.Logger
	keyLookup func(provider string) (string, error)
}

// NewFactory creates a client factory. A nil recorder disables metrics.
func NewFactory(cfg *config.Config, recorder metrics.Recorder) (*Factory, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}

	counter, err := utils.NewTokenCounter(cfg.Model.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create token counter: %w", err)
	}

	return &Factory{
		config:    cfg,
		recorder:  recorder,
		limiters:  ratelimit.NewProviderLimiterMap(cfg.Resilience.RateLimit),
		counter:   counter,
		logger:    logx.NewLogger("provider"),
		keyLookup: config.GetAPIKey,
	}, nil
}

// NewClient is a shorthand for NewFactory followed by CreateClient for the configured model.
func NewClient(cfg *config.Config, recorder metrics.Recorder) (llm.LLMClient, error) {
	f, err := NewFactory(cfg, recorder)
	if err != nil {
		return nil, err
	}
	return f.CreateClient("")
}

// CreateClient creates a client for modelName (the configured model when empty) with the full middleware chain.
// The API key comes from the secrets file or the environment, based on the model's provider.
func (f *Factory) CreateClient(modelName string) (llm.LLMClient, error) {
	if modelName == "" {
		modelName = f.config.Model.Name
	}

	providerName, err := config.GetModelProvider(modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", modelName, err)
	}

	apiKey, err := f.keyLookup(providerName)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", providerName, err)
	}

	raw, err := newRawClient(providerName, modelName, apiKey, f.config.Model.BaseURL)
	if err != nil {
		return nil, err
	}

	f.logger.Debug("created %s client for %s", providerName, modelName)
	return f.Wrap(raw), nil
}

// Wrap applies the middleware chain to a raw client.
//
// Metrics -> Retry -> RateLimit -> Timeout -> RawClient
//
// Timeout sits innermost so each attempt gets its own deadline.
func (f *Factory) Wrap(raw llm.LLMClient) llm.LLMClient {
	retryPolicy := retry.NewPolicy(retry.FromConfig(f.config.Resilience.Retry), nil)

	return llm.Chain(raw,
		metrics.Middleware(f.recorder, metrics.EstimatingUsageExtractor(f.counter), f.logger),
		retry.Middleware(retryPolicy, f.logger),
		ratelimit.Middleware(f.limiters, ratelimit.CounterEstimator{Counter: f.counter}, f.recorder),
		timeout.Middleware(f.config.Resilience.Timeout),
	)
}

// Limiters exposes the shared limiter map for stats reporting.
func (f *Factory) Limiters() *ratelimit.ProviderLimiterMap {
	return f.limiters
}

func newRawClient(providerName, modelName, apiKey, baseURL string) (llm.LLMClient, error) {
	switch providerName {
	case config.ProviderOpenAI:
		return openaiofficial.NewOfficialClientWithModel(apiKey, modelName, baseURL), nil
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClientWithModel(apiKey, modelName, baseURL), nil
	case config.ProviderGoogle:
		return google.NewGeminiClientWithModel(apiKey, modelName, baseURL), nil
	case config.ProviderOllama:
		host := apiKey
		if baseURL != "" {
			host = baseURL
		}
		return ollama.NewOllamaClientWithModel(host, strings.TrimPrefix(modelName, "ollama:")), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerName)
	}
}
