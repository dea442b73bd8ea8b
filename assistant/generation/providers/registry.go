package providers

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/guild-assistant/assistant"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/config"

	"github.com/rs/zerolog"
)

// Config selects and configures one backend.
type Config struct {
	Name           string
	Model          string
	EmbeddingModel string // empty uses the backend default
	APIKey         string // empty falls back to the vendor environment variable
	BaseURL        string
	Temperature    float32
	MaxTokens      int
	Timeout        time.Duration
	Logger         zerolog.Logger
}

// FromConfig maps the application config section onto a provider Config.
func FromConfig(pc config.ProviderConfig, logger zerolog.Logger) Config {
	return Config{
		Name:        pc.Name,
		Model:       pc.Model,
		APIKey:      pc.APIKey,
		BaseURL:     pc.BaseURL,
		Temperature: pc.Temperature,
		MaxTokens:   pc.MaxTokens,
		Timeout:     pc.Timeout,
		Logger:      logger,
	}
}

// Constructor builds a backend for a canonical provider name.
type Constructor func(ctx context.Context, cfg Config) (Backend, error)

type registration struct {
	constructor    Constructor
	apiKeyEnv      string // empty when the backend needs no key
	defaultEmbed   string
	defaultBaseURL string
}

var registry = map[string]registration{
	"openai":    {constructor: newOpenAIBackend, apiKeyEnv: "OPENAI_API_KEY", defaultEmbed: "text-embedding-3-small"},
	"mistral":   {constructor: newOpenAIBackend, apiKeyEnv: "MISTRAL_API_KEY", defaultEmbed: "mistral-embed", defaultBaseURL: "https://api.mistral.ai/v1"},
	"anthropic": {constructor: newAnthropicBackend, apiKeyEnv: "ANTHROPIC_API_KEY"},
	"ollama":    {constructor: newOllamaBackend, defaultEmbed: "nomic-embed-text", defaultBaseURL: "http://127.0.0.1:11434"},
	"gemini":    {constructor: newGeminiBackend, apiKeyEnv: "GEMINI_API_KEY", defaultEmbed: "text-embedding-004"},
}

var aliases = map[string]string{
	"gpt":       "openai",
	"chatgpt":   "openai",
	"mistralai": "mistral",
	"claude":    "anthropic",
	"local":     "ollama",
	"google":    "gemini",
	"genai":     "gemini",
}

// Canonical resolves a provider name or alias, ignoring case and surrounding
// whitespace.
func Canonical(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if target, ok := aliases[key]; ok {
		key = target
	}
	_, ok := registry[key]
	return key, ok
}

// Names lists the canonical provider names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs the provider selected by cfg.Name. Unknown names and
// missing credentials fail here rather than on first use.
func New(ctx context.Context, cfg Config) (*Client, error) {
	name, ok := Canonical(cfg.Name)
	if !ok {
		return nil, &internal.ConfigurationError{Field: "provider.name", Value: cfg.Name, Err: internal.ErrUnknownProvider}
	}
	reg := registry[name]

	if cfg.APIKey == "" && reg.apiKeyEnv != "" {
		cfg.APIKey = os.Getenv(reg.apiKeyEnv)
		if cfg.APIKey == "" {
			return nil, &internal.ConfigurationError{
				Field: "provider.api_key",
				Err:   fmt.Errorf("%s requires an API key (set %s)", name, reg.apiKeyEnv),
			}
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = reg.defaultBaseURL
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = reg.defaultEmbed
	}
	if cfg.Model == "" {
		return nil, &internal.ConfigurationError{Field: "provider.model", Err: fmt.Errorf("%s requires a model", name)}
	}

	backend, err := reg.constructor(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", name, err)
	}

	return NewClient(name, cfg.Model, backend,
		WithDefaults(Options{Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens}),
		WithTimeout(cfg.Timeout),
		WithEmbeddingModel(cfg.EmbeddingModel),
		WithLogger(cfg.Logger),
	), nil
}

// NewEmbedder constructs the provider used for embeddings. Its model is the
// embedding model.
func NewEmbedder(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = cfg.Model
	}
	return New(ctx, cfg)
}
