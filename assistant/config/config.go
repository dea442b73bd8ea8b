package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/guild-assistant/assistant"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Agent     AgentConfig     `mapstructure:"agent"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	Pacing    PacingConfig    `mapstructure:"pacing"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Embedding ProviderConfig  `mapstructure:"embedding"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Harness   HarnessConfig   `mapstructure:"harness"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AgentConfig stores the conversational behaviour of the assistant.
type AgentConfig struct {
	BotID              string `mapstructure:"bot_id"`              // Author id of the assistant itself
	SystemPrompt       string `mapstructure:"system_prompt"`       // Seeded as the first turn of every conversation
	ModerationReply    string `mapstructure:"moderation_reply"`    // Sent on abusive input; empty means silent
	ClarificationReply string `mapstructure:"clarification_reply"` // Sent on too-short input; empty means silent
	FallbackReply      string `mapstructure:"fallback_reply"`      // Sent when a generation cycle fails
}

// MemoryConfig stores conversation memory bounds.
type MemoryConfig struct {
	MaxMessages   int           `mapstructure:"max_messages"`
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RetrievalConfig stores similarity search settings.
type RetrievalConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	K                int           `mapstructure:"k"`
	Threshold        float64       `mapstructure:"threshold"`
	CacheCapacity    int           `mapstructure:"cache_capacity"` // Query embedding cache entries
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	EmbeddingTimeout time.Duration `mapstructure:"embedding_timeout"`
}

// SafetyConfig points at the moderation policy.
type SafetyConfig struct {
	PolicyFile string `mapstructure:"policy_file"` // Empty uses the embedded default policy
	Watch      bool   `mapstructure:"watch"`       // Reload the policy file on change
}

// PacingConfig stores reply pacing settings.
type PacingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	BaseSeconds float64 `mapstructure:"base_seconds"`
}

// ProviderConfig selects a generation backend by name and model.
type ProviderConfig struct {
	Name        string        `mapstructure:"name"`     // "openai", "anthropic", "ollama", "gemini", "mistral" or an alias
	Model       string        `mapstructure:"model"`    // Backend-specific model id
	APIKey      string        `mapstructure:"api_key"`  // Falls back to the vendor env var
	BaseURL     string        `mapstructure:"base_url"` // Optional endpoint override
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// BridgeConfig stores the backend tool-bridge connection details.
type BridgeConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Path        string        `mapstructure:"path"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	CatalogFile string        `mapstructure:"catalog_file"` // Empty uses the embedded tool catalog
}

// HarnessConfig stores tool-calling loop settings.
type HarnessConfig struct {
	// Policies
	MaxIterations int           `mapstructure:"max_iterations"` // Maximum chat round trips per cycle
	ToolTimeout   time.Duration `mapstructure:"tool_timeout"`   // Per-tool deadline

	// Safety and validation
	EnableGuardrails bool     `mapstructure:"enable_guardrails"` // Validate tool calls before dispatch
	AllowedTools     []string `mapstructure:"allowed_tools"`     // Tool names or "prefix*"; empty allows all

	// Rate limiting
	RateLimitEnabled bool          `mapstructure:"rate_limit_enabled"`
	RateLimitBurst   int           `mapstructure:"rate_limit_burst"`
	RateLimitEvery   time.Duration `mapstructure:"rate_limit_every"`

	// Telemetry
	EnableTracing bool `mapstructure:"enable_tracing"`

	// Performance
	ToolConcurrency int `mapstructure:"tool_concurrency"` // Max concurrent tool executions
}

// KnowledgeConfig stores the retrieval corpus database settings.
type KnowledgeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// LoggingConfig stores log output settings.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"` // Human-readable output on stderr
	File    string `mapstructure:"file"`    // Optional JSON log file
}

// MetricsConfig stores the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("/etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(internal.DefaultEnvPrefix)
	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. provider.name becomes ASSISTANT_PROVIDER_NAME
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults and environment are used.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Agent defaults
	v.SetDefault("agent.bot_id", "")
	v.SetDefault("agent.system_prompt", "You are a friendly support assistant for this community. Answer briefly and use the available tools for ticket actions.")
	v.SetDefault("agent.moderation_reply", "Let's keep it respectful, please.")
	v.SetDefault("agent.clarification_reply", "Could you tell me a bit more about what you need?")
	v.SetDefault("agent.fallback_reply", "Sorry, I can't answer right now. Please try again in a moment.")

	// Memory defaults
	v.SetDefault("memory.max_messages", 50)
	v.SetDefault("memory.ttl", "30m")
	v.SetDefault("memory.sweep_interval", "5m")

	// Retrieval defaults
	v.SetDefault("retrieval.enabled", true)
	v.SetDefault("retrieval.k", 5)
	v.SetDefault("retrieval.threshold", 0.7)
	v.SetDefault("retrieval.cache_capacity", 1000)
	v.SetDefault("retrieval.cache_ttl", "1h")
	v.SetDefault("retrieval.embedding_timeout", "10s")

	// Safety defaults
	v.SetDefault("safety.policy_file", "")
	v.SetDefault("safety.watch", true)

	// Pacing defaults
	v.SetDefault("pacing.enabled", true)
	v.SetDefault("pacing.base_seconds", 1.5)

	// Generation defaults
	v.SetDefault("provider.name", "openai")
	v.SetDefault("provider.model", "gpt-4o-mini")
	v.SetDefault("provider.temperature", 0.7)
	v.SetDefault("provider.max_tokens", 1024)
	v.SetDefault("provider.timeout", "60s")

	v.SetDefault("embedding.name", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.timeout", "15s")

	// Bridge defaults
	v.SetDefault("bridge.host", "127.0.0.1")
	v.SetDefault("bridge.port", 8765)
	v.SetDefault("bridge.path", "/tools")
	v.SetDefault("bridge.call_timeout", "15s")
	v.SetDefault("bridge.dial_timeout", "5s")
	v.SetDefault("bridge.catalog_file", "")

	// Harness defaults
	v.SetDefault("harness.max_iterations", 5)
	v.SetDefault("harness.tool_timeout", "30s")
	v.SetDefault("harness.enable_guardrails", true)
	v.SetDefault("harness.allowed_tools", []string{}) // Empty means allow all by default
	v.SetDefault("harness.rate_limit_enabled", true)
	v.SetDefault("harness.rate_limit_burst", 10)
	v.SetDefault("harness.rate_limit_every", "200ms")
	v.SetDefault("harness.enable_tracing", true)
	v.SetDefault("harness.tool_concurrency", 4)

	// Knowledge store defaults
	v.SetDefault("knowledge.enabled", true)
	v.SetDefault("knowledge.dsn", internal.DefaultDatabaseDSN)

	// Observability defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9464")
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if c.Memory.MaxMessages < 1 {
		return &internal.ConfigurationError{Field: "memory.max_messages", Value: fmt.Sprint(c.Memory.MaxMessages), Err: errors.New("must be at least 1")}
	}
	if c.Memory.TTL <= 0 {
		return &internal.ConfigurationError{Field: "memory.ttl", Value: c.Memory.TTL.String(), Err: errors.New("must be positive")}
	}
	if c.Retrieval.Threshold < -1 || c.Retrieval.Threshold > 1 {
		return &internal.ConfigurationError{Field: "retrieval.threshold", Value: fmt.Sprint(c.Retrieval.Threshold), Err: errors.New("must be within [-1, 1]")}
	}
	if c.Pacing.BaseSeconds < 0 {
		return &internal.ConfigurationError{Field: "pacing.base_seconds", Value: fmt.Sprint(c.Pacing.BaseSeconds), Err: errors.New("must not be negative")}
	}
	if c.Provider.Name == "" {
		return &internal.ConfigurationError{Field: "provider.name", Err: errors.New("required")}
	}
	return nil
}

// BridgeURL returns the websocket address of the tool bridge.
func (c *BridgeConfig) BridgeURL() string {
	path := c.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("ws://%s:%d%s", c.Host, c.Port, path)
}
