package providers

import (
	"context"
	"errors"
	"testing"

	internal "github.com/ZanzyTHEbar/guild-assistant/assistant"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"openai", "openai", true},
		{"OpenAI", "openai", true},
		{" GPT ", "openai", true},
		{"ChatGPT", "openai", true},
		{"Claude", "anthropic", true},
		{"anthropic", "anthropic", true},
		{"local", "ollama", true},
		{"Google", "gemini", true},
		{"genai", "gemini", true},
		{"MistralAI", "mistral", true},
		{"cohere", "cohere", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := Canonical(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"anthropic", "gemini", "mistral", "ollama", "openai"}, Names())
}

func TestNew_UnknownProviderFailsFast(t *testing.T) {
	_, err := New(context.Background(), Config{Name: "cohere", Model: "x"})
	require.Error(t, err)

	var cfgErr *internal.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "provider.name", cfgErr.Field)
	assert.Equal(t, "cohere", cfgErr.Value)
	assert.ErrorIs(t, err, internal.ErrUnknownProvider)
}

func TestNew_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := New(context.Background(), Config{Name: "gpt", Model: "gpt-4o-mini"})
	var cfgErr *internal.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "provider.api_key", cfgErr.Field)
}

func TestNew_ResolvesAliases(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	tests := []struct {
		name, model, want string
	}{
		{"ChatGPT", "gpt-4o-mini", "openai"},
		{"claude", "claude-3-5-haiku-latest", "anthropic"},
		{"LOCAL", "llama3.2", "ollama"},
		{"mistralai", "mistral-small-latest", "mistral"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(context.Background(), Config{Name: tt.name, Model: tt.model, APIKey: "k"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
			assert.Equal(t, tt.model, p.Model())
		})
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.ProviderConfig{Name: "claude", Model: "m", Temperature: 0.2, MaxTokens: 64}, zerolog.Nop())
	assert.Equal(t, "claude", cfg.Name)
	assert.Equal(t, 64, cfg.MaxTokens)
	assert.InDelta(t, 0.2, cfg.Temperature, 1e-6)
}
