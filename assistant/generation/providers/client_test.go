package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/guild-assistant/assistant"
	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBackend implements Backend for testing.
type stubBackend struct {
	completeFunc func(ctx context.Context, req Request) (Completion, error)
	embedFunc    func(ctx context.Context, text string) ([]float32, error)
	requests     []Request
}

func (b *stubBackend) Complete(ctx context.Context, req Request) (Completion, error) {
	b.requests = append(b.requests, req)
	if b.completeFunc != nil {
		return b.completeFunc(ctx, req)
	}
	return Completion{Content: "stub completion", TokensUsed: 15}, nil
}

func (b *stubBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	if b.embedFunc != nil {
		return b.embedFunc(ctx, text)
	}
	return []float32{0.1, 0.2}, nil
}

func reply(content string) func(context.Context, Request) (Completion, error) {
	return func(context.Context, Request) (Completion, error) {
		return Completion{Content: content}, nil
	}
}

func TestGenerateText_AppliesDefaultsAndOverrides(t *testing.T) {
	backend := &stubBackend{}
	c := NewClient("openai", "gpt-test", backend, WithDefaults(Options{Temperature: 0.7, MaxTokens: 100}))

	res, err := c.GenerateText(context.Background(), "be brief", []ports.Turn{ports.UserTurn("hi")}, Options{MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "stub completion", res.Content)
	assert.Equal(t, "gpt-test", res.Model)
	assert.Equal(t, 15, res.TokensUsed)

	require.Len(t, backend.requests, 1)
	req := backend.requests[0]
	assert.Equal(t, "be brief", req.System)
	assert.InDelta(t, 0.7, req.Temperature, 1e-6)
	assert.Equal(t, 10, req.MaxTokens)
	assert.False(t, req.JSON)
}

func TestChat_PassesToolsAndReturnsCalls(t *testing.T) {
	backend := &stubBackend{completeFunc: func(_ context.Context, req Request) (Completion, error) {
		return Completion{ToolCalls: []ports.ToolCall{{ID: "1", Name: req.Tools[0].Name, Arguments: json.RawMessage(`{}`)}}}, nil
	}}
	c := NewClient("openai", "gpt-test", backend)

	res, err := c.Chat(context.Background(), []ports.Turn{ports.UserTurn("close my ticket")}, []ports.ToolSpec{{Name: "close_ticket"}})
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "close_ticket", res.ToolCalls[0].Name)
}

func TestClient_WrapsBackendFailuresAsTransport(t *testing.T) {
	backend := &stubBackend{completeFunc: func(context.Context, Request) (Completion, error) {
		return Completion{}, errors.New("connection reset")
	}}
	c := NewClient("gemini", "g", backend)

	_, err := c.Chat(context.Background(), nil, nil)
	require.Error(t, err)

	var te *internal.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "gemini", te.Provider)
	assert.Equal(t, "chat", te.Op)
	assert.True(t, internal.IsTransport(err))
}

func TestClient_UnsupportedIsNotTransport(t *testing.T) {
	backend := &stubBackend{embedFunc: func(context.Context, string) ([]float32, error) {
		return nil, ErrUnsupported
	}}
	c := NewClient("anthropic", "claude", backend)

	_, err := c.GenerateEmbedding(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.False(t, internal.IsTransport(err))
}

func TestClient_TimeoutBoundsCall(t *testing.T) {
	backend := &stubBackend{completeFunc: func(ctx context.Context, _ Request) (Completion, error) {
		<-ctx.Done()
		return Completion{}, ctx.Err()
	}}
	c := NewClient("openai", "gpt", backend, WithTimeout(10*time.Millisecond))

	_, err := c.GenerateText(context.Background(), "", nil, Options{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, internal.IsTransport(err))
}

func TestGenerateEmbedding(t *testing.T) {
	c := NewClient("openai", "gpt", &stubBackend{}, WithEmbeddingModel("embed-small"))

	res, err := c.GenerateEmbedding(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, res.Embedding)
	assert.Equal(t, "embed-small", res.Model)
}

func TestClassifyText(t *testing.T) {
	categories := []string{"billing", "bug", "other"}

	tests := []struct {
		name  string
		reply string
		want  Classification
	}{
		{"valid", `{"category":"bug","confidence":0.9}`, Classification{"bug", 0.9}},
		{"fenced", "```json\n{\"category\":\"billing\",\"confidence\":0.5}\n```", Classification{"billing", 0.5}},
		{"unknown category", `{"category":"spam","confidence":0.9}`, Classification{"billing", 0}},
		{"out of range", `{"category":"bug","confidence":3}`, Classification{"billing", 0}},
		{"not json", "it is a bug", Classification{"billing", 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &stubBackend{completeFunc: reply(tt.reply)}
			c := NewClient("openai", "gpt", backend)

			got, err := c.ClassifyText(context.Background(), "the app crashes", categories, "support server")
			require.NoError(t, err)
			assert.Equal(t, tt.want.Category, got.Category)
			assert.InDelta(t, tt.want.Confidence, got.Confidence, 1e-9)

			require.Len(t, backend.requests, 1)
			assert.True(t, backend.requests[0].JSON)
			assert.Contains(t, backend.requests[0].System, "billing, bug, other")
			assert.Contains(t, backend.requests[0].System, "support server")
		})
	}
}

func TestClassifyText_NoCategories(t *testing.T) {
	c := NewClient("openai", "gpt", &stubBackend{})
	_, err := c.ClassifyText(context.Background(), "x", nil, "")
	assert.ErrorIs(t, err, ErrNoCategories)
}

func TestAnalyzeSentiment(t *testing.T) {
	c := NewClient("openai", "gpt", &stubBackend{completeFunc: reply(`{"sentiment":"frustrated","score":0.8}`)})
	got, err := c.AnalyzeSentiment(context.Background(), "this is the third time I ask")
	require.NoError(t, err)
	assert.Equal(t, SentimentFrustrated, got.Label)
	assert.InDelta(t, 0.8, got.Score, 1e-9)

	c = NewClient("openai", "gpt", &stubBackend{completeFunc: reply(`{"sentiment":"angry","score":0.8}`)})
	got, err = c.AnalyzeSentiment(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, Sentiment{Label: SentimentNeutral, Score: 0}, got)
}

func TestSummarize_TruncatesToMaxLength(t *testing.T) {
	backend := &stubBackend{completeFunc: reply("  héllo wörld, this is long  ")}
	c := NewClient("openai", "gpt", backend)

	got, err := c.Summarize(context.Background(), "long text", 11)
	require.NoError(t, err)
	assert.Equal(t, "héllo wörld", got)
	assert.Contains(t, backend.requests[0].System, "11 characters")

	_, err = c.Summarize(context.Background(), "long text", 0)
	require.NoError(t, err)
	assert.Contains(t, backend.requests[1].System, "280 characters")
}
