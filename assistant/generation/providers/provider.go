// Package providers adapts vendor LLM SDKs to a single capability set used by
// the agent: text generation, tool-calling chat, embeddings, and prompt-built
// classification, sentiment, and summarization.
package providers

import (
	"context"
	"errors"

	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"
)

// ErrUnsupported is returned when a backend lacks a capability, e.g.
// embeddings on a chat-only vendor.
var ErrUnsupported = errors.New("capability not supported by provider")

// ErrNoCategories is returned by ClassifyText when called without categories.
var ErrNoCategories = errors.New("at least one category is required")

// Options override the provider defaults for one call. Zero values keep the
// configured default.
type Options struct {
	Temperature float32
	MaxTokens   int
}

// TextResult is the outcome of GenerateText.
type TextResult struct {
	Content    string
	Model      string
	TokensUsed int // 0 when the backend does not report usage
}

// EmbeddingResult is the outcome of GenerateEmbedding.
type EmbeddingResult struct {
	Embedding []float32
	Model     string
}

// Classification is the outcome of ClassifyText.
type Classification struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// SentimentLabel is one of the four recognized sentiments.
type SentimentLabel string

const (
	SentimentPositive   SentimentLabel = "positive"
	SentimentNegative   SentimentLabel = "negative"
	SentimentNeutral    SentimentLabel = "neutral"
	SentimentFrustrated SentimentLabel = "frustrated"
)

// Sentiment is the outcome of AnalyzeSentiment. Score is the model's
// confidence in Label, in [0, 1].
type Sentiment struct {
	Label SentimentLabel `json:"sentiment"`
	Score float64        `json:"score"`
}

// ChatResult is the outcome of one tool-calling chat round trip.
type ChatResult = ports.ChatResult

// Provider is the capability set every backend exposes.
type Provider interface {
	Name() string
	Model() string
	GenerateText(ctx context.Context, systemPrompt string, turns []ports.Turn, opts Options) (TextResult, error)
	GenerateEmbedding(ctx context.Context, text string) (EmbeddingResult, error)
	ClassifyText(ctx context.Context, text string, categories []string, contextHint string) (Classification, error)
	AnalyzeSentiment(ctx context.Context, text string) (Sentiment, error)
	Summarize(ctx context.Context, text string, maxLength int) (string, error)
	Chat(ctx context.Context, turns []ports.Turn, tools []ports.ToolSpec) (ChatResult, error)
}

// Request is what a Backend receives for one completion.
type Request struct {
	System      string // prepended system instructions, may be empty
	Turns       []ports.Turn
	Tools       []ports.ToolSpec
	Temperature float32
	MaxTokens   int
	JSON        bool // ask the backend for a JSON object reply
}

// Completion is a Backend's reply.
type Completion struct {
	Content    string
	ToolCalls  []ports.ToolCall
	TokensUsed int
}

// Backend is the vendor-specific part of a provider.
type Backend interface {
	Complete(ctx context.Context, req Request) (Completion, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}
