// Package retrieval finds knowledge passages related to a message: the
// query is embedded (memoized in a cache), ranked against the guild's slice
// of the similarity index, and packed into a context budget.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness"
	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/knowledge"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/metrics"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/similarity"

	"github.com/rs/zerolog"
)

// DefaultBudget bounds the context injected into one prompt.
var DefaultBudget = harness.Budget{MaxContextTokens: 1200, MaxSnippets: similarity.DefaultTopK}

// Retriever implements knowledge lookup for the agent and the
// knowledge_search tool.
type Retriever struct {
	embedder  knowledge.Embedder
	index     *similarity.Index[knowledge.Passage]
	cache     ports.Cache
	assembler *harness.ContextAssembler
	k         int
	threshold float64
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithCache memoizes query embeddings.
func WithCache(c ports.Cache) Option { return func(r *Retriever) { r.cache = c } }

// WithTopK sets the result bound and the minimum similarity.
func WithTopK(k int, threshold float64) Option {
	return func(r *Retriever) { r.k, r.threshold = k, threshold }
}

// WithEmbeddingTimeout bounds each query embedding call.
func WithEmbeddingTimeout(d time.Duration) Option { return func(r *Retriever) { r.timeout = d } }

// WithBudget sets the context budget used by Augment.
func WithBudget(b harness.Budget) Option {
	return func(r *Retriever) { r.assembler = harness.NewContextAssembler(b, nil) }
}

// WithMetrics counts lookups and cache hits.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Retriever) { r.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Retriever) { r.logger = l.With().Str("component", "retrieval").Logger() }
}

// New creates a Retriever over index.
func New(embedder knowledge.Embedder, index *similarity.Index[knowledge.Passage], opts ...Option) *Retriever {
	r := &Retriever{
		embedder:  embedder,
		index:     index,
		assembler: harness.NewContextAssembler(DefaultBudget, nil),
		k:         similarity.DefaultTopK,
		threshold: similarity.DefaultThreshold,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.k < 1 {
		r.k = similarity.DefaultTopK
	}
	return r
}

// Search returns at most limit passages of scope (and of the global scope)
// whose similarity to query reaches the threshold, best first.
func (r *Retriever) Search(ctx context.Context, scope, query string, limit int) ([]harness.Snippet, error) {
	query = strings.TrimSpace(query)
	if query == "" || r.index.Len() == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > r.k {
		limit = r.k
	}

	vec, err := r.queryVector(ctx, query)
	if err != nil {
		r.metrics.ObserveRetrieval("error")
		return nil, err
	}

	matches := r.index.Search(vec, scope, limit, r.threshold)
	if len(matches) == 0 {
		r.metrics.ObserveRetrieval("miss")
		return nil, nil
	}
	r.metrics.ObserveRetrieval("hit")

	snippets := make([]harness.Snippet, len(matches))
	for i, m := range matches {
		snippets[i] = harness.Snippet{Text: m.Payload.Text, Score: m.Score, Source: m.Payload.Source}
	}
	return snippets, nil
}

// Augment returns the packed context for a message. Retrieval is best
// effort: failures are logged and yield no context.
func (r *Retriever) Augment(ctx context.Context, scope, query string) []string {
	snippets, err := r.Search(ctx, scope, query, r.k)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Warn().Err(err).Str("scope", scope).Msg("retrieval failed, answering without context")
		}
		return nil
	}
	return r.assembler.Pack(snippets, nil)
}

func (r *Retriever) queryVector(ctx context.Context, query string) ([]float64, error) {
	key := strings.ToLower(query)
	if r.cache != nil {
		if blob, ok := r.cache.Get(ctx, key); ok {
			if vec, err := knowledge.DecodeVector(blob); err == nil {
				r.metrics.ObserveEmbeddingCache(true)
				return similarity.FromFloat32(vec), nil
			}
			_ = r.cache.Delete(ctx, key)
		}
		r.metrics.ObserveEmbeddingCache(false)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	res, err := r.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(res.Embedding) == 0 {
		return nil, errors.New("embed query: empty embedding")
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, knowledge.EncodeVector(res.Embedding)); err != nil {
			r.logger.Debug().Err(err).Msg("query embedding not cached")
		}
	}
	return similarity.FromFloat32(res.Embedding), nil
}
