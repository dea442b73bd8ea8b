package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness"
	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"
)

// KnowledgeSearchName is the tool name offered to the model.
const KnowledgeSearchName = "knowledge_search"

// KnowledgeSchema defines the JSON schema for knowledge search parameters.
const KnowledgeSchema = `{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "minLength": 1,
      "description": "What to look up in the server's knowledge base"
    },
    "limit": {
      "type": "integer",
      "description": "Maximum number of results to return",
      "minimum": 1,
      "maximum": 10,
      "default": 5
    }
  },
  "required": ["query"]
}`

const defaultSearchLimit = 5

// Searcher finds knowledge snippets for a query within a guild.
type Searcher interface {
	Search(ctx context.Context, scope, query string, limit int) ([]harness.Snippet, error)
}

// KnowledgeSearchResult is one hit returned to the model.
type KnowledgeSearchResult struct {
	Text   string  `json:"text"`
	Source string  `json:"source,omitempty"`
	Score  float64 `json:"score"`
}

// KnowledgeSearchTool lets the model query the knowledge base itself when
// the automatic retrieval missed.
type KnowledgeSearchTool struct {
	searcher Searcher
}

// NewKnowledgeSearchTool creates the tool.
func NewKnowledgeSearchTool(searcher Searcher) *KnowledgeSearchTool {
	return &KnowledgeSearchTool{searcher: searcher}
}

// Spec returns the tool declaration.
func (t *KnowledgeSearchTool) Spec() ports.ToolSpec {
	return ports.ToolSpec{
		Name:        KnowledgeSearchName,
		Description: "Search the server's knowledge base (FAQ, rules, guides) for passages relevant to a query.",
		Parameters:  json.RawMessage(KnowledgeSchema),
	}
}

// Invoke runs the search in the guild of the current cycle.
func (t *KnowledgeSearchTool) Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	params.Query = strings.TrimSpace(params.Query)
	if params.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if params.Limit <= 0 {
		params.Limit = defaultSearchLimit
	}

	scope, _ := ScopeFrom(ctx)
	snippets, err := t.searcher.Search(ctx, scope.GuildID, params.Query, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}

	results := make([]KnowledgeSearchResult, 0, len(snippets))
	for _, s := range snippets {
		results = append(results, KnowledgeSearchResult{Text: s.Text, Source: s.Source, Score: s.Score})
	}
	return json.Marshal(map[string]any{"results": results})
}

var _ ports.Tool = (*KnowledgeSearchTool)(nil)
