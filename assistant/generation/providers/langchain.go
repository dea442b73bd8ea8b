package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
)

// langchainBackend adapts a langchaingo model. Embeddings are available
// only when an embedder was configured. With textTools set, tools are
// described in the system prompt and tool traffic is sent as plain text,
// for clients that carry text parts only; the harness parses the JSON
// tool calls such models write.
type langchainBackend struct {
	llm       llms.Model
	embedder  embeddings.Embedder
	textTools bool
}

var _ Backend = (*langchainBackend)(nil)

func newAnthropicBackend(_ context.Context, cfg Config) (Backend, error) {
	opts := []anthropic.Option{
		anthropic.WithToken(cfg.APIKey),
		anthropic.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	llm, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create anthropic model: %w", err)
	}
	return &langchainBackend{llm: llm}, nil
}

func newOllamaBackend(_ context.Context, cfg Config) (Backend, error) {
	llm, err := ollama.New(
		ollama.WithModel(cfg.Model),
		ollama.WithServerURL(cfg.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama model: %w", err)
	}

	embedLLM := llm
	if cfg.EmbeddingModel != "" && cfg.EmbeddingModel != cfg.Model {
		embedLLM, err = ollama.New(
			ollama.WithModel(cfg.EmbeddingModel),
			ollama.WithServerURL(cfg.BaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedding model: %w", err)
		}
	}
	embedder, err := embeddings.NewEmbedder(embedLLM)
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}
	return &langchainBackend{llm: llm, embedder: embedder, textTools: true}, nil
}

func (b *langchainBackend) Complete(ctx context.Context, req Request) (Completion, error) {
	opts := []llms.CallOption{}
	if req.Temperature != 0 {
		opts = append(opts, llms.WithTemperature(float64(req.Temperature)))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	var msgs []llms.MessageContent
	if b.textTools {
		system := req.System
		if len(req.Tools) > 0 {
			system = strings.TrimSpace(system + "\n\n" + toolInstructions(req.Tools))
		}
		msgs = toTextMessages(system, req.Turns)
	} else {
		if len(req.Tools) > 0 {
			opts = append(opts, llms.WithTools(toLangchainTools(req.Tools)))
		}
		msgs = toLangchainMessages(req.System, req.Turns)
	}

	resp, err := b.llm.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("no response choices")
	}

	// Some vendors return one choice per content block, so text and tool
	// calls of a single reply can arrive in separate choices.
	var (
		out   Completion
		texts []string
	)
	for _, choice := range resp.Choices {
		if choice == nil {
			continue
		}
		if choice.Content != "" {
			texts = append(texts, choice.Content)
		}
		out.TokensUsed = max(out.TokensUsed, tokensFromGenerationInfo(choice.GenerationInfo))
		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			out.ToolCalls = append(out.ToolCalls, ports.ToolCall{
				ID:        tc.ID,
				Name:      tc.FunctionCall.Name,
				Arguments: json.RawMessage(tc.FunctionCall.Arguments),
			})
		}
	}
	out.Content = strings.Join(texts, "\n")
	return out, nil
}

func (b *langchainBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	if b.embedder == nil {
		return nil, ErrUnsupported
	}
	return b.embedder.EmbedQuery(ctx, text)
}

// toLangchainMessages folds every system instruction into one leading
// system message; vendors behind langchaingo accept only one. langchaingo
// reads a single part per assistant and tool message, so an assistant turn
// becomes one message for its text and one per tool call.
func toLangchainMessages(system string, turns []ports.Turn) []llms.MessageContent {
	systemText, rest := splitSystem(system, turns)

	msgs := make([]llms.MessageContent, 0, len(rest)+1)
	if systemText != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, systemText))
	}
	for _, turn := range rest {
		switch turn.Role {
		case ports.RoleAssistant:
			if turn.Content != "" || len(turn.ToolCalls) == 0 {
				msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeAI, turn.Content))
			}
			for _, call := range turn.ToolCalls {
				msgs = append(msgs, llms.MessageContent{
					Role: llms.ChatMessageTypeAI,
					Parts: []llms.ContentPart{llms.ToolCall{
						ID:   call.ID,
						Type: "function",
						FunctionCall: &llms.FunctionCall{
							Name:      call.Name,
							Arguments: string(argumentsOrEmpty(call.Arguments)),
						},
					}},
				})
			}
		case ports.RoleTool:
			msgs = append(msgs, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: turn.ToolCallID,
					Name:       turn.Name,
					Content:    turn.Content,
				}},
			})
		default:
			msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, turn.Content))
		}
	}
	return msgs
}

// toTextMessages is toLangchainMessages for text-only clients: tool calls
// are written as the JSON document the model is asked to produce, and tool
// results as tool messages naming the tool.
func toTextMessages(system string, turns []ports.Turn) []llms.MessageContent {
	systemText, rest := splitSystem(system, turns)

	msgs := make([]llms.MessageContent, 0, len(rest)+1)
	if systemText != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, systemText))
	}
	for _, turn := range rest {
		switch turn.Role {
		case ports.RoleAssistant:
			text := turn.Content
			if len(turn.ToolCalls) > 0 {
				text = strings.TrimSpace(text + "\n" + renderToolCalls(turn.ToolCalls))
			}
			msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeAI, text))
		case ports.RoleTool:
			msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeTool,
				fmt.Sprintf("Result of %s: %s", turn.Name, turn.Content)))
		default:
			msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, turn.Content))
		}
	}
	return msgs
}

type textCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func renderToolCalls(calls []ports.ToolCall) string {
	doc := struct {
		ToolCalls []textCall `json:"tool_calls"`
	}{ToolCalls: make([]textCall, 0, len(calls))}
	for _, call := range calls {
		doc.ToolCalls = append(doc.ToolCalls, textCall{Name: call.Name, Arguments: argumentsOrEmpty(call.Arguments)})
	}
	out, _ := json.Marshal(doc)
	return string(out)
}

// toolInstructions describes tools for models without a tool-calling API.
func toolInstructions(specs []ports.ToolSpec) string {
	var b strings.Builder
	b.WriteString("You can call tools. To call tools, reply with only a JSON document of the form ")
	b.WriteString(`{"tool_calls": [{"name": "<tool>", "arguments": {...}}]}`)
	b.WriteString(" and nothing else. Tool results are sent back to you as tool messages.\n\nTools:")
	for _, spec := range specs {
		fmt.Fprintf(&b, "\n- %s: %s\n  parameters: %s", spec.Name, spec.Description, schemaOrEmpty(spec.Parameters))
	}
	return b.String()
}

func argumentsOrEmpty(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage(`{}`)
	}
	return args
}

func toLangchainTools(specs []ports.ToolSpec) []llms.Tool {
	tools := make([]llms.Tool, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schemaOrEmpty(spec.Parameters),
			},
		})
	}
	return tools
}

// splitSystem joins system and every system turn, returning the remaining
// turns in order.
func splitSystem(system string, turns []ports.Turn) (string, []ports.Turn) {
	var parts []string
	if s := strings.TrimSpace(system); s != "" {
		parts = append(parts, s)
	}
	rest := make([]ports.Turn, 0, len(turns))
	for _, turn := range turns {
		if turn.Role == ports.RoleSystem {
			if s := strings.TrimSpace(turn.Content); s != "" {
				parts = append(parts, s)
			}
			continue
		}
		rest = append(rest, turn)
	}
	return strings.Join(parts, "\n\n"), rest
}

// tokensFromGenerationInfo reads the usage keys langchaingo backends report.
func tokensFromGenerationInfo(info map[string]any) int {
	if info == nil {
		return 0
	}
	for _, key := range []string{"TotalTokens", "total_tokens"} {
		if n, ok := asInt(info[key]); ok {
			return n
		}
	}
	in, okIn := asInt(info["InputTokens"])
	out, okOut := asInt(info["OutputTokens"])
	if okIn || okOut {
		return in + out
	}
	return 0
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
