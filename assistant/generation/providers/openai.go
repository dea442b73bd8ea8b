package providers

import (
	"context"
	"encoding/json"
	"fmt"

	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"

	openai "github.com/sashabaranov/go-openai"
)

// openAIBackend speaks the OpenAI chat completions protocol. Mistral exposes
// the same protocol and is served by it with a different base URL.
type openAIBackend struct {
	client         *openai.Client
	model          string
	embeddingModel string
}

var _ Backend = (*openAIBackend)(nil)

func newOpenAIBackend(_ context.Context, cfg Config) (Backend, error) {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAIBackend{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
	}, nil
}

func (b *openAIBackend) Complete(ctx context.Context, req Request) (Completion, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    toOpenAIMessages(req.System, req.Turns),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := b.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("no choices in response")
	}

	msg := resp.Choices[0].Message
	out := Completion{Content: msg.Content, TokensUsed: resp.Usage.TotalTokens}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ports.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

func (b *openAIBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := b.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(b.embeddingModel),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}

func toOpenAIMessages(system string, turns []ports.Turn) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, turn := range turns {
		msg := openai.ChatCompletionMessage{Content: turn.Content}
		switch turn.Role {
		case ports.RoleSystem:
			msg.Role = openai.ChatMessageRoleSystem
		case ports.RoleAssistant:
			msg.Role = openai.ChatMessageRoleAssistant
			for _, call := range turn.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
				})
			}
		case ports.RoleTool:
			msg.Role = openai.ChatMessageRoleTool
			msg.ToolCallID = turn.ToolCallID
			msg.Name = turn.Name
		default:
			msg.Role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func toOpenAITools(specs []ports.ToolSpec) []openai.Tool {
	tools := make([]openai.Tool, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schemaOrEmpty(spec.Parameters),
			},
		})
	}
	return tools
}

// schemaOrEmpty returns a schema that vendors accept for tools without
// declared parameters.
func schemaOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return raw
}
