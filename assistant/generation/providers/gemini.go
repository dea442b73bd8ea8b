package providers

import (
	"context"
	"encoding/json"
	"fmt"

	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// geminiBackend talks to the Gemini API through the genai SDK.
type geminiBackend struct {
	client         *genai.Client
	model          string
	embeddingModel string
}

var _ Backend = (*geminiBackend)(nil)

func newGeminiBackend(ctx context.Context, cfg Config) (Backend, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &geminiBackend{client: client, model: cfg.Model, embeddingModel: cfg.EmbeddingModel}, nil
}

func (b *geminiBackend) Complete(ctx context.Context, req Request) (Completion, error) {
	systemText, rest := splitSystem(req.System, req.Turns)

	genCfg := &genai.GenerateContentConfig{}
	if systemText != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(systemText, genai.RoleUser)
	}
	if req.Temperature != 0 {
		genCfg.Temperature = genai.Ptr(req.Temperature)
	}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSON {
		genCfg.ResponseMIMEType = "application/json"
	}
	if len(req.Tools) > 0 {
		decls, err := toGeminiDeclarations(req.Tools)
		if err != nil {
			return Completion{}, err
		}
		genCfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	contents, err := toGeminiContents(rest)
	if err != nil {
		return Completion{}, err
	}

	resp, err := b.client.Models.GenerateContent(ctx, b.model, contents, genCfg)
	if err != nil {
		return Completion{}, err
	}

	out := Completion{Content: resp.Text()}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	for _, fc := range resp.FunctionCalls() {
		args, err := json.Marshal(fc.Args)
		if err != nil {
			return Completion{}, fmt.Errorf("encode arguments of %s: %w", fc.Name, err)
		}
		id := fc.ID
		if id == "" {
			id = uuid.NewString()
		}
		out.ToolCalls = append(out.ToolCalls, ports.ToolCall{ID: id, Name: fc.Name, Arguments: args})
	}
	return out, nil
}

func (b *geminiBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := b.client.Models.EmbedContent(ctx, b.embeddingModel,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Embeddings[0].Values, nil
}

func toGeminiContents(turns []ports.Turn) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case ports.RoleAssistant:
			var parts []*genai.Part
			if turn.Content != "" {
				parts = append(parts, genai.NewPartFromText(turn.Content))
			}
			for _, call := range turn.ToolCalls {
				args := map[string]any{}
				if len(call.Arguments) > 0 {
					if err := json.Unmarshal(call.Arguments, &args); err != nil {
						return nil, fmt.Errorf("decode arguments of %s: %w", call.Name, err)
					}
				}
				parts = append(parts, genai.NewPartFromFunctionCall(call.Name, args))
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		case ports.RoleTool:
			contents = append(contents, genai.NewContentFromParts(
				[]*genai.Part{genai.NewPartFromFunctionResponse(turn.Name, toolResponse(turn.Content))},
				genai.RoleUser,
			))
		default:
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleUser))
		}
	}
	return contents, nil
}

// toolResponse shapes a tool result as the object Gemini expects.
func toolResponse(content string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil && obj != nil {
		return obj
	}
	var v any
	if err := json.Unmarshal([]byte(content), &v); err == nil {
		return map[string]any{"output": v}
	}
	return map[string]any{"output": content}
}

func toGeminiDeclarations(specs []ports.ToolSpec) ([]*genai.FunctionDeclaration, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		var schema map[string]any
		if err := json.Unmarshal(schemaOrEmpty(spec.Parameters), &schema); err != nil {
			return nil, fmt.Errorf("decode schema of %s: %w", spec.Name, err)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 spec.Name,
			Description:          spec.Description,
			ParametersJsonSchema: schema,
		})
	}
	return decls, nil
}
