package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIBackend_ToolRoundTrip(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-test",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "lookup_ticket", "arguments": "{\"id\":\"42\"}"}}]
				}
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	backend, err := newOpenAIBackend(context.Background(), Config{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "gpt-test"})
	require.NoError(t, err)

	turns := []ports.Turn{
		ports.SystemTurn("be helpful"),
		ports.UserTurn("status of 42?"),
		{Role: ports.RoleAssistant, ToolCalls: []ports.ToolCall{{ID: "call_0", Name: "ping", Arguments: json.RawMessage(`{}`)}}},
		ports.ToolResultTurn(ports.ToolResult{ID: "call_0", Name: "ping", Result: json.RawMessage(`"pong"`)}),
	}
	out, err := backend.Complete(context.Background(), Request{
		Turns: turns,
		Tools: []ports.ToolSpec{{Name: "lookup_ticket", Description: "Look up a ticket"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 15, out.TokensUsed)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "call_1", out.ToolCalls[0].ID)
	assert.Equal(t, "lookup_ticket", out.ToolCalls[0].Name)
	assert.JSONEq(t, `{"id":"42"}`, string(out.ToolCalls[0].Arguments))

	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "tool", msgs[3].(map[string]any)["role"])
	assert.Equal(t, "call_0", msgs[3].(map[string]any)["tool_call_id"])

	tools := captured["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "lookup_ticket", fn["name"])
	assert.Equal(t, "object", fn["parameters"].(map[string]any)["type"])
}

func TestSplitSystem(t *testing.T) {
	system, rest := splitSystem("base", []ports.Turn{
		ports.SystemTurn("persona"),
		ports.UserTurn("hi"),
		ports.SystemTurn("context: faq"),
		ports.AssistantTurn("hello"),
	})
	assert.Equal(t, "base\n\npersona\n\ncontext: faq", system)
	require.Len(t, rest, 2)
	assert.Equal(t, ports.RoleUser, rest[0].Role)
	assert.Equal(t, ports.RoleAssistant, rest[1].Role)
}

func TestToolResponse(t *testing.T) {
	assert.Equal(t, map[string]any{"error": "boom"}, toolResponse(`{"error":"boom"}`))
	assert.Equal(t, map[string]any{"output": "pong"}, toolResponse(`"pong"`))
	assert.Equal(t, map[string]any{"output": "plain"}, toolResponse(`plain`))
}
