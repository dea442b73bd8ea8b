package harness

import (
	"encoding/json"
	"strings"

	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"

	"github.com/google/uuid"
)

// OutputParser recovers tool calls from models that write them as text
// instead of using the native tool-calling channel (common with local
// models). Only a reply that is entirely a tool call document is accepted,
// and only for known tools.
type OutputParser struct{}

// NewOutputParser creates a parser.
func NewOutputParser() *OutputParser {
	return &OutputParser{}
}

type textToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Function  *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// ParseToolCalls accepts these shapes, optionally inside a code fence:
//
//	{"name": "tool", "arguments": {...}}
//	[{"name": "tool", "arguments": {...}}, ...]
//	{"tool_calls": [{"function": {"name": "tool", "arguments": "..."}}]}
//
// It returns nil unless every call names a tool accepted by known.
func (p *OutputParser) ParseToolCalls(text string, known func(name string) bool) []ports.ToolCall {
	doc := stripFence(strings.TrimSpace(text))
	if doc == "" || (doc[0] != '{' && doc[0] != '[') {
		return nil
	}

	var raw []textToolCall
	switch doc[0] {
	case '[':
		if err := json.Unmarshal([]byte(doc), &raw); err != nil {
			return nil
		}
	case '{':
		var wrapper struct {
			ToolCalls []textToolCall `json:"tool_calls"`
		}
		if err := json.Unmarshal([]byte(doc), &wrapper); err == nil && len(wrapper.ToolCalls) > 0 {
			raw = wrapper.ToolCalls
			break
		}
		var single textToolCall
		if err := json.Unmarshal([]byte(doc), &single); err != nil {
			return nil
		}
		raw = []textToolCall{single}
	}

	calls := make([]ports.ToolCall, 0, len(raw))
	for _, r := range raw {
		name, args := r.Name, r.Arguments
		if r.Function != nil {
			name, args = r.Function.Name, r.Function.Arguments
		}
		if name == "" || known == nil || !known(name) {
			return nil
		}
		args = unquoteArgs(args)
		if len(args) > 0 && !json.Valid(args) {
			return nil
		}
		calls = append(calls, ports.ToolCall{ID: "call_" + uuid.NewString(), Name: name, Arguments: args})
	}
	if len(calls) == 0 {
		return nil
	}
	return calls
}

// unquoteArgs unwraps arguments encoded as a JSON string, as the OpenAI wire
// format does.
func unquoteArgs(args json.RawMessage) json.RawMessage {
	if len(args) == 0 || args[0] != '"' {
		return args
	}
	var s string
	if err := json.Unmarshal(args, &s); err != nil {
		return args
	}
	return json.RawMessage(s)
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
