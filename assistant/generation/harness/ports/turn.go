package harnessports

import "encoding/json"

// Role identifies the author of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn represents one message unit in a conversation. Turns are immutable
// once appended to memory.
type Turn struct {
	Role       Role
	Content    string
	Name       string     // optional author or tool name
	ToolCallID string     // set on tool turns, correlates to ToolCall.ID
	ToolCalls  []ToolCall // set on assistant turns that requested tools
}

// SystemTurn builds a system turn.
func SystemTurn(content string) Turn { return Turn{Role: RoleSystem, Content: content} }

// UserTurn builds a user turn.
func UserTurn(content string) Turn { return Turn{Role: RoleUser, Content: content} }

// AssistantTurn builds an assistant turn.
func AssistantTurn(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

// ToolResultTurn builds the tool turn that reports result back to the model.
func ToolResultTurn(result ToolResult) Turn {
	return Turn{
		Role:       RoleTool,
		Name:       result.Name,
		ToolCallID: result.ID,
		Content:    result.Content(),
	}
}

// ToolResult is the outcome of one tool call, correlated by ID.
type ToolResult struct {
	ID     string
	Name   string
	Result json.RawMessage
	Error  string
}

// Content renders the result the way it is shown to the model: the raw JSON
// result, or an {"error": ...} object when the call failed.
func (r ToolResult) Content() string {
	if r.Error != "" {
		payload, _ := json.Marshal(map[string]string{"error": r.Error})
		return string(payload)
	}
	if len(r.Result) == 0 {
		return "null"
	}
	return string(r.Result)
}
