package harnessports

import "context"

// ChatResult is the provider's reply to one chat round trip. ToolCalls is
// empty when the model produced a final answer.
type ChatResult struct {
	Content    string
	ToolCalls  []ToolCall
	TokensUsed int
}

// ChatProvider is the part of a generation backend the harness drives.
type ChatProvider interface {
	Chat(ctx context.Context, turns []Turn, tools []ToolSpec) (ChatResult, error)
}
