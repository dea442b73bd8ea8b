package harnessports

import (
	"context"
	"encoding/json"
)

// ToolSpec describes a callable tool exposed to the model.
type ToolSpec struct {
	Name        string          `json:"name" yaml:"name"`               // unique logical name
	Description string          `json:"description" yaml:"description"` // concise doc for model selection
	Parameters  json.RawMessage `json:"parameters" yaml:"-"`            // JSON schema for args
}

// ToolCall represents a model-invoked function with JSON arguments.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Tool defines the runtime that executes a tool call.
type Tool interface {
	Spec() ToolSpec
	Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}
