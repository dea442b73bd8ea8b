// Package tools holds the tools offered to the model: backend actions
// reached through the bridge, and local knowledge search.
package tools

import (
	"context"
	"encoding/json"

	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"
)

// Invoker executes a named backend tool.
type Invoker interface {
	Invoke(ctx context.Context, toolName string, args json.RawMessage) (json.RawMessage, error)
}

// RemoteTool forwards calls to the backend under its spec name.
type RemoteTool struct {
	spec    ports.ToolSpec
	invoker Invoker
}

// NewRemoteTool creates a tool that forwards to invoker.
func NewRemoteTool(spec ports.ToolSpec, invoker Invoker) *RemoteTool {
	return &RemoteTool{spec: spec, invoker: invoker}
}

// Spec returns the tool declaration.
func (t *RemoteTool) Spec() ports.ToolSpec { return t.spec }

// Invoke forwards args unchanged. Scope fields the model may not know, such
// as the guild id, are filled in from ctx when the schema declares them and
// the model left them out.
func (t *RemoteTool) Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return t.invoker.Invoke(ctx, t.spec.Name, withScope(ctx, t.spec.Parameters, args))
}

// RemoteTools wraps every spec.
func RemoteTools(specs []ports.ToolSpec, invoker Invoker) []ports.Tool {
	out := make([]ports.Tool, 0, len(specs))
	for _, spec := range specs {
		out = append(out, NewRemoteTool(spec, invoker))
	}
	return out
}

// withScope injects guild_id and user_id from ctx into args when the schema
// has such properties and args lack them.
func withScope(ctx context.Context, schema, args json.RawMessage) json.RawMessage {
	scope, ok := ScopeFrom(ctx)
	if !ok || len(schema) == 0 {
		return args
	}

	var declared struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(schema, &declared); err != nil {
		return args
	}

	obj := map[string]json.RawMessage{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &obj); err != nil {
			return args
		}
	}

	changed := false
	fill := func(key, value string) {
		if value == "" {
			return
		}
		if _, ok := declared.Properties[key]; !ok {
			return
		}
		if _, present := obj[key]; present {
			return
		}
		raw, _ := json.Marshal(value)
		obj[key] = raw
		changed = true
	}
	fill("guild_id", scope.GuildID)
	fill("user_id", scope.UserID)

	if !changed {
		return args
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return args
	}
	return out
}
