package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness"
	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInvoker struct {
	tool string
	args json.RawMessage
	out  json.RawMessage
	err  error
}

func (r *recordingInvoker) Invoke(_ context.Context, tool string, args json.RawMessage) (json.RawMessage, error) {
	r.tool, r.args = tool, args
	return r.out, r.err
}

var ticketSpec = ports.ToolSpec{
	Name: "ticket_create",
	Parameters: json.RawMessage(`{"type":"object","required":["subject"],"properties":{
		"subject":{"type":"string"},"guild_id":{"type":"string"},"user_id":{"type":"string"}}}`),
}

func TestRemoteTool_ForwardsUnderSpecName(t *testing.T) {
	inv := &recordingInvoker{out: json.RawMessage(`{"ticket_id":"42"}`)}
	tool := NewRemoteTool(ticketSpec, inv)

	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"subject":"help"}`))
	require.NoError(t, err)
	assert.Equal(t, "ticket_create", inv.tool)
	assert.JSONEq(t, `{"subject":"help"}`, string(inv.args), "no scope, no injection")
	assert.JSONEq(t, `{"ticket_id":"42"}`, string(out))
}

func TestRemoteTool_InjectsScope(t *testing.T) {
	inv := &recordingInvoker{out: json.RawMessage(`{}`)}
	tool := NewRemoteTool(ticketSpec, inv)
	ctx := WithScope(context.Background(), Scope{GuildID: "g1", ChannelID: "c1", UserID: "u1"})

	_, err := tool.Invoke(ctx, json.RawMessage(`{"subject":"help"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"subject":"help","guild_id":"g1","user_id":"u1"}`, string(inv.args))

	// Values the model supplied win.
	_, err = tool.Invoke(ctx, json.RawMessage(`{"subject":"help","guild_id":"other"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"subject":"help","guild_id":"other","user_id":"u1"}`, string(inv.args))
}

func TestRemoteTool_SkipsUndeclaredScopeFields(t *testing.T) {
	inv := &recordingInvoker{}
	spec := ports.ToolSpec{Name: "ticket_get", Parameters: json.RawMessage(`{"type":"object","properties":{"ticket_id":{"type":"string"}}}`)}
	ctx := WithScope(context.Background(), Scope{GuildID: "g1", UserID: "u1"})

	_, err := NewRemoteTool(spec, inv).Invoke(ctx, json.RawMessage(`{"ticket_id":"7"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ticket_id":"7"}`, string(inv.args))
}

func TestRemoteTool_PropagatesErrors(t *testing.T) {
	inv := &recordingInvoker{err: errors.New("bridge down")}
	_, err := NewRemoteTool(ticketSpec, inv).Invoke(context.Background(), json.RawMessage(`{}`))
	assert.EqualError(t, err, "bridge down")
}

func TestRemoteTools(t *testing.T) {
	specs := []ports.ToolSpec{{Name: "ticket_get"}, {Name: "ticket_close"}}
	tools := RemoteTools(specs, &recordingInvoker{})
	require.Len(t, tools, 2)
	assert.Equal(t, "ticket_close", tools[1].Spec().Name)
}

type stubSearcher struct {
	scope, query string
	limit        int
	snippets     []harness.Snippet
	err          error
}

func (s *stubSearcher) Search(_ context.Context, scope, query string, limit int) ([]harness.Snippet, error) {
	s.scope, s.query, s.limit = scope, query, limit
	return s.snippets, s.err
}

func TestKnowledgeSearchTool(t *testing.T) {
	searcher := &stubSearcher{snippets: []harness.Snippet{{Text: "Be kind.", Source: "rules", Score: 0.91}}}
	tool := NewKnowledgeSearchTool(searcher)
	assert.Equal(t, KnowledgeSearchName, tool.Spec().Name)
	assert.True(t, json.Valid(tool.Spec().Parameters))

	ctx := WithScope(context.Background(), Scope{GuildID: "g1"})
	out, err := tool.Invoke(ctx, json.RawMessage(`{"query":"  rules  "}`))
	require.NoError(t, err)

	assert.Equal(t, "g1", searcher.scope)
	assert.Equal(t, "rules", searcher.query)
	assert.Equal(t, defaultSearchLimit, searcher.limit)
	assert.JSONEq(t, `{"results":[{"text":"Be kind.","source":"rules","score":0.91}]}`, string(out))
}

func TestKnowledgeSearchTool_Errors(t *testing.T) {
	tool := NewKnowledgeSearchTool(&stubSearcher{err: errors.New("index closed")})

	_, err := tool.Invoke(context.Background(), json.RawMessage(`{"query":" "}`))
	assert.ErrorContains(t, err, "query is required")

	_, err = tool.Invoke(context.Background(), json.RawMessage(`not json`))
	assert.ErrorContains(t, err, "invalid arguments")

	_, err = tool.Invoke(context.Background(), json.RawMessage(`{"query":"x","limit":3}`))
	assert.ErrorContains(t, err, "index closed")
}

func TestScopeFrom(t *testing.T) {
	_, ok := ScopeFrom(context.Background())
	assert.False(t, ok)

	scope, ok := ScopeFrom(WithScope(context.Background(), Scope{ChannelID: "c"}))
	require.True(t, ok)
	assert.Equal(t, "c", scope.ChannelID)
}
