package streamparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adskit/ads/pkg/protocol"
)

func collect() (*[]*protocol.Event, EmitFunc) {
	var events []*protocol.Event
	return &events, func(ev *protocol.Event) { events = append(events, ev) }
}

func TestParserInitEmitsThreadAndTurnStarted(t *testing.T) {
	events, emit := collect()
	p := New(emit)

	p.Feed(`{"type":"system","subtype":"init","session_id":"s-1"}`)

	require.Len(t, *events, 2)
	assert.Equal(t, protocol.EventThreadStarted, (*events)[0].Type)
	assert.Equal(t, "s-1", (*events)[0].ThreadID)
	assert.Equal(t, protocol.EventTurnStarted, (*events)[1].Type)
	assert.Equal(t, "s-1", p.SessionID())
}

func TestParserAccumulatesTextDeltas(t *testing.T) {
	events, emit := collect()
	p := New(emit)

	p.Feed(`{"type":"system","subtype":"init","session_id":"s-1"}`)
	p.Feed(`{"type":"assistant","message":{"content":[{"type":"text","text":"Hello"}]}}`)
	p.Feed(`{"type":"assistant","message":{"content":[{"type":"text","text":", "}]}}`)
	p.Feed(`{"type":"assistant","message":{"content":[{"type":"text","text":"world"}]}}`)
	p.Feed(`{"type":"result","subtype":"success","result":"ignored, streaming already sent"}`)

	assert.Equal(t, "Hello, world", p.AgentMessage())
	require.True(t, p.Finished())

	last := (*events)[len(*events)-1]
	assert.Equal(t, protocol.EventTurnCompleted, last.Type)
}

func TestParserToolCallPairing(t *testing.T) {
	events, emit := collect()
	p := New(emit)

	p.Feed(`{"type":"system","subtype":"init","session_id":"s-1"}`)
	p.Feed(`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tu-1","name":"Bash","input":{"command":"go test ./..."}}]}}`)
	p.Feed(`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu-1","content":"ok","is_error":false}]}}`)

	var started, completed *protocol.Event
	for _, ev := range *events {
		switch ev.Type {
		case protocol.EventItemStarted:
			started = ev
		case protocol.EventItemCompleted:
			completed = ev
		}
	}
	require.NotNil(t, started)
	require.NotNil(t, completed)
	assert.Equal(t, protocol.ItemCommandExecution, started.Item.Kind)
	assert.Equal(t, "go test ./...", started.Item.Command)
	assert.Equal(t, protocol.ItemCommandExecution, completed.Item.Kind)
	require.NotNil(t, completed.Item.ExitCode)
	assert.Equal(t, 0, *completed.Item.ExitCode)
	assert.Equal(t, "ok", completed.Item.AggregatedOutput)
}

func TestParserFailedFileChangeEmitsError(t *testing.T) {
	events, emit := collect()
	p := New(emit)

	p.Feed(`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tu-2","name":"Edit","input":{"file_path":"main.go"}}]}}`)
	p.Feed(`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu-2","content":"old_string not found","is_error":true}]}}`)

	var sawError bool
	for _, ev := range *events {
		if ev.Type == protocol.EventError {
			sawError = true
			assert.Equal(t, "old_string not found", ev.Error.Message)
		}
	}
	assert.True(t, sawError, "errored file change must surface an error event")
}

func TestParserResultFailure(t *testing.T) {
	events, emit := collect()
	p := New(emit)

	p.Feed(`{"type":"result","subtype":"error_during_execution","error":{"message":"model overloaded"}}`)

	last := (*events)[len(*events)-1]
	require.Equal(t, protocol.EventTurnFailed, last.Type)
	assert.Equal(t, "model overloaded", last.Error.Message)
	assert.Equal(t, "model overloaded", p.LastError())
}

func TestParserErrorLine(t *testing.T) {
	events, emit := collect()
	p := New(emit)

	p.Feed(`{"type":"error","error":"rate limited"}`)

	require.Len(t, *events, 1)
	assert.Equal(t, protocol.EventError, (*events)[0].Type)
	assert.Equal(t, "rate limited", p.LastError())
}

func TestParserThinkingAccumulates(t *testing.T) {
	events, emit := collect()
	p := New(emit)

	p.Feed(`{"type":"assistant","message":{"content":[{"type":"thinking","thinking":"step 1. "}]}}`)
	p.Feed(`{"type":"assistant","message":{"content":[{"type":"thinking","thinking":"step 2."}]}}`)

	last := (*events)[len(*events)-1]
	require.Equal(t, protocol.EventItemUpdated, last.Type)
	assert.Equal(t, protocol.ItemReasoning, last.Item.Kind)
	assert.Equal(t, "step 1. step 2.", last.Item.Text)
}

func TestParserResultFallbackText(t *testing.T) {
	_, emit := collect()
	p := New(emit)

	// No streaming text seen; the result payload becomes the agent message.
	p.Feed(`{"type":"result","subtype":"success","result":"final answer"}`)
	assert.Equal(t, "final answer", p.AgentMessage())
}

func TestParserIgnoresGarbage(t *testing.T) {
	events, emit := collect()
	p := New(emit)

	p.Feed(`not json at all`)
	p.Feed(`{"type":"unknown_kind"}`)
	assert.Empty(t, *events)
}

func TestClassifyTool(t *testing.T) {
	cases := map[string]protocol.ItemKind{
		"Bash":             protocol.ItemCommandExecution,
		"Edit":             protocol.ItemFileChange,
		"Write":            protocol.ItemFileChange,
		"WebSearch":        protocol.ItemWebSearch,
		"TodoWrite":        protocol.ItemTodoList,
		"mcp__github__prs": protocol.ItemMcpToolCall,
		"SomethingUnusual": protocol.ItemMcpToolCall,
		"NotebookEdit":     protocol.ItemFileChange,
		"WebFetch":         protocol.ItemWebSearch,
	}
	for name, want := range cases {
		if got := classifyTool(name); got != want {
			t.Errorf("classifyTool(%s): expected %s, got %s", name, want, got)
		}
	}
}

func TestMcpParts(t *testing.T) {
	server, tool := mcpParts("mcp__github__list_prs")
	assert.Equal(t, "github", server)
	assert.Equal(t, "list_prs", tool)
}
