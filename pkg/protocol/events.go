// Package protocol defines the canonical event vocabulary shared by every
// agent transport. Adapters translate vendor wire formats into these shapes;
// everything downstream (orchestrator, gateway, coordinator) consumes only
// them.
package protocol

import (
	"encoding/json"
	"time"
)

// EventType identifies a canonical stream event.
type EventType string

const (
	EventThreadStarted EventType = "thread.started"
	EventTurnStarted   EventType = "turn.started"
	EventTurnCompleted EventType = "turn.completed"
	EventTurnFailed    EventType = "turn.failed"
	EventItemStarted   EventType = "item.started"
	EventItemUpdated   EventType = "item.updated"
	EventItemCompleted EventType = "item.completed"
	EventError         EventType = "error"
)

// ItemKind identifies the payload type of an item event.
type ItemKind string

const (
	ItemAgentMessage     ItemKind = "agent_message"
	ItemReasoning        ItemKind = "reasoning"
	ItemCommandExecution ItemKind = "command_execution"
	ItemFileChange       ItemKind = "file_change"
	ItemWebSearch        ItemKind = "web_search"
	ItemMcpToolCall      ItemKind = "mcp_tool_call"
	ItemTodoList         ItemKind = "todo_list"
	ItemError            ItemKind = "error"
)

// Phase is the coarse progress bucket surfaced to clients.
type Phase string

const (
	PhaseBoot       Phase = "boot"
	PhaseAnalysis   Phase = "analysis"
	PhaseContext    Phase = "context"
	PhaseEditing    Phase = "editing"
	PhaseTool       Phase = "tool"
	PhaseCommand    Phase = "command"
	PhaseResponding Phase = "responding"
	PhaseCompleted  Phase = "completed"
	PhaseConnection Phase = "connection"
	PhaseError      Phase = "error"
)

// TodoItem is a single entry of a todo_list item.
type TodoItem struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// FileUpdate describes one file touched by a file_change item.
type FileUpdate struct {
	Path string `json:"path"`
	Kind string `json:"kind,omitempty"` // add, update, delete
}

// Item is the payload of item.* events. Only the fields matching Kind are
// populated.
type Item struct {
	ID   string   `json:"id,omitempty"`
	Kind ItemKind `json:"item_type"`

	// agent_message / reasoning / error
	Text string `json:"text,omitempty"`

	// command_execution
	Command          string `json:"command,omitempty"`
	AggregatedOutput string `json:"aggregated_output,omitempty"`
	ExitCode         *int   `json:"exit_code,omitempty"`

	// file_change
	Changes []FileUpdate `json:"changes,omitempty"`

	// web_search
	Query string `json:"query,omitempty"`

	// mcp_tool_call
	Server string `json:"server,omitempty"`
	Tool   string `json:"tool,omitempty"`

	// todo_list
	Items []TodoItem `json:"items,omitempty"`

	Status string `json:"status,omitempty"` // in_progress, completed, failed
}

// ErrorInfo carries the message of turn.failed and error events.
type ErrorInfo struct {
	Message string `json:"message"`
}

// Usage reports token accounting when the vendor provides it.
type Usage struct {
	InputTokens  int64 `json:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty"`
}

// Event is the canonical stream event. Within a turn, thread.started precedes
// all others and exactly one of turn.completed / turn.failed is terminal.
type Event struct {
	Type      EventType       `json:"type"`
	ThreadID  string          `json:"thread_id,omitempty"`
	Item      *Item           `json:"item,omitempty"`
	Error     *ErrorInfo      `json:"error,omitempty"`
	Usage     *Usage          `json:"usage,omitempty"`
	Delta     string          `json:"delta,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Raw       json.RawMessage `json:"-"`
}

// Terminal reports whether the event ends a turn.
func (e *Event) Terminal() bool {
	return e.Type == EventTurnCompleted || e.Type == EventTurnFailed
}

// Phase maps the event to its progress bucket.
func (e *Event) Phase() Phase {
	switch e.Type {
	case EventThreadStarted:
		return PhaseBoot
	case EventTurnStarted:
		return PhaseAnalysis
	case EventTurnCompleted, EventTurnFailed:
		return PhaseCompleted
	case EventError:
		return PhaseError
	}
	if e.Item == nil {
		return PhaseConnection
	}
	switch e.Item.Kind {
	case ItemAgentMessage:
		return PhaseResponding
	case ItemReasoning:
		return PhaseAnalysis
	case ItemCommandExecution:
		return PhaseCommand
	case ItemFileChange:
		return PhaseEditing
	case ItemWebSearch:
		return PhaseContext
	case ItemMcpToolCall, ItemTodoList:
		return PhaseTool
	case ItemError:
		return PhaseError
	}
	return PhaseConnection
}

// Update is the client-facing progress record derived from an event.
type Update struct {
	Phase     Phase           `json:"phase"`
	Title     string          `json:"title"`
	Detail    string          `json:"detail,omitempty"`
	Delta     string          `json:"delta,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// UpdateFromEvent projects a canonical event onto the client-facing progress
// record.
func UpdateFromEvent(e *Event) *Update {
	u := &Update{
		Phase:     e.Phase(),
		Title:     string(e.Type),
		Delta:     e.Delta,
		Timestamp: e.Timestamp,
		Raw:       e.Raw,
	}
	switch {
	case e.Error != nil:
		u.Detail = e.Error.Message
	case e.Item != nil:
		u.Title = string(e.Item.Kind)
		switch e.Item.Kind {
		case ItemCommandExecution:
			u.Detail = e.Item.Command
		case ItemFileChange:
			if len(e.Item.Changes) > 0 {
				u.Detail = e.Item.Changes[0].Path
			}
		case ItemWebSearch:
			u.Detail = e.Item.Query
		case ItemMcpToolCall:
			u.Detail = e.Item.Server + "/" + e.Item.Tool
		default:
			u.Detail = e.Item.Text
		}
	case e.Type == EventThreadStarted:
		u.Detail = e.ThreadID
	}
	return u
}

// NewThreadStarted builds a thread.started event.
func NewThreadStarted(threadID string) *Event {
	return &Event{Type: EventThreadStarted, ThreadID: threadID, Timestamp: time.Now().UTC()}
}

// NewTurnStarted builds a turn.started event.
func NewTurnStarted() *Event {
	return &Event{Type: EventTurnStarted, Timestamp: time.Now().UTC()}
}

// NewTurnCompleted builds a turn.completed event.
func NewTurnCompleted(usage *Usage) *Event {
	return &Event{Type: EventTurnCompleted, Usage: usage, Timestamp: time.Now().UTC()}
}

// NewTurnFailed builds a turn.failed event.
func NewTurnFailed(message string) *Event {
	return &Event{Type: EventTurnFailed, Error: &ErrorInfo{Message: message}, Timestamp: time.Now().UTC()}
}

// NewError builds an error event.
func NewError(message string) *Event {
	return &Event{Type: EventError, Error: &ErrorInfo{Message: message}, Timestamp: time.Now().UTC()}
}

// NewItemEvent builds an item lifecycle event.
func NewItemEvent(t EventType, item *Item) *Event {
	return &Event{Type: t, Item: item, Timestamp: time.Now().UTC()}
}
