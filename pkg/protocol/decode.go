package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// rawEvent mirrors the wire shape of a canonical event line.
type rawEvent struct {
	Type     string          `json:"type"`
	ThreadID string          `json:"thread_id"`
	Item     json.RawMessage `json:"item"`
	Error    *ErrorInfo      `json:"error"`
	Usage    *Usage          `json:"usage"`
	Delta    string          `json:"delta"`
}

var knownItemKinds = map[ItemKind]bool{
	ItemAgentMessage:     true,
	ItemReasoning:        true,
	ItemCommandExecution: true,
	ItemFileChange:       true,
	ItemWebSearch:        true,
	ItemMcpToolCall:      true,
	ItemTodoList:         true,
	ItemError:            true,
}

// Decode parses one wire line into a canonical event.
//
// Unknown event types are dropped: Decode returns (nil, nil). Known but
// malformed events (an item event without item.item_type, a thread.started
// without thread_id) return an error so the caller can emit a synthetic
// error event instead.
func Decode(data []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil
	}

	ev := &Event{
		Type:      EventType(raw.Type),
		ThreadID:  raw.ThreadID,
		Error:     raw.Error,
		Usage:     raw.Usage,
		Delta:     raw.Delta,
		Timestamp: time.Now().UTC(),
		Raw:       append(json.RawMessage(nil), data...),
	}

	switch ev.Type {
	case EventThreadStarted:
		if raw.ThreadID == "" {
			return nil, fmt.Errorf("thread.started missing thread_id")
		}
		return ev, nil

	case EventTurnStarted, EventTurnCompleted:
		return ev, nil

	case EventTurnFailed, EventError:
		if ev.Error == nil {
			ev.Error = &ErrorInfo{Message: "unknown error"}
		}
		return ev, nil

	case EventItemStarted, EventItemUpdated, EventItemCompleted:
		item, err := decodeItem(raw.Item)
		if err != nil {
			return nil, err
		}
		ev.Item = item
		return ev, nil
	}

	// Unknown raw types are dropped silently.
	return nil, nil
}

func decodeItem(data json.RawMessage) (*Item, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("item event missing item payload")
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("item event payload malformed: %w", err)
	}
	if item.Kind == "" {
		return nil, fmt.Errorf("item event missing item_type")
	}
	if !knownItemKinds[item.Kind] {
		return nil, fmt.Errorf("item event has unknown item_type %q", item.Kind)
	}
	return &item, nil
}
