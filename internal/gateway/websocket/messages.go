package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Close codes used by the bridge.
const (
	CloseUnauthorized   = 4401
	CloseForbidden      = 4403
	CloseTooManyClients = 4409
)

// Subprotocol prefixes carrying session identity.
const (
	subprotoSession = "ads-session."
	subprotoChat    = "ads-chat."
)

// Inbound message kinds.
const (
	KindPing         = "ping"
	KindPong         = "pong"
	KindInterrupt    = "interrupt"
	KindClearHistory = "clear_history"
	KindPrompt       = "prompt"
	KindCommand      = "command"
	KindTaskResume   = "task_resume"
)

// Outbound frame types.
const (
	FrameWelcome = "welcome"
	FrameAgents  = "agents"
	FrameEvent   = "event"
	FrameResult  = "result"
	FrameError   = "error"
	FramePong    = "pong"
	FramePing    = "ping"
)

// Inbound is one client message.
type Inbound struct {
	Kind   string   `json:"kind"`
	Text   string   `json:"text,omitempty"`
	Name   string   `json:"name,omitempty"`
	Args   []string `json:"args,omitempty"`
	TaskID string   `json:"task_id,omitempty"`
}

// Outbound is one server frame.
type Outbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
}

// NewOutbound builds a frame, marshalling the payload.
func NewOutbound(frameType string, payload any) (*Outbound, error) {
	out := &Outbound{Type: frameType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		out.Payload = data
	}
	return out, nil
}

const inboundSchema = `{
	"type": "object",
	"required": ["kind"],
	"properties": {
		"kind": {"enum": ["ping", "pong", "interrupt", "clear_history", "prompt", "command", "task_resume"]},
		"text": {"type": "string"},
		"name": {"type": "string"},
		"args": {"type": "array", "items": {"type": "string"}},
		"task_id": {"type": "string"}
	}
}`

var (
	inboundSchemaOnce     sync.Once
	inboundSchemaCompiled *jsonschema.Schema
	inboundSchemaErr      error
)

// DecodeInbound validates and decodes one client message. A schema violation
// is a protocol-level error; the caller answers with an error frame.
func DecodeInbound(data []byte) (*Inbound, error) {
	inboundSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(inboundSchema))
		if err != nil {
			inboundSchemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("inbound.json", doc); err != nil {
			inboundSchemaErr = err
			return
		}
		inboundSchemaCompiled, inboundSchemaErr = c.Compile("inbound.json")
	})
	if inboundSchemaErr != nil {
		return nil, inboundSchemaErr
	}

	value, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("message is not valid JSON: %w", err)
	}
	if err := inboundSchemaCompiled.Validate(value); err != nil {
		return nil, fmt.Errorf("message failed schema validation: %w", err)
	}
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// parseSubprotocols extracts (sessionID, chatID, accepted subprotocols) from
// the Sec-WebSocket-Protocol offer. Missing values fall back to defaults at
// the caller.
func parseSubprotocols(offered []string) (sessionID, chatID string, accepted []string) {
	for _, proto := range offered {
		switch {
		case strings.HasPrefix(proto, subprotoSession):
			if sessionID == "" {
				sessionID = strings.TrimPrefix(proto, subprotoSession)
				accepted = append(accepted, proto)
			}
		case strings.HasPrefix(proto, subprotoChat):
			if chatID == "" {
				chatID = strings.TrimPrefix(proto, subprotoChat)
				accepted = append(accepted, proto)
			}
		}
	}
	return sessionID, chatID, accepted
}
