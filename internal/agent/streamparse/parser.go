// Package streamparse translates vendor stream-json lines into the canonical
// event vocabulary. One Parser instance covers one turn.
package streamparse

import (
	"encoding/json"
	"strings"

	"github.com/adskit/ads/pkg/protocol"
)

// EmitFunc receives each canonical event as it is produced.
type EmitFunc func(*protocol.Event)

// toolEntry tracks an in-flight tool call across lines.
type toolEntry struct {
	name  string
	input map[string]any
	kind  protocol.ItemKind
	// changeKind is set for file_change entries: add or update.
	changeKind string
}

// Parser is a stateful per-turn translator from raw vendor JSON to canonical
// events.
type Parser struct {
	emit EmitFunc

	agentText strings.Builder
	reasoning strings.Builder
	tools     map[string]*toolEntry

	sessionID   string
	lastError   string
	turnStarted bool
	finished    bool
}

// New creates a Parser for one turn.
func New(emit EmitFunc) *Parser {
	return &Parser{emit: emit, tools: make(map[string]*toolEntry)}
}

// SessionID returns the vendor session id seen in system/init, if any.
func (p *Parser) SessionID() string { return p.sessionID }

// LastError returns the last vendor error message, if any.
func (p *Parser) LastError() string { return p.lastError }

// AgentMessage returns the accumulated assistant text.
func (p *Parser) AgentMessage() string { return p.agentText.String() }

// Finished reports whether a terminal result line was seen.
func (p *Parser) Finished() bool { return p.finished }

// rawLine is the loose shape of a vendor stream-json line. Only the fields
// the parser reads are declared; everything else stays in the raw payload.
type rawLine struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	Message   *rawMessage     `json:"message"`
	Result    string          `json:"result"`
	IsError   bool            `json:"is_error"`
	Error     json.RawMessage `json:"error"`
}

type rawMessage struct {
	Content []rawBlock `json:"content"`
}

type rawBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text"`
	Thinking  string         `json:"thinking"`
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
	ToolUseID string         `json:"tool_use_id"`
	Content   any            `json:"content"`
	IsError   bool           `json:"is_error"`
}

// Feed parses one raw line. Lines that are not valid JSON objects or carry an
// unknown type are dropped.
func (p *Parser) Feed(line string) {
	var raw rawLine
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return
	}

	switch raw.Type {
	case "system":
		p.handleSystem(&raw)
	case "assistant":
		p.handleAssistant(&raw)
	case "user":
		p.handleUser(&raw)
	case "result":
		p.handleResult(&raw)
	case "error":
		p.handleError(&raw)
	}
}

func (p *Parser) handleSystem(raw *rawLine) {
	if raw.Subtype != "" && raw.Subtype != "init" {
		return
	}
	if raw.SessionID != "" {
		p.sessionID = raw.SessionID
		p.send(protocol.NewThreadStarted(raw.SessionID))
	}
	if !p.turnStarted {
		p.turnStarted = true
		p.send(protocol.NewTurnStarted())
	}
}

func (p *Parser) handleAssistant(raw *rawLine) {
	if raw.Message == nil {
		return
	}
	for _, block := range raw.Message.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			p.agentText.WriteString(block.Text)
			p.send(protocol.NewItemEvent(protocol.EventItemUpdated, &protocol.Item{
				Kind: protocol.ItemAgentMessage,
				Text: p.agentText.String(),
			}))
		case "thinking":
			if block.Thinking == "" {
				continue
			}
			p.reasoning.WriteString(block.Thinking)
			p.send(protocol.NewItemEvent(protocol.EventItemUpdated, &protocol.Item{
				Kind: protocol.ItemReasoning,
				Text: p.reasoning.String(),
			}))
		case "tool_use":
			p.handleToolUse(block)
		}
	}
}

func (p *Parser) handleToolUse(block rawBlock) {
	kind := classifyTool(block.Name)
	entry := &toolEntry{
		name:       block.Name,
		input:      block.Input,
		kind:       kind,
		changeKind: changeKind(block.Name),
	}
	p.tools[block.ID] = entry

	item := &protocol.Item{ID: block.ID, Kind: kind, Status: "in_progress"}
	switch kind {
	case protocol.ItemCommandExecution:
		item.Command = inputString(block.Input, "command")
	case protocol.ItemFileChange:
		if path := inputString(block.Input, "file_path"); path != "" {
			item.Changes = []protocol.FileUpdate{{Path: path, Kind: entry.changeKind}}
		}
	case protocol.ItemWebSearch:
		item.Query = inputString(block.Input, "query")
		if item.Query == "" {
			item.Query = inputString(block.Input, "url")
		}
	case protocol.ItemTodoList:
		item.Items = todoItems(block.Input)
	case protocol.ItemMcpToolCall:
		item.Server, item.Tool = mcpParts(block.Name)
	}
	p.send(protocol.NewItemEvent(protocol.EventItemStarted, item))
}

func (p *Parser) handleUser(raw *rawLine) {
	if raw.Message == nil {
		return
	}
	for _, block := range raw.Message.Content {
		if block.Type != "tool_result" {
			continue
		}
		entry, ok := p.tools[block.ToolUseID]
		if !ok {
			continue
		}
		delete(p.tools, block.ToolUseID)

		status := "completed"
		exit := 0
		if block.IsError {
			status = "failed"
			exit = 1
		}
		item := &protocol.Item{ID: block.ToolUseID, Kind: entry.kind, Status: status}
		switch entry.kind {
		case protocol.ItemCommandExecution:
			item.Command = inputString(entry.input, "command")
			item.AggregatedOutput = contentText(block.Content)
			item.ExitCode = &exit
		case protocol.ItemFileChange:
			if path := inputString(entry.input, "file_path"); path != "" {
				item.Changes = []protocol.FileUpdate{{Path: path, Kind: entry.changeKind}}
			}
		case protocol.ItemWebSearch:
			item.Query = inputString(entry.input, "query")
		case protocol.ItemTodoList:
			item.Items = todoItems(entry.input)
		case protocol.ItemMcpToolCall:
			item.Server, item.Tool = mcpParts(entry.name)
		}
		p.send(protocol.NewItemEvent(protocol.EventItemCompleted, item))

		// A failed file change surfaces its result text as an error event so
		// clients see why the edit was rejected.
		if block.IsError && entry.kind == protocol.ItemFileChange {
			if msg := contentText(block.Content); msg != "" {
				p.send(protocol.NewError(msg))
			}
		}
	}
}

func (p *Parser) handleResult(raw *rawLine) {
	p.finished = true
	if raw.Subtype == "success" {
		if text := raw.Result; text != "" && p.agentText.Len() == 0 {
			p.agentText.WriteString(text)
			p.send(protocol.NewItemEvent(protocol.EventItemCompleted, &protocol.Item{
				Kind: protocol.ItemAgentMessage,
				Text: text,
			}))
		}
		p.send(protocol.NewTurnCompleted(nil))
		return
	}
	msg := errorMessage(raw)
	if msg == "" {
		msg = "turn failed"
	}
	p.lastError = msg
	p.send(protocol.NewTurnFailed(msg))
}

func (p *Parser) handleError(raw *rawLine) {
	msg := errorMessage(raw)
	if msg == "" {
		msg = "unknown error"
	}
	p.lastError = msg
	p.send(protocol.NewError(msg))
}

func (p *Parser) send(ev *protocol.Event) {
	if p.emit != nil {
		p.emit(ev)
	}
}

func errorMessage(raw *rawLine) string {
	if len(raw.Error) == 0 {
		if raw.Result != "" {
			return raw.Result
		}
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw.Error, &asString); err == nil {
		return asString
	}
	var asObject struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw.Error, &asObject); err == nil && asObject.Message != "" {
		return asObject.Message
	}
	return string(raw.Error)
}

func inputString(input map[string]any, key string) string {
	if input == nil {
		return ""
	}
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

// contentText flattens a tool_result content payload, which may be a plain
// string or a list of {type:"text", text} blocks.
func contentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var b strings.Builder
		for _, part := range v {
			m, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := m["text"].(string); ok {
				b.WriteString(text)
			}
		}
		return b.String()
	}
	return ""
}

func todoItems(input map[string]any) []protocol.TodoItem {
	raw, ok := input["todos"].([]any)
	if !ok {
		return nil
	}
	items := make([]protocol.TodoItem, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		text, _ := m["content"].(string)
		status, _ := m["status"].(string)
		items = append(items, protocol.TodoItem{Text: text, Completed: status == "completed"})
	}
	return items
}
