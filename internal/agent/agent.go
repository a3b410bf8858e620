// Package agent defines the uniform adapter contract every backend is
// multiplexed behind, regardless of transport (CLI subprocess, SDK stream,
// raw HTTP).
package agent

import (
	"context"
	"encoding/json"

	"github.com/adskit/ads/pkg/protocol"
)

// Known agent ids. The set is bounded and enumerated; adapters outside it are
// not constructed.
const (
	IDCodex  = "codex"
	IDClaude = "claude"
	IDAmp    = "amp"
	IDGemini = "gemini"
	IDDroid  = "droid"
)

// SandboxMode governs what a CLI subprocess may touch.
type SandboxMode string

const (
	SandboxReadOnly       SandboxMode = "read-only"
	SandboxWorkspaceWrite SandboxMode = "workspace-write"
	SandboxDangerFull     SandboxMode = "danger-full-access"
)

// Metadata is the immutable descriptor of an agent.
type Metadata struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Vendor       string   `json:"vendor"`
	Capabilities []string `json:"capabilities"`
}

// Status is the mutable runtime state of an adapter.
type Status struct {
	Ready     bool   `json:"ready"`
	Streaming bool   `json:"streaming"`
	Error     string `json:"error,omitempty"`
}

// PartType enumerates input part kinds.
type PartType string

const (
	PartText       PartType = "text"
	PartLocalImage PartType = "local_image"
	PartLocalFile  PartType = "local_file"
)

// InputPart is one element of a multi-part prompt.
type InputPart struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
	Path string   `json:"path,omitempty"`
}

// Input is either plain text or a list of parts.
type Input struct {
	Text  string
	Parts []InputPart
}

// TextInput wraps a plain string prompt.
func TextInput(text string) Input {
	return Input{Text: text}
}

// PromptText flattens the input into the text sent on the wire.
func (in Input) PromptText() string {
	if len(in.Parts) == 0 {
		return in.Text
	}
	var out string
	for _, p := range in.Parts {
		if p.Type == PartText {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}

// ImagePaths returns the local image paths attached to the input.
func (in Input) ImagePaths() []string {
	var paths []string
	for _, p := range in.Parts {
		if p.Type == PartLocalImage && p.Path != "" {
			paths = append(paths, p.Path)
		}
	}
	return paths
}

// SendOptions tunes one send call. Cancellation travels on the context.
type SendOptions struct {
	Streaming    bool
	OutputSchema json.RawMessage
}

// SendResult is the final outcome of a send.
type SendResult struct {
	Response string          `json:"response"`
	Usage    *protocol.Usage `json:"usage,omitempty"`
	AgentID  string          `json:"agent_id"`
}

// StreamingConfig describes how an adapter streams deltas.
type StreamingConfig struct {
	Enabled    bool `json:"enabled"`
	ThrottleMs int  `json:"throttle_ms"`
}

// Handler receives canonical events from an adapter.
type Handler func(*protocol.Event)

// Adapter is the uniform capability contract. Every successful Send emits
// exactly one terminal event (turn.completed or turn.failed) to subscribers.
type Adapter interface {
	Metadata() Metadata
	Status() Status
	Send(ctx context.Context, input Input, opts SendOptions) (*SendResult, error)
	OnEvent(handler Handler) (unsubscribe func())
	Reset()
	SetWorkingDirectory(cwd string)
	SetModel(model string)
	GetThreadID() string
	StreamingConfig() StreamingConfig
}
