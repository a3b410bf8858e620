// Package adapters contains the concrete adapter variants: CLI subprocess,
// SDK stream and raw HTTP.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/adskit/ads/internal/agent"
	"github.com/adskit/ads/internal/agent/cliproc"
	"github.com/adskit/ads/internal/agent/streamparse"
	apperrors "github.com/adskit/ads/internal/common/errors"
	"github.com/adskit/ads/internal/common/logger"
	"github.com/adskit/ads/pkg/protocol"
)

// WireFormat selects how subprocess stdout lines are translated.
type WireFormat string

const (
	// WireCanonical expects canonical event lines (codex-style --json).
	WireCanonical WireFormat = "canonical"
	// WireStreamJSON expects vendor stream-json (claude-style) handled by the
	// stream parser.
	WireStreamJSON WireFormat = "stream-json"
)

// CLIProfile describes one CLI-backed agent.
type CLIProfile struct {
	ID           string
	Name         string
	Vendor       string
	Binary       string
	Wire         WireFormat
	Sandbox      agent.SandboxMode
	Capabilities []string
}

// CLIAdapter drives a CLI binary speaking newline-delimited JSON.
type CLIAdapter struct {
	profile CLIProfile
	runner  *cliproc.Runner
	emitter *agent.Emitter
	logger  *logger.Logger

	mu        sync.Mutex
	cwd       string
	model     string
	threadID  string
	streaming bool
	lastError string
}

var _ agent.Adapter = (*CLIAdapter)(nil)

// NewCLIAdapter creates a CLI adapter for the given profile.
func NewCLIAdapter(profile CLIProfile, runner *cliproc.Runner, log *logger.Logger) *CLIAdapter {
	if profile.Sandbox == "" {
		profile.Sandbox = agent.SandboxWorkspaceWrite
	}
	return &CLIAdapter{
		profile: profile,
		runner:  runner,
		emitter: agent.NewEmitter(),
		logger:  log.WithComponent("adapter").WithAgentID(profile.ID),
	}
}

// Metadata implements agent.Adapter.
func (a *CLIAdapter) Metadata() agent.Metadata {
	return agent.Metadata{
		ID:           a.profile.ID,
		Name:         a.profile.Name,
		Vendor:       a.profile.Vendor,
		Capabilities: a.profile.Capabilities,
	}
}

// Status implements agent.Adapter.
func (a *CLIAdapter) Status() agent.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := agent.Status{Ready: a.profile.Binary != "", Streaming: a.streaming}
	if a.profile.Binary == "" {
		st.Error = "no binary configured"
	}
	return st
}

// OnEvent implements agent.Adapter.
func (a *CLIAdapter) OnEvent(h agent.Handler) func() {
	return a.emitter.Subscribe(h)
}

// Reset clears the vendor thread id.
func (a *CLIAdapter) Reset() {
	a.mu.Lock()
	a.threadID = ""
	a.lastError = ""
	a.mu.Unlock()
}

// SetWorkingDirectory implements agent.Adapter.
func (a *CLIAdapter) SetWorkingDirectory(cwd string) {
	a.mu.Lock()
	a.cwd = cwd
	a.mu.Unlock()
}

// SetModel implements agent.Adapter.
func (a *CLIAdapter) SetModel(model string) {
	a.mu.Lock()
	a.model = model
	a.mu.Unlock()
}

// ResumeThread restores a previously persisted thread id.
func (a *CLIAdapter) ResumeThread(threadID string) {
	a.mu.Lock()
	a.threadID = threadID
	a.mu.Unlock()
}

// GetThreadID implements agent.Adapter.
func (a *CLIAdapter) GetThreadID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.threadID
}

// StreamingConfig implements agent.Adapter.
func (a *CLIAdapter) StreamingConfig() agent.StreamingConfig {
	return agent.StreamingConfig{Enabled: true, ThrottleMs: 0}
}

// buildArgs assembles the subprocess argv. The trailing "-" makes the CLI
// read the prompt from stdin.
func (a *CLIAdapter) buildArgs(threadID, cwd, model string, images []string) []string {
	args := []string{"exec"}
	if threadID != "" {
		args = append(args, "resume", threadID)
	}
	if cwd != "" {
		args = append(args, "--cd", cwd)
	}
	switch a.profile.Sandbox {
	case agent.SandboxReadOnly:
		args = append(args, "--sandbox", "read-only")
	case agent.SandboxDangerFull:
		args = append(args, "--dangerously-bypass-approvals-and-sandbox")
	default:
		args = append(args, "--full-auto")
	}
	args = append(args, "--json", "--skip-git-repo-check")
	if model != "" {
		args = append(args, "--model", model)
	}
	for _, img := range images {
		args = append(args, "--image", img)
	}
	return append(args, "-")
}

// turnState tracks the invariant bookkeeping for one send.
type turnState struct {
	mu            sync.Mutex
	started       bool
	terminal      bool
	failed        bool
	failureReason string
	threadID      string
	response      strings.Builder
}

// Send implements agent.Adapter.
func (a *CLIAdapter) Send(ctx context.Context, input agent.Input, opts agent.SendOptions) (*agent.SendResult, error) {
	st := a.Status()
	if !st.Ready {
		return nil, apperrors.Config(fmt.Sprintf("agent %s is not ready: %s", a.profile.ID, st.Error))
	}

	a.mu.Lock()
	a.streaming = true
	threadID, cwd, model := a.threadID, a.cwd, a.model
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.streaming = false
		a.mu.Unlock()
	}()

	turn := &turnState{}
	emit := func(ev *protocol.Event) {
		turn.mu.Lock()
		switch ev.Type {
		case protocol.EventThreadStarted:
			if turn.threadID == "" {
				turn.threadID = ev.ThreadID
			}
		case protocol.EventTurnStarted:
			if turn.started {
				turn.mu.Unlock()
				return
			}
			turn.started = true
		case protocol.EventTurnCompleted, protocol.EventTurnFailed:
			if turn.terminal {
				turn.mu.Unlock()
				return
			}
			turn.terminal = true
			if ev.Type == protocol.EventTurnFailed {
				turn.failed = true
				if ev.Error != nil {
					turn.failureReason = ev.Error.Message
				}
			}
		case protocol.EventItemUpdated, protocol.EventItemCompleted:
			if ev.Item != nil && ev.Item.Kind == protocol.ItemAgentMessage {
				turn.response.Reset()
				turn.response.WriteString(ev.Item.Text)
			}
		}
		turn.mu.Unlock()
		a.emitter.Emit(ev)
	}

	onLine := a.lineHandler(emit)

	runOpts := cliproc.Options{
		Binary:    a.profile.Binary,
		Args:      a.buildArgs(threadID, cwd, model, input.ImagePaths()),
		Cwd:       cwd,
		StdinData: input.PromptText(),
	}

	res, err := a.runner.Run(ctx, runOpts, onLine)
	if err != nil {
		if errors.Is(err, cliproc.ErrBinaryNotFound) {
			a.finishTurn(turn, false, err.Error())
			return nil, apperrors.Wrap(apperrors.KindTransport, "binary not found", err)
		}
		a.finishTurn(turn, false, err.Error())
		return nil, apperrors.Transport("subprocess failed", err)
	}

	if res.Cancelled {
		a.finishTurn(turn, false, "aborted")
		return nil, apperrors.Cancelled("aborted")
	}

	turn.mu.Lock()
	failed, terminal := turn.failed, turn.terminal
	reason := turn.failureReason
	newThread := turn.threadID
	response := turn.response.String()
	turn.mu.Unlock()

	if newThread != "" {
		a.mu.Lock()
		a.threadID = newThread
		a.mu.Unlock()
	}

	if !terminal {
		if res.ExitCode != 0 {
			reason = fmt.Sprintf("exit code %d: %s", res.ExitCode, snippet(res.Stderr))
			a.finishTurn(turn, false, reason)
			return nil, apperrors.Transport(reason, nil)
		}
		a.finishTurn(turn, true, "")
	} else if failed {
		// Exit code 0 with a prior turn.failed is still a failure.
		a.mu.Lock()
		a.lastError = reason
		a.mu.Unlock()
		return nil, apperrors.Transport(reason, nil)
	}

	if len(opts.OutputSchema) > 0 {
		if err := validateAgainstSchema(response, opts.OutputSchema); err != nil {
			return nil, apperrors.Schema(err.Error())
		}
	}

	a.logger.Debug("send completed",
		zap.Int("exit_code", res.ExitCode),
		zap.Int("response_len", len(response)))

	return &agent.SendResult{Response: response, AgentID: a.profile.ID}, nil
}

// lineHandler returns the per-line translator for the profile's wire format.
func (a *CLIAdapter) lineHandler(emit func(*protocol.Event)) cliproc.LineFunc {
	if a.profile.Wire == WireStreamJSON {
		parser := streamparse.New(emit)
		return func(line string) {
			parser.Feed(line)
		}
	}
	return func(line string) {
		ev, err := protocol.Decode([]byte(line))
		if err != nil {
			emit(protocol.NewError(err.Error()))
			return
		}
		if ev != nil {
			emit(ev)
		}
	}
}

// finishTurn emits the synthetic events needed to close the turn with exactly
// one terminal event.
func (a *CLIAdapter) finishTurn(turn *turnState, ok bool, reason string) {
	turn.mu.Lock()
	started, terminal := turn.started, turn.terminal
	turn.started = true
	turn.terminal = true
	if !ok {
		turn.failed = true
		turn.failureReason = reason
	}
	turn.mu.Unlock()

	if terminal {
		return
	}
	if !started {
		a.emitter.Emit(protocol.NewTurnStarted())
	}
	if ok {
		a.emitter.Emit(protocol.NewTurnCompleted(nil))
	} else {
		a.emitter.Emit(protocol.NewTurnFailed(reason))
	}
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 300 {
		return s[:300]
	}
	return s
}
