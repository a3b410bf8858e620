package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adskit/ads/internal/agent"
	apperrors "github.com/adskit/ads/internal/common/errors"
	"github.com/adskit/ads/internal/common/logger"
	"github.com/adskit/ads/pkg/protocol"
)

const defaultClaudeMaxTokens = 8192

// ClaudeConfig configures the SDK-stream adapter.
type ClaudeConfig struct {
	APIKey           string
	Model            string
	BaseURL          string
	StreamThrottleMs int
}

// ClaudeAdapter drives the Anthropic Messages API with streaming. The vendor
// has no server-side thread; the adapter keeps the running conversation and a
// locally minted thread id so resumption works within the process.
type ClaudeAdapter struct {
	cfg     ClaudeConfig
	client  sdk.Client
	emitter *agent.Emitter
	logger  *logger.Logger

	mu        sync.Mutex
	cwd       string
	model     string
	threadID  string
	history   []sdk.MessageParam
	streaming bool
}

var _ agent.Adapter = (*ClaudeAdapter)(nil)

// NewClaudeAdapter creates the Claude SDK adapter.
func NewClaudeAdapter(cfg ClaudeConfig, log *logger.Logger) *ClaudeAdapter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.StreamThrottleMs <= 0 {
		cfg.StreamThrottleMs = 150
	}
	return &ClaudeAdapter{
		cfg:     cfg,
		client:  sdk.NewClient(opts...),
		emitter: agent.NewEmitter(),
		logger:  log.WithComponent("adapter").WithAgentID(agent.IDClaude),
		model:   cfg.Model,
	}
}

// Metadata implements agent.Adapter.
func (a *ClaudeAdapter) Metadata() agent.Metadata {
	return agent.Metadata{
		ID:           agent.IDClaude,
		Name:         "Claude",
		Vendor:       "anthropic",
		Capabilities: []string{"chat", "reasoning", "delegation"},
	}
}

// Status implements agent.Adapter.
func (a *ClaudeAdapter) Status() agent.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := agent.Status{Ready: a.cfg.APIKey != "", Streaming: a.streaming}
	if a.cfg.APIKey == "" {
		st.Error = "missing API key"
	}
	return st
}

// OnEvent implements agent.Adapter.
func (a *ClaudeAdapter) OnEvent(h agent.Handler) func() {
	return a.emitter.Subscribe(h)
}

// Reset clears the thread id and conversation history.
func (a *ClaudeAdapter) Reset() {
	a.mu.Lock()
	a.threadID = ""
	a.history = nil
	a.mu.Unlock()
}

// SetWorkingDirectory implements agent.Adapter.
func (a *ClaudeAdapter) SetWorkingDirectory(cwd string) {
	a.mu.Lock()
	a.cwd = cwd
	a.mu.Unlock()
}

// SetModel implements agent.Adapter.
func (a *ClaudeAdapter) SetModel(model string) {
	a.mu.Lock()
	a.model = model
	a.mu.Unlock()
}

// ResumeThread restores a previously persisted thread id. The conversation
// history itself does not survive a restart; only the id does.
func (a *ClaudeAdapter) ResumeThread(threadID string) {
	a.mu.Lock()
	a.threadID = threadID
	a.mu.Unlock()
}

// GetThreadID implements agent.Adapter.
func (a *ClaudeAdapter) GetThreadID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.threadID
}

// StreamingConfig implements agent.Adapter.
func (a *ClaudeAdapter) StreamingConfig() agent.StreamingConfig {
	return agent.StreamingConfig{Enabled: true, ThrottleMs: a.cfg.StreamThrottleMs}
}

// Send implements agent.Adapter.
func (a *ClaudeAdapter) Send(ctx context.Context, input agent.Input, opts agent.SendOptions) (*agent.SendResult, error) {
	st := a.Status()
	if !st.Ready {
		return nil, apperrors.Config("claude agent is not ready: " + st.Error)
	}

	a.mu.Lock()
	a.streaming = true
	if a.threadID == "" {
		a.threadID = uuid.New().String()
	}
	threadID := a.threadID
	model := a.model
	a.history = append(a.history, sdk.NewUserMessage(sdk.NewTextBlock(input.PromptText())))
	history := append([]sdk.MessageParam(nil), a.history...)
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.streaming = false
		a.mu.Unlock()
	}()

	a.emitter.Emit(protocol.NewThreadStarted(threadID))
	a.emitter.Emit(protocol.NewTurnStarted())

	stream := a.client.Messages.NewStreaming(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: defaultClaudeMaxTokens,
		Messages:  history,
	})

	var (
		acc       sdk.Message
		text      string
		lastEmit  time.Time
		throttle  = time.Duration(a.cfg.StreamThrottleMs) * time.Millisecond
		streaming = opts.Streaming
	)
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			a.logger.Warn("failed to accumulate stream event", zap.Error(err))
		}
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(sdk.TextDelta); ok {
				text += delta.Text
				if streaming && time.Since(lastEmit) >= throttle {
					lastEmit = time.Now()
					a.emitter.Emit(protocol.NewItemEvent(protocol.EventItemUpdated, &protocol.Item{
						Kind: protocol.ItemAgentMessage,
						Text: text,
					}))
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		// Drop the dangling user message so a retry does not double it.
		a.mu.Lock()
		if n := len(a.history); n > 0 {
			a.history = a.history[:n-1]
		}
		a.mu.Unlock()
		return nil, a.failTurn(ctx, err)
	}

	a.mu.Lock()
	a.history = append(a.history, acc.ToParam())
	a.mu.Unlock()

	if len(opts.OutputSchema) > 0 {
		if err := validateAgainstSchema(text, opts.OutputSchema); err != nil {
			a.emitter.Emit(protocol.NewTurnFailed(err.Error()))
			return nil, apperrors.Schema(err.Error())
		}
	}

	a.emitter.Emit(protocol.NewItemEvent(protocol.EventItemCompleted, &protocol.Item{
		Kind: protocol.ItemAgentMessage,
		Text: text,
	}))
	usage := &protocol.Usage{
		InputTokens:  acc.Usage.InputTokens,
		OutputTokens: acc.Usage.OutputTokens,
	}
	a.emitter.Emit(protocol.NewTurnCompleted(usage))

	return &agent.SendResult{Response: text, Usage: usage, AgentID: agent.IDClaude}, nil
}

// failTurn translates the SDK error, emitting the single terminal event. The
// vendor abort error becomes the canonical cancellation error.
func (a *ClaudeAdapter) failTurn(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		a.emitter.Emit(protocol.NewTurnFailed("aborted"))
		return apperrors.Cancelled("aborted")
	}
	a.emitter.Emit(protocol.NewTurnFailed(err.Error()))
	return apperrors.Transport("claude stream failed", err)
}
