package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adskit/ads/internal/agent"
	apperrors "github.com/adskit/ads/internal/common/errors"
	"github.com/adskit/ads/internal/common/logger"
	"github.com/adskit/ads/pkg/protocol"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiConfig configures the HTTP adapter.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// GeminiAdapter is the plain request/response variant: one HTTP round trip
// per send with the event stream synthesised around it.
type GeminiAdapter struct {
	cfg     GeminiConfig
	http    *http.Client
	emitter *agent.Emitter
	logger  *logger.Logger

	mu        sync.Mutex
	cwd       string
	model     string
	threadID  string
	streaming bool
}

var _ agent.Adapter = (*GeminiAdapter)(nil)

// NewGeminiAdapter creates the Gemini HTTP adapter.
func NewGeminiAdapter(cfg GeminiConfig, log *logger.Logger) *GeminiAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	return &GeminiAdapter{
		cfg:     cfg,
		http:    &http.Client{Timeout: 2 * time.Minute},
		emitter: agent.NewEmitter(),
		logger:  log.WithComponent("adapter").WithAgentID(agent.IDGemini),
		model:   cfg.Model,
	}
}

// Metadata implements agent.Adapter.
func (a *GeminiAdapter) Metadata() agent.Metadata {
	return agent.Metadata{
		ID:           agent.IDGemini,
		Name:         "Gemini",
		Vendor:       "google",
		Capabilities: []string{"chat"},
	}
}

// Status implements agent.Adapter.
func (a *GeminiAdapter) Status() agent.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := agent.Status{Ready: a.cfg.APIKey != "", Streaming: a.streaming}
	if a.cfg.APIKey == "" {
		st.Error = "missing API key"
	}
	return st
}

// OnEvent implements agent.Adapter.
func (a *GeminiAdapter) OnEvent(h agent.Handler) func() {
	return a.emitter.Subscribe(h)
}

// Reset clears the thread id.
func (a *GeminiAdapter) Reset() {
	a.mu.Lock()
	a.threadID = ""
	a.mu.Unlock()
}

// SetWorkingDirectory implements agent.Adapter.
func (a *GeminiAdapter) SetWorkingDirectory(cwd string) {
	a.mu.Lock()
	a.cwd = cwd
	a.mu.Unlock()
}

// SetModel implements agent.Adapter.
func (a *GeminiAdapter) SetModel(model string) {
	a.mu.Lock()
	a.model = model
	a.mu.Unlock()
}

// ResumeThread restores a previously persisted thread id.
func (a *GeminiAdapter) ResumeThread(threadID string) {
	a.mu.Lock()
	a.threadID = threadID
	a.mu.Unlock()
}

// GetThreadID implements agent.Adapter.
func (a *GeminiAdapter) GetThreadID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.threadID
}

// StreamingConfig implements agent.Adapter.
func (a *GeminiAdapter) StreamingConfig() agent.StreamingConfig {
	return agent.StreamingConfig{Enabled: false, ThrottleMs: 0}
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Send implements agent.Adapter.
func (a *GeminiAdapter) Send(ctx context.Context, input agent.Input, opts agent.SendOptions) (*agent.SendResult, error) {
	st := a.Status()
	if !st.Ready {
		return nil, apperrors.Config("gemini agent is not ready: " + st.Error)
	}

	a.mu.Lock()
	a.streaming = true
	if a.threadID == "" {
		a.threadID = uuid.New().String()
	}
	threadID := a.threadID
	model := a.model
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.streaming = false
		a.mu.Unlock()
	}()

	a.emitter.Emit(protocol.NewThreadStarted(threadID))
	a.emitter.Emit(protocol.NewTurnStarted())

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: input.PromptText()}}}},
	})
	if err != nil {
		a.emitter.Emit(protocol.NewTurnFailed(err.Error()))
		return nil, apperrors.Transport("encode request", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", a.cfg.BaseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		a.emitter.Emit(protocol.NewTurnFailed(err.Error()))
		return nil, apperrors.Transport("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", a.cfg.APIKey)

	resp, err := a.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			a.emitter.Emit(protocol.NewTurnFailed("aborted"))
			return nil, apperrors.Cancelled("aborted")
		}
		a.emitter.Emit(protocol.NewTurnFailed(err.Error()))
		return nil, apperrors.Transport("gemini request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		a.emitter.Emit(protocol.NewTurnFailed(err.Error()))
		return nil, apperrors.Transport("read response", err)
	}

	var decoded geminiResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		a.emitter.Emit(protocol.NewTurnFailed(err.Error()))
		return nil, apperrors.Transport("decode response", err)
	}
	if resp.StatusCode/100 != 2 {
		msg := fmt.Sprintf("gemini returned %d", resp.StatusCode)
		if decoded.Error != nil && decoded.Error.Message != "" {
			msg = decoded.Error.Message
		}
		a.emitter.Emit(protocol.NewTurnFailed(msg))
		return nil, apperrors.Transport(msg, nil)
	}

	var text string
	if len(decoded.Candidates) > 0 {
		for _, part := range decoded.Candidates[0].Content.Parts {
			text += part.Text
		}
	}

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
	a.emitter.Emit(protocol.NewTurnCompleted(nil))

	return &agent.SendResult{Response: text, AgentID: agent.IDGemini}, nil
}
