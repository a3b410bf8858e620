package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adskit/ads/internal/agent"
	"github.com/adskit/ads/internal/common/logger"
	"github.com/adskit/ads/pkg/protocol"
)

// fakeAdapter is a scriptable in-memory adapter.
type fakeAdapter struct {
	meta    agent.Metadata
	ready   bool
	emitter *agent.Emitter

	mu       sync.Mutex
	cwd      string
	model    string
	threadID string
	respond  func(input agent.Input) (*agent.SendResult, error)
	sends    []string
}

func newFakeAdapter(id, vendor string) *fakeAdapter {
	return &fakeAdapter{
		meta:    agent.Metadata{ID: id, Name: id, Vendor: vendor},
		ready:   true,
		emitter: agent.NewEmitter(),
	}
}

func (f *fakeAdapter) Metadata() agent.Metadata { return f.meta }

func (f *fakeAdapter) Status() agent.Status {
	return agent.Status{Ready: f.ready}
}

func (f *fakeAdapter) Send(ctx context.Context, input agent.Input, opts agent.SendOptions) (*agent.SendResult, error) {
	f.mu.Lock()
	f.sends = append(f.sends, input.PromptText())
	respond := f.respond
	f.mu.Unlock()

	f.emitter.Emit(protocol.NewTurnStarted())
	if respond != nil {
		res, err := respond(input)
		if err != nil {
			f.emitter.Emit(protocol.NewTurnFailed(err.Error()))
			return nil, err
		}
		f.emitter.Emit(protocol.NewTurnCompleted(nil))
		return res, nil
	}
	f.emitter.Emit(protocol.NewTurnCompleted(nil))
	return &agent.SendResult{Response: "ok", AgentID: f.meta.ID}, nil
}

func (f *fakeAdapter) OnEvent(h agent.Handler) func() { return f.emitter.Subscribe(h) }
func (f *fakeAdapter) Reset()                         { f.mu.Lock(); f.threadID = ""; f.mu.Unlock() }
func (f *fakeAdapter) SetWorkingDirectory(cwd string) { f.mu.Lock(); f.cwd = cwd; f.mu.Unlock() }
func (f *fakeAdapter) SetModel(model string)          { f.mu.Lock(); f.model = model; f.mu.Unlock() }
func (f *fakeAdapter) GetThreadID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threadID
}
func (f *fakeAdapter) StreamingConfig() agent.StreamingConfig {
	return agent.StreamingConfig{Enabled: true}
}

func (f *fakeAdapter) modelValue() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.model
}

func (f *fakeAdapter) cwdValue() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cwd
}

func newTestOrchestrator(adapters ...agent.Adapter) *Orchestrator {
	o := New(logger.Default())
	for _, a := range adapters {
		o.Register(a)
	}
	return o
}

func TestRegisterAndActive(t *testing.T) {
	codex := newFakeAdapter("codex", "openai")
	claude := newFakeAdapter("claude", "anthropic")
	o := newTestOrchestrator(codex, claude)

	assert.Equal(t, "codex", o.ActiveID(), "first registered adapter is active")
	require.NoError(t, o.SetActive("claude"))
	assert.Equal(t, "claude", o.ActiveID())
	assert.Error(t, o.SetActive("gemini"))
	assert.Len(t, o.List(), 2)
}

func TestSwitchPreservesThreadIDs(t *testing.T) {
	codex := newFakeAdapter("codex", "openai")
	claude := newFakeAdapter("claude", "anthropic")
	codex.threadID = "t-codex"
	o := newTestOrchestrator(codex, claude)

	require.NoError(t, o.SetActive("claude"))
	require.NoError(t, o.SetActive("codex"))
	assert.Equal(t, "t-codex", codex.GetThreadID())
}

func TestInvokeForwardsEvents(t *testing.T) {
	codex := newFakeAdapter("codex", "openai")
	o := newTestOrchestrator(codex)

	var events []*protocol.Event
	unsub := o.OnEvent(func(ev *protocol.Event) { events = append(events, ev) })
	defer unsub()

	_, err := o.Invoke(context.Background(), agent.TextInput("hi"), agent.SendOptions{})
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, protocol.EventTurnStarted, events[0].Type)
	assert.Equal(t, protocol.EventTurnCompleted, events[1].Type)

	// The forwarder is one-shot: adapter events after the call stay private.
	codex.emitter.Emit(protocol.NewTurnStarted())
	assert.Len(t, events, 2)
}

func TestSetWorkingDirectoryBroadcasts(t *testing.T) {
	codex := newFakeAdapter("codex", "openai")
	claude := newFakeAdapter("claude", "anthropic")
	o := newTestOrchestrator(codex, claude)

	o.SetWorkingDirectory("/repo")
	assert.Equal(t, "/repo", codex.cwdValue())
	assert.Equal(t, "/repo", claude.cwdValue())
	assert.Equal(t, "/repo", o.WorkingDirectory())
}

func TestSetModelVendorGating(t *testing.T) {
	codex := newFakeAdapter("codex", "openai")
	claude := newFakeAdapter("claude", "anthropic")
	gemini := newFakeAdapter("gemini", "google")
	o := newTestOrchestrator(codex, claude, gemini)

	o.SetModel("gemini-2.0-flash")
	assert.Empty(t, codex.modelValue(), "gemini model must not reach an openai adapter")
	assert.Empty(t, claude.modelValue())
	assert.Equal(t, "gemini-2.0-flash", gemini.modelValue())

	o.SetModel("claude-sonnet-4-5")
	assert.Equal(t, "claude-sonnet-4-5", claude.modelValue())
	assert.Empty(t, codex.modelValue())
}

func TestResetClearsThreads(t *testing.T) {
	codex := newFakeAdapter("codex", "openai")
	codex.threadID = "t-1"
	o := newTestOrchestrator(codex)

	o.Reset()
	assert.Empty(t, codex.GetThreadID())
}

func TestAgentMetadataLookup(t *testing.T) {
	o := newTestOrchestrator(newFakeAdapter("codex", "openai"))
	meta, ok := o.AgentMetadata("codex")
	require.True(t, ok)
	assert.Equal(t, "openai", meta.Vendor)
	_, ok = o.AgentMetadata("nope")
	assert.False(t, ok)
}
