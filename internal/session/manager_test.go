package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adskit/ads/internal/agent"
	"github.com/adskit/ads/internal/common/logger"
	"github.com/adskit/ads/pkg/protocol"
)

// stubAdapter is the minimal adapter used to exercise the manager.
type stubAdapter struct {
	meta    agent.Metadata
	ready   bool
	emitter *agent.Emitter

	mu       sync.Mutex
	cwd      string
	threadID string
}

func newStubAdapter(id string) *stubAdapter {
	return &stubAdapter{
		meta:    agent.Metadata{ID: id, Name: id, Vendor: "test"},
		ready:   true,
		emitter: agent.NewEmitter(),
	}
}

func (s *stubAdapter) Metadata() agent.Metadata { return s.meta }
func (s *stubAdapter) Status() agent.Status     { return agent.Status{Ready: s.ready} }

func (s *stubAdapter) Send(ctx context.Context, input agent.Input, opts agent.SendOptions) (*agent.SendResult, error) {
	return &agent.SendResult{Response: "ok", AgentID: s.meta.ID}, nil
}

func (s *stubAdapter) OnEvent(h agent.Handler) func() { return s.emitter.Subscribe(h) }

func (s *stubAdapter) Reset() {
	s.mu.Lock()
	s.threadID = ""
	s.mu.Unlock()
}

func (s *stubAdapter) SetWorkingDirectory(cwd string) {
	s.mu.Lock()
	s.cwd = cwd
	s.mu.Unlock()
}

func (s *stubAdapter) SetModel(string) {}

func (s *stubAdapter) GetThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

func (s *stubAdapter) ResumeThread(threadID string) {
	s.mu.Lock()
	s.threadID = threadID
	s.mu.Unlock()
}

func (s *stubAdapter) StreamingConfig() agent.StreamingConfig {
	return agent.StreamingConfig{Enabled: true}
}

func newTestManager(t *testing.T, adapters func() []agent.Adapter, opts ManagerOptions) (*Manager, *ThreadStore) {
	t.Helper()
	threads, err := NewThreadStore(filepath.Join(t.TempDir(), "threads.json"))
	require.NoError(t, err)
	opts.Factory = adapters
	opts.Threads = threads
	return NewManager(opts, logger.Default()), threads
}

func TestGetOrCreateLazily(t *testing.T) {
	created := 0
	factory := func() []agent.Adapter {
		created++
		return []agent.Adapter{newStubAdapter(agent.IDCodex), newStubAdapter(agent.IDClaude)}
	}
	mgr, _ := newTestManager(t, factory, ManagerOptions{})

	sess, err := mgr.GetOrCreate("u1", "/repo", false)
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, agent.IDCodex, sess.Orchestrator.ActiveID(), "codex is the default active agent")
	assert.Equal(t, "/repo", sess.Cwd())

	again, err := mgr.GetOrCreate("u1", "/other", false)
	require.NoError(t, err)
	assert.Same(t, sess, again, "second call returns the existing session")
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, mgr.Count())
}

func TestThreadWriteThrough(t *testing.T) {
	codex := newStubAdapter(agent.IDCodex)
	mgr, threads := newTestManager(t, func() []agent.Adapter {
		return []agent.Adapter{codex}
	}, ManagerOptions{})

	_, err := mgr.GetOrCreate("u1", "/repo", false)
	require.NoError(t, err)

	// A successful turn announces its thread id; the record must be written
	// through with the session's cwd.
	codex.emitter.Emit(protocol.NewThreadStarted("t-77"))

	rec, ok := threads.Get("u1", agent.IDCodex)
	require.True(t, ok)
	assert.Equal(t, "t-77", rec.ThreadID)
	assert.Equal(t, "/repo", rec.Cwd)
}

func TestResumeThreadOnCreate(t *testing.T) {
	threadsPath := filepath.Join(t.TempDir(), "threads.json")
	threads, err := NewThreadStore(threadsPath)
	require.NoError(t, err)
	require.NoError(t, threads.Put("u1", agent.IDCodex, "t-resume", "/old"))

	codex := newStubAdapter(agent.IDCodex)
	mgr := NewManager(ManagerOptions{
		Factory: func() []agent.Adapter { return []agent.Adapter{codex} },
		Threads: threads,
	}, logger.Default())

	_, err = mgr.GetOrCreate("u1", "/repo", true)
	require.NoError(t, err)
	assert.Equal(t, "t-resume", codex.GetThreadID())
}

func TestSetUserCwdBroadcastsAndPersists(t *testing.T) {
	codex := newStubAdapter(agent.IDCodex)
	mgr, threads := newTestManager(t, func() []agent.Adapter {
		return []agent.Adapter{codex}
	}, ManagerOptions{})

	_, err := mgr.GetOrCreate("u1", "/repo", false)
	require.NoError(t, err)
	require.NoError(t, threads.Put("u1", agent.IDCodex, "t-1", "/repo"))

	require.NoError(t, mgr.SetUserCwd("u1", "/elsewhere"))

	codex.mu.Lock()
	cwd := codex.cwd
	codex.mu.Unlock()
	assert.Equal(t, "/elsewhere", cwd)

	rec, _ := threads.Get("u1", agent.IDCodex)
	assert.Equal(t, "/elsewhere", rec.Cwd, "thread record follows the cwd change")
}

func TestReset(t *testing.T) {
	codex := newStubAdapter(agent.IDCodex)
	codex.ResumeThread("t-old")
	mgr, threads := newTestManager(t, func() []agent.Adapter {
		return []agent.Adapter{codex}
	}, ManagerOptions{})

	_, err := mgr.GetOrCreate("u1", "/repo", false)
	require.NoError(t, err)
	require.NoError(t, threads.Put("u1", agent.IDCodex, "t-old", "/repo"))

	require.NoError(t, mgr.Reset("u1"))
	assert.Empty(t, codex.GetThreadID(), "reset clears adapter thread ids")
	_, ok := threads.Get("u1", agent.IDCodex)
	assert.False(t, ok, "reset drops persisted records")
}

func TestSwitchAgent(t *testing.T) {
	codex := newStubAdapter(agent.IDCodex)
	claude := newStubAdapter(agent.IDClaude)
	claude.ready = false
	mgr, _ := newTestManager(t, func() []agent.Adapter {
		return []agent.Adapter{codex, claude}
	}, ManagerOptions{})

	sess, err := mgr.GetOrCreate("u1", "/repo", false)
	require.NoError(t, err)

	assert.Error(t, mgr.SwitchAgent("u1", agent.IDClaude), "unready target is refused")
	assert.Equal(t, agent.IDCodex, sess.Orchestrator.ActiveID())

	claude.ready = true
	require.NoError(t, mgr.SwitchAgent("u1", agent.IDClaude))
	assert.Equal(t, agent.IDClaude, sess.Orchestrator.ActiveID())

	assert.Error(t, mgr.SwitchAgent("u1", "gemini"))
}

func TestIdleSweep(t *testing.T) {
	mgr, _ := newTestManager(t, func() []agent.Adapter {
		return []agent.Adapter{newStubAdapter(agent.IDCodex)}
	}, ManagerOptions{IdleTimeout: 20 * time.Millisecond})

	sess, err := mgr.GetOrCreate("u1", "/repo", false)
	require.NoError(t, err)

	sess.mu.Lock()
	sess.lastActivity = time.Now().Add(-time.Minute)
	sess.mu.Unlock()

	mgr.sweep()
	assert.Equal(t, 0, mgr.Count())
}

func TestIdleSweepDisabledByZeroTimeout(t *testing.T) {
	mgr, _ := newTestManager(t, func() []agent.Adapter {
		return []agent.Adapter{newStubAdapter(agent.IDCodex)}
	}, ManagerOptions{IdleTimeout: 0, CleanupInterval: time.Millisecond})

	// StartCleanup must be a no-op with a non-positive idle timeout.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.StartCleanup(ctx)

	_, err := mgr.GetOrCreate("u1", "/repo", false)
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, mgr.Count())
}

func TestThreadStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads.json")
	store, err := NewThreadStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put("u1", "codex", "t-1", "/a"))
	require.NoError(t, store.Put("u1", "claude", "t-2", "/a"))
	require.NoError(t, store.Put("u2", "codex", "t-3", "/b"))

	reloaded, err := NewThreadStore(path)
	require.NoError(t, err)
	rec, ok := reloaded.Get("u1", "claude")
	require.True(t, ok)
	assert.Equal(t, "t-2", rec.ThreadID)

	require.NoError(t, reloaded.DeleteUser("u1"))
	_, ok = reloaded.Get("u1", "codex")
	assert.False(t, ok)
	_, ok = reloaded.Get("u2", "codex")
	assert.True(t, ok, "other users' records survive")
}
