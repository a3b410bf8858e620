// Package session keeps per-user orchestrator and workspace state, including
// thread-id resumption across restarts and idle cleanup.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adskit/ads/internal/agent"
	"github.com/adskit/ads/internal/agent/probe"
	"github.com/adskit/ads/internal/common/logger"
	"github.com/adskit/ads/internal/orchestrator"
	"github.com/adskit/ads/pkg/protocol"
)

// AdapterFactory builds the adapter set for a new session, honouring the
// configured feature flags (Codex always; Claude/Gemini iff credentials).
type AdapterFactory func() []agent.Adapter

// threadResumer is the optional adapter capability used for cross-process
// resumption.
type threadResumer interface {
	ResumeThread(threadID string)
}

// Session is one user's orchestrator plus workspace state.
type Session struct {
	UserID       string
	Orchestrator *orchestrator.Orchestrator
	ConvLog      *ConversationLog

	mu           sync.Mutex
	cwd          string
	lastActivity time.Time
	unsubscribes []func()
}

// Cwd returns the session's working directory.
func (s *Session) Cwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// LastActivity returns the time of the session's last request.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Touch marks the session active now.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Manager owns all live sessions.
type Manager struct {
	factory AdapterFactory
	threads *ThreadStore
	prober  *probe.Prober
	logger  *logger.Logger

	idleTimeout     time.Duration
	cleanupInterval time.Duration
	logDir          string

	mu       sync.Mutex
	sessions map[string]*Session
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Factory         AdapterFactory
	Threads         *ThreadStore
	Prober          *probe.Prober
	IdleTimeout     time.Duration // <= 0 disables expiry
	CleanupInterval time.Duration // <= 0 disables the cleanup ticker
	LogDir          string        // "" disables conversation logging
}

// NewManager creates a Manager.
func NewManager(opts ManagerOptions, log *logger.Logger) *Manager {
	return &Manager{
		factory:         opts.Factory,
		threads:         opts.Threads,
		prober:          opts.Prober,
		logger:          log.WithComponent("session"),
		idleTimeout:     opts.IdleTimeout,
		cleanupInterval: opts.CleanupInterval,
		logDir:          opts.LogDir,
		sessions:        make(map[string]*Session),
	}
}

// SetLogDir enables conversation transcripts under dir for new sessions.
func (m *Manager) SetLogDir(dir string) {
	m.logDir = dir
}

// GetOrCreate returns the user's session, creating it lazily on first
// request. With resumeThread, persisted thread ids (and their cwd) are
// restored into the adapters.
func (m *Manager) GetOrCreate(userID, cwd string, resumeThread bool) (*Session, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		sess.Touch()
		return sess, nil
	}
	m.mu.Unlock()

	sess, err := m.create(userID, cwd, resumeThread)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[userID]; ok {
		// Lost the creation race; drop ours.
		m.mu.Unlock()
		sess.close()
		existing.Touch()
		return existing, nil
	}
	m.sessions[userID] = sess
	m.mu.Unlock()

	m.logger.Info("session created", zap.String("user_id", userID), zap.String("cwd", cwd))
	return sess, nil
}

func (m *Manager) create(userID, cwd string, resumeThread bool) (*Session, error) {
	orch := orchestrator.New(m.logger.WithUserID(userID))
	sess := &Session{
		UserID:       userID,
		Orchestrator: orch,
		cwd:          cwd,
		lastActivity: time.Now(),
	}

	for _, a := range m.factory() {
		orch.Register(a)
		meta := a.Metadata()

		if resumeThread && m.threads != nil {
			if rec, ok := m.threads.Get(userID, meta.ID); ok && rec.ThreadID != "" {
				if resumer, ok := a.(threadResumer); ok {
					resumer.ResumeThread(rec.ThreadID)
					if rec.Cwd != "" && cwd == "" {
						sess.cwd = rec.Cwd
					}
				}
			}
		}

		// Write-through: every successful turn that yields a thread id
		// refreshes the persisted record under the current cwd.
		agentID := meta.ID
		unsub := a.OnEvent(func(ev *protocol.Event) {
			if ev.Type != protocol.EventThreadStarted || ev.ThreadID == "" || m.threads == nil {
				return
			}
			if err := m.threads.Put(userID, agentID, ev.ThreadID, sess.Cwd()); err != nil {
				m.logger.Warn("failed to persist thread record",
					zap.String("user_id", userID),
					zap.String("agent_id", agentID),
					zap.Error(err))
			}
		})
		sess.unsubscribes = append(sess.unsubscribes, unsub)
	}

	// Codex is the default active agent when present.
	if _, ok := orch.Get(agent.IDCodex); ok {
		_ = orch.SetActive(agent.IDCodex)
	}
	orch.SetWorkingDirectory(sess.cwd)

	if m.logDir != "" {
		convLog, err := OpenConversationLog(m.logDir, userID)
		if err != nil {
			m.logger.Warn("conversation log unavailable", zap.String("user_id", userID), zap.Error(err))
		} else {
			sess.ConvLog = convLog
		}
	}
	return sess, nil
}

// Get returns an existing session.
func (m *Manager) Get(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[userID]
	return sess, ok
}

// SetUserCwd broadcasts a changed working directory to the session's
// orchestrator and re-homes the persisted thread records.
func (m *Manager) SetUserCwd(userID, cwd string) error {
	sess, ok := m.Get(userID)
	if !ok {
		return fmt.Errorf("no session for user %q", userID)
	}
	sess.mu.Lock()
	changed := sess.cwd != cwd
	sess.cwd = cwd
	sess.mu.Unlock()
	if !changed {
		return nil
	}
	sess.Orchestrator.SetWorkingDirectory(cwd)
	if m.threads != nil {
		if err := m.threads.UpdateCwd(userID, cwd); err != nil {
			return err
		}
	}
	return nil
}

// Reset closes the conversation log, resets the orchestrator (clearing
// thread ids) and drops the persisted thread records.
func (m *Manager) Reset(userID string) error {
	sess, ok := m.Get(userID)
	if !ok {
		return fmt.Errorf("no session for user %q", userID)
	}
	if sess.ConvLog != nil {
		_ = sess.ConvLog.Close()
		sess.ConvLog = nil
	}
	sess.Orchestrator.Reset()
	if m.threads != nil {
		if err := m.threads.DeleteUser(userID); err != nil {
			return err
		}
	}
	return nil
}

// SwitchAgent activates the adapter matching the id or display name. The
// target must report ready (merged with the availability probe).
func (m *Manager) SwitchAgent(userID, idOrName string) error {
	sess, ok := m.Get(userID)
	if !ok {
		return fmt.Errorf("no session for user %q", userID)
	}

	target := resolveAgent(sess.Orchestrator, idOrName)
	if target == nil {
		return fmt.Errorf("unknown agent %q", idOrName)
	}
	meta := target.Metadata()
	st := target.Status()
	if m.prober != nil {
		st = m.prober.MergeStatus(meta.ID, st)
	}
	if !st.Ready {
		return fmt.Errorf("agent %s is not ready: %s", meta.ID, st.Error)
	}
	return sess.Orchestrator.SetActive(meta.ID)
}

func resolveAgent(orch *orchestrator.Orchestrator, idOrName string) agent.Adapter {
	if a, ok := orch.Get(idOrName); ok {
		return a
	}
	want := strings.ToLower(strings.TrimSpace(idOrName))
	for _, a := range orch.List() {
		if strings.ToLower(a.Metadata().Name) == want {
			return a
		}
	}
	return nil
}

// Remove drops a session.
func (m *Manager) Remove(userID string) {
	m.mu.Lock()
	sess, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if ok {
		sess.close()
		m.logger.Info("session removed", zap.String("user_id", userID))
	}
}

// StartCleanup launches the idle-session sweeper. With a non-positive idle
// timeout or interval, cleanup is disabled.
func (m *Manager) StartCleanup(ctx context.Context) {
	if m.idleTimeout <= 0 || m.cleanupInterval <= 0 {
		m.logger.Debug("session cleanup disabled")
		return
	}
	go func() {
		ticker := time.NewTicker(m.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.idleTimeout)
	m.mu.Lock()
	var expired []string
	for userID, sess := range m.sessions {
		if sess.LastActivity().Before(cutoff) {
			expired = append(expired, userID)
		}
	}
	m.mu.Unlock()
	for _, userID := range expired {
		m.logger.Info("expiring idle session", zap.String("user_id", userID))
		m.Remove(userID)
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (s *Session) close() {
	for _, unsub := range s.unsubscribes {
		unsub()
	}
	if s.ConvLog != nil {
		_ = s.ConvLog.Close()
	}
}
