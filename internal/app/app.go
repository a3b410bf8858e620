// Package app glues the front door to the session, orchestrator and
// coordinator layers.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/adskit/ads/internal/agent"
	"github.com/adskit/ads/internal/agent/probe"
	"github.com/adskit/ads/internal/common/logger"
	"github.com/adskit/ads/internal/config"
	"github.com/adskit/ads/internal/events/bus"
	gw "github.com/adskit/ads/internal/gateway/websocket"
	"github.com/adskit/ads/internal/session"
	"github.com/adskit/ads/internal/task/coordinator"
	"github.com/adskit/ads/internal/task/repository"
	"github.com/adskit/ads/internal/task/verification"
	"github.com/adskit/ads/pkg/protocol"
)

// App wires prompts from the bridge into the orchestration core.
type App struct {
	cfg      *config.Config
	sessions *session.Manager
	repo     repository.Repository
	verifier *verification.Runner
	prober   *probe.Prober
	events   bus.Bus
	logger   *logger.Logger
}

var _ gw.App = (*App)(nil)

// New creates the App.
func New(cfg *config.Config, sessions *session.Manager, repo repository.Repository,
	verifier *verification.Runner, prober *probe.Prober, events bus.Bus, log *logger.Logger) *App {
	return &App{
		cfg:      cfg,
		sessions: sessions,
		repo:     repo,
		verifier: verifier,
		prober:   prober,
		events:   events,
		logger:   log.WithComponent("app"),
	}
}

func (a *App) getSession(sessionID string) (*session.Session, error) {
	return a.sessions.GetOrCreate(sessionID, a.cfg.Workspace.Root, true)
}

// Agents implements gw.App.
func (a *App) Agents(sessionID string) []gw.AgentInfo {
	sess, err := a.getSession(sessionID)
	if err != nil {
		a.logger.Error("failed to resolve session", zap.Error(err))
		return nil
	}
	activeID := sess.Orchestrator.ActiveID()
	var infos []gw.AgentInfo
	for _, adapter := range sess.Orchestrator.List() {
		meta := adapter.Metadata()
		st := adapter.Status()
		if a.prober != nil {
			st = a.prober.MergeStatus(meta.ID, st)
		}
		infos = append(infos, gw.AgentInfo{
			ID:     meta.ID,
			Name:   meta.Name,
			Vendor: meta.Vendor,
			Ready:  st.Ready,
			Error:  st.Error,
			Active: meta.ID == activeID,
		})
	}
	return infos
}

// HandlePrompt implements gw.App. The active agent answers; when the reply
// comes from the supervisor and the coordinator is enabled, delegation blocks
// are driven through the full supervisor-delegate-verify loop, otherwise the
// inline delegation middleware resolves them.
func (a *App) HandlePrompt(ctx context.Context, sessionID, chatID, text string) (string, error) {
	sess, err := a.getSession(sessionID)
	if err != nil {
		return "", err
	}
	sess.Touch()
	orch := sess.Orchestrator

	if sess.ConvLog != nil {
		_ = sess.ConvLog.Append("user", "", text)
	}

	unsubscribe := orch.OnEvent(func(ev *protocol.Event) {
		a.publishEvent(ctx, sessionID, ev)
	})
	defer unsubscribe()

	activeID := orch.ActiveID()
	result, err := orch.Invoke(ctx, agent.TextInput(text), agent.SendOptions{Streaming: true})
	if err != nil {
		return "", err
	}

	response := result.Response
	supervisorID := a.cfg.Coordinator.SupervisorAgentID

	switch {
	case a.cfg.Coordinator.Enabled && activeID == supervisorID:
		coord := a.newCoordinator(sessionID, sess)
		outcome, err := coord.Run(ctx, result, func(ctx context.Context, prompt string) (*agent.SendResult, error) {
			return orch.InvokeAgent(ctx, supervisorID, agent.TextInput(prompt), agent.SendOptions{Streaming: false})
		})
		if err != nil {
			return "", err
		}
		response = outcome.Response
	default:
		response = orch.ResolveDelegations(ctx, response, activeID)
	}

	if sess.ConvLog != nil {
		_ = sess.ConvLog.Append("agent", activeID, response)
	}
	return response, nil
}

// HandleCommand implements gw.App.
func (a *App) HandleCommand(ctx context.Context, sessionID, name string, args []string) (string, error) {
	sess, err := a.getSession(sessionID)
	if err != nil {
		return "", err
	}
	sess.Touch()

	switch name {
	case "agent", "switch_agent":
		if len(args) < 1 {
			return "", fmt.Errorf("usage: agent <id|name>")
		}
		if err := a.sessions.SwitchAgent(sessionID, args[0]); err != nil {
			return "", err
		}
		return "active agent: " + sess.Orchestrator.ActiveID(), nil

	case "cd":
		if len(args) < 1 {
			return "", fmt.Errorf("usage: cd <path>")
		}
		if err := a.sessions.SetUserCwd(sessionID, args[0]); err != nil {
			return "", err
		}
		return "working directory: " + args[0], nil

	case "model":
		if len(args) < 1 {
			return "", fmt.Errorf("usage: model <name>")
		}
		sess.Orchestrator.SetModel(args[0])
		return "model set: " + args[0], nil

	case "reset":
		if err := a.sessions.Reset(sessionID); err != nil {
			return "", err
		}
		return "session reset", nil

	case "tasks":
		return a.listTasks(ctx, sessionID)

	default:
		return "", fmt.Errorf("unknown command %q", name)
	}
}

// ResumeTask implements gw.App.
func (a *App) ResumeTask(ctx context.Context, sessionID, taskID string) (string, error) {
	sess, err := a.getSession(sessionID)
	if err != nil {
		return "", err
	}
	sess.Touch()
	coord := a.newCoordinator(sessionID, sess)
	return coord.Resume(ctx, taskID)
}

func (a *App) newCoordinator(sessionID string, sess *session.Session) *coordinator.Coordinator {
	cfg := coordinator.Config{
		MaxSupervisorRounds:    a.cfg.Coordinator.MaxSupervisorRounds,
		MaxDelegations:         a.cfg.Coordinator.MaxDelegations,
		MaxParallelDelegations: a.cfg.Coordinator.MaxParallelDelegations,
		TaskTimeout:            durationMs(a.cfg.Coordinator.TaskTimeoutMs),
		MaxTaskAttempts:        a.cfg.Coordinator.MaxTaskAttempts,
		RetryBackoff:           durationMs(a.cfg.Coordinator.RetryBackoffMs),
		SupervisorAgentID:      a.cfg.Coordinator.SupervisorAgentID,
		Namespace:              a.cfg.Workspace.Root,
		SessionID:              sessionID,
	}
	return coordinator.New(cfg, sess.Orchestrator, a.repo, a.verifier, sess.Cwd(), a.logger)
}

func (a *App) listTasks(ctx context.Context, sessionID string) (string, error) {
	scope := repository.Scope{Namespace: a.cfg.Workspace.Root, SessionID: sessionID}
	tasks, err := a.repo.ListTasks(ctx, scope, true)
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return "no active tasks", nil
	}
	var b strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s [%s] agent=%s rev=%d\n", t.TaskID, t.Status, t.AgentID, t.Revision)
	}
	return strings.TrimSpace(b.String()), nil
}

func (a *App) publishEvent(ctx context.Context, sessionID string, ev *protocol.Event) {
	update := protocol.UpdateFromEvent(ev)
	payload, err := json.Marshal(update)
	if err != nil {
		return
	}
	if err := a.events.Publish(ctx, bus.SessionSubject(sessionID), &bus.Event{
		UserID:  sessionID,
		Payload: payload,
	}); err != nil {
		a.logger.Warn("event publish failed", zap.Error(err))
	}
}

func durationMs(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
