// Package api contains the HTTP handlers of the ads REST surface.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adskit/ads/internal/agent/probe"
	"github.com/adskit/ads/internal/common/logger"
	"github.com/adskit/ads/internal/session"
	"github.com/adskit/ads/internal/task/repository"
	v1 "github.com/adskit/ads/pkg/api/v1"
)

// ClientCounter reports how many WebSocket clients are connected.
type ClientCounter interface {
	Count() int
}

// Handler contains the HTTP handlers.
type Handler struct {
	sessions  *session.Manager
	repo      repository.Repository
	prober    *probe.Prober
	clients   ClientCounter
	namespace string
	logger    *logger.Logger
}

// NewHandler creates the API handler. namespace scopes task reads to this
// workspace.
func NewHandler(sessions *session.Manager, repo repository.Repository, prober *probe.Prober,
	clients ClientCounter, namespace string, log *logger.Logger) *Handler {
	return &Handler{
		sessions:  sessions,
		repo:      repo,
		prober:    prober,
		clients:   clients,
		namespace: namespace,
		logger:    log.WithComponent("api"),
	}
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	resp := v1.HealthResponse{Status: "ok", Sessions: h.sessions.Count()}
	if h.clients != nil {
		resp.Clients = h.clients.Count()
	}
	c.JSON(http.StatusOK, resp)
}

// ListAgents handles GET /api/v1/agents?session_id=...
func (h *Handler) ListAgents(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	sess, ok := h.sessions.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such session"})
		return
	}

	activeID := sess.Orchestrator.ActiveID()
	summaries := make([]v1.AgentSummary, 0)
	for _, adapter := range sess.Orchestrator.List() {
		meta := adapter.Metadata()
		st := adapter.Status()
		if h.prober != nil {
			st = h.prober.MergeStatus(meta.ID, st)
		}
		summaries = append(summaries, v1.AgentSummary{
			ID:           meta.ID,
			Name:         meta.Name,
			Vendor:       meta.Vendor,
			Capabilities: meta.Capabilities,
			Ready:        st.Ready,
			Streaming:    st.Streaming,
			Error:        st.Error,
			Active:       meta.ID == activeID,
			ThreadID:     adapter.GetThreadID(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"agents": summaries})
}

// ListTasks handles GET /api/v1/tasks?session_id=...&active=true
func (h *Handler) ListTasks(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	scope := repository.Scope{Namespace: h.namespace, SessionID: sessionID}
	activeOnly := c.Query("active") == "true"

	tasks, err := h.repo.ListTasks(c.Request.Context(), scope, activeOnly)
	if err != nil {
		h.logger.Error("failed to list tasks", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tasks"})
		return
	}

	summaries := make([]v1.TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		summaries = append(summaries, v1.TaskSummary{
			TaskID:       t.TaskID,
			ParentTaskID: t.ParentTaskID,
			AgentID:      t.AgentID,
			Revision:     t.Revision,
			Status:       string(t.Status),
			Attempts:     t.Attempts,
			LastError:    t.LastError,
			CreatedAt:    t.CreatedAt,
			UpdatedAt:    t.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tasks": summaries})
}

// GetTask handles GET /api/v1/tasks/:id?session_id=...
func (h *Handler) GetTask(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	scope := repository.Scope{Namespace: h.namespace, SessionID: sessionID}

	task, err := h.repo.GetTask(c.Request.Context(), scope, c.Param("id"))
	if err != nil {
		if err == repository.ErrTaskNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		h.logger.Error("failed to get task", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get task"})
		return
	}
	c.JSON(http.StatusOK, task)
}

// ListTaskMessages handles GET /api/v1/tasks/:id/messages?session_id=...
func (h *Handler) ListTaskMessages(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	scope := repository.Scope{Namespace: h.namespace, SessionID: sessionID}

	msgs, err := h.repo.ListMessages(c.Request.Context(), scope, c.Param("id"))
	if err != nil {
		h.logger.Error("failed to list task messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list task messages"})
		return
	}
	views := make([]v1.TaskMessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, v1.TaskMessageView{
			ID:        m.ID,
			Role:      m.Role,
			Kind:      m.Kind,
			Payload:   m.Payload,
			Timestamp: m.Timestamp,
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": views})
}
