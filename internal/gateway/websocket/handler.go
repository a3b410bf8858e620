package websocket

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/adskit/ads/internal/common/logger"
	"github.com/adskit/ads/internal/events/bus"
)

// AgentInfo is the agent summary sent in the agents frame.
type AgentInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Vendor string `json:"vendor"`
	Ready  bool   `json:"ready"`
	Error  string `json:"error,omitempty"`
	Active bool   `json:"active"`
}

// App is the application surface the bridge forwards work to.
type App interface {
	// Agents lists the session's adapters with merged status.
	Agents(sessionID string) []AgentInfo
	// HandlePrompt routes a prompt through the session's orchestrator (and,
	// on a supervisor reply, the coordinator). Returns the final text.
	HandlePrompt(ctx context.Context, sessionID, chatID, text string) (string, error)
	// HandleCommand executes a control command (switch agent, cd, model...).
	HandleCommand(ctx context.Context, sessionID string, name string, args []string) (string, error)
	// ResumeTask re-enters a persisted task.
	ResumeTask(ctx context.Context, sessionID, taskID string) (string, error)
}

// Config tunes the bridge.
type Config struct {
	AllowedOrigins []string
	BearerToken    string
	Heartbeat      time.Duration
	MaxMissedPongs int
}

// Handler upgrades connections and dispatches work frames.
type Handler struct {
	app    App
	events bus.Bus
	hub    *Hub
	cfg    Config
	logger *logger.Logger

	upgrader websocket.Upgrader
}

// NewHandler creates the bridge handler.
func NewHandler(app App, events bus.Bus, hub *Hub, cfg Config, log *logger.Logger) *Handler {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	if cfg.MaxMissedPongs <= 0 {
		cfg.MaxMissedPongs = 2
	}
	h := &Handler{
		app:    app,
		events: events,
		hub:    hub,
		cfg:    cfg,
		logger: log.WithComponent("ws_bridge"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.originAllowed,
	}
	return h
}

// Register mounts the /ws route.
func (h *Handler) Register(router gin.IRoutes) {
	router.GET("/ws", h.serve)
}

func (h *Handler) originAllowed(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.cfg.BearerToken == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok && token == h.cfg.BearerToken {
		return true
	}
	return r.URL.Query().Get("token") == h.cfg.BearerToken
}

func (h *Handler) serve(c *gin.Context) {
	r, w := c.Request, c.Writer

	if !h.originAllowed(r) {
		h.rejectUpgrade(w, r, CloseForbidden, "forbidden origin")
		return
	}
	if !h.authorized(r) {
		h.rejectUpgrade(w, r, CloseUnauthorized, "unauthorized")
		return
	}

	sessionID, chatID, accepted := parseSubprotocols(websocket.Subprotocols(r))
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	if chatID == "" {
		chatID = "main"
	}

	upgrader := h.upgrader
	upgrader.Subprotocols = accepted
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	if h.hub.Full() {
		h.closeWith(conn, CloseTooManyClients, "too many clients")
		return
	}

	client := &Client{
		ID:             uuid.New().String(),
		SessionID:      sessionID,
		ChatID:         chatID,
		conn:           conn,
		send:           make(chan *Outbound, sendBufferSize),
		work:           make(chan *Inbound, workQueueSize),
		hub:            h.hub,
		handler:        h,
		logger:         h.logger.WithChat(sessionID, chatID),
		heartbeat:      h.cfg.Heartbeat,
		maxMissedPongs: h.cfg.MaxMissedPongs,
	}
	h.hub.register <- client

	ctx, cancel := context.WithCancel(c.Request.Context())

	// Forward the session's event stream to this socket.
	sub, err := h.events.Subscribe(bus.SessionSubject(sessionID), func(_ context.Context, ev *bus.Event) error {
		client.Send(&Outbound{Type: FrameEvent, Payload: ev.Payload})
		return nil
	})
	if err != nil {
		h.logger.Error("event subscription failed", zap.Error(err))
	}

	go func() {
		client.WritePump(ctx)
		cancel()
	}()
	go client.WorkPump(ctx)
	go func() {
		client.ReadPump(ctx)
		if sub != nil {
			_ = sub.Unsubscribe()
		}
		cancel()
	}()

	h.greet(client)
}

// greet sends welcome, agents and the cached history.
func (h *Handler) greet(client *Client) {
	welcome, _ := NewOutbound(FrameWelcome, map[string]string{
		"session_id": client.SessionID,
		"chat_id":    client.ChatID,
	})
	client.Send(welcome)

	agents, err := NewOutbound(FrameAgents, h.app.Agents(client.SessionID))
	if err == nil {
		client.Send(agents)
	}

	for _, frame := range h.hub.History().Replay(client.SessionID, client.ChatID) {
		client.Send(frame)
	}
}

// handleWork processes one serialised work frame.
func (h *Handler) handleWork(ctx context.Context, client *Client, msg *Inbound) {
	switch msg.Kind {
	case KindClearHistory:
		h.hub.History().Clear(client.SessionID, client.ChatID)
		return
	case KindPrompt, KindCommand, KindTaskResume:
	default:
		return
	}

	reqCtx, cancel := context.WithCancel(ctx)
	client.registerInflight(cancel)
	defer func() {
		client.registerInflight(nil)
		cancel()
	}()

	var (
		text string
		err  error
	)
	switch msg.Kind {
	case KindPrompt:
		text, err = h.app.HandlePrompt(reqCtx, client.SessionID, client.ChatID, msg.Text)
	case KindCommand:
		text, err = h.app.HandleCommand(reqCtx, client.SessionID, msg.Name, msg.Args)
	case KindTaskResume:
		text, err = h.app.ResumeTask(reqCtx, client.SessionID, msg.TaskID)
	}

	// Every terminal path yields exactly one result frame.
	payload := map[string]any{"ok": err == nil, "text": text}
	if err != nil {
		payload["text"] = err.Error()
	}
	frame, marshalErr := NewOutbound(FrameResult, payload)
	if marshalErr != nil {
		h.logger.Error("failed to marshal result frame", zap.Error(marshalErr))
		return
	}
	h.hub.History().Append(client.SessionID, client.ChatID, frame)
	client.Send(frame)
}

// rejectUpgrade completes the handshake permissively so the client receives
// the close code instead of a bare HTTP error.
func (h *Handler) rejectUpgrade(w http.ResponseWriter, r *http.Request, code int, reason string) {
	rejector := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := rejector.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.closeWith(conn, code, reason)
}

func (h *Handler) closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}
