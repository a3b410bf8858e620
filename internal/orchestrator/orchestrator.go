// Package orchestrator multiplexes the registered agent adapters behind one
// event stream and routes requests to the active agent.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/adskit/ads/internal/agent"
	"github.com/adskit/ads/internal/common/logger"
	"github.com/adskit/ads/pkg/protocol"
)

// Orchestrator owns the adapter registry for one session. Events from
// whichever adapter is invoked are fanned out to orchestrator subscribers.
type Orchestrator struct {
	mu       sync.RWMutex
	adapters map[string]agent.Adapter
	order    []string
	activeID string
	cwd      string

	emitter *agent.Emitter
	logger  *logger.Logger
}

// New creates an empty orchestrator.
func New(log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		adapters: make(map[string]agent.Adapter),
		emitter:  agent.NewEmitter(),
		logger:   log.WithComponent("orchestrator"),
	}
}

// Register adds an adapter. The first registered adapter becomes active.
func (o *Orchestrator) Register(a agent.Adapter) {
	id := a.Metadata().ID
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.adapters[id]; !exists {
		o.order = append(o.order, id)
	}
	o.adapters[id] = a
	if o.activeID == "" {
		o.activeID = id
	}
}

// Get returns the adapter registered under id.
func (o *Orchestrator) Get(id string) (agent.Adapter, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.adapters[normalizeAgentID(id)]
	return a, ok
}

// List returns all adapters in registration order.
func (o *Orchestrator) List() []agent.Adapter {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]agent.Adapter, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.adapters[id])
	}
	return out
}

// ActiveID returns the id of the active adapter.
func (o *Orchestrator) ActiveID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activeID
}

// Active returns the active adapter.
func (o *Orchestrator) Active() agent.Adapter {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.adapters[o.activeID]
}

// SetActive switches the active adapter. Per-agent thread ids are preserved
// across switches; only the routing changes.
func (o *Orchestrator) SetActive(id string) error {
	id = normalizeAgentID(id)
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.adapters[id]; !ok {
		return fmt.Errorf("unknown agent %q", id)
	}
	o.activeID = id
	return nil
}

// AgentMetadata returns the metadata of the adapter registered under id.
func (o *Orchestrator) AgentMetadata(id string) (agent.Metadata, bool) {
	a, ok := o.Get(id)
	if !ok {
		return agent.Metadata{}, false
	}
	return a.Metadata(), true
}

// OnEvent subscribes to the orchestrator's fan-out stream.
func (o *Orchestrator) OnEvent(h agent.Handler) func() {
	return o.emitter.Subscribe(h)
}

// InvokeAgent forwards input to the adapter registered under id, wiring a
// one-shot event forwarder from the adapter onto the orchestrator stream for
// the duration of the call.
func (o *Orchestrator) InvokeAgent(ctx context.Context, id string, input agent.Input, opts agent.SendOptions) (*agent.SendResult, error) {
	a, ok := o.Get(id)
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", id)
	}
	unsubscribe := a.OnEvent(func(ev *protocol.Event) {
		o.emitter.Emit(ev)
	})
	defer unsubscribe()
	return a.Send(ctx, input, opts)
}

// Invoke sends to the active adapter.
func (o *Orchestrator) Invoke(ctx context.Context, input agent.Input, opts agent.SendOptions) (*agent.SendResult, error) {
	return o.InvokeAgent(ctx, o.ActiveID(), input, opts)
}

// SetWorkingDirectory broadcasts the working directory to every adapter.
func (o *Orchestrator) SetWorkingDirectory(cwd string) {
	o.mu.Lock()
	o.cwd = cwd
	adapters := o.snapshotLocked()
	o.mu.Unlock()
	for _, a := range adapters {
		a.SetWorkingDirectory(cwd)
	}
}

// WorkingDirectory returns the broadcast working directory.
func (o *Orchestrator) WorkingDirectory() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cwd
}

// SetModel broadcasts a model to the adapters whose vendor it belongs to.
// A model that names another vendor is silently ignored by the rest.
func (o *Orchestrator) SetModel(model string) {
	vendor := vendorForModel(model)
	o.mu.RLock()
	adapters := o.snapshotLocked()
	o.mu.RUnlock()
	for _, a := range adapters {
		if vendor != "" && a.Metadata().Vendor != vendor {
			continue
		}
		a.SetModel(model)
	}
	o.logger.Debug("model broadcast", zap.String("model", model), zap.String("vendor", vendor))
}

// Reset resets every adapter, clearing their thread ids.
func (o *Orchestrator) Reset() {
	o.mu.RLock()
	adapters := o.snapshotLocked()
	o.mu.RUnlock()
	for _, a := range adapters {
		a.Reset()
	}
}

func (o *Orchestrator) snapshotLocked() []agent.Adapter {
	out := make([]agent.Adapter, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.adapters[id])
	}
	return out
}

// vendorForModel maps a model name prefix onto the owning vendor. Unknown
// prefixes return "" and broadcast to everyone.
func vendorForModel(model string) string {
	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gemini"):
		return "google"
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "codex"), strings.HasPrefix(model, "o"):
		return "openai"
	}
	return ""
}

// normalizeAgentID lowercases and trims an agent id or display name.
func normalizeAgentID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
