// Package probe verifies that configured agent binaries are actually usable
// before requests are routed to them.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adskit/ads/internal/agent"
	"github.com/adskit/ads/internal/common/logger"
)

// probeArgvs are tried in order; the first zero exit wins.
var probeArgvs = [][]string{
	{"--version"},
	{"-v"},
	{"version"},
	{"--help"},
}

const defaultTimeout = 3 * time.Second

// Record is the cached outcome of probing one binary.
type Record struct {
	AgentID   string
	Binary    string
	OK        bool
	Error     string
	CheckedAt time.Time
}

// Prober runs availability probes and caches the results in memory.
type Prober struct {
	timeout time.Duration
	logger  *logger.Logger

	mu      sync.RWMutex
	records map[string]Record
}

// New creates a Prober. A non-positive timeout falls back to the default.
func New(timeout time.Duration, log *logger.Logger) *Prober {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Prober{
		timeout: timeout,
		logger:  log.WithComponent("probe"),
		records: make(map[string]Record),
	}
}

// Probe checks one binary and caches the record under agentID.
func (p *Prober) Probe(ctx context.Context, agentID, binary string) Record {
	rec := Record{AgentID: agentID, Binary: binary, CheckedAt: time.Now().UTC()}
	if binary == "" {
		rec.Error = "no binary configured"
		p.store(rec)
		return rec
	}

	var lastErr string
	for _, argv := range probeArgvs {
		ok, snippet := p.tryArgv(ctx, binary, argv)
		if ok {
			rec.OK = true
			rec.Error = ""
			p.store(rec)
			return rec
		}
		lastErr = snippet
	}
	rec.Error = lastErr
	p.store(rec)
	return rec
}

// ProbeAll checks every (agentID, binary) pair in the map.
func (p *Prober) ProbeAll(ctx context.Context, binaries map[string]string) {
	for id, bin := range binaries {
		rec := p.Probe(ctx, id, bin)
		if !rec.OK {
			p.logger.Warn("agent binary probe failed",
				zap.String("agent_id", id),
				zap.String("binary", bin),
				zap.String("error", rec.Error))
		}
	}
}

func (p *Prober) tryArgv(ctx context.Context, binary string, argv []string) (bool, string) {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, binary, argv...)
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return true, ""
	}
	snippet := strings.TrimSpace(stderr.String())
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	if snippet == "" {
		snippet = err.Error()
	}
	if cctx.Err() == context.DeadlineExceeded {
		snippet = fmt.Sprintf("probe timed out after %s", p.timeout)
	}
	return false, snippet
}

// Lookup returns the cached record for agentID.
func (p *Prober) Lookup(agentID string) (Record, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.records[agentID]
	return rec, ok
}

func (p *Prober) store(rec Record) {
	p.mu.Lock()
	p.records[rec.AgentID] = rec
	p.mu.Unlock()
}

// MergeStatus folds the cached probe record into an adapter status. A status
// that is already not-ready is returned unchanged, as is one whose probe
// succeeded or was never taken; otherwise ready is overridden with the probe
// error.
func (p *Prober) MergeStatus(agentID string, st agent.Status) agent.Status {
	if !st.Ready {
		return st
	}
	rec, ok := p.Lookup(agentID)
	if !ok || rec.OK {
		return st
	}
	st.Ready = false
	st.Error = rec.Error
	return st
}
