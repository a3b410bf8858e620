package coordinator

import (
	"context"
	"strings"
	"sync"
)

// agentLocks serialises adapter calls per agent id. Waiters are granted the
// lock in FIFO order; an entry is dropped as soon as no holder or waiter
// remains.
type agentLocks struct {
	mu     sync.Mutex
	held   map[string]bool
	queues map[string][]chan struct{}
}

func newAgentLocks() *agentLocks {
	return &agentLocks{
		held:   make(map[string]bool),
		queues: make(map[string][]chan struct{}),
	}
}

func normalizeLockKey(agentID string) string {
	return strings.ToLower(strings.TrimSpace(agentID))
}

// Acquire blocks until the agent's lock is free or ctx is done. On success it
// returns the release func.
func (l *agentLocks) Acquire(ctx context.Context, agentID string) (func(), error) {
	key := normalizeLockKey(agentID)

	l.mu.Lock()
	if !l.held[key] {
		l.held[key] = true
		l.mu.Unlock()
		return func() { l.release(key) }, nil
	}
	grant := make(chan struct{})
	l.queues[key] = append(l.queues[key], grant)
	l.mu.Unlock()

	select {
	case <-grant:
		return func() { l.release(key) }, nil
	case <-ctx.Done():
		l.mu.Lock()
		// The grant may have raced with cancellation; if the lock was already
		// handed over, pass it on instead of leaking it.
		select {
		case <-grant:
			l.mu.Unlock()
			l.release(key)
		default:
			queue := l.queues[key]
			for i, ch := range queue {
				if ch == grant {
					l.queues[key] = append(queue[:i], queue[i+1:]...)
					break
				}
			}
			if len(l.queues[key]) == 0 && !l.held[key] {
				delete(l.queues, key)
			}
			l.mu.Unlock()
		}
		return nil, ctx.Err()
	}
}

func (l *agentLocks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	queue := l.queues[key]
	if len(queue) > 0 {
		next := queue[0]
		l.queues[key] = queue[1:]
		close(next)
		return
	}
	delete(l.held, key)
	delete(l.queues, key)
}
