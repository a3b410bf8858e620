package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/adskit/ads/internal/task/models"
)

// MemoryRepository is an in-memory Repository used in tests and as a fallback
// when no workspace database is available.
type MemoryRepository struct {
	mu       sync.RWMutex
	tasks    map[string]*models.Task
	messages []*models.TaskMessage
	nextID   int64
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tasks: make(map[string]*models.Task), nextID: 1}
}

// UpsertTask implements Repository.
func (r *MemoryRepository) UpsertTask(_ context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if task.Revision <= 0 {
		task.Revision = 1
	}
	clone := *task
	clone.UpdatedAt = now
	if existing, ok := r.tasks[task.TaskID]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	r.tasks[task.TaskID] = &clone
	task.CreatedAt = clone.CreatedAt
	task.UpdatedAt = clone.UpdatedAt
	return nil
}

// GetTask implements Repository.
func (r *MemoryRepository) GetTask(_ context.Context, scope Scope, taskID string) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[taskID]
	if !ok || !inScope(task, scope) {
		return nil, ErrTaskNotFound
	}
	clone := *task
	return &clone, nil
}

// ListTasks implements Repository.
func (r *MemoryRepository) ListTasks(_ context.Context, scope Scope, activeOnly bool) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tasks []*models.Task
	for _, task := range r.tasks {
		if !inScope(task, scope) {
			continue
		}
		if activeOnly && !task.Status.Active() {
			continue
		}
		clone := *task
		tasks = append(tasks, &clone)
	}
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].TaskID > tasks[j].TaskID
	})
	return tasks, nil
}

// ClearOutputs implements Repository.
func (r *MemoryRepository) ClearOutputs(_ context.Context, scope Scope, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok || !inScope(task, scope) {
		return ErrTaskNotFound
	}
	task.Result = nil
	task.Verification = nil
	task.UpdatedAt = time.Now().UTC()
	return nil
}

// AppendMessage implements Repository.
func (r *MemoryRepository) AppendMessage(_ context.Context, msg *models.TaskMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	clone := *msg
	clone.ID = r.nextID
	r.nextID++
	r.messages = append(r.messages, &clone)
	msg.ID = clone.ID
	return nil
}

// ListMessages implements Repository.
func (r *MemoryRepository) ListMessages(_ context.Context, scope Scope, taskID string) ([]*models.TaskMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var msgs []*models.TaskMessage
	for _, msg := range r.messages {
		if msg.TaskID != taskID || msg.Namespace != scope.Namespace || msg.SessionID != scope.SessionID {
			continue
		}
		clone := *msg
		msgs = append(msgs, &clone)
	}
	return msgs, nil
}

// Close implements Repository.
func (r *MemoryRepository) Close() error {
	return nil
}

func inScope(task *models.Task, scope Scope) bool {
	return task.Namespace == scope.Namespace && task.SessionID == scope.SessionID
}
