// Package repository provides durable task storage for the coordinator.
package repository

import (
	"context"
	"errors"

	"github.com/adskit/ads/internal/task/models"
)

// ErrTaskNotFound is returned when no task matches the scoped lookup.
var ErrTaskNotFound = errors.New("task not found")

// Scope restricts every read and write to one (namespace, session) pair.
// Cross-session reads are forbidden by construction.
type Scope struct {
	Namespace string
	SessionID string
}

// Repository defines the task storage operations used by the coordinator and
// the API layer.
type Repository interface {
	// UpsertTask inserts or updates a task row, preserving created_at on
	// conflict. Repeating the same call is idempotent.
	UpsertTask(ctx context.Context, task *models.Task) error

	// GetTask fetches one task within the scope.
	GetTask(ctx context.Context, scope Scope, taskID string) (*models.Task, error)

	// ListTasks returns the scope's tasks newest-first. With activeOnly,
	// terminal tasks (DONE, FAILED) are excluded.
	ListTasks(ctx context.Context, scope Scope, activeOnly bool) ([]*models.Task, error)

	// ClearOutputs nulls result_json and verification_json, used when a
	// rejected task is queued for rework.
	ClearOutputs(ctx context.Context, scope Scope, taskID string) error

	// AppendMessage appends one task message.
	AppendMessage(ctx context.Context, msg *models.TaskMessage) error

	// ListMessages returns a task's messages oldest-first.
	ListMessages(ctx context.Context, scope Scope, taskID string) ([]*models.TaskMessage, error)

	// Close releases the underlying connection.
	Close() error
}
