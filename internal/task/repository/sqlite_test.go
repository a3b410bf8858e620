package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adskit/ads/internal/task/models"
)

func testRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testScope() Scope {
	return Scope{Namespace: "/work", SessionID: "sess-1"}
}

func testTask(id string) *models.Task {
	return &models.Task{
		TaskID:    id,
		Namespace: "/work",
		SessionID: "sess-1",
		AgentID:   "claude",
		Revision:  1,
		Status:    models.TaskStatusPending,
		Spec:      []byte(`{"goal":"x"}`),
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	repo := testRepo(t)

	version, err := SchemaVersion(repo.DB())
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].version, version)

	// Replaying the full list leaves schema and marker unchanged.
	require.NoError(t, runMigrations(repo.DB()))
	again, err := SchemaVersion(repo.DB())
	require.NoError(t, err)
	assert.Equal(t, version, again)
}

func TestMigrationsReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")

	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.UpsertTask(context.Background(), testTask("t-1")))
	require.NoError(t, repo.Close())

	// Opening an existing database re-runs only missing migrations.
	repo2, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	defer repo2.Close()

	task, err := repo2.GetTask(context.Background(), testScope(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, "claude", task.AgentID)
}

func TestUpsertIdempotent(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	task := testTask("t-1")
	require.NoError(t, repo.UpsertTask(ctx, task))
	first, err := repo.GetTask(ctx, testScope(), "t-1")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, repo.UpsertTask(ctx, testTask("t-1")))
	second, err := repo.GetTask(ctx, testScope(), "t-1")
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt, "created_at must be preserved on conflict")
	assert.False(t, second.UpdatedAt.Before(first.UpdatedAt), "updated_at must be monotonically non-decreasing")
}

func TestGetTaskScoping(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.UpsertTask(ctx, testTask("t-1")))

	_, err := repo.GetTask(ctx, Scope{Namespace: "/work", SessionID: "other"}, "t-1")
	assert.ErrorIs(t, err, ErrTaskNotFound, "cross-session reads are forbidden")

	_, err = repo.GetTask(ctx, Scope{Namespace: "/elsewhere", SessionID: "sess-1"}, "t-1")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestListTasksActiveOnlyNewestFirst(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	done := testTask("t-done")
	done.Status = models.TaskStatusDone
	require.NoError(t, repo.UpsertTask(ctx, done))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, repo.UpsertTask(ctx, testTask("t-a")))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, repo.UpsertTask(ctx, testTask("t-b")))

	active, err := repo.ListTasks(ctx, testScope(), true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "t-b", active[0].TaskID, "newest first")
	assert.Equal(t, "t-a", active[1].TaskID)

	all, err := repo.ListTasks(ctx, testScope(), false)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestClearOutputs(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	task := testTask("t-1")
	task.Result = []byte(`{"status":"submitted"}`)
	task.Verification = []byte(`{"enabled":true}`)
	require.NoError(t, repo.UpsertTask(ctx, task))

	require.NoError(t, repo.ClearOutputs(ctx, testScope(), "t-1"))

	got, err := repo.GetTask(ctx, testScope(), "t-1")
	require.NoError(t, err)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.Verification)

	assert.ErrorIs(t, repo.ClearOutputs(ctx, testScope(), "missing"), ErrTaskNotFound)
}

func TestRevisionBumpKeepsSingleRow(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	task := testTask("t-1")
	require.NoError(t, repo.UpsertTask(ctx, task))

	task.Revision = 2
	task.Status = models.TaskStatusRework
	require.NoError(t, repo.UpsertTask(ctx, task))

	all, err := repo.ListTasks(ctx, testScope(), false)
	require.NoError(t, err)
	require.Len(t, all, 1, "rework updates the row, it does not duplicate it")
	assert.Equal(t, 2, all[0].Revision)
	assert.Equal(t, models.TaskStatusRework, all[0].Status)
}

func TestTaskMessages(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.UpsertTask(ctx, testTask("t-1")))

	for _, payload := range []string{"first", "second"} {
		msg := &models.TaskMessage{
			TaskID:    "t-1",
			Namespace: "/work",
			SessionID: "sess-1",
			Role:      "agent",
			Kind:      "raw_output",
			Payload:   payload,
		}
		require.NoError(t, repo.AppendMessage(ctx, msg))
		assert.NotZero(t, msg.ID)
	}

	msgs, err := repo.ListMessages(ctx, testScope(), "t-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Payload, "messages are oldest-first")
	assert.Equal(t, "second", msgs[1].Payload)

	other, err := repo.ListMessages(ctx, Scope{Namespace: "/work", SessionID: "other"}, "t-1")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMemoryRepositoryParity(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	task := testTask("t-1")
	require.NoError(t, repo.UpsertTask(ctx, task))
	created := task.CreatedAt

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, repo.UpsertTask(ctx, testTask("t-1")))
	got, err := repo.GetTask(ctx, testScope(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, created, got.CreatedAt)

	require.NoError(t, repo.ClearOutputs(ctx, testScope(), "t-1"))
	_, err = repo.GetTask(ctx, Scope{Namespace: "x", SessionID: "y"}, "t-1")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
