package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskdeck/internal/db/driver"
	"taskdeck/internal/errors"
)

// Status is a task lifecycle state.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
	StatusCanceled   Status = "canceled"
)

// Valid reports whether s is a recognized status.
func (s Status) Valid() bool {
	switch s {
	case StatusBacklog, StatusTodo, StatusInProgress, StatusReview,
		StatusDone, StatusBlocked, StatusCanceled:
		return true
	}
	return false
}

// Task is a unit of work tracked by the system. SessionKey links the task to
// an agent session and is unique when set; HandoffNotes carry the context an
// agent passes forward when it moves the task to review.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       Status     `json:"status"`
	Priority     string     `json:"priority"`
	ProjectID    string     `json:"project_id,omitempty"`
	AgentID      string     `json:"agent_id,omitempty"`
	SessionKey   string     `json:"session_key,omitempty"`
	HandoffNotes string     `json:"handoff_notes,omitempty"`
	CommitSHA    string     `json:"commit_sha,omitempty"`
	SizeScore    int64      `json:"size_score,omitempty"`
	CostUSD      float64    `json:"cost_usd,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// TaskFilter narrows List results. Zero values mean no constraint.
type TaskFilter struct {
	Status    Status
	ProjectID string
	Limit     int
	Offset    int
}

// CreateTask inserts a new task. Missing fields get defaults; the generated
// ID is written back to t.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = "TASK-" + uuid.NewString()[:8]
	}
	if t.Status == "" {
		t.Status = StatusBacklog
	}
	if !t.Status.Valid() {
		return errors.ErrTaskInvalidState(t.ID, string(t.Status))
	}
	if t.Priority == "" {
		t.Priority = "normal"
	}
	nowT := time.Now().UTC()
	t.CreatedAt = nowT
	t.UpdatedAt = nowT

	_, err := s.q.Exec(ctx, `
		INSERT INTO tasks (id, title, description, status, priority, project_id,
			agent_id, session_key, handoff_notes, commit_sha, size_score, cost_usd,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Title, t.Description, string(t.Status), t.Priority, t.ProjectID,
		t.AgentID, nullable(t.SessionKey), t.HandoffNotes, t.CommitSHA, t.SizeScore, t.CostUSD,
		timestamp(nowT), timestamp(nowT))
	if err != nil {
		return errors.ErrStorageFailure("create task", err)
	}
	return nil
}

// GetTask returns the task or (nil, nil) when no task has the given ID.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row, err := s.q.QueryOne(ctx, "SELECT * FROM tasks WHERE id = ?", id)
	if err != nil {
		return nil, errors.ErrStorageFailure("get task", err)
	}
	if row == nil {
		return nil, nil
	}
	return taskFromRow(row), nil
}

// GetTaskBySessionKey returns the task bound to an agent session key, or
// (nil, nil) when none is.
func (s *Store) GetTaskBySessionKey(ctx context.Context, key string) (*Task, error) {
	row, err := s.q.QueryOne(ctx, "SELECT * FROM tasks WHERE session_key = ?", key)
	if err != nil {
		return nil, errors.ErrStorageFailure("get task by session key", err)
	}
	if row == nil {
		return nil, nil
	}
	return taskFromRow(row), nil
}

// ListTasks returns tasks matching the filter, newest first.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ProjectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, f.ProjectID)
	}

	query := "SELECT * FROM tasks"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
		if f.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", f.Offset)
		}
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.ErrStorageFailure("list tasks", err)
	}

	tasks := make([]Task, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, *taskFromRow(row))
	}
	return tasks, nil
}

// SaveTask updates every mutable column of an existing task.
func (s *Store) SaveTask(ctx context.Context, t *Task) error {
	if !t.Status.Valid() {
		return errors.ErrTaskInvalidState(t.ID, string(t.Status))
	}
	t.UpdatedAt = time.Now().UTC()

	res, err := s.q.Exec(ctx, `
		UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?,
			project_id = ?, agent_id = ?, session_key = ?, handoff_notes = ?,
			commit_sha = ?, size_score = ?, cost_usd = ?, updated_at = ?,
			completed_at = ?
		WHERE id = ?
	`, t.Title, t.Description, string(t.Status), t.Priority,
		t.ProjectID, t.AgentID, nullable(t.SessionKey), t.HandoffNotes,
		t.CommitSHA, t.SizeScore, t.CostUSD, timestamp(t.UpdatedAt),
		nullableTime(t.CompletedAt), t.ID)
	if err != nil {
		return errors.ErrStorageFailure("save task", err)
	}
	if res.RowsAffected == 0 {
		return errors.ErrTaskNotFound(t.ID)
	}
	return nil
}

// UpdateTaskStatus moves a task to the given status. Moving to done stamps
// completed_at; moving away clears it.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return errors.ErrTaskInvalidState(id, string(status))
	}

	nowT := time.Now().UTC()
	var completedAt any
	if status == StatusDone {
		completedAt = timestamp(nowT)
	}

	res, err := s.q.Exec(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?, completed_at = ?
		WHERE id = ?
	`, string(status), timestamp(nowT), completedAt, id)
	if err != nil {
		return errors.ErrStorageFailure("update task status", err)
	}
	if res.RowsAffected == 0 {
		return errors.ErrTaskNotFound(id)
	}
	return nil
}

// DeleteTask removes a task and, via cascade, its comments.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.q.Exec(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return errors.ErrStorageFailure("delete task", err)
	}
	if res.RowsAffected == 0 {
		return errors.ErrTaskNotFound(id)
	}
	return nil
}

func taskFromRow(row driver.Row) *Task {
	return &Task{
		ID:           row.String("id"),
		Title:        row.String("title"),
		Description:  row.String("description"),
		Status:       Status(row.String("status")),
		Priority:     row.String("priority"),
		ProjectID:    row.String("project_id"),
		AgentID:      row.String("agent_id"),
		SessionKey:   row.String("session_key"),
		HandoffNotes: row.String("handoff_notes"),
		CommitSHA:    row.String("commit_sha"),
		SizeScore:    row.Int64("size_score"),
		CostUSD:      row.Float64("cost_usd"),
		CreatedAt:    row.Time("created_at"),
		UpdatedAt:    row.Time("updated_at"),
		CompletedAt:  row.TimePtr("completed_at"),
	}
}

// nullable maps the empty string to NULL so UNIQUE columns accept multiple
// unset values.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timestamp(*t)
}
