package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskdeck/internal/db/driver"
	deckerr "taskdeck/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	d, err := driver.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return New(d)
}

func TestCreateAndGetTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &Task{Title: "Ship the importer", Description: "CSV first"}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ID == "" {
		t.Fatal("ID not generated")
	}
	if task.Status != StatusBacklog {
		t.Errorf("default status = %s", task.Status)
	}

	got, err := s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("task not found after create")
	}
	if got.Title != "Ship the importer" || got.Priority != "normal" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not persisted")
	}
}

func TestGetTaskMissingIsNilNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetTask(context.Background(), "TASK-nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestGetTaskBySessionKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &Task{Title: "linked", SessionKey: "sess-abc123"}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetTaskBySessionKey(ctx, "sess-abc123")
	if err != nil || got == nil {
		t.Fatalf("lookup failed: got=%v err=%v", got, err)
	}
	if got.ID != task.ID {
		t.Errorf("wrong task: %s", got.ID)
	}

	missing, err := s.GetTaskBySessionKey(ctx, "sess-other")
	if err != nil || missing != nil {
		t.Errorf("expected nil,nil for unknown key, got %v, %v", missing, err)
	}
}

func TestSessionKeyUniqueButEmptyRepeats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Two tasks without a session key must both insert.
	for i := 0; i < 2; i++ {
		if err := s.CreateTask(ctx, &Task{Title: "no key"}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	// A duplicate non-empty key must be rejected.
	if err := s.CreateTask(ctx, &Task{Title: "a", SessionKey: "dup"}); err != nil {
		t.Fatalf("first keyed create: %v", err)
	}
	if err := s.CreateTask(ctx, &Task{Title: "b", SessionKey: "dup"}); err == nil {
		t.Error("duplicate session key accepted")
	}
}

func TestListTasksFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed := []Task{
		{Title: "one", Status: StatusTodo, ProjectID: "p1"},
		{Title: "two", Status: StatusReview, ProjectID: "p1"},
		{Title: "three", Status: StatusReview, ProjectID: "p2"},
	}
	for i := range seed {
		if err := s.CreateTask(ctx, &seed[i]); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	review, err := s.ListTasks(ctx, TaskFilter{Status: StatusReview})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(review) != 2 {
		t.Errorf("review tasks = %d, want 2", len(review))
	}

	p1review, err := s.ListTasks(ctx, TaskFilter{Status: StatusReview, ProjectID: "p1"})
	if err != nil {
		t.Fatalf("list combined: %v", err)
	}
	if len(p1review) != 1 || p1review[0].Title != "two" {
		t.Errorf("combined filter got %+v", p1review)
	}

	limited, err := s.ListTasks(ctx, TaskFilter{Limit: 2})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit ignored: %d rows", len(limited))
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &Task{Title: "finishing"}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.UpdateTaskStatus(ctx, task.ID, StatusDone); err != nil {
		t.Fatalf("to done: %v", err)
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.Status != StatusDone {
		t.Errorf("status = %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not stamped on done")
	}

	if err := s.UpdateTaskStatus(ctx, task.ID, StatusInProgress); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, _ = s.GetTask(ctx, task.ID)
	if got.CompletedAt != nil {
		t.Error("completed_at not cleared on reopen")
	}

	err := s.UpdateTaskStatus(ctx, task.ID, Status("bogus"))
	if !deckerr.IsCode(err, deckerr.CodeTaskInvalidState) {
		t.Errorf("invalid status error = %v", err)
	}

	err = s.UpdateTaskStatus(ctx, "TASK-nope", StatusDone)
	if !deckerr.IsCode(err, deckerr.CodeTaskNotFound) {
		t.Errorf("missing task error = %v", err)
	}
}

func TestSaveTaskRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &Task{Title: "before"}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	task.Title = "after"
	task.Status = StatusReview
	task.HandoffNotes = "implemented the importer; see commit for edge cases"
	task.CommitSHA = "deadbee"
	task.SizeScore = 3
	task.CostUSD = 1.25
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, _ := s.GetTask(ctx, task.ID)
	if got.Title != "after" || got.Status != StatusReview {
		t.Errorf("save did not apply: %+v", got)
	}
	if got.HandoffNotes == "" || got.CommitSHA != "deadbee" || got.SizeScore != 3 {
		t.Errorf("extended columns lost: %+v", got)
	}
}

func TestDeleteTaskCascadesComments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &Task{Title: "doomed"}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}
	c := &Comment{TaskID: task.ID, Content: "a note"}
	if err := s.CreateComment(ctx, c); err != nil {
		t.Fatalf("comment: %v", err)
	}

	if err := s.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	comments, err := s.ListComments(ctx, task.ID)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 0 {
		t.Errorf("comments survived delete: %d", len(comments))
	}

	err = s.DeleteTask(ctx, task.ID)
	if !deckerr.IsCode(err, deckerr.CodeTaskNotFound) {
		t.Errorf("second delete error = %v", err)
	}
}

func TestCommentDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &Task{Title: "host"}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	c := &Comment{TaskID: task.ID, Content: "hello"}
	if err := s.CreateComment(ctx, c); err != nil {
		t.Fatalf("comment: %v", err)
	}

	got, err := s.GetComment(ctx, c.ID)
	if err != nil || got == nil {
		t.Fatalf("get comment: got=%v err=%v", got, err)
	}
	if got.Author != "anonymous" || got.AuthorType != AuthorTypeHuman {
		t.Errorf("defaults not applied: %+v", got)
	}
}

func TestListCommentsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &Task{Title: "host"}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, content := range []string{"first", "second", "third"} {
		if err := s.CreateComment(ctx, &Comment{TaskID: task.ID, Content: content, Author: "qa-agent", AuthorType: AuthorTypeAgent}); err != nil {
			t.Fatalf("comment: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	got, err := s.ListComments(ctx, task.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 || got[0].Content != "first" || got[2].Content != "third" {
		t.Errorf("order wrong: %+v", got)
	}
}

func TestAuditAppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := &AuditEntry{
		Actor:      "dispatcher",
		Action:     "task.qa_started",
		EntityType: "task",
		EntityID:   "TASK-9",
		Details:    map[string]any{"sessionKey": "sess-1", "runId": "run-1"},
	}
	if err := s.AppendAudit(ctx, entry); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.ListAuditForEntity(ctx, "task", "TASK-9")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("entries = %d, want 1", len(got))
	}
	if got[0].Action != "task.qa_started" {
		t.Errorf("action = %s", got[0].Action)
	}
	if got[0].Details["sessionKey"] != "sess-1" {
		t.Errorf("details = %v", got[0].Details)
	}

	recent, err := s.ListRecentAudit(ctx, 10)
	if err != nil || len(recent) != 1 {
		t.Errorf("recent: %v, %v", recent, err)
	}
}

func TestStoreTransactionRollsBackAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Transaction(ctx, func(tx *Store) error {
		if err := tx.CreateTask(ctx, &Task{Title: "in tx"}); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, &AuditEntry{Actor: "t", Action: "task.created", EntityType: "task", EntityID: "x"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("induced error lost: %v", err)
	}

	tasks, err := s.ListTasks(ctx, TaskFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("task visible after rollback")
	}
	audit, err := s.ListRecentAudit(ctx, 10)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(audit) != 0 {
		t.Errorf("audit entry visible after rollback")
	}
}
