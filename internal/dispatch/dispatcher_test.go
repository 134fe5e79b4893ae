package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"taskdeck/internal/db/driver"
	"taskdeck/internal/events"
	"taskdeck/internal/gateway"
	"taskdeck/internal/store"
)

// fakeSpawner counts spawn calls and returns a canned result or error.
type fakeSpawner struct {
	mu    sync.Mutex
	calls []gateway.SpawnRequest
	res   *gateway.SpawnResult
	err   error
}

func (f *fakeSpawner) Spawn(ctx context.Context, req gateway.SpawnRequest) (*gateway.SpawnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func (f *fakeSpawner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

const longHandoff = "Changed importer.go and parser.go; tested with the CSV fixture suite; " +
	"risk: quoting edge cases; rollback: revert commit; commit abc1234."

func newTestDispatcher(t *testing.T, spawner *fakeSpawner, cfg Config) (*Dispatcher, *store.Store) {
	t.Helper()
	d, err := driver.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	st := store.New(d)
	if spawner.res == nil && spawner.err == nil {
		spawner.res = &gateway.SpawnResult{SessionKey: "s1", RunID: "r1"}
	}
	return New(st, spawner, events.NewNopPublisher(), nil, cfg), st
}

func seedReviewTask(t *testing.T, st *store.Store, notes string) *store.Task {
	t.Helper()
	task := &store.Task{
		Title:        "Importer rewrite",
		Status:       store.StatusReview,
		ProjectID:    "p1",
		CommitSHA:    "abc1234",
		HandoffNotes: notes,
	}
	if err := st.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}

func TestDispatchSpawnsQASession(t *testing.T) {
	spawner := &fakeSpawner{}
	disp, st := newTestDispatcher(t, spawner, Config{})
	ctx := context.Background()
	task := seedReviewTask(t, st, longHandoff)

	disp.OnTaskStatusChange(ctx, task.ID, "todo", "review")

	if got := spawner.callCount(); got != 1 {
		t.Fatalf("spawn calls = %d, want 1", got)
	}

	req := spawner.calls[0]
	if req.AgentID != "qa" {
		t.Errorf("agent = %s", req.AgentID)
	}
	if !req.CleanupOnExit {
		t.Error("cleanup-on-exit not set")
	}
	if req.RunTimeout != 120*time.Second {
		t.Errorf("run timeout = %s", req.RunTimeout)
	}
	if !strings.Contains(req.Prompt, task.HandoffNotes) {
		t.Error("prompt missing handoff notes")
	}

	// Exactly one qa_started audit entry, no comments from the dispatcher.
	audit, err := st.ListAuditForEntity(ctx, "task", task.ID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(audit) != 1 || audit[0].Action != "task.qa_started" {
		t.Errorf("audit = %+v", audit)
	}
	if audit[0].Details["sessionKey"] != "s1" {
		t.Errorf("audit details = %v", audit[0].Details)
	}

	comments, _ := st.ListComments(ctx, task.ID)
	if len(comments) != 0 {
		t.Errorf("dispatcher posted %d comments on success", len(comments))
	}
}

func TestDispatchGuardIsIdempotent(t *testing.T) {
	spawner := &fakeSpawner{}
	disp, st := newTestDispatcher(t, spawner, Config{GuardRelease: time.Minute})
	ctx := context.Background()
	task := seedReviewTask(t, st, longHandoff)

	disp.OnTaskStatusChange(ctx, task.ID, "todo", "review")
	disp.OnTaskStatusChange(ctx, task.ID, "review", "review")

	if got := spawner.callCount(); got != 1 {
		t.Errorf("spawn calls = %d, want exactly 1", got)
	}
}

func TestDispatchIgnoresNonReviewTransitions(t *testing.T) {
	spawner := &fakeSpawner{}
	disp, st := newTestDispatcher(t, spawner, Config{})
	ctx := context.Background()
	task := seedReviewTask(t, st, longHandoff)

	for _, status := range []string{"todo", "in-progress", "done", "blocked", "canceled"} {
		disp.OnTaskStatusChange(ctx, task.ID, "backlog", status)
	}

	if got := spawner.callCount(); got != 0 {
		t.Errorf("spawn calls = %d for non-review transitions", got)
	}
}

func TestDispatchSkipsEmptyHandoff(t *testing.T) {
	spawner := &fakeSpawner{}
	disp, st := newTestDispatcher(t, spawner, Config{})
	ctx := context.Background()

	empty := seedReviewTask(t, st, "")
	short := &store.Task{Title: "short", Status: store.StatusReview, HandoffNotes: "done."}
	if err := st.CreateTask(ctx, short); err != nil {
		t.Fatalf("seed: %v", err)
	}

	disp.OnTaskStatusChange(ctx, empty.ID, "todo", "review")
	disp.OnTaskStatusChange(ctx, short.ID, "todo", "review")

	if got := spawner.callCount(); got != 0 {
		t.Errorf("spawn calls = %d, want 0 for thin handoff notes", got)
	}
}

func TestDispatchMissingTaskIsSilentNoop(t *testing.T) {
	spawner := &fakeSpawner{}
	disp, _ := newTestDispatcher(t, spawner, Config{})

	disp.OnTaskStatusChange(context.Background(), "TASK-gone", "todo", "review")

	if got := spawner.callCount(); got != 0 {
		t.Errorf("spawn calls = %d for missing task", got)
	}
}

func TestDispatchGatewayFailurePostsFallbackComment(t *testing.T) {
	spawner := &fakeSpawner{err: errors.New("connection refused")}
	disp, st := newTestDispatcher(t, spawner, Config{})
	ctx := context.Background()
	task := seedReviewTask(t, st, strings.Repeat("detailed handoff. ", 30))

	// Must not panic or propagate the gateway failure.
	disp.OnTaskStatusChange(ctx, task.ID, "todo", "review")

	comments, err := st.ListComments(ctx, task.ID)
	if err != nil {
		t.Fatalf("comments: %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("comments = %d, want exactly 1", len(comments))
	}
	c := comments[0]
	if c.Author != "qa-agent" {
		t.Errorf("author = %s", c.Author)
	}
	if !strings.Contains(c.Content, "QA Review") || !strings.Contains(c.Content, "manual review") {
		t.Errorf("fallback content = %q", c.Content)
	}

	// Status must be left untouched.
	got, _ := st.GetTask(ctx, task.ID)
	if got.Status != store.StatusReview {
		t.Errorf("status = %s, want review", got.Status)
	}
}

func TestGuardReleasedByCompletionToken(t *testing.T) {
	spawner := &fakeSpawner{}
	disp, st := newTestDispatcher(t, spawner, Config{GuardRelease: time.Minute})
	ctx := context.Background()
	task := seedReviewTask(t, st, longHandoff)

	disp.OnTaskStatusChange(ctx, task.ID, "todo", "review")
	if !disp.InFlight(task.ID) {
		t.Fatal("guard not held after dispatch")
	}

	// The token travels in the qa_started audit entry.
	audit, _ := st.ListAuditForEntity(ctx, "task", task.ID)
	token, _ := audit[0].Details["token"].(string)
	if token == "" {
		t.Fatal("no correlation token recorded")
	}

	if disp.CompleteReview(task.ID, "wrong-token") {
		t.Error("mismatched token released the guard")
	}
	if !disp.CompleteReview(task.ID, token) {
		t.Error("matching token did not release the guard")
	}
	if disp.InFlight(task.ID) {
		t.Error("guard still held after completion")
	}

	// A fresh review transition may now dispatch again.
	disp.OnTaskStatusChange(ctx, task.ID, "in-progress", "review")
	if got := spawner.callCount(); got != 2 {
		t.Errorf("spawn calls = %d, want 2 after guard release", got)
	}
}

func TestGuardReleasedByResolutionStatus(t *testing.T) {
	spawner := &fakeSpawner{}
	disp, st := newTestDispatcher(t, spawner, Config{GuardRelease: time.Minute})
	ctx := context.Background()
	task := seedReviewTask(t, st, longHandoff)

	disp.OnTaskStatusChange(ctx, task.ID, "todo", "review")

	// The worker's follow-up write resolves the task; the guard must lift
	// even without an explicit token call.
	disp.OnTaskStatusChange(ctx, task.ID, "review", "done")
	if disp.InFlight(task.ID) {
		t.Error("guard held after resolution to done")
	}
}

func TestGuardSafetyNetTimerRelease(t *testing.T) {
	spawner := &fakeSpawner{}
	disp, st := newTestDispatcher(t, spawner, Config{GuardRelease: 30 * time.Millisecond})
	ctx := context.Background()
	task := seedReviewTask(t, st, longHandoff)

	disp.OnTaskStatusChange(ctx, task.ID, "todo", "review")
	if !disp.InFlight(task.ID) {
		t.Fatal("guard not held")
	}

	deadline := time.After(2 * time.Second)
	for disp.InFlight(task.ID) {
		select {
		case <-deadline:
			t.Fatal("safety-net timer never released the guard")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestBuildReviewPromptSections(t *testing.T) {
	task := &store.Task{
		ID:           "TASK-7",
		Title:        "Importer rewrite",
		ProjectID:    "p1",
		Description:  "Replace the legacy CSV path",
		CommitSHA:    "abc1234",
		HandoffNotes: longHandoff,
	}

	prompt := buildReviewPrompt(task, "tok-123")

	for _, want := range []string{
		"TASK-7",
		"Importer rewrite",
		"abc1234",
		longHandoff,
		"Files changed",
		"How tested",
		"Edge cases / risks",
		"Rollback plan",
		"Commit hash",
		"POST /api/tasks/TASK-7/comments",
		"PATCH /api/tasks/TASK-7/status",
		"tok-123",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
