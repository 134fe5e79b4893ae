// Package dispatch reacts to task status transitions and hands tasks that
// enter review off to an external QA agent session.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskdeck/internal/events"
	"taskdeck/internal/gateway"
	"taskdeck/internal/store"
)

// QAAgentID is the gateway agent that performs reviews.
const QAAgentID = "qa"

// qaCommentAuthor signs fallback comments posted when the gateway is down.
const qaCommentAuthor = "qa-agent"

// SpawnClient starts agent sessions. *gateway.Client satisfies it.
type SpawnClient interface {
	Spawn(ctx context.Context, req gateway.SpawnRequest) (*gateway.SpawnResult, error)
}

// Config tunes dispatch behavior. Zero values fall back to defaults.
type Config struct {
	// Model is the model identifier passed to spawned review sessions.
	Model string
	// RunTimeout bounds the spawned session's lifetime.
	RunTimeout time.Duration
	// GuardRelease is the safety-net delay after which an in-flight marker
	// is dropped even if no completion signal arrived.
	GuardRelease time.Duration
	// MinHandoffLen is the minimum handoff-note length worth reviewing.
	MinHandoffLen int
}

func (c Config) withDefaults() Config {
	if c.RunTimeout == 0 {
		c.RunTimeout = 120 * time.Second
	}
	if c.GuardRelease == 0 {
		c.GuardRelease = 20 * time.Second
	}
	if c.MinHandoffLen == 0 {
		c.MinHandoffLen = 50
	}
	return c
}

// guardEntry marks a task with a review in flight. The token correlates the
// worker's follow-up status write back to this dispatch; the timer releases
// the guard if that signal never arrives.
type guardEntry struct {
	token string
	timer *time.Timer
}

// Dispatcher launches QA review sessions for tasks entering review status.
//
// The in-flight guard set is owned exclusively by the Dispatcher instance;
// construct independent instances for independent pipelines.
type Dispatcher struct {
	store  *store.Store
	client SpawnClient
	events events.Publisher
	logger *slog.Logger
	cfg    Config

	mu       sync.Mutex
	inFlight map[string]*guardEntry
}

// New constructs a Dispatcher. pub may be a NopPublisher when nothing
// listens for review events.
func New(st *store.Store, client SpawnClient, pub events.Publisher, logger *slog.Logger, cfg Config) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:    st,
		client:   client,
		events:   pub,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		inFlight: make(map[string]*guardEntry),
	}
}

// OnTaskStatusChange is the dispatch entry point. It never returns an error:
// review infrastructure being down must not fail the task mutation that
// triggered the event, so all failures are recovered locally.
//
// Re-entrant calls for a task with a review in flight are no-ops. This
// matters because the worker's own follow-up status write re-enters this
// handler.
func (d *Dispatcher) OnTaskStatusChange(ctx context.Context, taskID, oldStatus, newStatus string) {
	if newStatus != string(store.StatusReview) {
		d.maybeComplete(taskID, newStatus)
		return
	}

	token, ok := d.acquire(taskID)
	if !ok {
		d.logger.Debug("review already in flight, skipping", "task", taskID)
		return
	}

	dispatched := d.runReview(ctx, taskID, token)
	if !dispatched {
		// Nothing was sent to the gateway, so no worker follow-up writes
		// are coming; holding the guard would only block a later retry.
		d.release(taskID, token)
		return
	}

	// Arm the safety-net release. The primary release is the worker's
	// follow-up status write observed in maybeComplete or CompleteReview.
	d.mu.Lock()
	if entry, exists := d.inFlight[taskID]; exists && entry.token == token {
		entry.timer = time.AfterFunc(d.cfg.GuardRelease, func() {
			d.release(taskID, token)
		})
	}
	d.mu.Unlock()
}

// CompleteReview releases the guard for taskID when token matches the one
// issued at dispatch time. The worker's follow-up status-update call carries
// the token; stale or mismatched tokens are ignored.
func (d *Dispatcher) CompleteReview(taskID, token string) bool {
	return d.release(taskID, token)
}

// InFlight reports whether a review is currently guarded for taskID.
func (d *Dispatcher) InFlight(taskID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inFlight[taskID]
	return ok
}

// acquire adds taskID to the guard set, returning false if already present.
func (d *Dispatcher) acquire(taskID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.inFlight[taskID]; exists {
		return "", false
	}
	token := uuid.NewString()
	d.inFlight[taskID] = &guardEntry{token: token}
	return token, true
}

// release drops the guard entry if the token still matches.
func (d *Dispatcher) release(taskID, token string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, exists := d.inFlight[taskID]
	if !exists || entry.token != token {
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(d.inFlight, taskID)
	return true
}

// maybeComplete treats a guarded task resolving to done or in-progress as
// the review completing, even when the follow-up write carried no token.
func (d *Dispatcher) maybeComplete(taskID, newStatus string) {
	if newStatus != string(store.StatusDone) && newStatus != string(store.StatusInProgress) {
		return
	}
	d.mu.Lock()
	entry, exists := d.inFlight[taskID]
	var token string
	if exists {
		token = entry.token
	}
	d.mu.Unlock()
	if exists {
		d.release(taskID, token)
	}
}

// runReview loads the task, spawns the QA session, and reconciles the
// outcome into audit log or fallback comment. It reports whether anything
// reached the gateway.
func (d *Dispatcher) runReview(ctx context.Context, taskID, token string) bool {
	task, err := d.store.GetTask(ctx, taskID)
	if err != nil {
		d.logger.Error("load task for review", "task", taskID, "error", err)
		return false
	}
	if task == nil {
		// Stale event; nothing to review.
		return false
	}

	if len(task.HandoffNotes) < d.cfg.MinHandoffLen {
		d.logger.Info("handoff notes too short for review",
			"task", taskID, "length", len(task.HandoffNotes), "min", d.cfg.MinHandoffLen)
		return false
	}

	prompt := buildReviewPrompt(task, token)

	result, err := d.client.Spawn(ctx, gateway.SpawnRequest{
		AgentID:       QAAgentID,
		Prompt:        prompt,
		Model:         d.cfg.Model,
		TaskID:        task.ID,
		CleanupOnExit: true,
		RunTimeout:    d.cfg.RunTimeout,
	})
	if err != nil {
		d.recoverFailedSpawn(ctx, task, err)
		return true
	}

	if auditErr := d.store.AppendAudit(ctx, &store.AuditEntry{
		Actor:      "dispatcher",
		Action:     "task.qa_started",
		EntityType: "task",
		EntityID:   task.ID,
		Details: map[string]any{
			"sessionKey": result.SessionKey,
			"runId":      result.RunID,
			"token":      token,
		},
	}); auditErr != nil {
		d.logger.Error("record qa_started audit", "task", task.ID, "error", auditErr)
	}

	d.events.Publish(events.NewEvent(events.EventReviewStarted, task.ID, events.ReviewStarted{
		SessionKey: result.SessionKey,
		RunID:      result.RunID,
	}))

	d.logger.Info("qa review session spawned",
		"task", task.ID, "session", result.SessionKey, "run", result.RunID)
	return true
}

// recoverFailedSpawn posts the mandatory fallback comment. The task stays in
// review; nothing is advanced silently.
func (d *Dispatcher) recoverFailedSpawn(ctx context.Context, task *store.Task, cause error) {
	d.logger.Warn("qa spawn failed, posting fallback comment", "task", task.ID, "error", cause)

	comment := &store.Comment{
		TaskID:     task.ID,
		Author:     qaCommentAuthor,
		AuthorType: store.AuthorTypeAgent,
		Content: "QA Review could not be started automatically: the review agent " +
			"gateway is unavailable. This task requires manual review before it " +
			"can move to done.",
	}
	if err := d.store.CreateComment(ctx, comment); err != nil {
		d.logger.Error("post fallback comment", "task", task.ID, "error", err)
		return
	}

	d.events.Publish(events.NewEvent(events.EventReviewUnavailable, task.ID, events.CommentAdded{
		CommentID: comment.ID,
		Author:    qaCommentAuthor,
	}))
}
