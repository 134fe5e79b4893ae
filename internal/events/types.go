// Package events provides event types and publishing infrastructure for
// taskdeck.
package events

import (
	"time"
)

// EventType defines the type of event.
type EventType string

const (
	// EventTaskCreated indicates a new task was created.
	EventTaskCreated EventType = "task.created"
	// EventTaskUpdated indicates a task's fields changed.
	EventTaskUpdated EventType = "task.updated"
	// EventTaskStatusChanged indicates a task moved between statuses.
	EventTaskStatusChanged EventType = "task.status_changed"
	// EventTaskDeleted indicates a task was removed.
	EventTaskDeleted EventType = "task.deleted"

	// EventCommentAdded indicates a comment was posted on a task.
	EventCommentAdded EventType = "comment.added"

	// EventReviewStarted indicates a QA review session was spawned.
	EventReviewStarted EventType = "review.qa_started"
	// EventReviewUnavailable indicates the QA spawn failed and a fallback
	// comment was posted instead.
	EventReviewUnavailable EventType = "review.qa_unavailable"
)

// Event represents a published event.
type Event struct {
	Type   EventType `json:"type"`
	TaskID string    `json:"task_id"`
	Data   any       `json:"data"`
	Time   time.Time `json:"time"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, taskID string, data any) Event {
	return Event{
		Type:   eventType,
		TaskID: taskID,
		Data:   data,
		Time:   time.Now(),
	}
}

// StatusChange is the payload for EventTaskStatusChanged.
type StatusChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// CommentAdded is the payload for EventCommentAdded.
type CommentAdded struct {
	CommentID string `json:"comment_id"`
	Author    string `json:"author"`
}

// ReviewStarted is the payload for EventReviewStarted.
type ReviewStarted struct {
	SessionKey string `json:"session_key"`
	RunID      string `json:"run_id"`
}
