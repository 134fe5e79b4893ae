package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"taskdeck/internal/db/driver"
	"taskdeck/internal/errors"
)

// AuthorType represents who created a comment.
type AuthorType string

const (
	AuthorTypeHuman  AuthorType = "human"
	AuthorTypeAgent  AuthorType = "agent"
	AuthorTypeSystem AuthorType = "system"
)

// Comment is a note attached to a task.
type Comment struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"task_id"`
	Author     string     `json:"author"`
	AuthorType AuthorType `json:"author_type"`
	AvatarURL  string     `json:"avatar_url,omitempty"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CreateComment adds a comment to a task. Missing fields get defaults and the
// generated ID is written back to c.
func (s *Store) CreateComment(ctx context.Context, c *Comment) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.AuthorType == "" {
		c.AuthorType = AuthorTypeHuman
	}
	if c.Author == "" {
		c.Author = "anonymous"
	}
	nowT := time.Now().UTC()
	c.CreatedAt = nowT
	c.UpdatedAt = nowT

	_, err := s.q.Exec(ctx, `
		INSERT INTO comments (id, task_id, author, author_type, avatar_url, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.TaskID, c.Author, string(c.AuthorType), c.AvatarURL, c.Content,
		timestamp(nowT), timestamp(nowT))
	if err != nil {
		return errors.ErrStorageFailure("create comment", err)
	}
	return nil
}

// GetComment returns the comment or (nil, nil) when missing.
func (s *Store) GetComment(ctx context.Context, id string) (*Comment, error) {
	row, err := s.q.QueryOne(ctx, "SELECT * FROM comments WHERE id = ?", id)
	if err != nil {
		return nil, errors.ErrStorageFailure("get comment", err)
	}
	if row == nil {
		return nil, nil
	}
	return commentFromRow(row), nil
}

// ListComments returns a task's comments oldest first.
func (s *Store) ListComments(ctx context.Context, taskID string) ([]Comment, error) {
	rows, err := s.q.Query(ctx, `
		SELECT * FROM comments WHERE task_id = ? ORDER BY created_at ASC, id ASC
	`, taskID)
	if err != nil {
		return nil, errors.ErrStorageFailure("list comments", err)
	}

	comments := make([]Comment, 0, len(rows))
	for _, row := range rows {
		comments = append(comments, *commentFromRow(row))
	}
	return comments, nil
}

// DeleteComment removes a comment.
func (s *Store) DeleteComment(ctx context.Context, id string) error {
	res, err := s.q.Exec(ctx, "DELETE FROM comments WHERE id = ?", id)
	if err != nil {
		return errors.ErrStorageFailure("delete comment", err)
	}
	if res.RowsAffected == 0 {
		return errors.ErrCommentNotFound(id)
	}
	return nil
}

func commentFromRow(row driver.Row) *Comment {
	return &Comment{
		ID:         row.String("id"),
		TaskID:     row.String("task_id"),
		Author:     row.String("author"),
		AuthorType: AuthorType(row.String("author_type")),
		AvatarURL:  row.String("avatar_url"),
		Content:    row.String("content"),
		CreatedAt:  row.Time("created_at"),
		UpdatedAt:  row.Time("updated_at"),
	}
}
