package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	deckerrors "taskdeck/internal/errors"
	"taskdeck/internal/events"
	"taskdeck/internal/store"
)

// createCommentRequest is the request body for posting a comment.
type createCommentRequest struct {
	Author     string `json:"author"`
	AuthorType string `json:"author_type"`
	AvatarURL  string `json:"avatar_url"`
	Content    string `json:"content"`
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	comments, err := s.store.ListComments(r.Context(), taskID)
	if err != nil {
		HandleError(w, err)
		return
	}
	if comments == nil {
		comments = []store.Comment{}
	}
	JSONResponse(w, comments)
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	var req createCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		JSONError(w, "content is required", http.StatusBadRequest)
		return
	}

	authorType := store.AuthorType(req.AuthorType)
	switch authorType {
	case "", store.AuthorTypeHuman, store.AuthorTypeAgent, store.AuthorTypeSystem:
	default:
		JSONError(w, "invalid author_type: must be human, agent, or system", http.StatusBadRequest)
		return
	}

	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		HandleError(w, err)
		return
	}
	if task == nil {
		HandleError(w, deckerrors.ErrTaskNotFound(taskID))
		return
	}

	comment := &store.Comment{
		TaskID:     taskID,
		Author:     req.Author,
		AuthorType: authorType,
		AvatarURL:  req.AvatarURL,
		Content:    req.Content,
	}
	if err := s.store.CreateComment(r.Context(), comment); err != nil {
		HandleError(w, err)
		return
	}

	s.publisher.Publish(events.NewEvent(events.EventCommentAdded, taskID, events.CommentAdded{
		CommentID: comment.ID,
		Author:    comment.Author,
	}))
	JSONResponseStatus(w, comment, http.StatusCreated)
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.store.DeleteComment(r.Context(), id); err != nil {
		HandleError(w, err)
		return
	}
	NoContent(w)
}
