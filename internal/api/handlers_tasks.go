package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	deckerrors "taskdeck/internal/errors"
	"taskdeck/internal/events"
	"taskdeck/internal/store"
)

// createTaskRequest is the request body for creating a task.
type createTaskRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Status       string `json:"status"`
	Priority     string `json:"priority"`
	ProjectID    string `json:"project_id"`
	AgentID      string `json:"agent_id"`
	SessionKey   string `json:"session_key"`
	HandoffNotes string `json:"handoff_notes"`
}

// updateTaskRequest carries partial task edits. Pointer fields distinguish
// "not sent" from "set to zero".
type updateTaskRequest struct {
	Title        *string  `json:"title"`
	Description  *string  `json:"description"`
	Priority     *string  `json:"priority"`
	ProjectID    *string  `json:"project_id"`
	AgentID      *string  `json:"agent_id"`
	SessionKey   *string  `json:"session_key"`
	HandoffNotes *string  `json:"handoff_notes"`
	CommitSHA    *string  `json:"commit_sha"`
	SizeScore    *int64   `json:"size_score"`
	CostUSD      *float64 `json:"cost_usd"`
}

// updateStatusRequest is the request body for a status transition. The
// review worker includes the token it was handed at dispatch time.
type updateStatusRequest struct {
	Status      string `json:"status"`
	Actor       string `json:"actor"`
	ReviewToken string `json:"review_token"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := store.TaskFilter{
		Status:    store.Status(r.URL.Query().Get("status")),
		ProjectID: r.URL.Query().Get("project_id"),
	}

	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		HandleError(w, err)
		return
	}
	if tasks == nil {
		tasks = []store.Task{}
	}
	JSONResponse(w, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		JSONError(w, "title is required", http.StatusBadRequest)
		return
	}

	task := &store.Task{
		Title:        req.Title,
		Description:  req.Description,
		Status:       store.Status(req.Status),
		Priority:     req.Priority,
		ProjectID:    req.ProjectID,
		AgentID:      req.AgentID,
		SessionKey:   req.SessionKey,
		HandoffNotes: req.HandoffNotes,
	}
	if err := s.store.CreateTask(r.Context(), task); err != nil {
		HandleError(w, err)
		return
	}

	s.publisher.Publish(events.NewEvent(events.EventTaskCreated, task.ID, task))
	JSONResponseStatus(w, task, http.StatusCreated)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	if task == nil {
		HandleError(w, deckerrors.ErrTaskNotFound(id))
		return
	}
	JSONResponse(w, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	if task == nil {
		HandleError(w, deckerrors.ErrTaskNotFound(id))
		return
	}

	if req.Title != nil {
		task.Title = *req.Title
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.Priority != nil {
		task.Priority = *req.Priority
	}
	if req.ProjectID != nil {
		task.ProjectID = *req.ProjectID
	}
	if req.AgentID != nil {
		task.AgentID = *req.AgentID
	}
	if req.SessionKey != nil {
		task.SessionKey = *req.SessionKey
	}
	if req.HandoffNotes != nil {
		task.HandoffNotes = *req.HandoffNotes
	}
	if req.CommitSHA != nil {
		task.CommitSHA = *req.CommitSHA
	}
	if req.SizeScore != nil {
		task.SizeScore = *req.SizeScore
	}
	if req.CostUSD != nil {
		task.CostUSD = *req.CostUSD
	}

	if err := s.store.SaveTask(r.Context(), task); err != nil {
		HandleError(w, err)
		return
	}

	// Field edits never re-trigger review; only status transitions do.
	s.publisher.Publish(events.NewEvent(events.EventTaskUpdated, task.ID, task))
	JSONResponse(w, task)
}

func (s *Server) handleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	newStatus := store.Status(req.Status)
	if !newStatus.Valid() {
		HandleError(w, deckerrors.ErrTaskInvalidState(id, req.Status))
		return
	}

	actor := req.Actor
	if actor == "" {
		actor = "api"
	}

	var oldStatus store.Status
	err := s.store.Transaction(r.Context(), func(tx *store.Store) error {
		task, err := tx.GetTask(r.Context(), id)
		if err != nil {
			return err
		}
		if task == nil {
			return deckerrors.ErrTaskNotFound(id)
		}
		oldStatus = task.Status

		if err := tx.UpdateTaskStatus(r.Context(), id, newStatus); err != nil {
			return err
		}
		return tx.AppendAudit(r.Context(), &store.AuditEntry{
			Actor:      actor,
			Action:     "task.status_changed",
			EntityType: "task",
			EntityID:   id,
			Details: map[string]any{
				"from": string(oldStatus),
				"to":   string(newStatus),
			},
		})
	})
	if err != nil {
		HandleError(w, err)
		return
	}

	if req.ReviewToken != "" && s.completer != nil {
		s.completer.CompleteReview(id, req.ReviewToken)
	}

	s.publisher.Publish(events.NewEvent(events.EventTaskStatusChanged, id, events.StatusChange{
		From: string(oldStatus),
		To:   string(newStatus),
	}))

	JSONResponse(w, map[string]string{
		"id":     id,
		"status": string(newStatus),
	})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.store.DeleteTask(r.Context(), id); err != nil {
		HandleError(w, err)
		return
	}

	s.publisher.Publish(events.NewEvent(events.EventTaskDeleted, id, nil))
	NoContent(w)
}
