package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"taskdeck/internal/db/driver"
	"taskdeck/internal/errors"
)

// AuditEntry records a state-changing action. The log is append-only; there
// are no update or delete operations.
type AuditEntry struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AppendAudit writes an audit entry. Details are stored as JSON.
func (s *Store) AppendAudit(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = time.Now().UTC()

	details := "{}"
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return errors.ErrStorageFailure("encode audit details", err)
		}
		details = string(raw)
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO audit_log (id, actor, action, entity_type, entity_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Actor, e.Action, e.EntityType, e.EntityID, details, timestamp(e.CreatedAt))
	if err != nil {
		return errors.ErrStorageFailure("append audit", err)
	}
	return nil
}

// ListAuditForEntity returns an entity's audit trail, newest first.
func (s *Store) ListAuditForEntity(ctx context.Context, entityType, entityID string) ([]AuditEntry, error) {
	rows, err := s.q.Query(ctx, `
		SELECT * FROM audit_log
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at DESC, id DESC
	`, entityType, entityID)
	if err != nil {
		return nil, errors.ErrStorageFailure("list audit", err)
	}
	return auditFromRows(rows)
}

// ListRecentAudit returns the latest entries across all entities.
func (s *Store) ListRecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.Query(ctx, `
		SELECT * FROM audit_log ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.ErrStorageFailure("list recent audit", err)
	}
	return auditFromRows(rows)
}

func auditFromRows(rows []driver.Row) ([]AuditEntry, error) {
	entries := make([]AuditEntry, 0, len(rows))
	for _, row := range rows {
		e := AuditEntry{
			ID:         row.String("id"),
			Actor:      row.String("actor"),
			Action:     row.String("action"),
			EntityType: row.String("entity_type"),
			EntityID:   row.String("entity_id"),
			CreatedAt:  row.Time("created_at"),
		}
		if raw := row.String("details"); raw != "" && raw != "{}" {
			if err := json.Unmarshal([]byte(raw), &e.Details); err != nil {
				return nil, errors.ErrStorageFailure("decode audit details", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}
