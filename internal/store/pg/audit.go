package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"famlocator.app/internal/ids"
	"famlocator.app/internal/store"
)

type auditStore struct{ s *Store }

func (as auditStore) Append(ctx context.Context, entry *store.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = as.s.q.ExecContext(ctx, `
		insert into audit_log (id, occurred_at, actor_id, action, resource_type, resource_id, metadata, request_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.OccurredAt, entry.ActorID, entry.Action,
		entry.ResourceType, entry.ResourceID, string(meta), entry.RequestID)
	return err
}

func (as auditStore) List(ctx context.Context, limit int) ([]*store.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := as.s.q.QueryContext(ctx, `
		select id, occurred_at, actor_id, action, resource_type, resource_id, metadata, request_id
		from audit_log order by occurred_at desc, id desc limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.AuditEntry
	for rows.Next() {
		var (
			e    store.AuditEntry
			meta []byte
			rid  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID, &meta, &rid); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, err
			}
		}
		e.RequestID = rid.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

var _ store.AuditStore = auditStore{}
