package audit

import (
	"context"
	"errors"
	"strings"

	"famlocator.app/internal/auth"
	"famlocator.app/internal/store"
)

// Record logs an administrative action and appends it to the audit trail in st.
// The actor and request id default to the ones carried by ctx.
func Record(ctx context.Context, st store.Store, entry store.AuditEntry) error {
	entry.Action = strings.TrimSpace(entry.Action)
	if entry.Action == "" {
		return errors.New("audit action is required")
	}
	if entry.ActorID == "" {
		entry.ActorID, _ = auth.UserIDFromContext(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = RequestIDFromContext(ctx)
	}

	fields := make(map[string]any, len(entry.Metadata)+2)
	for k, v := range entry.Metadata {
		fields[k] = v
	}
	if entry.ResourceType != "" {
		fields["resource_type"] = entry.ResourceType
		fields["resource_id"] = entry.ResourceID
	}
	if err := LogEvent(ctx, entry.Action, fields); err != nil {
		return err
	}
	return st.Audit(ctx).Append(ctx, &entry)
}

// Trail returns the newest audit entries.
func Trail(ctx context.Context, st store.Store, limit int) ([]*store.AuditEntry, error) {
	return st.Audit(ctx).List(ctx, limit)
}
