package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"famlocator.app/internal/auth"
	"famlocator.app/internal/store"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

type adminAction func(ctx context.Context, actorID, userID string) error

func (a *API) userAction(w http.ResponseWriter, r *http.Request, action adminAction, msg string) {
	actor, _ := auth.UserIDFromContext(r.Context())
	target := chi.URLParam(r, "id")
	if err := action(r.Context(), actor, target); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, msg, map[string]string{"userId": target})
}

func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	a.userAction(w, r, a.accounts.AuthorizeUser, "user authorized")
}

func (a *API) handleSuspend(w http.ResponseWriter, r *http.Request) {
	a.userAction(w, r, a.accounts.SuspendUser, "user suspended")
}

func (a *API) handleReactivate(w http.ResponseWriter, r *http.Request) {
	a.userAction(w, r, a.accounts.ReactivateUser, "user reactivated")
}

func (a *API) handleClearAllChats(w http.ResponseWriter, r *http.Request) {
	n, err := a.chats.ClearAllChatHistory(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "chat history cleared", map[string]int64{"deleted": n})
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := a.settings.Get(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "", s)
}

// handleSaveSettings deep-merges the body into the stored settings.
func (a *API) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	patch, err := readJSONObject(w, r)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	s, err := a.settings.Save(r.Context(), patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "settings saved", s)
}

type auditView struct {
	ID           string            `json:"id"`
	OccurredAt   time.Time         `json:"occurredAt"`
	ActorID      string            `json:"actorId,omitempty"`
	Action       string            `json:"action"`
	ResourceType string            `json:"resourceType,omitempty"`
	ResourceID   string            `json:"resourceId,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	RequestID    string            `json:"requestId,omitempty"`
}

func viewAudit(e *store.AuditEntry) auditView {
	return auditView{
		ID:           e.ID,
		OccurredAt:   e.OccurredAt,
		ActorID:      e.ActorID,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Metadata:     e.Metadata,
		RequestID:    e.RequestID,
	}
}

// handleAuditTrail lists administrative actions, newest first.
func (a *API) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxAuditLimit {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	actor, _ := auth.UserIDFromContext(r.Context())
	entries, err := a.accounts.AuditTrail(r.Context(), actor, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]auditView, 0, len(entries))
	for _, e := range entries {
		out = append(out, viewAudit(e))
	}
	writeOK(w, r, http.StatusOK, "", out)
}
