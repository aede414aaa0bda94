package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"famlocator.app/internal/auth"
	"famlocator.app/internal/chat"
	"famlocator.app/internal/store"
	"famlocator.app/internal/stream"
)

type chatView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MemberIDs []string  `json:"memberIds"`
	IsGroup   bool      `json:"isGroup"`
	CreatedAt time.Time `json:"createdAt"`
}

func viewChat(c *store.Chat) chatView {
	ids := c.MemberIDs
	if ids == nil {
		ids = []string{}
	}
	return chatView{ID: c.ID, Name: c.Name, MemberIDs: ids, IsGroup: c.IsGroup, CreatedAt: c.CreatedAt}
}

func viewChats(list []*store.Chat) []chatView {
	out := make([]chatView, 0, len(list))
	for _, c := range list {
		out = append(out, viewChat(c))
	}
	return out
}

func viewMessages(list []*store.Message) []*stream.Message {
	out := make([]*stream.Message, 0, len(list))
	for _, m := range list {
		out = append(out, chat.Wire(m))
	}
	return out
}

type createChatRequest struct {
	MemberID string `json:"memberId"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

// chatAllowed refuses chat writes when the site or the member disabled chat.
func (a *API) chatAllowed(ctx context.Context, uid string) (*store.Member, error) {
	enabled, err := a.settings.ChatEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, fmt.Errorf("%w for this site", errChatDisabled)
	}
	m, err := a.members.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	if !m.IsChatEnabled {
		return nil, fmt.Errorf("%w for this member", errChatDisabled)
	}
	return m, nil
}

func (a *API) handleListChats(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	chats, err := a.chats.ListChatsForUser(r.Context(), uid)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "", viewChats(chats))
}

func (a *API) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	uid, _ := auth.UserIDFromContext(r.Context())
	if _, err := a.chatAllowed(r.Context(), uid); err != nil {
		writeServiceError(w, r, err)
		return
	}
	c, err := a.chats.GetOrCreateChat(r.Context(), uid, req.MemberID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "", viewChat(c))
}

func (a *API) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	if err := a.chats.DeletePrivateChat(r.Context(), chi.URLParam(r, "id"), uid); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "chat deleted", nil)
}

func (a *API) handleMessages(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	msgs, err := a.chats.Messages(r.Context(), chi.URLParam(r, "id"), uid)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "", viewMessages(msgs))
}

// handleSendMessage takes the sender's name and avatar from the profile,
// never from the request.
func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	uid, _ := auth.UserIDFromContext(r.Context())
	sender, err := a.chatAllowed(r.Context(), uid)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	msg, err := a.chats.SendMessage(r.Context(), chat.SendInput{
		ChatID:       chi.URLParam(r, "id"),
		SenderID:     uid,
		SenderName:   sender.Name,
		SenderAvatar: sender.Avatar,
		Text:         req.Text,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if msg == nil {
		writeOK(w, r, http.StatusOK, "empty message ignored", nil)
		return
	}
	writeOK(w, r, http.StatusCreated, "", chat.Wire(msg))
}

func (a *API) handleClearChat(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	n, err := a.chats.ClearPrivateChatHistory(r.Context(), chi.URLParam(r, "id"), uid)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "chat history cleared", map[string]int64{"deleted": n})
}
