package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"famlocator.app/internal/auth"
	"famlocator.app/internal/obs"
	"famlocator.app/internal/stream"
)

// FrameSnapshot is the first frame of every feed.
const FrameSnapshot = "snapshot"

// Frame is one unit of a live chat feed, shared by SSE and WebSocket.
type Frame struct {
	Type     string            `json:"type"`
	ChatID   string            `json:"chatId"`
	Message  *stream.Message   `json:"message,omitempty"`
	Messages []*stream.Message `json:"messages,omitempty"`
	At       time.Time         `json:"at"`
}

// feed turns hub events into frames for one subscriber. Messages already in
// the snapshot are not repeated.
type feed struct {
	chatID string
	seen   map[string]struct{}
}

func newFeed(chatID string, snapshot []*stream.Message) *feed {
	f := &feed{chatID: chatID, seen: make(map[string]struct{}, len(snapshot))}
	for _, m := range snapshot {
		f.seen[m.ID] = struct{}{}
	}
	return f
}

// next returns the frame for evt, if any, and whether the feed should end.
func (f *feed) next(evt stream.Event) (*Frame, bool) {
	frame := &Frame{Type: string(evt.Type), ChatID: f.chatID, At: evt.At}
	switch evt.Type {
	case stream.MessageCreated:
		if evt.Message == nil {
			return nil, false
		}
		if _, dup := f.seen[evt.Message.ID]; dup {
			return nil, false
		}
		f.seen[evt.Message.ID] = struct{}{}
		frame.Message = evt.Message
		return frame, false
	case stream.ChatCleared:
		f.seen = make(map[string]struct{})
		return frame, false
	case stream.ChatDeleted:
		return frame, true
	}
	return nil, false
}

// openFeed checks membership, subscribes and loads the snapshot. Subscribing
// first means a message stored while the snapshot loads is still delivered.
func (a *API) openFeed(ctx context.Context, chatID string) ([]*stream.Message, <-chan stream.Event, error) {
	uid, _ := auth.UserIDFromContext(ctx)
	if _, err := a.chats.Member(ctx, chatID, uid); err != nil {
		return nil, nil, err
	}
	if a.feed == nil {
		return nil, nil, fmt.Errorf("live feed unavailable")
	}
	events := a.feed.Subscribe(ctx, chatID)
	history, err := a.chats.Messages(ctx, chatID, uid)
	if err != nil {
		return nil, nil, err
	}
	return viewMessages(history), events, nil
}

// handleChatEvents streams a chat as Server-Sent Events.
func (a *API) handleChatEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	chatID := chi.URLParam(r, "id")
	snapshot, events, err := a.openFeed(ctx, chatID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer obs.TrackSubscriber()()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	f := newFeed(chatID, snapshot)
	if err := writeSSE(w, &Frame{Type: FrameSnapshot, ChatID: chatID, Messages: snapshot, At: time.Now().UTC()}); err != nil {
		return
	}
	flusher.Flush()

	ping := time.NewTicker(a.keepAlive)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case evt, ok := <-events:
			if !ok {
				return
			}
			frame, done := f.next(evt)
			if frame != nil {
				if err := writeSSE(w, frame); err != nil {
					return
				}
				flusher.Flush()
			}
			if done {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, frame *Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	var b strings.Builder
	if frame.Message != nil {
		b.WriteString("id: " + frame.Message.ID + "\n")
	}
	b.WriteString("event: " + frame.Type + "\n")
	b.WriteString("data: ")
	b.Write(payload)
	b.WriteString("\n\n")
	_, err = w.Write([]byte(b.String()))
	return err
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// handleChatSocket streams a chat over a WebSocket. The socket is
// receive-only for the client; messages are sent through the HTTP endpoint.
func (a *API) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	chatID := chi.URLParam(r, "id")
	snapshot, events, err := a.openFeed(ctx, chatID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		obs.Logger().Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	defer obs.TrackSubscriber()()

	// Reader: handles pongs and notices when the client goes away.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(frame *Frame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(frame)
	}

	f := newFeed(chatID, snapshot)
	if err := write(&Frame{Type: FrameSnapshot, ChatID: chatID, Messages: snapshot, At: time.Now().UTC()}); err != nil {
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case evt, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resubscribe"), time.Now().Add(wsWriteWait))
				return
			}
			frame, done := f.next(evt)
			if frame != nil {
				if err := write(frame); err != nil {
					return
				}
			}
			if done {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "chat deleted"), time.Now().Add(wsWriteWait))
				return
			}
		}
	}
}

// checkOrigin accepts same-host requests and the configured CORS origins.
func (a *API) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || a.anyOrigin() {
		return true
	}
	for _, o := range a.origins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}
