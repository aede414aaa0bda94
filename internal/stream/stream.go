package stream

import (
	"context"
	"sync"
	"time"
)

// EventType names what happened in a chat.
type EventType string

const (
	MessageCreated EventType = "message.created"
	ChatCleared    EventType = "chat.cleared"
	ChatDeleted    EventType = "chat.deleted"
)

// Message is the wire form of a chat message.
type Message struct {
	ID           string    `json:"id"`
	ChatID       string    `json:"chatId"`
	MemberID     string    `json:"memberId"`
	MemberName   string    `json:"memberName"`
	MemberAvatar string    `json:"memberAvatar"`
	Text         string    `json:"text"`
	Timestamp    time.Time `json:"timestamp"`
}

// Event is delivered to every subscriber of the chat it concerns.
type Event struct {
	Type    EventType `json:"type"`
	ChatID  string    `json:"chatId"`
	Message *Message  `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher accepts chat events for fan-out.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

const defaultBuffer = 64

type subscriber struct {
	chatID string
	ch     chan Event
}

// Hub fans chat events out to in-process subscribers (SSE and WebSocket feeds).
// A subscriber that falls a full buffer behind is disconnected rather than
// silently skipped, so its client re-subscribes and reloads the snapshot.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]subscriber
	next   int
	buffer int
}

// New returns an empty hub.
func New() *Hub {
	return &Hub{subs: make(map[int]subscriber), buffer: defaultBuffer}
}

// Subscribe registers interest in chatID ("" for every chat). The channel is
// closed when ctx ends or the subscriber is dropped for lagging.
func (h *Hub) Subscribe(ctx context.Context, chatID string) <-chan Event {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscriber{chatID: chatID, ch: ch}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.remove(id)
	}()

	return ch
}

func (h *Hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Publish delivers evt to matching subscribers without blocking. An event
// without a chat id concerns every chat.
func (h *Hub) Publish(_ context.Context, evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		if sub.chatID != "" && evt.ChatID != "" && sub.chatID != evt.ChatID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			delete(h.subs, id)
			close(sub.ch)
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
