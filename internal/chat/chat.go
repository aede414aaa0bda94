// Package chat implements the family group chat and private two-member chats.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"famlocator.app/internal/audit"
	"famlocator.app/internal/members"
	"famlocator.app/internal/obs"
	"famlocator.app/internal/store"
	"famlocator.app/internal/stream"
)

var (
	ErrChatNotFound = errors.New("chat: chat not found")
	ErrNotMember    = errors.New("chat: not a member of this chat")
	ErrGroupChat    = errors.New("chat: not allowed on the group chat")
	ErrInvalidInput = errors.New("chat: invalid input")
)

const (
	GroupChatID   = "general"
	GroupChatName = "Chat Familiar"

	// MaxMessageLength is counted in characters, not bytes.
	MaxMessageLength = 2000

	privatePrefix = "dm-"
)

// PrivateChatID derives the id of the private chat between a and b. The pair
// is sorted, so both members resolve to the same chat.
func PrivateChatID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return privatePrefix + a + "-" + b
}

// IsGroup reports whether id names the group chat.
func IsGroup(id string) bool { return id == GroupChatID }

// JoinGroup ensures the group chat exists and that memberID participates in
// it. It runs against st, so callers can include it in their own batch.
func JoinGroup(ctx context.Context, st store.Store, memberID string) error {
	chats := st.Chats(ctx)
	group := &store.Chat{ID: GroupChatID, Name: GroupChatName, IsGroup: true}
	if memberID != "" {
		group.MemberIDs = []string{memberID}
	}
	if _, created, err := chats.CreateIfAbsent(ctx, group); err != nil {
		return fmt.Errorf("ensure group chat: %w", err)
	} else if created || memberID == "" {
		return nil
	}
	if err := chats.AddMember(ctx, GroupChatID, memberID); err != nil {
		return fmt.Errorf("join group chat: %w", err)
	}
	return nil
}

type Service struct {
	store  store.Store
	events stream.Publisher
}

func NewService(st store.Store, events stream.Publisher) *Service {
	return &Service{store: st, events: events}
}

// EnsureGroupChat creates the group chat when it does not exist yet.
func (s *Service) EnsureGroupChat(ctx context.Context) error {
	return JoinGroup(ctx, s.store, "")
}

// GetOrCreateChat returns the private chat between a and b, creating it on
// first use. The chat is named after b, as a sees it. Concurrent calls for
// the same pair converge on one chat.
func (s *Service) GetOrCreateChat(ctx context.Context, a, b string) (*store.Chat, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" || a == b {
		return nil, fmt.Errorf("%w: a private chat needs two distinct members", ErrInvalidInput)
	}
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}

	var out *store.Chat
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if _, err := profile(ctx, tx, a); err != nil {
			return err
		}
		other, err := profile(ctx, tx, b)
		if err != nil {
			return err
		}
		c, created, err := tx.Chats(ctx).CreateIfAbsent(ctx, &store.Chat{
			ID:        PrivateChatID(lo, hi),
			Name:      other.Name,
			MemberIDs: []string{lo, hi},
		})
		if err != nil {
			return err
		}
		if created {
			obs.Logger().Info("private chat created", zap.String("chat_id", c.ID))
		}
		c.Name = other.Name
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func profile(ctx context.Context, st store.Store, id string) (*store.Member, error) {
	m, err := st.Members(ctx).Find(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", members.ErrMemberNotFound, id)
	}
	return m, err
}

// ListChatsForUser returns the chats id participates in, group chat first.
// Private chats are named after the other participant as seen by id.
func (s *Service) ListChatsForUser(ctx context.Context, id string) ([]*store.Chat, error) {
	chats, err := s.store.Chats(ctx).ListForMember(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	profiles, err := s.store.Members(ctx).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	names := make(map[string]string, len(profiles))
	for _, p := range profiles {
		names[p.ID] = p.Name
	}

	for _, c := range chats {
		if c.IsGroup {
			continue
		}
		for _, m := range c.MemberIDs {
			if m == id {
				continue
			}
			if name, ok := names[m]; ok {
				c.Name = name
			}
		}
	}
	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].IsGroup != chats[j].IsGroup {
			return chats[i].IsGroup
		}
		return chats[i].CreatedAt.Before(chats[j].CreatedAt)
	})
	return chats, nil
}

// SendInput is a message as submitted by a sender. Name and avatar are copied
// onto the message and never updated afterwards.
type SendInput struct {
	ChatID       string
	SenderID     string
	SenderName   string
	SenderAvatar string
	Text         string
}

// SendMessage stores a message and publishes it to live feeds. Text that is
// blank after trimming is ignored: the result is nil with a nil error.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (*store.Message, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, nil
	}
	c, err := s.member(ctx, in.ChatID, in.SenderID)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(in.Text) > MaxMessageLength {
		return nil, fmt.Errorf("%w: message longer than %d characters", ErrInvalidInput, MaxMessageLength)
	}

	msg := &store.Message{
		ChatID:       c.ID,
		MemberID:     in.SenderID,
		MemberName:   in.SenderName,
		MemberAvatar: in.SenderAvatar,
		Text:         in.Text,
	}
	if err := s.store.Chats(ctx).AppendMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrChatNotFound, in.ChatID)
		}
		return nil, fmt.Errorf("append message: %w", err)
	}
	obs.RecordMessage()
	s.publish(ctx, stream.Event{Type: stream.MessageCreated, ChatID: c.ID, Message: Wire(msg)})
	return msg, nil
}

// Messages returns the ordered history of a chat the requester belongs to.
func (s *Service) Messages(ctx context.Context, chatID, requesterID string) ([]*store.Message, error) {
	if _, err := s.member(ctx, chatID, requesterID); err != nil {
		return nil, err
	}
	return s.store.Chats(ctx).Messages(ctx, chatID)
}

// DeletePrivateChat removes a private chat and its messages in one batch.
func (s *Service) DeletePrivateChat(ctx context.Context, chatID, requesterID string) error {
	if IsGroup(chatID) {
		return ErrGroupChat
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		c, err := find(ctx, tx, chatID)
		if err != nil {
			return err
		}
		if c.IsGroup {
			return ErrGroupChat
		}
		if !c.HasMember(requesterID) {
			return ErrNotMember
		}
		if _, err := tx.Chats(ctx).DeleteMessages(ctx, chatID); err != nil {
			return err
		}
		return tx.Chats(ctx).Delete(ctx, chatID)
	})
	if err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "chat.deleted", map[string]any{"chat_id": chatID})
	s.publish(ctx, stream.Event{Type: stream.ChatDeleted, ChatID: chatID})
	return nil
}

// ClearPrivateChatHistory deletes every message of a private chat the
// requester belongs to. Clearing an empty chat succeeds.
func (s *Service) ClearPrivateChatHistory(ctx context.Context, chatID, requesterID string) (int64, error) {
	if IsGroup(chatID) {
		return 0, ErrGroupChat
	}
	if _, err := s.member(ctx, chatID, requesterID); err != nil {
		return 0, err
	}
	n, err := s.store.Chats(ctx).DeleteMessages(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("clear chat: %w", err)
	}
	_ = audit.LogEvent(ctx, "chat.cleared", map[string]any{"chat_id": chatID, "deleted": n})
	s.publish(ctx, stream.Event{Type: stream.ChatCleared, ChatID: chatID})
	return n, nil
}

// ClearAllChatHistory deletes every message in every chat.
func (s *Service) ClearAllChatHistory(ctx context.Context) (int64, error) {
	n, err := s.store.Chats(ctx).DeleteAllMessages(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear all chats: %w", err)
	}
	entry := store.AuditEntry{
		Action:       "chat.cleared_all",
		ResourceType: "chat",
		Metadata:     map[string]string{"deleted": strconv.FormatInt(n, 10)},
	}
	if err := audit.Record(ctx, s.store, entry); err != nil {
		obs.Logger().Warn("audit record failed", zap.String("action", entry.Action), zap.Error(err))
	}
	s.publish(ctx, stream.Event{Type: stream.ChatCleared})
	return n, nil
}

// Member returns the chat after checking that memberID participates in it.
func (s *Service) Member(ctx context.Context, chatID, memberID string) (*store.Chat, error) {
	return s.member(ctx, chatID, memberID)
}

func (s *Service) member(ctx context.Context, chatID, memberID string) (*store.Chat, error) {
	c, err := find(ctx, s.store, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasMember(memberID) {
		return nil, fmt.Errorf("%w: %s", ErrNotMember, chatID)
	}
	return c, nil
}

func find(ctx context.Context, st store.Store, chatID string) (*store.Chat, error) {
	c, err := st.Chats(ctx).Find(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	if err != nil {
		return nil, fmt.Errorf("find chat: %w", err)
	}
	return c, nil
}

func (s *Service) publish(ctx context.Context, evt stream.Event) {
	if s.events == nil {
		return
	}
	evt.At = time.Now().UTC()
	s.events.Publish(ctx, evt)
}

// Wire converts a stored message to its feed representation.
func Wire(m *store.Message) *stream.Message {
	return &stream.Message{
		ID:           m.ID,
		ChatID:       m.ChatID,
		MemberID:     m.MemberID,
		MemberName:   m.MemberName,
		MemberAvatar: m.MemberAvatar,
		Text:         m.Text,
		Timestamp:    m.Timestamp,
	}
}
