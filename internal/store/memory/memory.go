// Package memory is an in-process implementation of store.Store used for
// development runs and tests. Transactions are copy-on-write snapshots
// committed under the store mutex.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"famlocator.app/internal/ids"
	"famlocator.app/internal/store"
)

type state struct {
	users    map[string]store.User
	members  map[string]store.Member
	chats    map[string]store.Chat
	messages map[string][]store.Message
	settings []byte
	audit    []store.AuditEntry
}

func newState() *state {
	return &state{
		users:    make(map[string]store.User),
		members:  make(map[string]store.Member),
		chats:    make(map[string]store.Chat),
		messages: make(map[string][]store.Message),
	}
}

func (st *state) clone() *state {
	out := newState()
	for k, v := range st.users {
		out.users[k] = v
	}
	for k, v := range st.members {
		out.members[k] = v
	}
	for k, v := range st.chats {
		out.chats[k] = cloneChat(v)
	}
	for k, v := range st.messages {
		out.messages[k] = append([]store.Message(nil), v...)
	}
	out.audit = append([]store.AuditEntry(nil), st.audit...)
	if st.settings != nil {
		out.settings = append([]byte(nil), st.settings...)
	}
	return out
}

// Store keeps all entities in maps guarded by a single RWMutex.
type Store struct {
	mu    sync.RWMutex
	state *state
	now   func() time.Time
}

var _ store.Store = (*Store)(nil)

// Option customises the store.
type Option func(*Store)

// WithClock overrides the time source used for server-assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{state: newState(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Users(context.Context) store.UserStore { return userStore{s} }
func (s *Store) Members(context.Context) store.MemberStore { return memberStore{s} }
func (s *Store) Chats(context.Context) store.ChatStore { return chatStore{s} }
func (s *Store) Settings(context.Context) store.SettingsStore { return settingsStore{s} }
func (s *Store) Audit(context.Context) store.AuditStore { return auditStore{s} }

// WithinTx holds the write lock for the whole batch, so batches are serialised
// with every other access. fn must only use tx, never the outer store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{state: s.state.clone(), now: s.now}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) read(fn func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

func (s *Store) write(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

func cloneChat(c store.Chat) store.Chat {
	c.MemberIDs = append([]string(nil), c.MemberIDs...)
	return c
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", store.ErrNotFound, kind, id)
}

// users

type userStore struct{ s *Store }

func (u userStore) Create(_ context.Context, user *store.User) error {
	return u.s.write(func(st *state) error {
		if _, ok := st.users[user.ID]; ok {
			return fmt.Errorf("%w: user %s exists", store.ErrConflict, user.ID)
		}
		if emailTaken(st, user.Email, "") {
			return fmt.Errorf("%w: email taken", store.ErrConflict)
		}
		st.users[user.ID] = *user
		return nil
	})
}

func (u userStore) Put(_ context.Context, user *store.User) error {
	return u.s.write(func(st *state) error {
		if emailTaken(st, user.Email, user.ID) {
			return fmt.Errorf("%w: email taken", store.ErrConflict)
		}
		st.users[user.ID] = *user
		return nil
	})
}

func emailTaken(st *state, email, exceptID string) bool {
	if email == "" {
		return false
	}
	for id, existing := range st.users {
		if id != exceptID && existing.Email == email {
			return true
		}
	}
	return false
}

func (u userStore) Find(_ context.Context, id string) (*store.User, error) {
	var out *store.User
	err := u.s.read(func(st *state) error {
		user, ok := st.users[id]
		if !ok {
			return notFound("user", id)
		}
		out = &user
		return nil
	})
	return out, err
}

func (u userStore) FindByEmail(_ context.Context, email string) (*store.User, error) {
	return u.findBy(func(user store.User) bool { return email != "" && user.Email == email })
}

func (u userStore) FindByToken(_ context.Context, token string) (*store.User, error) {
	return u.findBy(func(user store.User) bool { return token != "" && user.VerificationToken == token })
}

func (u userStore) findBy(match func(store.User) bool) (*store.User, error) {
	var out *store.User
	err := u.s.read(func(st *state) error {
		for _, user := range st.users {
			if match(user) {
				user := user
				out = &user
				return nil
			}
		}
		return store.ErrNotFound
	})
	return out, err
}

func (u userStore) List(context.Context) ([]*store.User, error) {
	var out []*store.User
	err := u.s.read(func(st *state) error {
		out = make([]*store.User, 0, len(st.users))
		for _, user := range st.users {
			user := user
			out = append(out, &user)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (u userStore) SetToken(_ context.Context, id, token string, expiresAt time.Time) error {
	return u.update(id, func(user *store.User) error {
		user.VerificationToken = token
		user.TokenExpiresAt = expiresAt
		return nil
	})
}

func (u userStore) ClearToken(_ context.Context, id string) error {
	return u.update(id, func(user *store.User) error {
		user.VerificationToken = ""
		user.TokenExpiresAt = time.Time{}
		return nil
	})
}

func (u userStore) TransitionStatus(_ context.Context, id string, from, to store.Status) error {
	return u.update(id, func(user *store.User) error {
		if user.Status != from {
			return fmt.Errorf("%w: user %s is %s, not %s", store.ErrConflict, id, user.Status, from)
		}
		user.Status = to
		return nil
	})
}

func (u userStore) update(id string, fn func(*store.User) error) error {
	return u.s.write(func(st *state) error {
		user, ok := st.users[id]
		if !ok {
			return notFound("user", id)
		}
		if err := fn(&user); err != nil {
			return err
		}
		user.UpdatedAt = u.s.now().UTC()
		st.users[id] = user
		return nil
	})
}

// members

type memberStore struct{ s *Store }

func (m memberStore) Put(_ context.Context, member *store.Member) error {
	return m.s.write(func(st *state) error {
		cp := *member
		cp.Status = ""
		if cp.UpdatedAt.IsZero() {
			cp.UpdatedAt = m.s.now().UTC()
		}
		st.members[member.ID] = cp
		return nil
	})
}

func (m memberStore) Find(_ context.Context, id string) (*store.Member, error) {
	var out *store.Member
	err := m.s.read(func(st *state) error {
		member, ok := st.members[id]
		if !ok {
			return notFound("member", id)
		}
		out = &member
		return nil
	})
	return out, err
}

func (m memberStore) List(context.Context) ([]*store.Member, error) {
	var out []*store.Member
	err := m.s.read(func(st *state) error {
		out = make([]*store.Member, 0, len(st.members))
		for _, member := range st.members {
			member := member
			out = append(out, &member)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (m memberStore) Update(_ context.Context, id string, patch store.MemberPatch) (*store.Member, error) {
	var out *store.Member
	err := m.update(id, func(member *store.Member) {
		patch.Apply(member)
		cp := *member
		out = &cp
	})
	return out, err
}

func (m memberStore) UpdateLocation(_ context.Context, id string, loc store.Location) error {
	return m.update(id, func(member *store.Member) {
		member.Location = loc
		member.IsOnline = true
	})
}

func (m memberStore) SetOnline(_ context.Context, id string, online bool) error {
	return m.update(id, func(member *store.Member) { member.IsOnline = online })
}

func (m memberStore) update(id string, fn func(*store.Member)) error {
	return m.s.write(func(st *state) error {
		member, ok := st.members[id]
		if !ok {
			return notFound("member", id)
		}
		member.UpdatedAt = m.s.now().UTC()
		fn(&member)
		st.members[id] = member
		return nil
	})
}

// chats and messages

type chatStore struct{ s *Store }

func (c chatStore) CreateIfAbsent(_ context.Context, chat *store.Chat) (*store.Chat, bool, error) {
	var (
		out     store.Chat
		created bool
	)
	err := c.s.write(func(st *state) error {
		if existing, ok := st.chats[chat.ID]; ok {
			out = cloneChat(existing)
			return nil
		}
		out = cloneChat(*chat)
		if out.CreatedAt.IsZero() {
			out.CreatedAt = c.s.now().UTC()
		}
		st.chats[chat.ID] = cloneChat(out)
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &out, created, nil
}

func (c chatStore) Find(_ context.Context, id string) (*store.Chat, error) {
	var out *store.Chat
	err := c.s.read(func(st *state) error {
		chat, ok := st.chats[id]
		if !ok {
			return notFound("chat", id)
		}
		cp := cloneChat(chat)
		out = &cp
		return nil
	})
	return out, err
}

func (c chatStore) ListForMember(_ context.Context, memberID string) ([]*store.Chat, error) {
	var out []*store.Chat
	err := c.s.read(func(st *state) error {
		for _, chat := range st.chats {
			if !chat.HasMember(memberID) {
				continue
			}
			cp := cloneChat(chat)
			out = append(out, &cp)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsGroup != out[j].IsGroup {
			return out[i].IsGroup
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (c chatStore) AddMember(_ context.Context, chatID, memberID string) error {
	return c.s.write(func(st *state) error {
		chat, ok := st.chats[chatID]
		if !ok {
			return notFound("chat", chatID)
		}
		if chat.HasMember(memberID) {
			return nil
		}
		chat = cloneChat(chat)
		chat.MemberIDs = append(chat.MemberIDs, memberID)
		st.chats[chatID] = chat
		return nil
	})
}

func (c chatStore) Delete(_ context.Context, id string) error {
	return c.s.write(func(st *state) error {
		if _, ok := st.chats[id]; !ok {
			return notFound("chat", id)
		}
		delete(st.chats, id)
		delete(st.messages, id)
		return nil
	})
}

func (c chatStore) AppendMessage(_ context.Context, msg *store.Message) error {
	return c.s.write(func(st *state) error {
		if _, ok := st.chats[msg.ChatID]; !ok {
			return notFound("chat", msg.ChatID)
		}
		msg.Timestamp = c.s.now().UTC()
		if history := st.messages[msg.ChatID]; len(history) > 0 {
			// Keep the history append-ordered even if the clock steps back.
			if last := history[len(history)-1].Timestamp; msg.Timestamp.Before(last) {
				msg.Timestamp = last
			}
		}
		if msg.ID == "" {
			msg.ID = ids.NewAt(msg.Timestamp)
		}
		st.messages[msg.ChatID] = append(st.messages[msg.ChatID], *msg)
		return nil
	})
}

func (c chatStore) Messages(_ context.Context, chatID string) ([]*store.Message, error) {
	var out []*store.Message
	err := c.s.read(func(st *state) error {
		history := st.messages[chatID]
		out = make([]*store.Message, 0, len(history))
		for i := range history {
			msg := history[i]
			out = append(out, &msg)
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (c chatStore) DeleteMessages(_ context.Context, chatID string) (int64, error) {
	var n int64
	err := c.s.write(func(st *state) error {
		n = int64(len(st.messages[chatID]))
		delete(st.messages, chatID)
		return nil
	})
	return n, err
}

func (c chatStore) DeleteAllMessages(context.Context) (int64, error) {
	var n int64
	err := c.s.write(func(st *state) error {
		for id, history := range st.messages {
			n += int64(len(history))
			delete(st.messages, id)
		}
		return nil
	})
	return n, err
}

// settings

type settingsStore struct{ s *Store }

func (c settingsStore) Load(context.Context) ([]byte, error) {
	var out []byte
	err := c.s.read(func(st *state) error {
		if st.settings == nil {
			return notFound("settings", "site")
		}
		out = append([]byte(nil), st.settings...)
		return nil
	})
	return out, err
}

func (c settingsStore) Save(_ context.Context, doc []byte) error {
	return c.s.write(func(st *state) error {
		st.settings = append([]byte(nil), doc...)
		return nil
	})
}

// audit

type auditStore struct{ s *Store }

func (a auditStore) Append(_ context.Context, entry *store.AuditEntry) error {
	return a.s.write(func(st *state) error {
		if entry.ID == "" {
			entry.ID = ids.New()
		}
		if entry.OccurredAt.IsZero() {
			entry.OccurredAt = a.s.now().UTC()
		}
		st.audit = append(st.audit, cloneAudit(*entry))
		return nil
	})
}

func (a auditStore) List(_ context.Context, limit int) ([]*store.AuditEntry, error) {
	var out []*store.AuditEntry
	err := a.s.read(func(st *state) error {
		for i := len(st.audit) - 1; i >= 0; i-- {
			if limit > 0 && len(out) == limit {
				break
			}
			entry := cloneAudit(st.audit[i])
			out = append(out, &entry)
		}
		return nil
	})
	return out, err
}

func cloneAudit(e store.AuditEntry) store.AuditEntry {
	meta := make(map[string]string, len(e.Metadata))
	for k, v := range e.Metadata {
		meta[k] = v
	}
	e.Metadata = meta
	return e
}
