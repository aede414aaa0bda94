// Package store defines the persistence contracts shared by the PostgreSQL and
// in-memory implementations.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
)

// Store gives access to every entity store and to atomic batches.
type Store interface {
	Users(ctx context.Context) UserStore
	Members(ctx context.Context) MemberStore
	Chats(ctx context.Context) ChatStore
	Settings(ctx context.Context) SettingsStore
	Audit(ctx context.Context) AuditStore

	// WithinTx runs fn against a transactional view. Writes made through tx
	// become visible together when fn returns nil and are discarded otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	Ping(ctx context.Context) error
}

type UserStore interface {
	// Create inserts a new user. ErrConflict when the id or email is taken.
	Create(ctx context.Context, u *User) error
	// Put inserts or replaces the user with u.ID.
	Put(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByToken(ctx context.Context, token string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	SetToken(ctx context.Context, id, token string, expiresAt time.Time) error
	ClearToken(ctx context.Context, id string) error
	// TransitionStatus moves the user from one status to another.
	// ErrNotFound when the user is missing, ErrConflict when its status is not from.
	TransitionStatus(ctx context.Context, id string, from, to Status) error
}

type MemberStore interface {
	// Put inserts or replaces the profile with m.ID.
	Put(ctx context.Context, m *Member) error
	Find(ctx context.Context, id string) (*Member, error)
	List(ctx context.Context) ([]*Member, error)
	Update(ctx context.Context, id string, patch MemberPatch) (*Member, error)
	// UpdateLocation overwrites the location and marks the member online.
	UpdateLocation(ctx context.Context, id string, loc Location) error
	SetOnline(ctx context.Context, id string, online bool) error
}

type ChatStore interface {
	// CreateIfAbsent inserts c unless a chat with c.ID exists. It reports whether
	// a row was created and always returns the stored chat.
	CreateIfAbsent(ctx context.Context, c *Chat) (*Chat, bool, error)
	Find(ctx context.Context, id string) (*Chat, error)
	ListForMember(ctx context.Context, memberID string) ([]*Chat, error)
	// AddMember is a no-op when the member already participates.
	AddMember(ctx context.Context, chatID, memberID string) error
	Delete(ctx context.Context, id string) error

	// AppendMessage stores m and assigns its timestamp.
	AppendMessage(ctx context.Context, m *Message) error
	// Messages returns the chat history ordered by (timestamp, id).
	Messages(ctx context.Context, chatID string) ([]*Message, error)
	DeleteMessages(ctx context.Context, chatID string) (int64, error)
	DeleteAllMessages(ctx context.Context) (int64, error)
}

// SettingsStore persists the site configuration as a single JSON document.
type SettingsStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, doc []byte) error
}

// AuditStore appends immutable entries.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	// List returns up to limit entries, newest first.
	List(ctx context.Context, limit int) ([]*AuditEntry, error)
}
