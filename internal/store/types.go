package store

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a user account.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended:
		return true
	}
	return false
}

// User is the credential record of an account.
type User struct {
	ID                string
	Name              string
	Email             string
	Phone             string
	PasswordHash      string
	IsAdmin           bool
	Status            Status
	VerificationToken string
	TokenExpiresAt    time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasToken reports whether an email verification is outstanding.
func (u *User) HasToken() bool { return u.VerificationToken != "" }

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Location is a member's last reported position.
type Location struct {
	Name      string    `json:"name"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// Member is the public profile of an account, created once the account becomes active.
// Status is joined from the user at read time and is not persisted with the profile.
type Member struct {
	ID                string
	Name              string
	Email             string
	Avatar            string
	Location          Location
	IsOnline          bool
	IsSharingLocation bool
	IsChatEnabled     bool
	IsAdmin           bool
	Status            Status
	UpdatedAt         time.Time
}

// LocationVisible reports whether other members may see this member's location.
func (m *Member) LocationVisible() bool { return m.IsAdmin || m.IsSharingLocation }

// MemberPatch is a partial profile update; nil fields are left unchanged.
type MemberPatch struct {
	Name              *string
	Avatar            *string
	IsSharingLocation *bool
	IsChatEnabled     *bool
}

// Empty reports whether the patch changes nothing.
func (p MemberPatch) Empty() bool {
	return p.Name == nil && p.Avatar == nil && p.IsSharingLocation == nil && p.IsChatEnabled == nil
}

// Apply writes the non-nil fields of p onto m.
func (p MemberPatch) Apply(m *Member) {
	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.Avatar != nil {
		m.Avatar = *p.Avatar
	}
	if p.IsSharingLocation != nil {
		m.IsSharingLocation = *p.IsSharingLocation
	}
	if p.IsChatEnabled != nil {
		m.IsChatEnabled = *p.IsChatEnabled
	}
}

// Chat is a conversation: the single group chat or a private two-member chat.
type Chat struct {
	ID        string
	Name      string
	MemberIDs []string
	IsGroup   bool
	CreatedAt time.Time
}

// HasMember reports whether id participates in the chat.
func (c *Chat) HasMember(id string) bool {
	for _, m := range c.MemberIDs {
		if m == id {
			return true
		}
	}
	return false
}

// Message is an immutable chat entry. Sender name and avatar are snapshots taken at send time.
type Message struct {
	ID           string
	ChatID       string
	MemberID     string
	MemberName   string
	MemberAvatar string
	Text         string
	Timestamp    time.Time
}

// AuditEntry is an append-only record of an administrative action.
type AuditEntry struct {
	ID           string
	OccurredAt   time.Time
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Metadata     map[string]string
	RequestID    string
}
