// Package account implements registration, email verification, administrator
// approval and login for family accounts.
package account

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"famlocator.app/internal/audit"
	"famlocator.app/internal/auth"
	"famlocator.app/internal/chat"
	"famlocator.app/internal/ids"
	"famlocator.app/internal/members"
	"famlocator.app/internal/obs"
	"famlocator.app/internal/store"
)

var (
	ErrInvalidInput       = errors.New("account: invalid input")
	ErrEmailTaken         = errors.New("account: email already registered")
	ErrMailDelivery       = errors.New("account: verification email could not be delivered")
	ErrTokenInvalid       = errors.New("account: invalid verification token")
	ErrTokenExpired       = errors.New("account: verification token expired")
	ErrForbidden          = errors.New("account: forbidden")
	ErrUserNotFound       = errors.New("account: user not found")
	ErrNotPending         = errors.New("account: user is not awaiting approval")
	ErrAlreadyVerified    = errors.New("account: email already verified")
	ErrInvalidCredentials = errors.New("account: invalid credentials")
	ErrNeedsVerification  = errors.New("account: email not verified")
	ErrNeedsApproval      = errors.New("account: awaiting administrator approval")
	ErrSuspended          = errors.New("account: account suspended")
	ErrInactive           = errors.New("account: account inactive")
	ErrAdminConfigured    = errors.New("account: administrator already configured")
	ErrAdminProtected     = errors.New("account: administrators cannot be suspended")
	ErrStatusConflict     = errors.New("account: status does not allow this change")
)

const (
	// BootstrapAdminID is the fixed id of the administrator created by SetupAdmin.
	BootstrapAdminID = "admin"

	// TokenLength is the length of a verification token in characters.
	TokenLength = 24
	TokenTTL    = time.Hour
)

// Mailer delivers verification tokens.
type Mailer interface {
	SendVerification(ctx context.Context, to, name, token string) error
}

type Service struct {
	store     store.Store
	directory *members.Service
	mailer    Mailer
	now       func() time.Time

	adminEmail    string
	adminPassword string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBootstrapAdmin sets the provisional credentials that open the
// administrator setup flow before any administrator exists.
func WithBootstrapAdmin(email, password string) Option {
	return func(s *Service) {
		s.adminEmail = store.NormalizeEmail(email)
		s.adminPassword = password
	}
}

func NewService(st store.Store, directory *members.Service, mailer Mailer, opts ...Option) *Service {
	s := &Service{store: st, directory: directory, mailer: mailer, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Phone    string
}

type RegisterResult struct {
	UserID string
	// Resent is set when the email belonged to an unverified account and a
	// fresh token was issued instead of creating a new one.
	Resent bool
}

// Register creates a pending account and emails its verification token.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	email := store.NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	if err := validateCredentials(email, in.Password); err != nil {
		obs.RecordRegistration("rejected")
		return nil, err
	}
	if name == "" {
		obs.RecordRegistration("rejected")
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	existing, err := s.store.Users(ctx).FindByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Status != store.StatusPending || !existing.HasToken() {
			obs.RecordRegistration("duplicate")
			return nil, ErrEmailTaken
		}
		if err := s.issueToken(ctx, existing); err != nil {
			return nil, err
		}
		obs.RecordRegistration("resent")
		return &RegisterResult{UserID: existing.ID, Resent: true}, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("find user: %w", err)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	token, err := ids.Token(TokenLength / 2)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	u := &store.User{
		ID:                ids.New(),
		Name:              name,
		Email:             email,
		Phone:             strings.TrimSpace(in.Phone),
		PasswordHash:      hash,
		Status:            store.StatusPending,
		VerificationToken: token,
		TokenExpiresAt:    now.Add(TokenTTL),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.Users(ctx).Create(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			obs.RecordRegistration("duplicate")
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.directory.Invalidate(ctx)
	_ = audit.LogEvent(ctx, "account.registered", map[string]any{"user_id": u.ID})

	if err := s.send(ctx, u, token); err != nil {
		obs.RecordRegistration("mail_failed")
		return nil, err
	}
	obs.RecordRegistration("created")
	return &RegisterResult{UserID: u.ID}, nil
}

func validateCredentials(email, password string) error {
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(password) < auth.MinPasswordLength {
		return fmt.Errorf("%w: password must have at least %d characters", ErrInvalidInput, auth.MinPasswordLength)
	}
	return nil
}

// issueToken replaces the outstanding token of u and emails the new one.
func (s *Service) issueToken(ctx context.Context, u *store.User) error {
	token, err := ids.Token(TokenLength / 2)
	if err != nil {
		return err
	}
	if err := s.store.Users(ctx).SetToken(ctx, u.ID, token, s.now().UTC().Add(TokenTTL)); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return s.send(ctx, u, token)
}

func (s *Service) send(ctx context.Context, u *store.User, token string) error {
	if err := s.mailer.SendVerification(ctx, u.Email, u.Name, token); err != nil {
		obs.Logger().Warn("verification email not delivered", zap.String("user_id", u.ID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrMailDelivery, err)
	}
	return nil
}

type VerifyResult struct {
	UserID string
	// Activated is true for the bootstrap administrator, who needs no approval.
	Activated bool
}

// VerifyToken consumes a verification token. The administrator account is
// activated immediately; other accounts wait for approval.
func (s *Service) VerifyToken(ctx context.Context, token string) (*VerifyResult, error) {
	token = strings.TrimSpace(token)
	if len(token) != TokenLength {
		return nil, fmt.Errorf("%w: malformed", ErrTokenInvalid)
	}
	u, err := s.store.Users(ctx).FindByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("find token: %w", err)
	}
	now := s.now().UTC()
	if !u.TokenExpiresAt.IsZero() && now.After(u.TokenExpiresAt) {
		return nil, ErrTokenExpired
	}

	if !u.IsAdmin {
		if err := s.store.Users(ctx).ClearToken(ctx, u.ID); err != nil {
			return nil, fmt.Errorf("clear token: %w", err)
		}
		_ = audit.LogEvent(ctx, "account.verified", map[string]any{"user_id": u.ID})
		return &VerifyResult{UserID: u.ID}, nil
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.Users(ctx).ClearToken(ctx, u.ID); err != nil {
			return err
		}
		if u.Status != store.StatusActive {
			if err := tx.Users(ctx).TransitionStatus(ctx, u.ID, u.Status, store.StatusActive); err != nil {
				return err
			}
		}
		return activate(ctx, tx, u, now)
	})
	if err != nil {
		return nil, fmt.Errorf("activate administrator: %w", err)
	}
	s.directory.Invalidate(ctx)
	_ = audit.LogEvent(ctx, "account.admin_activated", map[string]any{"user_id": u.ID})
	return &VerifyResult{UserID: u.ID, Activated: true}, nil
}

// activate writes the default profile of u and adds it to the group chat.
func activate(ctx context.Context, tx store.Store, u *store.User, now time.Time) error {
	if err := tx.Members(ctx).Put(ctx, members.NewProfile(u, now)); err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return chat.JoinGroup(ctx, tx, u.ID)
}

// AuthorizeUser approves a verified pending account. actorID must be an
// active administrator.
func (s *Service) AuthorizeUser(ctx context.Context, actorID, userID string) error {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		u, err := s.findUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if u.Status != store.StatusPending || u.HasToken() {
			return ErrNotPending
		}
		if err := tx.Users(ctx).TransitionStatus(ctx, u.ID, store.StatusPending, store.StatusActive); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrNotPending
			}
			return err
		}
		if err := activate(ctx, tx, u, s.now().UTC()); err != nil {
			return err
		}
		return audit.Record(ctx, tx, userEntry("account.authorized", actorID, userID))
	})
	if err != nil {
		return err
	}
	s.directory.Invalidate(ctx)
	return nil
}

// ResendToken issues a new verification token for a pending account.
func (s *Service) ResendToken(ctx context.Context, email string) error {
	u, err := s.store.Users(ctx).FindByEmail(ctx, store.NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) || (err == nil && u.Status != store.StatusPending) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if !u.HasToken() {
		return ErrAlreadyVerified
	}
	return s.issueToken(ctx, u)
}

type LoginResult struct {
	UserID  string
	IsAdmin bool
	// FirstLogin means the bootstrap credentials were used and the
	// administrator account still has to be set up.
	FirstLogin bool
	User       *store.User
}

// Login checks credentials. Each rejected state has its own error so the
// caller can tell the user what to do next.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = store.NormalizeEmail(email)

	if s.bootstrapMatch(email, password) {
		admin, err := s.store.Users(ctx).Find(ctx, BootstrapAdminID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("find administrator: %w", err)
		}
		if admin == nil || admin.Email == "" {
			obs.RecordLogin("first_login")
			return &LoginResult{UserID: BootstrapAdminID, IsAdmin: true, FirstLogin: true}, nil
		}
	}

	u, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		obs.RecordLogin("invalid")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if err := auth.VerifyPassword(u.PasswordHash, password); err != nil {
		obs.RecordLogin("invalid")
		return nil, ErrInvalidCredentials
	}

	switch u.Status {
	case store.StatusPending:
		if u.HasToken() {
			obs.RecordLogin("unverified")
			return nil, ErrNeedsVerification
		}
		obs.RecordLogin("unapproved")
		return nil, ErrNeedsApproval
	case store.StatusSuspended:
		obs.RecordLogin("suspended")
		return nil, ErrSuspended
	case store.StatusActive:
	default:
		obs.RecordLogin("inactive")
		return nil, ErrInactive
	}

	if err := s.directory.SetOnline(ctx, u.ID, true); err != nil {
		obs.Logger().Warn("mark online failed", zap.String("user_id", u.ID), zap.Error(err))
	}
	obs.RecordLogin("ok")
	return &LoginResult{UserID: u.ID, IsAdmin: u.IsAdmin, User: u}, nil
}

func (s *Service) bootstrapMatch(email, password string) bool {
	if s.adminEmail == "" || s.adminPassword == "" {
		return false
	}
	emailOK := subtle.ConstantTimeCompare([]byte(email), []byte(s.adminEmail)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.adminPassword)) == 1
	return emailOK && passOK
}

// SetupAdmin stores the administrator account chosen during the first login
// and emails its verification token.
func (s *Service) SetupAdmin(ctx context.Context, name, email, password string) error {
	email = store.NormalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Admin"
	}

	existing, err := s.store.Users(ctx).Find(ctx, BootstrapAdminID)
	if err == nil && existing.Email != "" {
		return ErrAdminConfigured
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("find administrator: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	token, err := ids.Token(TokenLength / 2)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	admin := &store.User{
		ID:                BootstrapAdminID,
		Name:              name,
		Email:             email,
		PasswordHash:      hash,
		IsAdmin:           true,
		Status:            store.StatusPending,
		VerificationToken: token,
		TokenExpiresAt:    now.Add(TokenTTL),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.Users(ctx).Put(ctx, admin); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrEmailTaken
		}
		return fmt.Errorf("store administrator: %w", err)
	}
	s.record(ctx, userEntry("account.admin_setup", admin.ID, admin.ID))
	return s.send(ctx, admin, token)
}

// SuspendUser blocks an active member from signing in.
func (s *Service) SuspendUser(ctx context.Context, actorID, userID string) error {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	u, err := s.findUser(ctx, s.store, userID)
	if err != nil {
		return err
	}
	if u.IsAdmin {
		return ErrAdminProtected
	}
	if err := s.transition(ctx, userID, store.StatusActive, store.StatusSuspended); err != nil {
		return err
	}
	if err := s.directory.SetOnline(ctx, userID, false); err != nil {
		obs.Logger().Warn("mark offline failed", zap.String("user_id", userID), zap.Error(err))
	}
	s.record(ctx, userEntry("account.suspended", actorID, userID))
	return nil
}

// ReactivateUser lifts a suspension.
func (s *Service) ReactivateUser(ctx context.Context, actorID, userID string) error {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	if _, err := s.findUser(ctx, s.store, userID); err != nil {
		return err
	}
	if err := s.transition(ctx, userID, store.StatusSuspended, store.StatusActive); err != nil {
		return err
	}
	s.record(ctx, userEntry("account.reactivated", actorID, userID))
	return nil
}

// AuditTrail returns the newest administrative actions. actorID must be an
// active administrator.
func (s *Service) AuditTrail(ctx context.Context, actorID string, limit int) ([]*store.AuditEntry, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return audit.Trail(ctx, s.store, limit)
}

func userEntry(action, actorID, userID string) store.AuditEntry {
	return store.AuditEntry{Action: action, ActorID: actorID, ResourceType: "user", ResourceID: userID}
}

// record appends to the audit trail. The action has already happened, so a
// failure is only logged.
func (s *Service) record(ctx context.Context, entry store.AuditEntry) {
	if err := audit.Record(ctx, s.store, entry); err != nil {
		obs.Logger().Warn("audit record failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

func (s *Service) transition(ctx context.Context, userID string, from, to store.Status) error {
	err := s.store.Users(ctx).TransitionStatus(ctx, userID, from, to)
	switch {
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: expected %s", ErrStatusConflict, from)
	case errors.Is(err, store.ErrNotFound):
		return ErrUserNotFound
	case err != nil:
		return err
	}
	s.directory.Invalidate(ctx)
	return nil
}

// Logout marks the member offline.
func (s *Service) Logout(ctx context.Context, userID string) error {
	return s.directory.SetOnline(ctx, userID, false)
}

// User returns the credential record of id.
func (s *Service) User(ctx context.Context, id string) (*store.User, error) {
	return s.findUser(ctx, s.store, id)
}

func (s *Service) findUser(ctx context.Context, st store.Store, id string) (*store.User, error) {
	u, err := st.Users(ctx).Find(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (s *Service) requireAdmin(ctx context.Context, actorID string) error {
	actor, err := s.store.Users(ctx).Find(ctx, actorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrForbidden
		}
		return fmt.Errorf("find actor: %w", err)
	}
	if !actor.IsAdmin || actor.Status != store.StatusActive {
		return ErrForbidden
	}
	return nil
}
