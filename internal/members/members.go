// Package members maintains the family directory: the joined view of
// accounts and member profiles, location updates and profile edits.
package members

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"famlocator.app/internal/store"
)

var (
	ErrMemberNotFound = errors.New("members: member not found")
	ErrInvalidInput   = errors.New("members: invalid input")
)

const (
	DefaultAvatar          = "https://placehold.co/150x150.png"
	UnknownLocationName    = "Ubicación Desconocida"
	CurrentLocationName    = "Ubicación actual"
	PlaceholderLocation    = "N/A"
	PlaceholderName        = "Usuario Pendiente"
	DefaultLat, DefaultLng = -34.723, -58.254
	maxNameLength          = 80
)

// Cache stores the joined directory between writes. Invalidate advances the
// generation, and SetIfGeneration drops a list read before that happened.
type Cache interface {
	Get(ctx context.Context) ([]*store.Member, bool)
	Generation(ctx context.Context) (int64, bool)
	SetIfGeneration(ctx context.Context, gen int64, members []*store.Member)
	Invalidate(ctx context.Context)
}

type Service struct {
	store store.Store
	cache Cache
	now   func() time.Time
}

type Option func(*Service)

// WithCache enables the directory cache.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewProfile builds the profile created when an account becomes active.
func NewProfile(u *store.User, now time.Time) *store.Member {
	name := strings.TrimSpace(u.Name)
	if name == "" {
		if u.IsAdmin {
			name = "Admin"
		} else {
			name = "Nuevo Miembro"
		}
	}
	return &store.Member{
		ID:     u.ID,
		Name:   name,
		Email:  u.Email,
		Avatar: DefaultAvatar,
		Location: store.Location{
			Name:      UnknownLocationName,
			Lat:       DefaultLat,
			Lng:       DefaultLng,
			Timestamp: now.UTC(),
		},
		IsSharingLocation: true,
		IsChatEnabled:     true,
		IsAdmin:           u.IsAdmin,
	}
}

func placeholder(u *store.User) *store.Member {
	name := strings.TrimSpace(u.Name)
	if name == "" {
		name = PlaceholderName
	}
	return &store.Member{
		ID:       u.ID,
		Name:     name,
		Email:    u.Email,
		Avatar:   DefaultAvatar,
		Location: store.Location{Name: PlaceholderLocation},
		IsAdmin:  u.IsAdmin,
		Status:   u.Status,
	}
}

// List returns every account as a directory entry. Accounts without a profile
// appear as placeholders. Administrators come first, then pending accounts,
// then everyone else; ties are broken by case-insensitive name and id.
func (s *Service) List(ctx context.Context) ([]*store.Member, error) {
	var (
		gen       int64
		cacheable bool
	)
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx); ok {
			return cached, nil
		}
		gen, cacheable = s.cache.Generation(ctx)
	}

	users, err := s.store.Users(ctx).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	profiles, err := s.store.Members(ctx).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	byID := make(map[string]*store.Member, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}

	out := make([]*store.Member, 0, len(users))
	for _, u := range users {
		if p, ok := byID[u.ID]; ok {
			p.Status = u.Status
			out = append(out, p)
			continue
		}
		out = append(out, placeholder(u))
	}
	Sort(out)

	if cacheable {
		s.cache.SetIfGeneration(ctx, gen, out)
	}
	return out, nil
}

// Sort orders entries the way the directory presents them.
func Sort(list []*store.Member) {
	rank := func(m *store.Member) int {
		switch {
		case m.IsAdmin:
			return 0
		case m.Status == store.StatusPending:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra < rb
		}
		if na, nb := strings.ToLower(a.Name), strings.ToLower(b.Name); na != nb {
			return na < nb
		}
		return a.ID < b.ID
	})
}

// Get returns one member with its account status.
func (s *Service) Get(ctx context.Context, id string) (*store.Member, error) {
	m, err := s.store.Members(ctx).Find(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if u, err := s.store.Users(ctx).Find(ctx, id); err == nil {
		m.Status = u.Status
	}
	return m, nil
}

// UpdateLocation records a new position, stamps it with the current time and
// marks the member online. A blank label becomes CurrentLocationName.
func (s *Service) UpdateLocation(ctx context.Context, id string, lat, lng float64, label string) (*store.Member, error) {
	if err := ValidateCoordinates(lat, lng); err != nil {
		return nil, err
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = CurrentLocationName
	}
	loc := store.Location{Name: label, Lat: lat, Lng: lng, Timestamp: s.now().UTC()}
	if err := s.store.Members(ctx).UpdateLocation(ctx, id, loc); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, id)
		}
		return nil, err
	}
	s.invalidate(ctx)
	return s.Get(ctx, id)
}

// ValidateCoordinates rejects NaN, infinities and out-of-range values.
func ValidateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return fmt.Errorf("%w: coordinates must be finite", ErrInvalidInput)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidInput, lat)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidInput, lng)
	}
	return nil
}

// UpdateProfile applies a partial update and returns the merged profile.
func (s *Service) UpdateProfile(ctx context.Context, id string, patch store.MemberPatch) (*store.Member, error) {
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" || len([]rune(name)) > maxNameLength {
			return nil, fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidInput, maxNameLength)
		}
		patch.Name = &name
	}
	if patch.Avatar != nil {
		avatar := strings.TrimSpace(*patch.Avatar)
		if avatar == "" {
			avatar = DefaultAvatar
		}
		patch.Avatar = &avatar
	}
	if patch.Empty() {
		return s.Get(ctx, id)
	}

	if _, err := s.store.Members(ctx).Update(ctx, id, patch); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, id)
		}
		return nil, err
	}
	s.invalidate(ctx)
	return s.Get(ctx, id)
}

// SetOnline flips the presence flag. Accounts without a profile are ignored.
func (s *Service) SetOnline(ctx context.Context, id string, online bool) error {
	err := s.store.Members(ctx).SetOnline(ctx, id, online)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// Invalidate drops the cached directory after writes made elsewhere.
func (s *Service) Invalidate(ctx context.Context) { s.invalidate(ctx) }

func (s *Service) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}
