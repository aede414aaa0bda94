package httpapi

import (
	"errors"
	"net/http"

	"golang.org/x/sync/errgroup"

	"famlocator.app/internal/auth"
	"famlocator.app/internal/members"
	"famlocator.app/internal/settings"
	"famlocator.app/internal/store"
)

type memberView struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Email             string          `json:"email"`
	Avatar            string          `json:"avatar"`
	Location          *store.Location `json:"location,omitempty"`
	IsOnline          bool            `json:"isOnline"`
	IsSharingLocation bool            `json:"isSharingLocation"`
	IsChatEnabled     bool            `json:"isChatEnabled"`
	IsAdmin           bool            `json:"isAdmin"`
	Status            store.Status    `json:"status"`
}

// viewMember renders m for viewerID. The location is withheld from other
// members unless m shares it.
func viewMember(m *store.Member, viewerID string) memberView {
	v := memberView{
		ID:                m.ID,
		Name:              m.Name,
		Email:             m.Email,
		Avatar:            m.Avatar,
		IsOnline:          m.IsOnline,
		IsSharingLocation: m.IsSharingLocation,
		IsChatEnabled:     m.IsChatEnabled,
		IsAdmin:           m.IsAdmin,
		Status:            m.Status,
	}
	if m.ID == viewerID || m.LocationVisible() {
		loc := m.Location
		v.Location = &loc
	}
	return v
}

func viewMembers(list []*store.Member, viewerID string) []memberView {
	out := make([]memberView, 0, len(list))
	for _, m := range list {
		out = append(out, viewMember(m, viewerID))
	}
	return out
}

type userView struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Email   string       `json:"email"`
	Phone   string       `json:"phone,omitempty"`
	IsAdmin bool         `json:"isAdmin"`
	Status  store.Status `json:"status"`
}

type meResponse struct {
	User        userView    `json:"user"`
	Member      *memberView `json:"member,omitempty"`
	Permissions []string    `json:"permissions"`
}

type bootstrapResponse struct {
	Settings settings.SiteSettings `json:"settings"`
	Members  []memberView          `json:"members"`
	Chats    []chatView            `json:"chats"`
}

type profileRequest struct {
	Name              *string `json:"name"`
	Avatar            *string `json:"avatar"`
	IsSharingLocation *bool   `json:"isSharingLocation"`
	IsChatEnabled     *bool   `json:"isChatEnabled"`
}

type locationRequest struct {
	Lat  *float64 `json:"lat"`
	Lng  *float64 `json:"lng"`
	Name string   `json:"name"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	u, _ := userFromContext(r.Context())
	principal, _ := auth.PrincipalFromContext(r.Context())
	resp := meResponse{
		User: userView{
			ID:      u.ID,
			Name:    u.Name,
			Email:   u.Email,
			Phone:   u.Phone,
			IsAdmin: u.IsAdmin,
			Status:  u.Status,
		},
		Permissions: make([]string, 0, len(principal.Permissions)),
	}
	for _, p := range auth.PermissionsForRoles(principal.Roles) {
		resp.Permissions = append(resp.Permissions, p.Key)
	}
	m, err := a.members.Get(r.Context(), u.ID)
	switch {
	case err == nil:
		v := viewMember(m, u.ID)
		resp.Member = &v
	case !errors.Is(err, members.ErrMemberNotFound):
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "", resp)
}

// handleBootstrap returns everything the client needs after login in one
// round trip. The three reads run concurrently.
func (a *API) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	var resp bootstrapResponse

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		s, err := a.settings.Get(ctx)
		resp.Settings = s
		return err
	})
	g.Go(func() error {
		list, err := a.members.List(ctx)
		if err != nil {
			return err
		}
		resp.Members = viewMembers(list, uid)
		return nil
	})
	g.Go(func() error {
		chats, err := a.chats.ListChatsForUser(ctx, uid)
		if err != nil {
			return err
		}
		resp.Chats = viewChats(chats)
		return nil
	})
	if err := g.Wait(); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "", resp)
}

func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	list, err := a.members.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "", viewMembers(list, uid))
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	uid, _ := auth.UserIDFromContext(r.Context())
	m, err := a.members.UpdateProfile(r.Context(), uid, store.MemberPatch{
		Name:              req.Name,
		Avatar:            req.Avatar,
		IsSharingLocation: req.IsSharingLocation,
		IsChatEnabled:     req.IsChatEnabled,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "profile updated", viewMember(m, uid))
}

func (a *API) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if req.Lat == nil || req.Lng == nil {
		badRequest(w, r, errors.New("lat and lng are required"))
		return
	}
	uid, _ := auth.UserIDFromContext(r.Context())
	m, err := a.members.UpdateLocation(r.Context(), uid, *req.Lat, *req.Lng, req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "", viewMember(m, uid))
}
