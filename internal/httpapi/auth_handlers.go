package httpapi

import (
	"net/http"
	"time"

	"famlocator.app/internal/account"
	"famlocator.app/internal/audit"
	"famlocator.app/internal/auth"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

type registerResponse struct {
	UserID string `json:"userId"`
	Resent bool   `json:"resent"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type setupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type sessionResponse struct {
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expiresAt"`
	UserID     string    `json:"userId"`
	IsAdmin    bool      `json:"isAdmin"`
	FirstLogin bool      `json:"firstLogin"`
}

type verifyResponse struct {
	UserID    string `json:"userId"`
	Activated bool   `json:"activated"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	res, err := a.accounts.Register(r.Context(), account.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Phone:    req.Phone,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	code := http.StatusCreated
	if res.Resent {
		code = http.StatusOK
	}
	writeOK(w, r, code, "verification code sent", registerResponse{UserID: res.UserID, Resent: res.Resent})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	res, err := a.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	roles := []string{auth.RoleMember}
	var ttl time.Duration
	switch {
	case res.FirstLogin:
		roles = []string{auth.RoleSetup}
		ttl = a.setupTTL
	case res.IsAdmin:
		roles = []string{auth.RoleAdmin, auth.RoleMember}
	}
	token, expires, err := a.sessions.Issue(res.UserID, roles, ttl)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.setSessionCookie(w, token, expires)
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id":     res.UserID,
		"first_login": res.FirstLogin,
	})
	writeOK(w, r, http.StatusOK, "", sessionResponse{
		Token:      token,
		ExpiresAt:  expires,
		UserID:     res.UserID,
		IsAdmin:    res.IsAdmin,
		FirstLogin: res.FirstLogin,
	})
}

func (a *API) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := a.accounts.SetupAdmin(r.Context(), req.Name, req.Email, req.Password); err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.clearSessionCookie(w)
	writeOK(w, r, http.StatusOK, "administrator saved, verification code sent", nil)
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	res, err := a.accounts.VerifyToken(r.Context(), req.Token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	msg := "email verified, awaiting administrator approval"
	if res.Activated {
		msg = "administrator account verified"
	}
	writeOK(w, r, http.StatusOK, msg, verifyResponse{UserID: res.UserID, Activated: res.Activated})
}

func (a *API) handleResend(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := a.accounts.ResendToken(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "verification code sent", nil)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if uid, ok := auth.UserIDFromContext(r.Context()); ok {
		if err := a.accounts.Logout(r.Context(), uid); err != nil {
			writeServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	}
	a.clearSessionCookie(w)
	writeOK(w, r, http.StatusOK, "", nil)
}
