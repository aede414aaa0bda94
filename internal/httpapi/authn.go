package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"famlocator.app/internal/auth"
	"famlocator.app/internal/store"
)

const (
	authHeader    = "Authorization"
	bearer        = "Bearer "
	sessionCookie = "famlocator_session"
)

type userContextKey struct{}

func contextWithUser(ctx context.Context, u *store.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, u)
}

// userFromContext returns the account reloaded for this request. Setup
// sessions carry no account.
func userFromContext(ctx context.Context) (*store.User, bool) {
	u, ok := ctx.Value(userContextKey{}).(*store.User)
	return u, ok && u != nil
}

// authenticate validates the session token and reloads the account, so a
// suspension takes effect on the next request rather than at token expiry.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := sessionToken(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="famlocator"`)
			writeError(w, r, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		claims, err := a.sessions.Parse(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="famlocator", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid or expired session")
			return
		}

		ctx := r.Context()
		if isSetupSession(claims.Roles) {
			principal := auth.NewPrincipal(claims.Subject, []string{auth.RoleSetup})
			next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(ctx, principal)))
			return
		}

		u, err := a.accounts.User(ctx, claims.Subject)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "session user no longer exists")
			return
		}
		if u.Status != store.StatusActive {
			a.clearSessionCookie(w)
			writeError(w, r, http.StatusUnauthorized, "inactive", "account is not active")
			return
		}
		ctx = auth.ContextWithPrincipal(ctx, auth.NewPrincipal(u.ID, rolesFor(u)))
		ctx = contextWithUser(ctx, u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission rejects principals lacking perm.
func (a *API) requirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			if !principal.HasPermission(perm) {
				writeError(w, r, http.StatusForbidden, "forbidden", "missing permission "+perm)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rolesFor(u *store.User) []string {
	if u.IsAdmin {
		return []string{auth.RoleAdmin, auth.RoleMember}
	}
	return []string{auth.RoleMember}
}

func isSetupSession(roles []string) bool {
	return len(roles) == 1 && roles[0] == auth.RoleSetup
}

// sessionToken reads the bearer header, falling back to the session cookie.
func sessionToken(r *http.Request) (string, error) {
	if h := r.Header.Get(authHeader); strings.TrimSpace(h) != "" {
		return extractBearerToken(h)
	}
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return "", errors.New("missing session token")
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func (a *API) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
