package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"famlocator.app/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequirePermissionAllowsGrantedRole(t *testing.T) {
	a := &API{}
	handler := a.requirePermission(auth.PermMembersApprove)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/users/u1/authorize", nil)
	req = req.WithContext(auth.ContextWithPrincipal(req.Context(), auth.NewPrincipal("admin", []string{auth.RoleAdmin})))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequirePermissionRejectsMissingPermission(t *testing.T) {
	a := &API{}
	handler := a.requirePermission(auth.PermMembersApprove)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/users/u1/authorize", nil)
	req = req.WithContext(auth.ContextWithPrincipal(req.Context(), auth.NewPrincipal("u2", []string{auth.RoleMember})))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRequirePermissionRequiresPrincipal(t *testing.T) {
	a := &API{}
	handler := a.requirePermission(auth.PermChatUse)(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/chats", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestSetupSessionSkipsAccountReload(t *testing.T) {
	sessions, err := auth.NewSessions("test-secret-0123456789")
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	a := &API{sessions: sessions}
	token, _, err := sessions.Issue("admin", []string{auth.RoleSetup}, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var got auth.Principal
	handler := a.authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.PrincipalFromContext(r.Context())
		if _, ok := userFromContext(r.Context()); ok {
			t.Error("setup session must not carry an account")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/setup", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.UserID != "admin" || !got.HasPermission(auth.PermAdminSetup) || got.HasPermission(auth.PermDirectoryRead) {
		t.Fatalf("unexpected principal: %+v", got)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]bool{
		"Bearer abc": true,
		"bearer abc": true,
		"Basic abc":  false,
		"Bearer    ": false,
		"":           false,
	}
	for header, ok := range cases {
		token, err := extractBearerToken(header)
		if ok && (err != nil || token != "abc") {
			t.Fatalf("%q: token %q err %v", header, token, err)
		}
		if !ok && err == nil {
			t.Fatalf("%q: expected error", header)
		}
	}
}
