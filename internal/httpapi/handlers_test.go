package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"famlocator.app/internal/account"
	"famlocator.app/internal/auth"
	"famlocator.app/internal/chat"
	"famlocator.app/internal/members"
	"famlocator.app/internal/settings"
	"famlocator.app/internal/store/memory"
	"famlocator.app/internal/stream"
)

const (
	bootstrapEmail    = "root@example.com"
	bootstrapPassword = "bootstrap-pass"
)

type mailbox struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (m *mailbox) SendVerification(_ context.Context, to, _, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		m.tokens = map[string]string{}
	}
	m.tokens[to] = token
	return nil
}

func (m *mailbox) token(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[to]
}

type apiClient struct {
	baseURL string
	client  *http.Client
	mail    *mailbox
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	st := memory.New()
	hub := stream.New()
	mail := &mailbox{}
	dir := members.NewService(st)
	chats := chat.NewService(st, hub)
	if err := chats.EnsureGroupChat(context.Background()); err != nil {
		t.Fatalf("EnsureGroupChat: %v", err)
	}
	sessions, err := auth.NewSessions("test-secret-0123456789")
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}

	api := New(Options{
		Accounts:       account.NewService(st, dir, mail, account.WithBootstrapAdmin(bootstrapEmail, bootstrapPassword)),
		Members:        dir,
		Chats:          chats,
		Settings:       settings.NewService(st),
		Sessions:       sessions,
		Feed:           hub,
		Ready:          ReadyProbe{Store: st},
		Version:        "test",
		MapsAPIKey:     "maps-key",
		AuthRateBurst:  100,
		AuthRatePerSec: 100,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		mail:    mail,
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, token string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, token)
}

func (c *apiClient) get(path, token string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil, token)
}

type response[T any] struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Code      string `json:"code"`
	Data      T      `json:"data"`
	RequestID string `json:"request_id"`
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int, code string) {
	t.Helper()
	body := decode[response[json.RawMessage]](t, resp)
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d (%s: %s)", resp.StatusCode, want, body.Code, body.Message)
	}
	if code != "" && body.Code != code {
		t.Fatalf("code = %q, want %q", body.Code, code)
	}
}

func (c *apiClient) login(email, password string) sessionResponse {
	c.t.Helper()
	resp := c.post("/v1/auth/login", credentialsRequest{Email: email, Password: password}, "")
	if resp.StatusCode != http.StatusOK {
		expectStatus(c.t, resp, http.StatusOK, "")
	}
	return decode[response[sessionResponse]](c.t, resp).Data
}

func (c *apiClient) verify(email string) verifyResponse {
	c.t.Helper()
	resp := c.post("/v1/auth/verify", tokenRequest{Token: c.mail.token(email)}, "")
	if resp.StatusCode != http.StatusOK {
		expectStatus(c.t, resp, http.StatusOK, "")
	}
	return decode[response[verifyResponse]](c.t, resp).Data
}

// bootstrapAdmin runs the first-login flow and returns an administrator session token.
func (c *apiClient) bootstrapAdmin() string {
	c.t.Helper()
	first := c.login(bootstrapEmail, bootstrapPassword)
	if !first.FirstLogin || !first.IsAdmin {
		c.t.Fatalf("expected first login, got %+v", first)
	}
	resp := c.post("/v1/auth/setup", setupRequest{Name: "Root", Email: "admin@example.com", Password: "secret1"}, first.Token)
	expectStatus(c.t, resp, http.StatusOK, "")
	if v := c.verify("admin@example.com"); !v.Activated {
		c.t.Fatalf("administrator not activated: %+v", v)
	}
	s := c.login("admin@example.com", "secret1")
	if s.FirstLogin || !s.IsAdmin {
		c.t.Fatalf("unexpected admin session: %+v", s)
	}
	return s.Token
}

// member registers, verifies and authorizes a member, returning its id and token.
func (c *apiClient) member(adminToken, name, email string) (string, string) {
	c.t.Helper()
	resp := c.post("/v1/auth/register", registerRequest{Email: email, Password: "secret1", Name: name}, "")
	if resp.StatusCode != http.StatusCreated {
		expectStatus(c.t, resp, http.StatusCreated, "")
	}
	reg := decode[response[registerResponse]](c.t, resp).Data
	if v := c.verify(email); v.Activated {
		c.t.Fatalf("member activated without approval")
	}
	expectStatus(c.t, c.post("/v1/admin/users/"+reg.UserID+"/authorize", nil, adminToken), http.StatusOK, "")
	return reg.UserID, c.login(email, "secret1").Token
}

func TestAPIMembershipLifecycle(t *testing.T) {
	c := newTestAPI(t)
	admin := c.bootstrapAdmin()

	resp := c.post("/v1/auth/register", registerRequest{Email: "ana@example.com", Password: "secret1", Name: "Ana"}, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d", resp.StatusCode)
	}
	anaID := decode[response[registerResponse]](t, resp).Data.UserID

	expectStatus(t, c.post("/v1/auth/login", credentialsRequest{Email: "ana@example.com", Password: "secret1"}, ""),
		http.StatusForbidden, "needs_verification")
	c.verify("ana@example.com")
	expectStatus(t, c.post("/v1/auth/login", credentialsRequest{Email: "ana@example.com", Password: "secret1"}, ""),
		http.StatusForbidden, "needs_approval")

	// Pending accounts show up as placeholders for the administrator.
	list := decode[response[[]memberView]](t, c.get("/v1/members", admin)).Data
	if len(list) != 2 || !list[0].IsAdmin || list[1].ID != anaID || list[1].Status != "pending" {
		t.Fatalf("unexpected directory: %+v", list)
	}

	expectStatus(t, c.post("/v1/admin/users/"+anaID+"/authorize", nil, admin), http.StatusOK, "")
	expectStatus(t, c.post("/v1/admin/users/"+anaID+"/authorize", nil, admin), http.StatusConflict, "not_pending")

	ana := c.login("ana@example.com", "secret1")
	me := decode[response[meResponse]](t, c.get("/v1/me", ana.Token)).Data
	if me.User.ID != anaID || me.Member == nil || !me.Member.IsOnline || me.Member.Location == nil {
		t.Fatalf("unexpected /me: %+v", me)
	}
	for _, p := range me.Permissions {
		if p == auth.PermMembersApprove {
			t.Fatal("member holds an administrator permission")
		}
	}

	// Members cannot administer.
	expectStatus(t, c.post("/v1/admin/users/"+anaID+"/suspend", nil, ana.Token), http.StatusForbidden, "forbidden")

	expectStatus(t, c.post("/v1/admin/users/"+anaID+"/suspend", nil, admin), http.StatusOK, "")
	expectStatus(t, c.get("/v1/me", ana.Token), http.StatusUnauthorized, "inactive")
	expectStatus(t, c.post("/v1/auth/login", credentialsRequest{Email: "ana@example.com", Password: "secret1"}, ""),
		http.StatusForbidden, "suspended")

	expectStatus(t, c.post("/v1/admin/users/"+anaID+"/reactivate", nil, admin), http.StatusOK, "")
	c.login("ana@example.com", "secret1")
}

func TestAPIAuditTrail(t *testing.T) {
	c := newTestAPI(t)
	admin := c.bootstrapAdmin()
	anaID, ana := c.member(admin, "Ana", "ana@example.com")

	expectStatus(t, c.post("/v1/admin/users/"+anaID+"/suspend", nil, admin), http.StatusOK, "")
	expectStatus(t, c.do(http.MethodPut, "/v1/settings", map[string]any{"isChatEnabled": false}, admin), http.StatusOK, "")

	trail := decode[response[[]auditView]](t, c.get("/v1/admin/audit?limit=3", admin)).Data
	if len(trail) != 3 {
		t.Fatalf("expected 3 entries, got %+v", trail)
	}
	want := []string{"settings.saved", "account.suspended", "account.authorized"}
	for i, action := range want {
		if trail[i].Action != action {
			t.Fatalf("entry %d = %q, want %q", i, trail[i].Action, action)
		}
	}
	if trail[1].ResourceID != anaID || trail[1].ActorID == "" || trail[1].RequestID == "" {
		t.Fatalf("unexpected suspend entry: %+v", trail[1])
	}

	expectStatus(t, c.get("/v1/admin/audit", ana), http.StatusUnauthorized, "inactive")
	expectStatus(t, c.get("/v1/admin/audit?limit=0", admin), http.StatusBadRequest, "invalid_request")
}

func TestAPIAuditTrailIsAdminOnly(t *testing.T) {
	c := newTestAPI(t)
	admin := c.bootstrapAdmin()
	_, ana := c.member(admin, "Ana", "ana@example.com")

	expectStatus(t, c.get("/v1/admin/audit", ana), http.StatusForbidden, "forbidden")
}

func TestAPIFirstLoginSessionIsLimited(t *testing.T) {
	c := newTestAPI(t)
	first := c.login(bootstrapEmail, bootstrapPassword)

	expectStatus(t, c.get("/v1/members", first.Token), http.StatusForbidden, "forbidden")

	resp := c.post("/v1/auth/setup", setupRequest{Email: "admin@example.com", Password: "secret1"}, first.Token)
	expectStatus(t, resp, http.StatusOK, "")
	resp = c.post("/v1/auth/setup", setupRequest{Email: "other@example.com", Password: "secret1"}, first.Token)
	expectStatus(t, resp, http.StatusConflict, "admin_configured")

	// Once configured, the provisional credentials stop working.
	expectStatus(t, c.post("/v1/auth/login", credentialsRequest{Email: bootstrapEmail, Password: bootstrapPassword}, ""),
		http.StatusUnauthorized, "invalid_credentials")
}

func TestAPILocationRedaction(t *testing.T) {
	c := newTestAPI(t)
	admin := c.bootstrapAdmin()
	anaID, ana := c.member(admin, "Ana", "ana@example.com")
	_, bruno := c.member(admin, "Bruno", "bruno@example.com")

	resp := c.do(http.MethodPut, "/v1/members/me/location", map[string]any{"lat": -34.6, "lng": -58.4}, ana)
	loc := decode[response[memberView]](t, resp).Data
	if loc.Location == nil || loc.Location.Name != members.CurrentLocationName || loc.Location.Lat != -34.6 {
		t.Fatalf("unexpected location update: %+v", loc.Location)
	}
	expectStatus(t, c.do(http.MethodPut, "/v1/members/me/location", map[string]any{"lat": 91, "lng": 0}, ana),
		http.StatusBadRequest, "invalid_input")
	expectStatus(t, c.do(http.MethodPut, "/v1/members/me/location", map[string]any{"lat": 10}, ana),
		http.StatusBadRequest, "invalid_request")

	off := false
	resp = c.do(http.MethodPatch, "/v1/members/me", profileRequest{IsSharingLocation: &off}, ana)
	expectStatus(t, resp, http.StatusOK, "")

	find := func(list []memberView, id string) memberView {
		for _, m := range list {
			if m.ID == id {
				return m
			}
		}
		t.Fatalf("member %s not listed", id)
		return memberView{}
	}

	seenByBruno := find(decode[response[[]memberView]](t, c.get("/v1/members", bruno)).Data, anaID)
	if seenByBruno.Location != nil {
		t.Fatalf("hidden location leaked: %+v", seenByBruno.Location)
	}
	seenByAna := find(decode[response[[]memberView]](t, c.get("/v1/members", ana)).Data, anaID)
	if seenByAna.Location == nil || seenByAna.Location.Lat != -34.6 {
		t.Fatal("own location must stay visible")
	}
	adminSeen := find(decode[response[[]memberView]](t, c.get("/v1/members", bruno)).Data, account.BootstrapAdminID)
	if adminSeen.Location == nil {
		t.Fatal("administrator location must be visible")
	}
}

func TestAPIChatFlow(t *testing.T) {
	c := newTestAPI(t)
	admin := c.bootstrapAdmin()
	anaID, ana := c.member(admin, "Ana", "ana@example.com")
	brunoID, bruno := c.member(admin, "Bruno", "bruno@example.com")

	resp := c.post("/v1/chats", createChatRequest{MemberID: brunoID}, ana)
	dm := decode[response[chatView]](t, resp).Data
	if dm.ID != chat.PrivateChatID(anaID, brunoID) || dm.Name != "Bruno" || dm.IsGroup {
		t.Fatalf("unexpected chat: %+v", dm)
	}

	resp = c.post("/v1/chats/"+dm.ID+"/messages", sendMessageRequest{Text: "hola"}, ana)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send status %d", resp.StatusCode)
	}
	sent := decode[response[stream.Message]](t, resp).Data
	if sent.MemberName != "Ana" || sent.Text != "hola" {
		t.Fatalf("unexpected message: %+v", sent)
	}
	expectStatus(t, c.post("/v1/chats/"+dm.ID+"/messages", sendMessageRequest{Text: "   "}, ana), http.StatusOK, "")

	chats := decode[response[[]chatView]](t, c.get("/v1/chats", bruno)).Data
	if len(chats) != 2 || chats[0].ID != chat.GroupChatID || chats[1].Name != "Ana" {
		t.Fatalf("unexpected chat list: %+v", chats)
	}
	msgs := decode[response[[]stream.Message]](t, c.get("/v1/chats/"+dm.ID+"/messages", bruno)).Data
	if len(msgs) != 1 || msgs[0].ID != sent.ID {
		t.Fatalf("unexpected history: %+v", msgs)
	}

	expectStatus(t, c.get("/v1/chats/"+dm.ID+"/messages", admin), http.StatusForbidden, "not_member")
	expectStatus(t, c.do(http.MethodDelete, "/v1/chats/"+chat.GroupChatID, nil, ana), http.StatusConflict, "group_chat")

	expectStatus(t, c.do(http.MethodDelete, "/v1/chats/"+dm.ID+"/messages", nil, bruno), http.StatusOK, "")
	msgs = decode[response[[]stream.Message]](t, c.get("/v1/chats/"+dm.ID+"/messages", ana)).Data
	if len(msgs) != 0 {
		t.Fatalf("history not cleared: %+v", msgs)
	}

	expectStatus(t, c.do(http.MethodDelete, "/v1/chats/"+dm.ID, nil, ana), http.StatusOK, "")
	expectStatus(t, c.get("/v1/chats/"+dm.ID+"/messages", ana), http.StatusNotFound, "chat_not_found")
}

func TestAPIChatDisabled(t *testing.T) {
	c := newTestAPI(t)
	admin := c.bootstrapAdmin()
	_, ana := c.member(admin, "Ana", "ana@example.com")

	expectStatus(t, c.do(http.MethodPut, "/v1/settings", map[string]any{"isChatEnabled": false}, ana),
		http.StatusForbidden, "forbidden")

	resp := c.do(http.MethodPut, "/v1/settings", map[string]any{"isChatEnabled": false}, admin)
	saved := decode[response[settings.SiteSettings]](t, resp).Data
	if saved.IsChatEnabled || saved.SiteName != "FAMLocator" {
		t.Fatalf("unexpected settings: %+v", saved)
	}
	expectStatus(t, c.post("/v1/chats/"+chat.GroupChatID+"/messages", sendMessageRequest{Text: "hola"}, ana),
		http.StatusForbidden, "chat_disabled")

	public := decode[response[settings.SiteSettings]](t, c.get("/v1/settings", "")).Data
	if public.IsChatEnabled {
		t.Fatal("public settings out of date")
	}

	on := true
	c.do(http.MethodPut, "/v1/settings", map[string]any{"isChatEnabled": true}, admin).Body.Close()
	off := false
	expectStatus(t, c.do(http.MethodPatch, "/v1/members/me", profileRequest{IsChatEnabled: &off}, ana), http.StatusOK, "")
	expectStatus(t, c.post("/v1/chats/"+chat.GroupChatID+"/messages", sendMessageRequest{Text: "hola"}, ana),
		http.StatusForbidden, "chat_disabled")
	expectStatus(t, c.do(http.MethodPatch, "/v1/members/me", profileRequest{IsChatEnabled: &on}, ana), http.StatusOK, "")
	expectStatus(t, c.post("/v1/chats/"+chat.GroupChatID+"/messages", sendMessageRequest{Text: "hola"}, ana),
		http.StatusCreated, "")
}

func TestAPIRequestValidation(t *testing.T) {
	c := newTestAPI(t)

	expectStatus(t, c.get("/v1/me", ""), http.StatusUnauthorized, "unauthorized")
	expectStatus(t, c.get("/v1/me", "garbage"), http.StatusUnauthorized, "unauthorized")
	expectStatus(t, c.post("/v1/auth/login", map[string]any{"email": "a@example.com", "password": "x", "extra": 1}, ""),
		http.StatusBadRequest, "invalid_request")
	expectStatus(t, c.post("/v1/auth/verify", tokenRequest{Token: "nope"}, ""), http.StatusBadRequest, "token_invalid")
	expectStatus(t, c.get("/v1/nowhere", ""), http.StatusNotFound, "not_found")
}

func TestAPIHealthAndInfo(t *testing.T) {
	c := newTestAPI(t)

	health := decode[map[string]any](t, c.get("/healthz", ""))
	if health["status"] != "ok" || health["service"] != serviceName {
		t.Fatalf("unexpected healthz: %v", health)
	}
	ready := c.get("/readyz", "")
	if ready.StatusCode != http.StatusOK {
		t.Fatalf("readyz status %d", ready.StatusCode)
	}
	ready.Body.Close()

	resp := c.get("/v1/info", "")
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("missing request id header")
	}
	info := decode[response[map[string]any]](t, resp)
	if info.Data["mapsApiKey"] != "maps-key" || info.RequestID == "" {
		t.Fatalf("unexpected info: %+v", info)
	}
}

type sseFrame struct {
	event string
	data  string
}

func readFrame(t *testing.T, r *bufio.Reader) sseFrame {
	t.Helper()
	var f sseFrame
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read event stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if f.event != "" {
				return f
			}
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestAPIChatEventStream(t *testing.T) {
	c := newTestAPI(t)
	admin := c.bootstrapAdmin()
	_, ana := c.member(admin, "Ana", "ana@example.com")

	expectStatus(t, c.post("/v1/chats/"+chat.GroupChatID+"/messages", sendMessageRequest{Text: "antes"}, admin),
		http.StatusCreated, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/chats/"+chat.GroupChatID+"/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+ana)
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	r := bufio.NewReader(resp.Body)

	snap := readFrame(t, r)
	var first Frame
	if err := json.Unmarshal([]byte(snap.data), &first); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.event != FrameSnapshot || len(first.Messages) != 1 || first.Messages[0].Text != "antes" {
		t.Fatalf("unexpected snapshot: %+v", first)
	}

	expectStatus(t, c.post("/v1/chats/"+chat.GroupChatID+"/messages", sendMessageRequest{Text: "después"}, admin),
		http.StatusCreated, "")
	next := readFrame(t, r)
	var live Frame
	if err := json.Unmarshal([]byte(next.data), &live); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if next.event != string(stream.MessageCreated) || live.Message == nil || live.Message.Text != "después" {
		t.Fatalf("unexpected frame: %s %+v", next.event, live)
	}

	expectStatus(t, c.do(http.MethodDelete, "/v1/admin/messages", nil, admin), http.StatusOK, "")
	if cleared := readFrame(t, r); cleared.event != string(stream.ChatCleared) {
		t.Fatalf("expected chat.cleared, got %s", cleared.event)
	}
}

func TestAPIChatSocket(t *testing.T) {
	c := newTestAPI(t)
	admin := c.bootstrapAdmin()
	_, ana := c.member(admin, "Ana", "ana@example.com")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+ana)
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/v1/chats/" + chat.GroupChatID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("handshake status %d", resp.StatusCode)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snap Frame
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Type != FrameSnapshot || len(snap.Messages) != 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	expectStatus(t, c.post("/v1/chats/"+chat.GroupChatID+"/messages", sendMessageRequest{Text: "hola"}, admin),
		http.StatusCreated, "")
	var live Frame
	if err := conn.ReadJSON(&live); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if live.Type != string(stream.MessageCreated) || live.Message == nil || live.Message.Text != "hola" {
		t.Fatalf("unexpected frame: %+v", live)
	}
}

func TestAPIChatEventStreamRequiresMembership(t *testing.T) {
	c := newTestAPI(t)
	admin := c.bootstrapAdmin()
	anaID, ana := c.member(admin, "Ana", "ana@example.com")
	brunoID, _ := c.member(admin, "Bruno", "bruno@example.com")
	_, carla := c.member(admin, "Carla", "carla@example.com")

	dm := decode[response[chatView]](t, c.post("/v1/chats", createChatRequest{MemberID: brunoID}, ana)).Data
	if dm.ID != chat.PrivateChatID(anaID, brunoID) {
		t.Fatalf("unexpected chat id %s", dm.ID)
	}
	expectStatus(t, c.get("/v1/chats/"+dm.ID+"/events", carla), http.StatusForbidden, "not_member")
}

func TestFeedDeduplicatesSnapshotMessages(t *testing.T) {
	snap := []*stream.Message{{ID: "m1", Text: "a"}}
	f := newFeed("general", snap)

	if frame, done := f.next(stream.Event{Type: stream.MessageCreated, Message: snap[0]}); frame != nil || done {
		t.Fatalf("snapshot message repeated: %+v", frame)
	}
	if frame, _ := f.next(stream.Event{Type: stream.MessageCreated, Message: &stream.Message{ID: "m2"}}); frame == nil {
		t.Fatal("new message dropped")
	}
	if frame, _ := f.next(stream.Event{Type: stream.ChatCleared}); frame == nil || frame.ChatID != "general" {
		t.Fatalf("unexpected cleared frame: %+v", frame)
	}
	if frame, _ := f.next(stream.Event{Type: stream.MessageCreated, Message: snap[0]}); frame == nil {
		t.Fatal("message after clear dropped")
	}
	if _, done := f.next(stream.Event{Type: stream.ChatDeleted}); !done {
		t.Fatal("deleted chat must end the feed")
	}
}
