package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"famlocator.app/internal/store"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestUserCreateDuplicateEmail(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into users").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := s.Users(context.Background()).Create(context.Background(), &store.User{ID: "u1", Email: "a@example.com", Status: store.StatusPending})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFindByTokenMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select .* from users where verification_token = \\$1").
		WithArgs("deadbeef").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.Users(context.Background()).FindByToken(context.Background(), "deadbeef")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindUserScansNullableToken(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	cols := []string{"id", "email", "name", "phone", "password_hash", "is_admin", "status",
		"verification_token", "token_expires_at", "created_at", "updated_at"}
	mock.ExpectQuery("select .* from users where id = \\$1").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("u1", "a@example.com", "Ana", "", "hash", false, "pending", nil, nil, created, created))

	u, err := s.Users(context.Background()).Find(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if u.Status != store.StatusPending || u.HasToken() || !u.TokenExpiresAt.IsZero() {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestTransitionStatusConflict(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update users set status").
		WithArgs("u1", "pending", "active").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select status from users").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))

	err := s.Users(context.Background()).TransitionStatus(context.Background(), "u1", store.StatusPending, store.StatusActive)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestWithinTxRollsBack(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("update family_members set is_online").
		WithArgs("u1", false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Store) error {
		if err := tx.Members(ctx).SetOnline(ctx, "u1", false); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateIfAbsentReturnsExisting(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec("insert into chats").
		WithArgs("dm-a-b", "Bob", false).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select id, name, is_group, created_at from chats").
		WithArgs("dm-a-b").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "is_group", "created_at"}).
			AddRow("dm-a-b", "Bob", false, created))
	mock.ExpectQuery("select member_id from chat_members").
		WithArgs("dm-a-b").
		WillReturnRows(sqlmock.NewRows([]string{"member_id"}).AddRow("a").AddRow("b"))
	mock.ExpectCommit()

	chat, isNew, err := s.Chats(context.Background()).CreateIfAbsent(context.Background(),
		&store.Chat{ID: "dm-a-b", Name: "Bob", MemberIDs: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("CreateIfAbsent: %v", err)
	}
	if isNew {
		t.Fatal("existing chat reported as created")
	}
	if len(chat.MemberIDs) != 2 || !chat.CreatedAt.Equal(created) {
		t.Fatalf("unexpected chat: %+v", chat)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendMessageUsesServerTimestamp(t *testing.T) {
	s, mock := newMock(t)
	stamp := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("insert into chat_messages").
		WithArgs(sqlmock.AnyArg(), "general", "u1", "Ana", "", "hola").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(stamp))

	msg := &store.Message{ChatID: "general", MemberID: "u1", MemberName: "Ana", Text: "hola"}
	if err := s.Chats(context.Background()).AppendMessage(context.Background(), msg); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if msg.ID == "" || !msg.Timestamp.Equal(stamp) {
		t.Fatalf("message not populated: %+v", msg)
	}
}

func TestAppendMessageMissingChat(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into chat_messages").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	err := s.Chats(context.Background()).AppendMessage(context.Background(), &store.Message{ChatID: "nope", Text: "x"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteMessagesCountsRows(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("delete from chat_messages where chat_id").
		WithArgs("dm-a-b").
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := s.Chats(context.Background()).DeleteMessages(context.Background(), "dm-a-b")
	if err != nil || n != 0 {
		t.Fatalf("DeleteMessages=%d,%v", n, err)
	}
}

func TestSettingsLoadMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select document from site_settings").
		WithArgs(siteSettingsID).
		WillReturnRows(sqlmock.NewRows([]string{"document"}))

	if _, err := s.Settings(context.Background()).Load(context.Background()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuditAppendAssignsID(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into audit_log").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "admin", "account.suspended", "user", "u1", `{"by":"admin"}`, "req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry := &store.AuditEntry{
		ActorID:      "admin",
		Action:       "account.suspended",
		ResourceType: "user",
		ResourceID:   "u1",
		Metadata:     map[string]string{"by": "admin"},
		RequestID:    "req-1",
	}
	if err := s.Audit(context.Background()).Append(context.Background(), entry); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if entry.ID == "" || entry.OccurredAt.IsZero() {
		t.Fatalf("expected id and timestamp, got %+v", entry)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAuditListDecodesMetadata(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cols := []string{"id", "occurred_at", "actor_id", "action", "resource_type", "resource_id", "metadata", "request_id"}
	mock.ExpectQuery("select id, occurred_at, actor_id, action").
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("a2", at, "admin", "settings.saved", "settings", "site", []byte(`{"bytes":"42"}`), nil))

	list, err := s.Audit(context.Background()).List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Metadata["bytes"] != "42" || list[0].RequestID != "" || !list[0].OccurredAt.Equal(at) {
		t.Fatalf("unexpected entries: %+v", list)
	}
}
