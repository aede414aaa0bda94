package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"famlocator.app/internal/store"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Users(ctx).Create(ctx, &store.User{ID: "u1", Email: "a@example.com", Status: store.StatusPending}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.Users(ctx).TransitionStatus(ctx, "u1", store.StatusPending, store.StatusActive); err != nil {
			return err
		}
		if err := tx.Members(ctx).Put(ctx, &store.Member{ID: "u1", Name: "A"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx err=%v", err)
	}

	u, _ := s.Users(ctx).Find(ctx, "u1")
	if u.Status != store.StatusPending {
		t.Fatalf("status leaked from rolled back batch: %s", u.Status)
	}
	if _, err := s.Members(ctx).Find(ctx, "u1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("member leaked from rolled back batch: %v", err)
	}
}

func TestWithinTxCommits(t *testing.T) {
	ctx := context.Background()
	s := New()
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if _, _, err := tx.Chats(ctx).CreateIfAbsent(ctx, &store.Chat{ID: "general", IsGroup: true}); err != nil {
			return err
		}
		return tx.Chats(ctx).AddMember(ctx, "general", "u1")
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	c, err := s.Chats(ctx).Find(ctx, "general")
	if err != nil || !c.HasMember("u1") {
		t.Fatalf("chat not committed: %+v %v", c, err)
	}
}

func TestTransitionStatusConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Users(ctx).Create(ctx, &store.User{ID: "u1", Email: "a@example.com", Status: store.StatusActive})

	err := s.Users(ctx).TransitionStatus(ctx, "u1", store.StatusPending, store.StatusActive)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	err = s.Users(ctx).TransitionStatus(ctx, "missing", store.StatusPending, store.StatusActive)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDuplicateEmailRejected(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Users(ctx).Create(ctx, &store.User{ID: "u1", Email: "a@example.com"})
	err := s.Users(ctx).Create(ctx, &store.User{ID: "u2", Email: "a@example.com"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateIfAbsentKeepsFirstChat(t *testing.T) {
	ctx := context.Background()
	s := New()
	first, created, err := s.Chats(ctx).CreateIfAbsent(ctx, &store.Chat{ID: "dm", Name: "first", MemberIDs: []string{"a", "b"}})
	if err != nil || !created {
		t.Fatalf("first create: %v %v", created, err)
	}
	second, created, err := s.Chats(ctx).CreateIfAbsent(ctx, &store.Chat{ID: "dm", Name: "second", MemberIDs: []string{"a", "b"}})
	if err != nil || created {
		t.Fatalf("second create: %v %v", created, err)
	}
	if second.Name != "first" || !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("existing chat was replaced: %+v", second)
	}
}

func TestMessagesOrderedAndDeleted(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return now }))
	_, _, _ = s.Chats(ctx).CreateIfAbsent(ctx, &store.Chat{ID: "c", MemberIDs: []string{"a"}})

	for _, text := range []string{"one", "two", "three"} {
		if err := s.Chats(ctx).AppendMessage(ctx, &store.Message{ChatID: "c", MemberID: "a", Text: text}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	msgs, err := s.Chats(ctx).Messages(ctx, "c")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 3 || msgs[0].Text != "one" || msgs[2].Text != "three" {
		t.Fatalf("unexpected order: %+v", msgs)
	}
	if !msgs[0].Timestamp.Equal(now) {
		t.Fatalf("timestamp not server assigned: %v", msgs[0].Timestamp)
	}

	n, err := s.Chats(ctx).DeleteMessages(ctx, "c")
	if err != nil || n != 3 {
		t.Fatalf("DeleteMessages=%d,%v", n, err)
	}
	n, err = s.Chats(ctx).DeleteMessages(ctx, "c")
	if err != nil || n != 0 {
		t.Fatalf("second DeleteMessages=%d,%v", n, err)
	}

	if err := s.Chats(ctx).AppendMessage(ctx, &store.Message{ChatID: "missing", Text: "x"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("append to missing chat: %v", err)
	}
}

func TestAuditListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, action := range []string{"account.authorized", "account.suspended", "account.reactivated"} {
		if err := s.Audit(ctx).Append(ctx, &store.AuditEntry{Action: action, Metadata: map[string]string{"k": "v"}}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	list, err := s.Audit(ctx).List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Action != "account.reactivated" || list[1].Action != "account.suspended" {
		t.Fatalf("unexpected entries: %+v", list)
	}
	list[0].Metadata["k"] = "changed"
	again, _ := s.Audit(ctx).List(ctx, 1)
	if again[0].Metadata["k"] != "v" || again[0].ID == "" || again[0].OccurredAt.IsZero() {
		t.Fatalf("stored entry changed or incomplete: %+v", again[0])
	}
}
