package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.appliedMigrations()
	if err != nil {
		t.Fatalf("appliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.appliedMigrations()
	if err != nil {
		t.Fatalf("appliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.appliedMigrations()
	if err != nil {
		t.Fatalf("appliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies that the transcript index is created by the migration.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", "idx_chat_messages_session_created").Scan(&count)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	if count != 1 {
		t.Error("index idx_chat_messages_session_created not found in sqlite_master")
	}
}

func TestSaveAndGetMessage(t *testing.T) {
	s := openTestStore(t)

	created := time.Date(2025, 3, 1, 12, 0, 0, 123, time.UTC)
	id, err := s.SaveMessage(Message{
		SessionID: "agent:main:main",
		Role:      "user",
		Content:   "hello",
		CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if id == "" {
		t.Fatal("SaveMessage returned empty id")
	}

	got, err := s.GetMessage(id)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.SessionID != "agent:main:main" || got.Role != "user" || got.Content != "hello" {
		t.Errorf("got %+v", got)
	}
	if got.Source != SourceClient {
		t.Errorf("Source = %q, want %q", got.Source, SourceClient)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
}

func TestGetMessage_NotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetMessage("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListMessages_RecentInChronologicalOrder(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if _, err := s.SaveMessage(Message{
			SessionID: "s1",
			Role:      "user",
			Content:   fmt.Sprintf("m%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.SaveMessage(Message{SessionID: "other", Role: "user", Content: "x"}); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.ListMessages("s1", 3)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	want := []string{"m2", "m3", "m4"}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, w := range want {
		if msgs[i].Content != w {
			t.Errorf("msgs[%d] = %q, want %q", i, msgs[i].Content, w)
		}
	}
}

// Sub-second timestamps with different fraction lengths must still sort correctly.
func TestListMessages_FractionalOrdering(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 1, 1, 0, 0, 5, 0, time.UTC)
	s.SaveMessage(Message{SessionID: "s", Role: "user", Content: "second", CreatedAt: base.Add(100 * time.Millisecond)})
	s.SaveMessage(Message{SessionID: "s", Role: "user", Content: "first", CreatedAt: base})

	msgs, err := s.ListMessages("s", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Errorf("order = %+v", msgs)
	}
}

func TestSaveMessages_Batch(t *testing.T) {
	s := openTestStore(t)

	err := s.SaveMessages([]Message{
		{SessionID: "s", Role: "user", Content: "a", Source: SourceGateway},
		{SessionID: "s", Role: "assistant", Content: "b", Source: SourceGateway},
	})
	if err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}

	msgs, err := s.ListMessages("s", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	for _, m := range msgs {
		if m.Source != SourceGateway {
			t.Errorf("Source = %q, want gateway", m.Source)
		}
	}

	if err := s.SaveMessages(nil); err != nil {
		t.Errorf("SaveMessages(nil) = %v, want nil", err)
	}
}

func TestSaveMessages_RollsBackOnDuplicate(t *testing.T) {
	s := openTestStore(t)

	err := s.SaveMessages([]Message{
		{ID: "dup", SessionID: "s", Role: "user", Content: "a"},
		{ID: "dup", SessionID: "s", Role: "user", Content: "b"},
	})
	if err == nil {
		t.Fatal("expected primary key violation")
	}

	msgs, err := s.ListMessages("s", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages after rollback, want 0", len(msgs))
	}
}
