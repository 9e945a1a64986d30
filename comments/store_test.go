package comments

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"earshot/config"
)

func fixedClock(ts ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := ts[min(i, len(ts)-1)]
		i++
		return t
	}
}

func TestDefaultConfigStaysInMemory(t *testing.T) {
	t.Chdir(t.TempDir())
	s, err := Open(context.Background(), config.Default().Comments)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if s.Persistent() {
		t.Fatal("default config opened a database")
	}
	if _, err := s.Attach(context.Background(), 1, "hello"); err != nil {
		t.Fatal(err)
	}
	if entries, _ := os.ReadDir("."); len(entries) != 0 {
		t.Fatalf("default store wrote %d files", len(entries))
	}
}

func TestEphemeralAttachAndList(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.CommentsConfig{RetentionMode: "ephemeral"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if s.Persistent() {
		t.Fatal("ephemeral store reports persistent")
	}

	same := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.clock = fixedClock(same)

	a, err := s.Attach(ctx, 1, "first")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	b, err := s.Attach(ctx, 1, "second")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := s.Attach(ctx, 2, "other post"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if b.ID <= a.ID {
		t.Fatalf("ids not increasing: %d then %d", a.ID, b.ID)
	}
	if a.ID != same.UnixMilli() {
		t.Errorf("id = %d, want timestamp %d", a.ID, same.UnixMilli())
	}

	list, err := s.List(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Text != "first" || list[1].Text != "second" {
		t.Fatalf("list = %+v", list)
	}
	if n, _ := s.Count(ctx, 2); n != 1 {
		t.Errorf("count(2) = %d, want 1", n)
	}
	if n, _ := s.Count(ctx, 3); n != 0 {
		t.Errorf("count(3) = %d, want 0", n)
	}
}

func TestAttachRejectsBlank(t *testing.T) {
	s, _ := Open(context.Background(), config.CommentsConfig{RetentionMode: "ephemeral"})
	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := s.Attach(context.Background(), 1, text); !errors.Is(err, ErrEmptyText) {
			t.Errorf("Attach(%q) err = %v", text, err)
		}
	}
}

func TestPersistentSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := config.CommentsConfig{RetentionMode: "persistent", Path: filepath.Join(t.TempDir(), "nested", "comments.db")}

	s, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.clock = fixedClock(created)
	first, err := s.Attach(ctx, 7, "kept across restarts")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if !s.Persistent() {
		t.Fatal("persistent store reports ephemeral")
	}

	// A clock behind the stored ids must not reuse them.
	s.clock = fixedClock(created.Add(-time.Hour))
	second, err := s.Attach(ctx, 7, "after reopen")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("id %d not after %d", second.ID, first.ID)
	}

	list, err := s.List(ctx, 7)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(list))
	}
	if list[0].Text != "kept across restarts" || !list[0].CreatedAt.Equal(created) {
		t.Errorf("first comment = %+v", list[0])
	}
	if n, err := s.Count(ctx, 7); err != nil || n != 2 {
		t.Errorf("count = %d, %v", n, err)
	}
}
