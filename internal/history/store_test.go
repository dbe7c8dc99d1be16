package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voicechat/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openPersistent(t *testing.T, cfg config.HistoryConfig) *Store {
	t.Helper()
	cfg.Path = filepath.Join(t.TempDir(), "history.db")
	cfg.RetentionMode = "persistent"
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func openEphemeral(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), config.HistoryConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	return s
}

func exercise(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	for i, content := range []string{"one", "two", "three", "four", "five"} {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if err := s.Append(ctx, "general", Message{Role: role, Content: content}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.Append(ctx, "random", Message{Role: "user", Content: "elsewhere"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	recent, err := s.Recent(ctx, "general", 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 || recent[0].Content != "three" || recent[2].Content != "five" {
		t.Fatalf("expected last three oldest first, got %+v", recent)
	}
	if recent[0].CreatedAt.IsZero() {
		t.Fatal("expected timestamps to be filled in")
	}

	if err := s.Trim(ctx, "general", 2); err != nil {
		t.Fatalf("trim: %v", err)
	}
	all, err := s.Recent(ctx, "general", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(all) != 2 || all[0].Content != "four" {
		t.Fatalf("expected trim to keep newest two, got %+v", all)
	}

	other, err := s.Recent(ctx, "random", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 1 {
		t.Fatalf("trim leaked across channels: %+v", other)
	}

	if err := s.Clear(ctx, "general"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if all, _ := s.Recent(ctx, "general", 0); len(all) != 0 {
		t.Fatalf("expected cleared channel, got %+v", all)
	}
}

func TestPersistentStore(t *testing.T) {
	s := openPersistent(t, config.HistoryConfig{})
	exercise(t, s)
	if !s.Healthy(context.Background()) {
		t.Fatal("expected healthy store")
	}
}

func TestEphemeralStore(t *testing.T) {
	s := openEphemeral(t)
	exercise(t, s)
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}
}

func TestPersistentStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	cfg := config.HistoryConfig{Path: path, RetentionMode: "persistent"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Append(context.Background(), "general", Message{Role: "user", Content: "remember me"}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	msgs, err := s.Recent(context.Background(), "general", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "remember me" {
		t.Fatalf("expected message after reopen, got %+v", msgs)
	}
}

func TestPruneByDaysAndChannels(t *testing.T) {
	s := openPersistent(t, config.HistoryConfig{RetentionDays: 1, MaxChannels: 1})
	ctx := context.Background()

	s.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.Append(ctx, "old", Message{Role: "user", Content: "ancient"}); err != nil {
		t.Fatal(err)
	}
	s.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.Append(ctx, "a", Message{Role: "user", Content: "a"}); err != nil {
		t.Fatal(err)
	}
	s.clock = func() time.Time { return time.Date(2025, 1, 3, 1, 0, 0, 0, time.UTC) }
	if err := s.Append(ctx, "b", Message{Role: "user", Content: "b"}); err != nil {
		t.Fatal(err)
	}

	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}
	for _, ch := range []string{"old", "a"} {
		msgs, err := s.Recent(ctx, ch, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 0 {
			t.Fatalf("expected %s pruned, got %+v", ch, msgs)
		}
	}
	if msgs, _ := s.Recent(ctx, "b", 10); len(msgs) != 1 {
		t.Fatalf("expected newest channel kept, got %+v", msgs)
	}
}
