package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/run-bigpig/thinktank/internal/logger"
	"github.com/run-bigpig/thinktank/internal/models"
)

// testStore 对任意实现运行同一组行为测试
func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("conversation lifecycle", func(t *testing.T) {
		c := &models.Conversation{Title: "pricing", ParticipantIDs: []string{"a", "b"}, Mode: models.ModeSequential}
		if err := s.CreateConversation(ctx, c); err != nil {
			t.Fatal(err)
		}
		if c.ID == "" || c.CreatedAt.IsZero() {
			t.Fatalf("conversation not prepared: %+v", c)
		}

		got, err := s.GetConversation(ctx, c.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Title != "pricing" || len(got.ParticipantIDs) != 2 || got.Mode != models.ModeSequential {
			t.Fatalf("got %+v", got)
		}

		got.Title = "pricing v2"
		if err := s.UpdateConversation(ctx, got); err != nil {
			t.Fatal(err)
		}
		again, _ := s.GetConversation(ctx, c.ID)
		if again.Title != "pricing v2" {
			t.Fatalf("title = %q", again.Title)
		}

		if err := s.DeleteConversation(ctx, c.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := s.GetConversation(ctx, c.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v", err)
		}
		if err := s.DeleteConversation(ctx, c.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("second delete err = %v", err)
		}
	})

	t.Run("messages are ordered by seq", func(t *testing.T) {
		c := &models.Conversation{Title: "seq", Mode: models.ModeSingle}
		if err := s.CreateConversation(ctx, c); err != nil {
			t.Fatal(err)
		}
		for i, content := range []string{"q", "a1", "a2", "a3"} {
			m := &models.Message{ConversationID: c.ID, Role: models.RoleAssistant, Content: content}
			if err := s.AppendMessage(ctx, m); err != nil {
				t.Fatal(err)
			}
			if m.Seq != int64(i+1) || m.ID == "" {
				t.Fatalf("message %d: seq=%d id=%q", i, m.Seq, m.ID)
			}
		}

		all, err := s.ListMessages(ctx, c.ID, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 4 || all[0].Content != "q" || all[3].Content != "a3" {
			t.Fatalf("all = %+v", all)
		}

		last, err := s.ListMessages(ctx, c.ID, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(last) != 2 || last[0].Content != "a2" || last[1].Content != "a3" {
			t.Fatalf("last = %+v", last)
		}

		if err := s.AppendMessage(ctx, &models.Message{ConversationID: "missing"}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("append to missing conversation: %v", err)
		}
		if _, err := s.ListMessages(ctx, "missing", 0); !errors.Is(err, ErrNotFound) {
			t.Fatalf("list missing conversation: %v", err)
		}

		if err := s.DeleteConversation(ctx, c.ID); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("concurrent appends get unique seq", func(t *testing.T) {
		c := &models.Conversation{Title: "race", Mode: models.ModeSingle}
		if err := s.CreateConversation(ctx, c); err != nil {
			t.Fatal(err)
		}
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.AppendMessage(ctx, &models.Message{ConversationID: c.ID, Role: models.RoleUser, Content: "x"})
			}()
		}
		wg.Wait()

		msgs, err := s.ListMessages(ctx, c.ID, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 8 {
			t.Fatalf("got %d messages", len(msgs))
		}
		for i, m := range msgs {
			if m.Seq != int64(i+1) {
				t.Fatalf("message %d has seq %d", i, m.Seq)
			}
		}
	})

	t.Run("list newest first", func(t *testing.T) {
		older := &models.Conversation{Title: "older", Mode: models.ModeSingle, UpdatedAt: time.Now().Add(-time.Hour).UTC()}
		older.CreatedAt = older.UpdatedAt
		newer := &models.Conversation{Title: "newer", Mode: models.ModeSingle}
		if err := s.CreateConversation(ctx, older); err != nil {
			t.Fatal(err)
		}
		if err := s.CreateConversation(ctx, newer); err != nil {
			t.Fatal(err)
		}
		list, err := s.ListConversations(ctx)
		if err != nil {
			t.Fatal(err)
		}
		pos := map[string]int{}
		for i, c := range list {
			pos[c.ID] = i
		}
		if pos[newer.ID] > pos[older.ID] {
			t.Fatalf("newer listed after older: %+v", list)
		}
	})

	t.Run("projects", func(t *testing.T) {
		p := &models.Project{
			Title: "Tiny CRM",
			Stage: "validation",
			Tasks: []models.Task{{Title: "interview 10 users", Done: true}},
		}
		if err := s.CreateProject(ctx, p); err != nil {
			t.Fatal(err)
		}
		got, err := s.GetProject(ctx, p.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Title != "Tiny CRM" || len(got.Tasks) != 1 || !got.Tasks[0].Done {
			t.Fatalf("got %+v", got)
		}
		if _, err := s.GetProject(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "thinktank.db")
	s, err := OpenBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	testStore(t, s)

	// 重新打开后数据仍在
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	s, err = OpenBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	list, err := s.ListConversations(context.Background())
	if err != nil || len(list) == 0 {
		t.Fatalf("reopened store: %d conversations, err=%v", len(list), err)
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("THINKTANK_TEST_DSN")
	if dsn == "" {
		t.Skip("THINKTANK_TEST_DSN not set")
	}
	s, err := OpenPostgresStore(dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	testStore(t, s)
}

func TestOpen(t *testing.T) {
	s, err := Open(Options{Backend: BackendMemory})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("got %T", s)
	}

	if _, err := Open(Options{Backend: "redis"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestGormLoggerWritesToModuleLog(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf, false)
	defer logger.SetOutput(os.Stderr, true)

	gl := newGormLogger(log.Writer(logger.WARN))
	gl.Info(context.Background(), "connected to %s", "db")
	gl.Warn(context.Background(), "slow query on %s", "messages")

	out := buf.String()
	if strings.Contains(out, "connected to db") {
		t.Errorf("info below warn level was logged: %q", out)
	}
	if !strings.Contains(out, "WARN") || !strings.Contains(out, "Store: ") || !strings.Contains(out, "slow query on messages") {
		t.Errorf("output = %q", out)
	}
}
