package main

import (
	"bufio"
	"context"
	"iter"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/run-bigpig/thinktank/internal/agent"
	"github.com/run-bigpig/thinktank/internal/discussion"
	"github.com/run-bigpig/thinktank/internal/models"
	"github.com/run-bigpig/thinktank/internal/project"
	"github.com/run-bigpig/thinktank/internal/server"
	"github.com/run-bigpig/thinktank/internal/store"
	"github.com/run-bigpig/thinktank/internal/thinktank"
)

// hangingCompleter 输出一个片段后阻塞到 ctx 结束
type hangingCompleter struct {
	started chan struct{}
}

func (c *hangingCompleter) Complete(ctx context.Context, _ models.Expert, _ models.Prompt) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !yield("thinking", nil) {
			return
		}
		close(c.started)
		<-ctx.Done()
		yield("", ctx.Err())
	}
}

func TestShutdownStopsRunningDiscussions(t *testing.T) {
	gin.SetMode(gin.TestMode)

	roster, err := agent.NewRoster([]models.Expert{{ID: "a", Name: "Ann", Role: "Analyst"}})
	if err != nil {
		t.Fatal(err)
	}
	st := store.NewMemoryStore()
	c := &hangingCompleter{started: make(chan struct{})}
	orch := thinktank.New(roster, c, thinktank.Options{})
	svc := discussion.NewService(orch, st, project.NewContextBuilder(st), 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := newHTTPServer(ctx, ln.Addr().String(), server.New(svc, st, nil).Handler())
	go srv.Serve(ln)

	resp, err := http.Post("http://"+ln.Addr().String()+"/api/think-tank/chat", "application/json",
		strings.NewReader(`{"message":"ship it?","participantIds":["a"],"mode":"single"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	id := resp.Header.Get(server.HeaderConversationID)

	select {
	case <-c.started:
	case <-time.After(5 * time.Second):
		t.Fatal("discussion never started")
	}

	// 模拟收到退出信号
	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	var last string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event:"); ok {
			last = strings.TrimSpace(name)
		}
	}
	if last != string(thinktank.EventStopped) {
		t.Fatalf("last event = %q", last)
	}

	msgs, err := st.ListMessages(context.Background(), id, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(msgs); n == 0 || msgs[n-1].Content != thinktank.StoppedMessage {
		t.Fatalf("messages = %+v", msgs)
	}
}
