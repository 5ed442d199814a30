package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/run-bigpig/thinktank/internal/adk"
	"github.com/run-bigpig/thinktank/internal/adk/mcp"
	"github.com/run-bigpig/thinktank/internal/agent"
	"github.com/run-bigpig/thinktank/internal/config"
	"github.com/run-bigpig/thinktank/internal/discussion"
	"github.com/run-bigpig/thinktank/internal/logger"
	"github.com/run-bigpig/thinktank/internal/project"
	"github.com/run-bigpig/thinktank/internal/server"
	"github.com/run-bigpig/thinktank/internal/store"
	"github.com/run-bigpig/thinktank/internal/thinktank"
)

var log = logger.New("Main")

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetGlobalLevel(cfg.LogLevel)

	if cfg.LogLevel == logger.DEBUG {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = log.Writer(logger.DEBUG)
	gin.DefaultErrorWriter = log.Writer(logger.ERROR)

	roster, err := agent.LoadRoster(cfg.ExpertsFile)
	if err != nil {
		return err
	}
	log.Info("loaded %d experts", roster.Len())

	st, err := store.Open(store.Options{
		Backend:  cfg.StorageBackend,
		BoltPath: cfg.BoltPath,
		DSN:      cfg.DatabaseURL,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("close store: %v", err)
		}
	}()
	log.Info("storage backend: %s", cfg.StorageBackend)

	mcpMgr := mcp.NewManager()
	servers, err := cfg.LoadMCPServers()
	if err != nil {
		return err
	}
	mcpMgr.LoadConfigs(servers)

	runner := adk.NewExpertRunner(adk.NewModelFactory(), cfg.AI, mcpMgr)
	orch := thinktank.New(roster, runner, thinktank.Options{
		SegmentTimeout:    cfg.SegmentTimeout,
		DiscussionTimeout: cfg.DiscussionTimeout,
	})
	svc := discussion.NewService(orch, st, project.NewContextBuilder(st), cfg.HistoryLimit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := newHTTPServer(ctx, ":"+cfg.Port, server.New(svc, st, mcpMgr).Handler())

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening on %s (provider=%s model=%s)", srv.Addr, cfg.AI.Provider, cfg.AI.ModelName)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newHTTPServer 请求上下文派生自 ctx，退出信号会中止进行中的讨论
func newHTTPServer(ctx context.Context, addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}
