// Package server 暴露 HTTP 接口：讨论推流、会话管理、专家表、项目与 MCP 服务
package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/run-bigpig/thinktank/internal/adk/mcp"
	"github.com/run-bigpig/thinktank/internal/discussion"
	"github.com/run-bigpig/thinktank/internal/logger"
	"github.com/run-bigpig/thinktank/internal/store"
	"github.com/run-bigpig/thinktank/internal/thinktank"
)

var log = logger.New("HTTP")

// HeaderConversationID 推流响应中携带会话 ID 的头
const HeaderConversationID = "X-Conversation-Id"

// Server HTTP 服务
type Server struct {
	svc      *discussion.Service
	projects store.ProjectStore
	mcp      *mcp.Manager
	engine   *gin.Engine
}

// New 创建 HTTP 服务并注册路由，mcpMgr 可以为 nil
func New(svc *discussion.Service, projects store.ProjectStore, mcpMgr *mcp.Manager) *Server {
	s := &Server{svc: svc, projects: projects, mcp: mcpMgr}

	r := gin.New()
	r.Use(recovery(), requestID(), accessLog(), cors())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	tt := api.Group("/think-tank")
	tt.POST("/chat", s.handleChat)
	tt.GET("/experts", s.handleExperts)
	tt.GET("/conversations", s.handleListConversations)
	tt.GET("/conversations/:id", s.handleGetConversation)
	tt.DELETE("/conversations/:id", s.handleDeleteConversation)
	tt.POST("/conversations/:id/stop", s.handleStop)

	api.POST("/projects", s.handleCreateProject)
	api.GET("/projects/:id", s.handleGetProject)

	api.GET("/mcp/servers", s.handleMCPServers)
	api.GET("/mcp/servers/:id/tools", s.handleMCPTools)

	s.engine = r
	return s
}

// Handler 返回 http.Handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// writeError 把错误映射为 HTTP 状态码
func writeError(c *gin.Context, err error) {
	var verr *thinktank.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message, "field": verr.Field})
	case errors.Is(err, discussion.ErrUnknownConversation), errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, discussion.ErrTurnInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
