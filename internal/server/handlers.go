package server

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/run-bigpig/thinktank/internal/discussion"
	"github.com/run-bigpig/thinktank/internal/models"
	"github.com/run-bigpig/thinktank/internal/store"
)

// handleChat 校验请求后以 SSE 推送讨论事件
func (s *Server) handleChat(c *gin.Context) {
	var in discussion.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	turn, err := s.svc.StartTurn(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set(HeaderConversationID, turn.ConversationID())
	c.Status(http.StatusOK)
	c.Writer.Flush()

	for ev := range turn.Events() {
		if err := sse.Encode(c.Writer, sse.Event{Event: string(ev.Type), Data: ev}); err != nil {
			log.Warn("write event to %s: %v", turn.ConversationID(), err)
			break
		}
		c.Writer.Flush()
	}
}

func (s *Server) handleStop(c *gin.Context) {
	id := c.Param("id")
	if !s.svc.Stop(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no discussion is running in this conversation"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"conversationId": id, "status": "stopping"})
}

func (s *Server) handleExperts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"experts": s.svc.Experts()})
}

func (s *Server) handleListConversations(c *gin.Context) {
	list, err := s.svc.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []models.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

func (s *Server) handleGetConversation(c *gin.Context) {
	conv, msgs, err := s.svc.Conversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "messages": msgs})
}

func (s *Server) handleDeleteConversation(c *gin.Context) {
	if err := s.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// projectInput 创建项目请求
type projectInput struct {
	Title      string             `json:"title" binding:"required"`
	Summary    string             `json:"summary"`
	Stage      string             `json:"stage"`
	Notes      string             `json:"notes"`
	Tasks      []models.Task      `json:"tasks"`
	Milestones []models.Milestone `json:"milestones"`
}

func (s *Server) handleCreateProject(c *gin.Context) {
	var in projectInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p := &models.Project{
		Title:      strings.TrimSpace(in.Title),
		Summary:    in.Summary,
		Stage:      in.Stage,
		Notes:      in.Notes,
		Tasks:      in.Tasks,
		Milestones: in.Milestones,
	}
	if err := s.projects.CreateProject(c.Request.Context(), p); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) handleGetProject(c *gin.Context) {
	p, err := s.projects.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleMCPServers(c *gin.Context) {
	if s.mcp == nil {
		c.JSON(http.StatusOK, gin.H{"servers": []any{}})
		return
	}
	servers := s.mcp.Servers()
	if c.Query("test") == "1" {
		for i := range servers {
			if status := s.mcp.TestConnection(c.Request.Context(), servers[i].ID); status != nil {
				servers[i] = *status
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"servers": servers})
}

func (s *Server) handleMCPTools(c *gin.Context) {
	if s.mcp == nil {
		writeError(c, store.ErrNotFound)
		return
	}
	tools, err := s.mcp.GetServerTools(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if tools == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "mcp server not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": tools})
}
