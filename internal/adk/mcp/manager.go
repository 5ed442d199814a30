// Package mcp 提供 MCP (Model Context Protocol) 集成功能，为专家挂载外部工具
package mcp

import (
	"context"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/run-bigpig/thinktank/internal/logger"
	"github.com/run-bigpig/thinktank/internal/models"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/mcptoolset"
)

var log = logger.New("mcp")

// ServerStatus MCP 服务器状态
type ServerStatus struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	TransportType models.MCPTransportType `json:"transportType"`
	Loaded        bool                    `json:"loaded"`
	Connected     bool                    `json:"connected"`
	Error         string                  `json:"error,omitempty"`
}

// ToolInfo MCP 工具信息
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ServerID    string `json:"serverId"`
	ServerName  string `json:"serverName"`
}

// Manager MCP 服务管理器
type Manager struct {
	mu       sync.RWMutex
	toolsets map[string]tool.Toolset
	configs  map[string]*models.MCPServerConfig
}

// NewManager 创建 MCP 管理器
func NewManager() *Manager {
	return &Manager{
		toolsets: make(map[string]tool.Toolset),
		configs:  make(map[string]*models.MCPServerConfig),
	}
}

// LoadConfigs 加载 MCP 服务器配置，单个服务器失败不影响其他服务器
func (m *Manager) LoadConfigs(configs []models.MCPServerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.toolsets = make(map[string]tool.Toolset)
	m.configs = make(map[string]*models.MCPServerConfig)

	for i := range configs {
		cfg := configs[i]
		if !cfg.Enabled {
			continue
		}
		m.configs[cfg.ID] = &cfg

		ts, err := mcptoolset.New(mcptoolset.Config{
			Transport:  createTransport(&cfg),
			ToolFilter: toolFilter(cfg.ToolFilter),
		})
		if err != nil {
			log.Warn("load mcp server %s: %v", cfg.ID, err)
			continue
		}
		m.toolsets[cfg.ID] = ts
	}
	log.Info("loaded %d/%d mcp servers", len(m.toolsets), len(m.configs))
}

// toolFilter 未配置过滤列表时放行全部工具
func toolFilter(names []string) tool.Predicate {
	if len(names) == 0 {
		return nil
	}
	return tool.StringPredicate(names)
}

// createTransport 根据配置创建 MCP 传输层
func createTransport(cfg *models.MCPServerConfig) mcp.Transport {
	switch cfg.TransportType {
	case models.MCPTransportSSE:
		return &mcp.SSEClientTransport{Endpoint: cfg.Endpoint}
	case models.MCPTransportCommand:
		return &mcp.CommandTransport{Command: exec.Command(cfg.Command, cfg.Args...)}
	default: // http
		return &mcp.StreamableClientTransport{Endpoint: cfg.Endpoint}
	}
}

// GetToolsetsByIDs 根据 ID 列表获取 toolsets，未加载的 ID 被忽略
func (m *Manager) GetToolsetsByIDs(ids []string) []tool.Toolset {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []tool.Toolset
	for _, id := range ids {
		if ts, ok := m.toolsets[id]; ok {
			result = append(result, ts)
		}
	}
	return result
}

// Servers 列出已启用的服务器（按 ID 排序）
func (m *Manager) Servers() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ServerStatus, 0, len(m.configs))
	for id, cfg := range m.configs {
		_, loaded := m.toolsets[id]
		result = append(result, ServerStatus{
			ID:            id,
			Name:          cfg.Name,
			TransportType: cfg.TransportType,
			Loaded:        loaded,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// TestConnection 测试指定 MCP 服务器的连接
func (m *Manager) TestConnection(ctx context.Context, serverID string) *ServerStatus {
	m.mu.RLock()
	cfg, ok := m.configs[serverID]
	m.mu.RUnlock()

	if !ok {
		return &ServerStatus{ID: serverID, Error: "server not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status := &ServerStatus{ID: serverID, Name: cfg.Name, TransportType: cfg.TransportType, Loaded: true}
	client := mcp.NewClient(&mcp.Implementation{Name: "thinktank", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, createTransport(cfg), nil)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	defer session.Close()

	status.Connected = true
	return status
}

// GetServerTools 获取指定 MCP 服务器的工具列表
func (m *Manager) GetServerTools(ctx context.Context, serverID string) ([]ToolInfo, error) {
	m.mu.RLock()
	cfg, ok := m.configs[serverID]
	m.mu.RUnlock()

	if !ok {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: "thinktank", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, createTransport(cfg), nil)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	toolsResp, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}

	tools := make([]ToolInfo, 0, len(toolsResp.Tools))
	for _, t := range toolsResp.Tools {
		tools = append(tools, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			ServerID:    serverID,
			ServerName:  cfg.Name,
		})
	}
	return tools, nil
}
