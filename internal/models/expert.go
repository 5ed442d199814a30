package models

// Expert 专家人设（静态配置）
type Expert struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Role        string   `json:"role" yaml:"role"`
	Instruction string   `json:"instruction" yaml:"instruction"`
	Model       string   `json:"model,omitempty" yaml:"model,omitempty"`             // 覆盖默认模型名
	MCPServers  []string `json:"mcpServers,omitempty" yaml:"mcpServers,omitempty"` // 可用的 MCP 服务器 ID
}

// 合成角色 ID，专家表中不可占用
const (
	ModeratorID = "moderator"
	SummaryID   = "summary"
)

// AIProvider AI 服务提供商
type AIProvider string

const (
	AIProviderOpenAI AIProvider = "openai"
	AIProviderGemini AIProvider = "gemini"
	AIProviderMock   AIProvider = "mock"
)

// AIConfig AI 服务配置
type AIConfig struct {
	Provider     AIProvider `json:"provider"`
	APIKey       string     `json:"-"`
	BaseURL      string     `json:"baseUrl,omitempty"`
	ModelName    string     `json:"modelName"`
	NoSystemRole bool       `json:"noSystemRole,omitempty"` // 不支持 system role，系统指令并入首条用户消息
}

// WithModel 返回替换了模型名的配置副本
func (c AIConfig) WithModel(name string) AIConfig {
	if name != "" {
		c.ModelName = name
	}
	return c
}

// MCPTransportType MCP 传输类型
type MCPTransportType string

const (
	MCPTransportHTTP    MCPTransportType = "http"
	MCPTransportSSE     MCPTransportType = "sse"
	MCPTransportCommand MCPTransportType = "command"
)

// MCPServerConfig MCP 服务器配置
type MCPServerConfig struct {
	ID            string           `json:"id" yaml:"id"`
	Name          string           `json:"name" yaml:"name"`
	TransportType MCPTransportType `json:"transportType" yaml:"transportType"`
	Endpoint      string           `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Command       string           `json:"command,omitempty" yaml:"command,omitempty"`
	Args          []string         `json:"args,omitempty" yaml:"args,omitempty"`
	ToolFilter    []string         `json:"toolFilter,omitempty" yaml:"toolFilter,omitempty"`
	Enabled       bool             `json:"enabled" yaml:"enabled"`
}
