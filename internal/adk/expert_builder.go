package adk

import (
	"strings"

	"github.com/run-bigpig/thinktank/internal/adk/mcp"
	"github.com/run-bigpig/thinktank/internal/models"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/tool"
)

// instructionEscaper llmagent 会把 {name} 当作会话状态占位符，发言指令中的花括号需要转义
var instructionEscaper = strings.NewReplacer("{", "(", "}", ")")

// ExpertAgentBuilder 专家 Agent 构建器，为挂载了 MCP 服务的专家构建带工具的 Agent
type ExpertAgentBuilder struct {
	mcpManager *mcp.Manager
}

// NewExpertAgentBuilder 创建专家 Agent 构建器
func NewExpertAgentBuilder(mcpMgr *mcp.Manager) *ExpertAgentBuilder {
	return &ExpertAgentBuilder{mcpManager: mcpMgr}
}

// Toolsets 返回专家可用的 MCP toolsets
func (b *ExpertAgentBuilder) Toolsets(expert models.Expert) []tool.Toolset {
	if b == nil || b.mcpManager == nil || len(expert.MCPServers) == 0 {
		return nil
	}
	return b.mcpManager.GetToolsetsByIDs(expert.MCPServers)
}

// BuildAgent 根据专家配置与本轮系统指令构建 LLM Agent
func (b *ExpertAgentBuilder) BuildAgent(expert models.Expert, llm model.LLM, instruction string, toolsets []tool.Toolset) (agent.Agent, error) {
	return llmagent.New(llmagent.Config{
		Name:        agentName(expert.ID),
		Model:       llm,
		Description: expert.Role,
		Instruction: instructionEscaper.Replace(instruction),
		Toolsets:    toolsets,
	})
}

// agentName adk 要求 Agent 名称是合法标识符
func agentName(id string) string {
	var sb strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "expert"
	}
	return sb.String()
}
