package adk

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/run-bigpig/thinktank/internal/adk/mcp"
	"github.com/run-bigpig/thinktank/internal/logger"
	"github.com/run-bigpig/thinktank/internal/models"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/genai"
)

var log = logger.New("adk")

const appName = "thinktank"

// ModelCreationTimeout 模型创建的最大时长
const ModelCreationTimeout = 10 * time.Second

// ExpertRunner 专家发言执行器，把一次发言转换成文本片段流
type ExpertRunner struct {
	factory  *ModelFactory
	defaults models.AIConfig
	builder  *ExpertAgentBuilder
}

// NewExpertRunner 创建专家发言执行器，mcpMgr 可以为 nil
func NewExpertRunner(factory *ModelFactory, defaults models.AIConfig, mcpMgr *mcp.Manager) *ExpertRunner {
	if factory == nil {
		factory = NewModelFactory()
	}
	return &ExpertRunner{
		factory:  factory,
		defaults: defaults,
		builder:  NewExpertAgentBuilder(mcpMgr),
	}
}

// Complete 让指定专家根据 prompt 发言，逐片段返回生成的文本
func (r *ExpertRunner) Complete(ctx context.Context, expert models.Expert, prompt models.Prompt) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		cfg := r.defaults
		if expert.Model != "" {
			cfg = cfg.WithModel(expert.Model)
		}

		modelCtx, cancel := context.WithTimeout(ctx, ModelCreationTimeout)
		llm, err := r.factory.CreateModel(modelCtx, cfg)
		cancel()
		if err != nil {
			yield("", fmt.Errorf("create model: %w", err))
			return
		}

		if toolsets := r.builder.Toolsets(expert); len(toolsets) > 0 {
			r.runAgent(ctx, llm, expert, prompt, toolsets, yield)
			return
		}
		streamModel(ctx, llm, prompt, yield)
	}
}

// streamModel 直接调用模型流式接口：只转发 Partial 文本，模型不支持流式时退回最终文本
func streamModel(ctx context.Context, llm model.LLM, prompt models.Prompt, yield func(string, error) bool) {
	req := &model.LLMRequest{
		Contents: []*genai.Content{genai.NewContentFromText(prompt.User, genai.RoleUser)},
		Config:   &genai.GenerateContentConfig{},
	}
	if prompt.System != "" {
		req.Config.SystemInstruction = genai.NewContentFromText(prompt.System, genai.RoleUser)
	}

	streamed := false
	for resp, err := range llm.GenerateContent(ctx, req, true) {
		if err != nil {
			yield("", err)
			return
		}
		if resp == nil {
			continue
		}
		if resp.ErrorCode != "" {
			yield("", fmt.Errorf("model error %s: %s", resp.ErrorCode, resp.ErrorMessage))
			return
		}
		if !resp.Partial && streamed {
			continue
		}
		text := responseText(resp)
		if text == "" {
			continue
		}
		if resp.Partial {
			streamed = true
		}
		if err := ctx.Err(); err != nil {
			yield("", err)
			return
		}
		if !yield(text, nil) {
			return
		}
	}
}

// runAgent 通过 llmagent + runner 运行挂载了 MCP 工具的专家
func (r *ExpertRunner) runAgent(ctx context.Context, llm model.LLM, expert models.Expert, prompt models.Prompt, toolsets []tool.Toolset, yield func(string, error) bool) {
	agentInstance, err := r.builder.BuildAgent(expert, llm, prompt.System, toolsets)
	if err != nil {
		yield("", fmt.Errorf("build agent: %w", err))
		return
	}

	sessionService := session.InMemoryService()
	rn, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          agentInstance,
		SessionService: sessionService,
	})
	if err != nil {
		yield("", fmt.Errorf("create runner: %w", err))
		return
	}

	sessionID := fmt.Sprintf("session-%s-%d", expert.ID, time.Now().UnixNano())
	_, err = sessionService.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    "user",
		SessionID: sessionID,
	})
	if err != nil {
		yield("", fmt.Errorf("create session: %w", err))
		return
	}

	userMsg := genai.NewContentFromText(prompt.User, genai.RoleUser)
	runCfg := agent.RunConfig{StreamingMode: agent.StreamingModeSSE}

	streamed := false
	for event, err := range rn.Run(ctx, "user", sessionID, userMsg, runCfg) {
		if err != nil {
			yield("", err)
			return
		}
		if event == nil {
			continue
		}
		// 错误响应通常不带内容
		if event.LLMResponse.ErrorCode != "" {
			yield("", fmt.Errorf("model error %s: %s", event.LLMResponse.ErrorCode, event.LLMResponse.ErrorMessage))
			return
		}
		if event.LLMResponse.Content == nil {
			continue
		}

		for _, part := range event.LLMResponse.Content.Parts {
			if part.FunctionCall != nil {
				log.Debug("expert %s calls tool %s", expert.ID, part.FunctionCall.Name)
			}
		}

		// 只转发 Partial 片段，忽略最终聚合响应（避免重复）
		if !event.LLMResponse.Partial {
			if streamed {
				continue
			}
			// 未流式输出时，工具调用之后的最终回答以完整文本给出
			if !event.IsFinalResponse() {
				continue
			}
		} else {
			streamed = true
		}
		text := responseText(&event.LLMResponse)
		if text == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			yield("", err)
			return
		}
		if !yield(text, nil) {
			return
		}
	}
}

// responseText 拼接响应中的可见文本，跳过思考内容
func responseText(resp *model.LLMResponse) string {
	if resp == nil || resp.Content == nil {
		return ""
	}
	var text string
	for _, part := range resp.Content.Parts {
		if part.Thought {
			continue
		}
		text += part.Text
	}
	return text
}
