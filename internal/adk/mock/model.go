// Package mock 提供本地开发用的确定性模型，不访问任何外部服务
package mock

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

var _ model.LLM = &Model{}

// Model 逐词流式输出固定回答的模型
type Model struct {
	name  string
	delay time.Duration // 每个片段之间的间隔
}

// NewModel 创建 mock 模型
func NewModel(name string, delay time.Duration) *Model {
	return &Model{name: name, delay: delay}
}

// Name 返回模型名称
func (m *Model) Name() string {
	return m.name
}

// GenerateContent 实现 model.LLM 接口
func (m *Model) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	answer := m.answer(req)
	return func(yield func(*model.LLMResponse, error) bool) {
		if stream {
			for _, word := range strings.SplitAfter(answer, " ") {
				if m.delay > 0 {
					select {
					case <-ctx.Done():
						yield(nil, ctx.Err())
						return
					case <-time.After(m.delay):
					}
				}
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return
				}
				if !yield(textResponse(word, true), nil) {
					return
				}
			}
		}
		yield(textResponse(answer, false), nil)
	}
}

// answer 根据系统指令首行与用户消息末行拼出回答
func (m *Model) answer(req *model.LLMRequest) string {
	var system, user string
	if req.Config != nil && req.Config.SystemInstruction != nil {
		system = firstLine(contentText(req.Config.SystemInstruction))
	}
	if n := len(req.Contents); n > 0 {
		user = lastLine(contentText(req.Contents[n-1]))
	}
	return fmt.Sprintf("[%s] Speaking as: %s. On %q, my short take is to validate demand with ten real customers before building more.",
		m.name, system, user)
}

func textResponse(text string, partial bool) *model.LLMResponse {
	return &model.LLMResponse{
		Content:      genai.NewContentFromText(text, genai.RoleModel),
		Partial:      partial,
		TurnComplete: !partial,
	}
}

func contentText(c *genai.Content) string {
	if c == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range c.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
