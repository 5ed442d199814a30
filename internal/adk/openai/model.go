package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"
	"strings"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/run-bigpig/thinktank/internal/logger"
)

var modelLog = logger.New("openai:model")

var _ model.LLM = &OpenAIModel{}

var (
	ErrNoChoicesInResponse = errors.New("no choices in OpenAI response")
)

// OpenAIModel 实现 model.LLM 接口，兼容 OpenAI 协议的服务
type OpenAIModel struct {
	Client       *openai.Client
	ModelName    string
	NoSystemRole bool // 不支持 system role，需降级处理
}

// NewOpenAIModel 创建 OpenAI 模型
func NewOpenAIModel(modelName string, cfg openai.ClientConfig, noSystemRole bool) *OpenAIModel {
	return &OpenAIModel{
		Client:       openai.NewClientWithConfig(cfg),
		ModelName:    modelName,
		NoSystemRole: noSystemRole,
	}
}

// Name 返回模型名称
func (o *OpenAIModel) Name() string {
	return o.ModelName
}

// GenerateContent 实现 model.LLM 接口
func (o *OpenAIModel) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	if stream {
		return o.generateStream(ctx, req)
	}
	return o.generate(ctx, req)
}

// generate 非流式生成
func (o *OpenAIModel) generate(ctx context.Context, req *model.LLMRequest) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		openaiReq, err := toOpenAIChatCompletionRequest(req, o.ModelName, o.NoSystemRole)
		if err != nil {
			yield(nil, err)
			return
		}

		resp, err := o.Client.CreateChatCompletion(ctx, openaiReq)
		if err != nil {
			yield(nil, err)
			return
		}

		llmResp, err := convertChatCompletionResponse(&resp)
		if err != nil {
			yield(nil, err)
			return
		}

		yield(llmResp, nil)
	}
}

// generateStream 流式生成
func (o *OpenAIModel) generateStream(ctx context.Context, req *model.LLMRequest) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		openaiReq, err := toOpenAIChatCompletionRequest(req, o.ModelName, o.NoSystemRole)
		if err != nil {
			yield(nil, err)
			return
		}
		openaiReq.Stream = true

		stream, err := o.Client.CreateChatCompletionStream(ctx, openaiReq)
		if err != nil {
			yield(nil, err)
			return
		}
		defer stream.Close()

		o.processStream(ctx, stream, yield)
	}
}

// processStream 处理流式响应：先逐片段推送 Partial 响应，最后推送聚合响应
func (o *OpenAIModel) processStream(ctx context.Context, stream *openai.ChatCompletionStream, yield func(*model.LLMResponse, error) bool) {
	var (
		text          strings.Builder
		reasoning     strings.Builder
		finishReason  genai.FinishReason
		usageMetadata *genai.GenerateContentResponseUsageMetadata
	)
	toolCallsMap := make(map[int]*toolCallBuilder)

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			modelLog.Warn("stream interrupted: %v", err)
			yield(nil, fmt.Errorf("read stream: %w", err))
			return
		}

		if chunk.Usage != nil {
			usageMetadata = &genai.GenerateContentResponseUsageMetadata{
				PromptTokenCount:     int32(chunk.Usage.PromptTokens),
				CandidatesTokenCount: int32(chunk.Usage.CompletionTokens),
				TotalTokenCount:      int32(chunk.Usage.TotalTokens),
			}
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		// thinking 模型的推理内容
		if choice.Delta.ReasoningContent != "" {
			reasoning.WriteString(choice.Delta.ReasoningContent)
			if !yield(partialResponse(&genai.Part{Text: choice.Delta.ReasoningContent, Thought: true}), nil) {
				return
			}
		}

		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			if !yield(partialResponse(&genai.Part{Text: choice.Delta.Content}), nil) {
				return
			}
		}

		// 聚合工具调用
		for _, toolCall := range choice.Delta.ToolCalls {
			idx := 0
			if toolCall.Index != nil {
				idx = *toolCall.Index
			}
			builder, ok := toolCallsMap[idx]
			if !ok {
				builder = &toolCallBuilder{}
				toolCallsMap[idx] = builder
			}
			if toolCall.ID != "" {
				builder.id = toolCall.ID
			}
			if toolCall.Function.Name != "" {
				builder.name = toolCall.Function.Name
			}
			builder.args += toolCall.Function.Arguments
		}

		if choice.FinishReason != "" {
			finishReason = convertFinishReason(string(choice.FinishReason))
		}
	}

	aggregated := &genai.Content{Role: genai.RoleModel}
	if reasoning.Len() > 0 {
		aggregated.Parts = append(aggregated.Parts, &genai.Part{Text: reasoning.String(), Thought: true})
	}
	if text.Len() > 0 {
		aggregated.Parts = append(aggregated.Parts, &genai.Part{Text: text.String()})
	}
	for _, idx := range sortedKeys(toolCallsMap) {
		builder := toolCallsMap[idx]
		aggregated.Parts = append(aggregated.Parts, &genai.Part{
			FunctionCall: &genai.FunctionCall{
				ID:   builder.id,
				Name: builder.name,
				Args: parseJSONArgs(builder.args),
			},
		})
	}

	yield(&model.LLMResponse{
		Content:       aggregated,
		UsageMetadata: usageMetadata,
		FinishReason:  finishReason,
		Partial:       false,
		TurnComplete:  true,
	}, nil)
}

func partialResponse(part *genai.Part) *model.LLMResponse {
	return &model.LLMResponse{
		Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{part}},
		Partial: true,
	}
}

// toolCallBuilder 用于聚合流式工具调用
type toolCallBuilder struct {
	id   string
	name string
	args string
}

// sortedKeys 返回排序后的 map keys
func sortedKeys(m map[int]*toolCallBuilder) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
