package adk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/run-bigpig/thinktank/internal/adk/mock"
	"github.com/run-bigpig/thinktank/internal/adk/openai"
	"github.com/run-bigpig/thinktank/internal/models"

	go_openai "github.com/sashabaranov/go-openai"
	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"
)

// mockWordDelay mock 模型逐词输出间隔，模拟真实流式体验
const mockWordDelay = 40 * time.Millisecond

// ModelFactory 模型工厂，根据配置创建对应的 adk model，同一配置只创建一次
type ModelFactory struct {
	mu    sync.Mutex
	cache map[string]model.LLM
}

// NewModelFactory 创建模型工厂
func NewModelFactory() *ModelFactory {
	return &ModelFactory{cache: make(map[string]model.LLM)}
}

// CreateModel 根据 AI 配置创建（或复用）对应的模型
func (f *ModelFactory) CreateModel(ctx context.Context, config models.AIConfig) (model.LLM, error) {
	key := cacheKey(config)

	f.mu.Lock()
	defer f.mu.Unlock()
	if llm, ok := f.cache[key]; ok {
		return llm, nil
	}

	var (
		llm model.LLM
		err error
	)
	switch config.Provider {
	case models.AIProviderGemini:
		llm, err = f.createGeminiModel(ctx, config)
	case models.AIProviderOpenAI:
		llm = f.createOpenAIModel(config)
	case models.AIProviderMock:
		llm = mock.NewModel(config.ModelName, mockWordDelay)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", config.Provider)
	}
	if err != nil {
		return nil, err
	}
	f.cache[key] = llm
	return llm, nil
}

func cacheKey(config models.AIConfig) string {
	return fmt.Sprintf("%s|%s|%s|%t", config.Provider, config.BaseURL, config.ModelName, config.NoSystemRole)
}

// createGeminiModel 创建 Gemini 模型
func (f *ModelFactory) createGeminiModel(ctx context.Context, config models.AIConfig) (model.LLM, error) {
	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions.BaseURL = config.BaseURL
	}

	return gemini.NewModel(ctx, config.ModelName, clientConfig)
}

// createOpenAIModel 创建 OpenAI 兼容模型
func (f *ModelFactory) createOpenAIModel(config models.AIConfig) model.LLM {
	openaiCfg := go_openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		openaiCfg.BaseURL = config.BaseURL
	}

	return openai.NewOpenAIModel(config.ModelName, openaiCfg, config.NoSystemRole)
}
