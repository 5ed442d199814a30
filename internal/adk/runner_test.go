package adk

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/run-bigpig/thinktank/internal/models"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"
	"google.golang.org/genai"
)

// scriptedLLM 按脚本返回响应的模型
type scriptedLLM struct {
	responses []*model.LLMResponse
	err       error
	lastReq   *model.LLMRequest
}

func (s *scriptedLLM) Name() string { return "scripted" }

func (s *scriptedLLM) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	s.lastReq = req
	return func(yield func(*model.LLMResponse, error) bool) {
		for _, resp := range s.responses {
			if !yield(resp, nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}

func partial(text string) *model.LLMResponse {
	return &model.LLMResponse{Content: genai.NewContentFromText(text, genai.RoleModel), Partial: true}
}

func final(text string) *model.LLMResponse {
	return &model.LLMResponse{Content: genai.NewContentFromText(text, genai.RoleModel), TurnComplete: true}
}

func newScriptedRunner(t *testing.T, llm model.LLM, modelName string) *ExpertRunner {
	t.Helper()
	cfg := models.AIConfig{Provider: models.AIProviderMock, ModelName: "default"}
	f := NewModelFactory()
	f.cache[cacheKey(cfg.WithModel(modelName))] = llm
	return NewExpertRunner(f, cfg, nil)
}

func collect(seq iter.Seq2[string, error]) ([]string, error) {
	var chunks []string
	for chunk, err := range seq {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func TestCompleteForwardsPartialsOnly(t *testing.T) {
	llm := &scriptedLLM{responses: []*model.LLMResponse{
		partial("Hi "),
		{Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: "hmm", Thought: true}}}, Partial: true},
		partial("there"),
		final("Hi there"),
	}}
	r := newScriptedRunner(t, llm, "")

	chunks, err := collect(r.Complete(context.Background(), models.Expert{ID: "a"}, models.Prompt{System: "sys", User: "question"}))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(chunks, "|") != "Hi |there" {
		t.Fatalf("chunks = %q", chunks)
	}

	if got := llm.lastReq.Config.SystemInstruction.Parts[0].Text; got != "sys" {
		t.Errorf("system instruction = %q", got)
	}
	if got := llm.lastReq.Contents[0].Parts[0].Text; got != "question" {
		t.Errorf("user content = %q", got)
	}
}

func TestCompleteFallsBackToFinalText(t *testing.T) {
	r := newScriptedRunner(t, &scriptedLLM{responses: []*model.LLMResponse{final("whole answer")}}, "")

	chunks, err := collect(r.Complete(context.Background(), models.Expert{ID: "a"}, models.Prompt{User: "q"}))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0] != "whole answer" {
		t.Fatalf("chunks = %q", chunks)
	}
}

func TestCompleteSurfacesErrors(t *testing.T) {
	t.Run("stream error", func(t *testing.T) {
		boom := errors.New("boom")
		r := newScriptedRunner(t, &scriptedLLM{responses: []*model.LLMResponse{partial("x")}, err: boom}, "")
		chunks, err := collect(r.Complete(context.Background(), models.Expert{ID: "a"}, models.Prompt{User: "q"}))
		if !errors.Is(err, boom) || len(chunks) != 1 {
			t.Fatalf("chunks=%q err=%v", chunks, err)
		}
	})

	t.Run("error code", func(t *testing.T) {
		r := newScriptedRunner(t, &scriptedLLM{responses: []*model.LLMResponse{{ErrorCode: "SAFETY", ErrorMessage: "blocked"}}}, "")
		_, err := collect(r.Complete(context.Background(), models.Expert{ID: "a"}, models.Prompt{User: "q"}))
		if err == nil || !strings.Contains(err.Error(), "blocked") {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("unsupported provider", func(t *testing.T) {
		r := NewExpertRunner(nil, models.AIConfig{Provider: "unknown"}, nil)
		_, err := collect(r.Complete(context.Background(), models.Expert{ID: "a"}, models.Prompt{User: "q"}))
		if err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestCompleteUsesExpertModelOverride(t *testing.T) {
	llm := &scriptedLLM{responses: []*model.LLMResponse{partial("ok")}}
	r := newScriptedRunner(t, llm, "special")

	chunks, err := collect(r.Complete(context.Background(), models.Expert{ID: "a", Model: "special"}, models.Prompt{User: "q"}))
	if err != nil || len(chunks) != 1 {
		t.Fatalf("chunks=%q err=%v", chunks, err)
	}
}

func TestCompleteStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newScriptedRunner(t, &scriptedLLM{responses: []*model.LLMResponse{partial("late")}}, "")

	chunks, err := collect(r.Complete(ctx, models.Expert{ID: "a"}, models.Prompt{User: "q"}))
	if !errors.Is(err, context.Canceled) || len(chunks) != 0 {
		t.Fatalf("chunks=%q err=%v", chunks, err)
	}
}

func TestMockModelStreamsThroughRunner(t *testing.T) {
	r := NewExpertRunner(nil, models.AIConfig{Provider: models.AIProviderMock, ModelName: "mock"}, nil)
	chunks, err := collect(r.Complete(context.Background(), models.Expert{ID: "a"}, models.Prompt{System: "Maya, strategist", User: "Should I pivot?"}))
	if err != nil {
		t.Fatal(err)
	}
	text := strings.Join(chunks, "")
	if len(chunks) < 2 || !strings.Contains(text, "Maya, strategist") || !strings.Contains(text, "Should I pivot?") {
		t.Fatalf("chunks = %q", chunks)
	}
}

func TestAgentName(t *testing.T) {
	if got := agentName("growth-hacker 2"); got != "growth_hacker_2" {
		t.Fatalf("agentName = %q", got)
	}
	if got := agentName(""); got != "expert" {
		t.Fatalf("agentName = %q", got)
	}
}

// turnLLM 每次调用返回下一组脚本响应，用于覆盖工具调用后的多轮请求
type turnLLM struct {
	turns [][]*model.LLMResponse
	reqs  []*model.LLMRequest
}

func (l *turnLLM) Name() string { return "turns" }

func (l *turnLLM) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	l.reqs = append(l.reqs, req)
	var script []*model.LLMResponse
	if len(l.turns) > 0 {
		script, l.turns = l.turns[0], l.turns[1:]
	}
	return func(yield func(*model.LLMResponse, error) bool) {
		for _, resp := range script {
			if !yield(resp, nil) {
				return
			}
		}
	}
}

// stubToolset 固定工具集合
type stubToolset struct {
	tools []tool.Tool
}

func (s stubToolset) Name() string { return "stub" }

func (s stubToolset) Tools(agent.ReadonlyContext) ([]tool.Tool, error) { return s.tools, nil }

type lookupArgs struct {
	Query string `json:"query"`
}

type lookupResult struct {
	Answer string `json:"answer"`
}

func newLookupTool(t *testing.T, calls *[]string) tool.Tool {
	t.Helper()
	lookup, err := functiontool.New(functiontool.Config{
		Name:        "market_size",
		Description: "looks up a market size",
	}, func(_ tool.Context, args lookupArgs) (lookupResult, error) {
		*calls = append(*calls, args.Query)
		return lookupResult{Answer: "4.2B"}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return lookup
}

func runAgentChunks(r *ExpertRunner, llm model.LLM, toolsets []tool.Toolset) ([]string, error) {
	expert := models.Expert{ID: "market-analyst", Role: "Analyst"}
	prompt := models.Prompt{System: "You are {the} analyst.", User: "How big is the market?"}
	return collect(func(yield func(string, error) bool) {
		r.runAgent(context.Background(), llm, expert, prompt, toolsets, yield)
	})
}

func TestRunAgent(t *testing.T) {
	r := NewExpertRunner(nil, models.AIConfig{Provider: models.AIProviderMock}, nil)

	t.Run("forwards partials", func(t *testing.T) {
		llm := &turnLLM{turns: [][]*model.LLMResponse{{partial("Big "), partial("enough"), final("Big enough")}}}
		chunks, err := runAgentChunks(r, llm, []tool.Toolset{stubToolset{}})
		if err != nil {
			t.Fatal(err)
		}
		if strings.Join(chunks, "|") != "Big |enough" {
			t.Fatalf("chunks = %q", chunks)
		}
		var instruction strings.Builder
		if cfg := llm.reqs[0].Config; cfg != nil && cfg.SystemInstruction != nil {
			for _, p := range cfg.SystemInstruction.Parts {
				instruction.WriteString(p.Text)
			}
		}
		if !strings.Contains(instruction.String(), "You are (the) analyst.") {
			t.Errorf("instruction = %q", instruction.String())
		}
	})

	t.Run("final answer after tool call", func(t *testing.T) {
		var calls []string
		call := &model.LLMResponse{Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{
			FunctionCall: &genai.FunctionCall{Name: "market_size", Args: map[string]any{"query": "saas"}},
		}}}}
		llm := &turnLLM{turns: [][]*model.LLMResponse{{call}, {final("Roughly 4.2B.")}}}

		chunks, err := runAgentChunks(r, llm, []tool.Toolset{stubToolset{tools: []tool.Tool{newLookupTool(t, &calls)}}})
		if err != nil {
			t.Fatal(err)
		}
		if len(chunks) != 1 || chunks[0] != "Roughly 4.2B." {
			t.Fatalf("chunks = %q", chunks)
		}
		if len(calls) != 1 || calls[0] != "saas" {
			t.Errorf("tool calls = %q", calls)
		}
		if len(llm.reqs) != 2 {
			t.Errorf("model called %d times", len(llm.reqs))
		}
	})

	t.Run("error code without content", func(t *testing.T) {
		llm := &turnLLM{turns: [][]*model.LLMResponse{{{ErrorCode: "SAFETY", ErrorMessage: "blocked", TurnComplete: true}}}}
		chunks, err := runAgentChunks(r, llm, []tool.Toolset{stubToolset{}})
		if err == nil || !strings.Contains(err.Error(), "SAFETY") || !strings.Contains(err.Error(), "blocked") {
			t.Fatalf("chunks=%q err=%v", chunks, err)
		}
		if len(chunks) != 0 {
			t.Errorf("chunks = %q", chunks)
		}
	})

	t.Run("error code after partial", func(t *testing.T) {
		llm := &turnLLM{turns: [][]*model.LLMResponse{{partial("Big "), {ErrorCode: "MAX_TOKENS", ErrorMessage: "cut off"}}}}
		chunks, err := runAgentChunks(r, llm, []tool.Toolset{stubToolset{}})
		if err == nil || !strings.Contains(err.Error(), "cut off") {
			t.Fatalf("err = %v", err)
		}
		if len(chunks) != 1 {
			t.Errorf("chunks = %q", chunks)
		}
	})
}

func TestBuildAgent(t *testing.T) {
	b := NewExpertAgentBuilder(nil)
	if ts := b.Toolsets(models.Expert{ID: "a", MCPServers: []string{"search"}}); ts != nil {
		t.Fatalf("toolsets without manager = %v", ts)
	}
	a, err := b.BuildAgent(models.Expert{ID: "growth-hacker", Role: "Growth"}, &turnLLM{}, "x", nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.Name() != "growth_hacker" || a.Description() != "Growth" {
		t.Fatalf("agent = %s / %s", a.Name(), a.Description())
	}
}
