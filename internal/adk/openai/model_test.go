package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

func newTestModel(t *testing.T, handler http.HandlerFunc) *OpenAIModel {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return NewOpenAIModel("test-model", cfg, false)
}

func testRequest() *model.LLMRequest {
	return &model.LLMRequest{
		Contents: []*genai.Content{genai.NewContentFromText("what do you think?", genai.RoleUser)},
		Config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText("you are an investor", genai.RoleUser),
		},
	}
}

func TestGenerateStreamYieldsPartialsThenAggregate(t *testing.T) {
	var got openai.ChatCompletionRequest
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"Hello", ", ", "founder"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
		}
		fmt.Fprint(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var partials []string
	var final *model.LLMResponse
	for resp, err := range m.GenerateContent(context.Background(), testRequest(), true) {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		if resp.Partial {
			partials = append(partials, resp.Content.Parts[0].Text)
			continue
		}
		final = resp
	}

	if strings.Join(partials, "") != "Hello, founder" || len(partials) != 3 {
		t.Fatalf("partials = %q", partials)
	}
	if final == nil || !final.TurnComplete || final.Content.Parts[0].Text != "Hello, founder" {
		t.Fatalf("unexpected final response: %+v", final)
	}
	if final.FinishReason != genai.FinishReasonStop {
		t.Errorf("finish reason = %v", final.FinishReason)
	}

	if !got.Stream || got.Model != "test-model" {
		t.Errorf("request stream=%v model=%q", got.Stream, got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("system instruction not sent first: %+v", got.Messages)
	}
}

func TestGenerateStreamSurfacesHTTPError(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited","type":"rate_limit"}}`)
	})

	var gotErr error
	for _, err := range m.GenerateContent(context.Background(), testRequest(), true) {
		if err != nil {
			gotErr = err
		}
	}
	if gotErr == nil {
		t.Fatal("expected an error")
	}
}

func TestGenerateNonStream(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Ship it."},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	})

	var texts []string
	for resp, err := range m.GenerateContent(context.Background(), testRequest(), false) {
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		texts = append(texts, resp.Content.Parts[0].Text)
		if resp.UsageMetadata == nil || resp.UsageMetadata.TotalTokenCount != 5 {
			t.Errorf("usage = %+v", resp.UsageMetadata)
		}
	}
	if len(texts) != 1 || texts[0] != "Ship it." {
		t.Fatalf("texts = %q", texts)
	}
}

func TestApplySystemInstructionWithoutSystemRole(t *testing.T) {
	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "question"}}
	out := applySystemInstruction(msgs, "rules", true)
	if len(out) != 1 || out[0].Content != "rules\n\nquestion" {
		t.Fatalf("unexpected messages: %+v", out)
	}

	out = applySystemInstruction(nil, "rules", true)
	if len(out) != 1 || out[0].Role != openai.ChatMessageRoleUser || out[0].Content != "rules" {
		t.Fatalf("unexpected messages: %+v", out)
	}
}

func TestToOpenAIMessageSkipsThoughts(t *testing.T) {
	content := &genai.Content{
		Role: genai.RoleModel,
		Parts: []*genai.Part{
			{Text: "internal reasoning", Thought: true},
			{Text: "visible answer"},
		},
	}
	msgs, err := toOpenAIChatCompletionMessage(content)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Role != openai.ChatMessageRoleAssistant || msgs[0].Content != "visible answer" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}
