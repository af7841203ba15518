package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIProvider_DefaultModel(t *testing.T) {
	p := NewOpenAIProvider("test-key", "", "")
	if p.DefaultModel() != "anthropic/claude-sonnet-4-5" {
		t.Errorf("expected default model anthropic/claude-sonnet-4-5, got %s", p.DefaultModel())
	}

	p = NewOpenAIProvider("test-key", "", "openai/gpt-4")
	if p.DefaultModel() != "openai/gpt-4" {
		t.Errorf("expected model openai/gpt-4, got %s", p.DefaultModel())
	}
}

func sseServer(t *testing.T, events []string, capture *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, capture)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
		}
	}))
}

func TestOpenAIProvider_StreamText(t *testing.T) {
	server := sseServer(t, []string{
		`{"choices":[{"delta":{"content":"Hello, "}}]}`,
		`{"choices":[{"delta":{"content":"world!"},"finish_reason":"stop"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`,
		`[DONE]`,
	}, nil)
	defer server.Close()

	p := NewOpenAIProvider("test-key", server.URL, "test-model")
	resp, err := Collect(context.Background(), p, &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "Hello"}},
	})
	if err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	if resp.Content != "Hello, world!" {
		t.Errorf("expected content 'Hello, world!', got %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("expected total_tokens 15, got %d", resp.Usage.TotalTokens)
	}
}

func TestOpenAIProvider_StreamToolCallsInIndexOrder(t *testing.T) {
	server := sseServer(t, []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","function":{"name":"list_dir","arguments":""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"read_file","arguments":"{\"path\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"a.txt\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`[DONE]`,
	}, nil)
	defer server.Close()

	p := NewOpenAIProvider("k", server.URL, "m")
	resp, err := Collect(context.Background(), p, &ChatRequest{})
	if err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].ID != "call_a" || resp.ToolCalls[1].ID != "call_b" {
		t.Fatalf("unexpected order: %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["path"] != "a.txt" {
		t.Fatalf("expected merged arguments, got %+v", resp.ToolCalls[0].Arguments)
	}
	if resp.ToolCalls[1].Arguments == nil {
		t.Fatal("expected empty argument map, got nil")
	}
}

func TestOpenAIProvider_StreamErrorEvent(t *testing.T) {
	server := sseServer(t, []string{
		`{"choices":[{"delta":{"content":"partial"}}]}`,
		`{"error":{"message":"overloaded"}}`,
	}, nil)
	defer server.Close()

	p := NewOpenAIProvider("k", server.URL, "m")
	ch, err := p.ChatStream(context.Background(), &ChatRequest{})
	if err != nil {
		t.Fatalf("ChatStream() error: %v", err)
	}
	var types []ChunkType
	for c := range ch {
		types = append(types, c.Type)
	}
	if len(types) != 2 || types[0] != ChunkText || types[1] != ChunkError {
		t.Fatalf("unexpected chunk sequence: %v", types)
	}
}

func TestOpenAIProvider_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("k", server.URL, "m")
	if _, err := p.ChatStream(context.Background(), &ChatRequest{}); err == nil {
		t.Fatal("expected error for 401")
	}
}

func TestConvertMessagesFansOutToolResults(t *testing.T) {
	var captured map[string]any
	server := sseServer(t, []string{`[DONE]`}, &captured)
	defer server.Close()

	p := NewOpenAIProvider("k", server.URL, "m")
	_, err := Collect(context.Background(), p, &ChatRequest{
		SystemPrompt: "be brief",
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "a"}, {ID: "c2", Name: "b"}}},
			{Role: RoleUser, ToolResults: []ToolResult{{ToolCallID: "c1", Content: "x"}, {ToolCallID: "c2", Content: "y"}}},
		},
	})
	if err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	msgs, _ := captured["messages"].([]any)
	if len(msgs) != 5 {
		t.Fatalf("expected 5 wire messages, got %d", len(msgs))
	}
	last := msgs[4].(map[string]any)
	if last["role"] != "tool" || last["tool_call_id"] != "c2" {
		t.Fatalf("unexpected tool message: %+v", last)
	}
	if captured["stream"] != true {
		t.Fatalf("expected stream=true, got %v", captured["stream"])
	}
}
