package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// OpenAIProvider implements LLMProvider against any OpenAI-compatible
// streaming chat completions endpoint (OpenAI, OpenRouter, local gateways).
type OpenAIProvider struct {
	apiKey       string
	apiBase      string
	defaultModel string
	httpClient   *http.Client
}

// NewOpenAIProvider creates a new OpenAI-compatible provider.
func NewOpenAIProvider(apiKey, apiBase, defaultModel string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if defaultModel == "" {
		defaultModel = "anthropic/claude-sonnet-4-5"
	}
	return &OpenAIProvider{
		apiKey:       apiKey,
		apiBase:      strings.TrimSuffix(apiBase, "/"),
		defaultModel: defaultModel,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

// DefaultModel returns the configured default model.
func (p *OpenAIProvider) DefaultModel() string {
	return p.defaultModel
}

// ChatStream sends a streaming completion request. Tool call fragments are
// buffered per index and emitted as whole tool_use chunks when the choice
// finishes.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body := map[string]any{
		"model":          model,
		"messages":       p.convertMessages(req.SystemPrompt, req.Messages),
		"stream":         true,
		"stream_options": map[string]any{"include_usage": true},
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
		body["tool_choice"] = "auto"
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	out := make(chan StreamChunk, 16)
	go p.readStream(ctx, resp.Body, out)
	return out, nil
}

func (p *OpenAIProvider) readStream(ctx context.Context, body io.ReadCloser, out chan<- StreamChunk) {
	defer close(out)
	defer body.Close()

	send := func(c StreamChunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	pending := map[int]*partialToolCall{}
	flushTools := func() bool {
		idx := make([]int, 0, len(pending))
		for i := range pending {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		for _, i := range idx {
			tc := pending[i].build()
			if !send(StreamChunk{Type: ChunkToolUse, ToolCall: &tc}) {
				return false
			}
		}
		pending = map[int]*partialToolCall{}
		return true
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			if flushTools() {
				send(StreamChunk{Type: ChunkDone})
			}
			return
		}

		var ev openAIStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			send(StreamChunk{Type: ChunkError, Err: fmt.Errorf("parse stream event: %w", err)})
			return
		}
		if ev.Error != nil {
			send(StreamChunk{Type: ChunkError, Err: fmt.Errorf("API error: %s", ev.Error.Message)})
			return
		}
		if ev.Usage != nil {
			u := Usage{
				PromptTokens:     ev.Usage.PromptTokens,
				CompletionTokens: ev.Usage.CompletionTokens,
				TotalTokens:      ev.Usage.TotalTokens,
			}
			if !send(StreamChunk{Type: ChunkUsage, Usage: &u}) {
				return
			}
		}
		for _, choice := range ev.Choices {
			if choice.Delta.Content != "" {
				if !send(StreamChunk{Type: ChunkText, Text: choice.Delta.Content}) {
					return
				}
			}
			for _, d := range choice.Delta.ToolCalls {
				pt, ok := pending[d.Index]
				if !ok {
					pt = &partialToolCall{}
					pending[d.Index] = pt
				}
				if d.ID != "" {
					pt.id = d.ID
				}
				if d.Function.Name != "" {
					pt.name = d.Function.Name
				}
				pt.args.WriteString(d.Function.Arguments)
			}
			if choice.FinishReason != "" && !flushTools() {
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		send(StreamChunk{Type: ChunkError, Err: fmt.Errorf("read stream: %w", err)})
		return
	}
	if flushTools() {
		send(StreamChunk{Type: ChunkDone})
	}
}

type partialToolCall struct {
	id   string
	name string
	args strings.Builder
}

func (pt *partialToolCall) build() ToolCall {
	var args map[string]any
	if raw := pt.args.String(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			args = map[string]any{"raw": raw}
		}
	}
	if args == nil {
		args = map[string]any{}
	}
	return ToolCall{ID: pt.id, Name: pt.name, Arguments: args}
}

// convertMessages converts history to the OpenAI wire format. Tool results
// fan out into one "tool" message per result.
func (p *OpenAIProvider) convertMessages(systemPrompt string, messages []Message) []map[string]any {
	result := make([]map[string]any, 0, len(messages)+1)
	if systemPrompt != "" {
		result = append(result, map[string]any{"role": RoleSystem, "content": systemPrompt})
	}
	for _, msg := range messages {
		if len(msg.ToolResults) > 0 {
			for _, tr := range msg.ToolResults {
				result = append(result, map[string]any{
					"role":         "tool",
					"tool_call_id": tr.ToolCallID,
					"content":      tr.Content,
				})
			}
			if strings.TrimSpace(msg.Content) != "" {
				result = append(result, map[string]any{"role": RoleUser, "content": msg.Content})
			}
			continue
		}
		m := map[string]any{
			"role":    msg.Role,
			"content": msg.Content,
		}
		if len(msg.ToolCalls) > 0 {
			toolCalls := make([]map[string]any, len(msg.ToolCalls))
			for j, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				toolCalls[j] = map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": string(args),
					},
				}
			}
			m["tool_calls"] = toolCalls
		}
		result = append(result, m)
	}
	return result
}

type openAIStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}
