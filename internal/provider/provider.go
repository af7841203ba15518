// Package provider defines the conversation data model and the streaming
// model client contract used by the agent loop.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// LLMProvider is the interface for streaming model clients.
type LLMProvider interface {
	// ChatStream starts a completion and returns a channel of chunks. The
	// channel is closed after a done or error chunk. A stream is not restartable.
	ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
	// DefaultModel returns the configured default model.
	DefaultModel() string
}

// ChatRequest contains the parameters for a chat completion request.
type ChatRequest struct {
	Messages     []Message
	Tools        []ToolDefinition
	SystemPrompt string
	Model        string
	MaxTokens    int
	Temperature  float64
}

// ChatResponse is the collected form of a stream.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Message is one entry of conversation history. Tool results travel on a
// user message whose ToolResults answer the ToolCalls of the preceding
// assistant message.
type Message struct {
	ID          string       `json:"id"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	// Summary marks a system message produced by context compaction.
	Summary bool `json:"summary,omitempty"`
}

// ToolCall represents a tool call from the LLM.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult answers exactly one ToolCall.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// ToolDefinition defines a tool that can be called by the LLM.
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a function that can be called.
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage contains token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChunkType tags a StreamChunk.
type ChunkType string

const (
	ChunkText    ChunkType = "text"
	ChunkToolUse ChunkType = "tool_use"
	ChunkUsage   ChunkType = "usage"
	ChunkError   ChunkType = "error"
	ChunkDone    ChunkType = "done"
)

// StreamChunk is one element of a model stream.
type StreamChunk struct {
	Type     ChunkType
	Text     string
	ToolCall *ToolCall
	Usage    *Usage
	Err      error
}

// Collect drains a stream into a ChatResponse. An error chunk ends
// collection and is returned.
func Collect(ctx context.Context, p LLMProvider, req *ChatRequest) (*ChatResponse, error) {
	ch, err := p.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	var (
		text strings.Builder
		resp ChatResponse
	)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				resp.Content = text.String()
				return &resp, nil
			}
			switch chunk.Type {
			case ChunkText:
				text.WriteString(chunk.Text)
			case ChunkToolUse:
				if chunk.ToolCall != nil {
					resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
				}
			case ChunkUsage:
				if chunk.Usage != nil {
					resp.Usage = *chunk.Usage
				}
			case ChunkError:
				if chunk.Err == nil {
					return nil, fmt.Errorf("stream error")
				}
				return nil, chunk.Err
			case ChunkDone:
				resp.Content = text.String()
				return &resp, nil
			}
		}
	}
}
