package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/nexus/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations of this interface handle the specifics of communicating with
// different LLM APIs while presenting a unified streaming interface to the loop.
//
// Implementations must be safe for concurrent use. Multiple goroutines may
// call Complete() simultaneously for different turns.
//
// See Also:
//   - providers.AnthropicProvider for the Anthropic Claude implementation
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool

	// CountTokens estimates the token cost of a request, for context-budget
	// decisions (e.g. the summarization middleware's compaction threshold).
	CountTokens(req *CompletionRequest) int
}

// CompletionRequest contains all parameters for an LLM completion request:
// the conversation history, system prompt, available tools, and generation
// parameters.
type CompletionRequest struct {
	// Model specifies which LLM model to use. If empty, the provider's
	// default model is used.
	Model string `json:"model"`

	// System is the system prompt that sets the assistant's behavior.
	System string `json:"system,omitempty"`

	// Messages contains the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools defines available tools/functions the LLM can request to execute.
	Tools []Tool `json:"tools,omitempty"`

	// MaxTokens limits the maximum length of the generated response. If 0 or
	// negative, the provider's default is used.
	MaxTokens int `json:"max_tokens,omitempty"`

	// EnableThinking enables extended thinking mode for supported models.
	EnableThinking bool `json:"enable_thinking,omitempty"`

	// ThinkingBudgetTokens sets the token budget for extended thinking. Only
	// used when EnableThinking is true.
	ThinkingBudgetTokens int `json:"thinking_budget_tokens,omitempty"`
}

// CompletionMessage represents a single message in a conversation. Role
// values are "user", "assistant", "tool" — the same three as models.Role.
type CompletionMessage struct {
	Role string `json:"role"`

	// Content is the text content of the message (may be empty for
	// tool-call-only assistant messages).
	Content string `json:"content,omitempty"`

	// ToolCalls contains any tool execution requests from the assistant.
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// ToolResults reports prior tool output back to the model. Each entry
	// corresponds to one role=="tool" message in the thread.
	ToolResults []ToolResultMessage `json:"tool_results,omitempty"`
}

// ToolResultMessage is the wire shape of a tool-role message handed back to
// the provider, distinct from the agent.ToolResult a Tool.Execute returns
// (that one lacks a call id; the loop attaches it once dispatch returns).
type ToolResultMessage struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// CompletionChunk represents a single chunk in a streaming LLM response.
// Chunks are delivered through channels as the LLM generates its response:
// partial text, a completed tool call, or a terminal Done/Error.
type CompletionChunk struct {
	// Text contains partial response text (streamed incrementally).
	Text string `json:"text,omitempty"`

	// ToolCall contains a complete tool execution request, emitted once the
	// provider finishes streaming that block's arguments.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done is true when the stream has completed successfully.
	Done bool `json:"done,omitempty"`

	// Error contains any error that occurred (streaming is terminated).
	Error error `json:"-"`

	// Thinking contains reasoning text when extended thinking is enabled.
	Thinking string `json:"thinking,omitempty"`

	ThinkingStart bool `json:"thinking_start,omitempty"`
	ThinkingEnd   bool `json:"thinking_end,omitempty"`

	// InputTokens/OutputTokens are only populated on the final chunk.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes an available LLM model and its capabilities.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_size"`
}

// Tool defines the interface for executable agent tools: the Agent Factory
// hands a provider a []Tool to declare for function calling, and the loop
// dispatches a matching tool call back through whichever Tool produced it
// (in practice, through the toolset.Set that owns all of them).
type Tool interface {
	// Name returns the tool name for LLM function calling.
	Name() string

	// Description returns a natural language description of what the tool does.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult contains the output from a tool execution. Errors are also
// communicated via ToolResult with IsError=true, so the LLM sees and can
// react to a failure rather than the turn aborting.
type ToolResult struct {
	Content   string     `json:"content"`
	IsError   bool       `json:"is_error,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Artifact represents a file or media produced by a tool execution.
type Artifact struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}
