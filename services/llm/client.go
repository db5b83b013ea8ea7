package llm

import (
	"context"
	"encoding/json"

	"github.com/athrael-soju/Snappy-sub002/services/orchestrator/datatypes"
)

// ToolDefinition describes one function the model may call.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a fully-assembled function call requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// CompletionRequest carries one model invocation. Model overrides the
// provider default when non-empty.
type CompletionRequest struct {
	Model           string
	Messages        []datatypes.Message
	Tools           []ToolDefinition
	ReasoningEffort string
}

// StreamResult is what a finished stream produced: the assembled text and
// any tool calls the model requested. With parallel tool calls disabled a
// response carries at most one tool call, but the slice shape is kept so
// callers do not bake that assumption in.
type StreamResult struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
}

// DeltaHandler receives each text fragment as it arrives. Returning an
// error aborts the stream and surfaces the error from StreamCompletion.
type DeltaHandler func(delta string) error

// Provider is the standard interface for any streaming chat model backend.
type Provider interface {
	StreamCompletion(ctx context.Context, req CompletionRequest, onDelta DeltaHandler) (*StreamResult, error)
}
