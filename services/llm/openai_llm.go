package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/athrael-soju/Snappy-sub002/services/orchestrator/datatypes"
)

type OpenAIProvider struct {
	client *openai.Client
	model  string
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider builds a provider from environment configuration.
// The API key comes from OPENAI_API_KEY or, failing that, the container
// secret file; construction fails when neither is present so a
// misconfigured deployment dies at startup instead of on the first chat.
func NewOpenAIProvider() (*OpenAIProvider, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI provider", "model", model)
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// StreamCompletion implements the Provider interface.
//
// Text deltas are forwarded to onDelta as they arrive; tool call argument
// fragments are accumulated internally and returned assembled on the
// StreamResult. Parallel tool calls are always disabled when tools are
// attached, so the result carries at most one call.
func (o *OpenAIProvider) StreamCompletion(ctx context.Context, req CompletionRequest, onDelta DeltaHandler) (*StreamResult, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}
	slog.Debug("Starting OpenAI completion stream", "model", model, "tools", len(req.Tools))

	ccr := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertMessages(req.Messages),
		Stream:   true,
	}
	if req.ReasoningEffort != "" {
		ccr.ReasoningEffort = req.ReasoningEffort
	}
	if len(req.Tools) > 0 {
		ccr.Tools = convertTools(req.Tools)
		ccr.ParallelToolCalls = false
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, ccr)
	if err != nil {
		slog.Error("OpenAI stream creation failed", "error", err)
		return nil, fmt.Errorf("OpenAI stream creation failed: %w", err)
	}
	defer stream.Close()

	var (
		text      strings.Builder
		acc       toolCallAccumulator
		final     StreamResult
		unhandled int
	)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			slog.Error("OpenAI stream receive failed", "error", err)
			return nil, fmt.Errorf("OpenAI stream receive failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			// Usage and keep-alive chunks carry no choice at all.
			unhandled++
			continue
		}
		choice := resp.Choices[0]
		if !chunkCarriesSignal(choice) {
			// Role announcements, refusal fields, and any chunk kinds the
			// API grows later are skipped, not errors; they are counted so
			// the final log shows how much of the stream went unused.
			unhandled++
			continue
		}
		if choice.FinishReason != "" {
			final.FinishReason = string(choice.FinishReason)
		}
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			if onDelta != nil {
				if err := onDelta(choice.Delta.Content); err != nil {
					return nil, err
				}
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			acc.add(tc)
		}
	}

	final.Text = text.String()
	final.ToolCalls = acc.calls()
	slog.Debug("OpenAI stream finished",
		"finish_reason", final.FinishReason,
		"text_len", len(final.Text),
		"tool_calls", len(final.ToolCalls),
		"unhandled_chunks", unhandled)
	return &final, nil
}

// chunkCarriesSignal reports whether a stream choice contributes text, a
// tool call fragment, or a finish reason to the turn.
func chunkCarriesSignal(choice openai.ChatCompletionStreamChoice) bool {
	return choice.FinishReason != "" ||
		choice.Delta.Content != "" ||
		len(choice.Delta.ToolCalls) > 0
}

// toolCallAccumulator reassembles tool calls from streamed fragments. The
// API sends the id and name once, then argument text spread over many
// chunks, all correlated by the call index.
type toolCallAccumulator struct {
	byIndex map[int]*ToolCall
	order   []int
}

func (a *toolCallAccumulator) add(tc openai.ToolCall) {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}
	if a.byIndex == nil {
		a.byIndex = make(map[int]*ToolCall)
	}
	call, ok := a.byIndex[idx]
	if !ok {
		call = &ToolCall{}
		a.byIndex[idx] = call
		a.order = append(a.order, idx)
	}
	if tc.ID != "" {
		call.ID = tc.ID
	}
	if tc.Function.Name != "" {
		call.Name = tc.Function.Name
	}
	call.Arguments += tc.Function.Arguments
}

func (a *toolCallAccumulator) calls() []ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		out = append(out, *a.byIndex[idx])
	}
	return out
}

// convertMessages maps the internal multimodal message model onto the
// OpenAI chat wire shape. Plain text messages stay in the simple Content
// field; anything with images uses MultiContent; function call and output
// parts become tool call messages.
func convertMessages(messages []datatypes.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, convertMessage(m))
	}
	return out
}

func convertMessage(m datatypes.Message) openai.ChatCompletionMessage {
	var (
		hasImage bool
		fnCall   *datatypes.ContentPart
		fnOutput *datatypes.ContentPart
	)
	for i := range m.Content {
		switch m.Content[i].Type {
		case datatypes.ContentPartImage:
			hasImage = true
		case datatypes.ContentPartFunctionCall:
			fnCall = &m.Content[i]
		case datatypes.ContentPartFunctionCallOutput:
			fnOutput = &m.Content[i]
		}
	}

	if fnOutput != nil {
		return openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			ToolCallID: fnOutput.CallID,
			Content:    fnOutput.Output,
		}
	}
	if fnCall != nil {
		return openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleAssistant,
			ToolCalls: []openai.ToolCall{{
				ID:   fnCall.CallID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      fnCall.Name,
					Arguments: fnCall.Arguments,
				},
			}},
		}
	}
	if !hasImage {
		return openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.PlainText(),
		}
	}

	parts := make([]openai.ChatMessagePart, 0, len(m.Content))
	for _, p := range m.Content {
		switch p.Type {
		case datatypes.ContentPartText:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: p.Text,
			})
		case datatypes.ContentPartImage:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    p.ImageURL,
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
	}
	return openai.ChatCompletionMessage{
		Role:         string(m.Role),
		MultiContent: parts,
	}
}

func convertTools(tools []ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
