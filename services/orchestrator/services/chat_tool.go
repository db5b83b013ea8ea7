// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/athrael-soju/Snappy-sub002/services/llm"
	"github.com/athrael-soju/Snappy-sub002/services/orchestrator/datatypes"
)

// chatTurnTracer is the OpenTelemetry tracer for ChatTurnService operations.
var chatTurnTracer = otel.Tracer("snappy.orchestrator.services.chat_turn")

// =============================================================================
// Turn Phases
// =============================================================================

// TurnPhase labels where in the tool loop a chat turn currently is. Phases
// appear in trace spans and in UpstreamStreamError so a failure can be
// located without reading the stream transcript.
type TurnPhase string

const (
	PhaseInit               TurnPhase = "init"
	PhaseAwaitingDecision   TurnPhase = "awaiting_decision"
	PhaseExecutingRetrieval TurnPhase = "executing_retrieval"
	PhaseInjectingResult    TurnPhase = "injecting_result"
	PhaseStreaming          TurnPhase = "streaming"
	PhaseDone               TurnPhase = "done"
)

// UpstreamStreamError marks a model provider failure, tagged with the
// phase it happened in. Provider failures are fatal to the turn; only
// retrieval failures are recovered.
type UpstreamStreamError struct {
	Phase TurnPhase
	Err   error
}

func (e *UpstreamStreamError) Error() string {
	return fmt.Sprintf("upstream stream failed during %s: %v", e.Phase, e.Err)
}

func (e *UpstreamStreamError) Unwrap() error { return e.Err }

// =============================================================================
// Turn Events
// =============================================================================

// TurnEvents receives a turn's streamable output in emission order. The
// contract mirrors the wire protocol: when OnKbImages is called at all, it
// is called before the first OnDelta of the turn. A non-nil return from
// either callback aborts the turn.
type TurnEvents interface {
	// OnKbImages announces the documents consulted for this turn.
	OnKbImages(docs []datatypes.RetrievedDocument) error

	// OnDelta delivers one text fragment of the answer.
	OnDelta(delta string) error
}

// TurnResult summarizes a completed turn.
type TurnResult struct {
	// Answer is the full assembled answer text.
	Answer string

	// Documents holds the retrieved documents, nil when the tool did not
	// fire or retrieval failed.
	Documents []datatypes.RetrievedDocument

	// ToolUsed reports whether the model requested document search.
	ToolUsed bool

	// RetrievalFailed reports that the tool fired but the search backend
	// was unreachable; the model was told and answered without context.
	RetrievalFailed bool
}

// TurnRunner is the handler-facing contract for running one chat turn.
type TurnRunner interface {
	Run(ctx context.Context, req *datatypes.ChatRequest, sink TurnEvents) (*TurnResult, error)
}

// Compile-time interface implementation check.
var _ TurnRunner = (*ChatTurnService)(nil)

// =============================================================================
// Tool Definition
// =============================================================================

// documentSearchToolName is the function name offered to the model.
const documentSearchToolName = "document_search"

var documentSearchTool = llm.ToolDefinition{
	Name:        documentSearchToolName,
	Description: "Search the user's document collection for pages relevant to a query. Use this whenever the question may be answered by the uploaded documents.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "Search query describing the information needed"
			}
		},
		"required": ["query"]
	}`),
}

// documentSearchArgs is the parsed shape of the tool call arguments.
type documentSearchArgs struct {
	Query string `json:"query"`
}

// =============================================================================
// ChatTurnService
// =============================================================================

// ChatTurnService runs the two-phase tool loop for one chat turn.
//
// # Description
//
// A turn moves through a fixed phase sequence:
//
//	init -> awaiting_decision -> streaming -> done            (no tool)
//	init -> awaiting_decision -> executing_retrieval
//	     -> injecting_result -> streaming -> done             (tool fired)
//
// In awaiting_decision the model is offered the document_search tool with
// parallel tool calls disabled, so it requests at most one search. The
// decision stream's text is buffered, not forwarded: only once the stream
// ends do we know whether a tool call rode along, and document frames must
// reach the client before any answer text. When no tool fires the buffered
// fragments are replayed to the sink in their original granularity.
//
// When the tool fires, the search runs, the result is injected into the
// conversation, and a second stream (without tools) produces the answer
// live. A failed search is not fatal: the model receives a structured
// failure output and answers from its own knowledge.
//
// Model provider failures in any phase are fatal and surface as
// *UpstreamStreamError.
//
// # Thread Safety
//
// Safe for concurrent use; all per-turn state lives on the stack.
type ChatTurnService struct {
	provider     llm.Provider
	searcher     DocumentSearcher
	newAssembler func() *ContentAssembler
}

// NewChatTurnService creates a ChatTurnService with the provided
// dependencies. Both must be non-nil.
func NewChatTurnService(provider llm.Provider, searcher DocumentSearcher) *ChatTurnService {
	return &ChatTurnService{
		provider:     provider,
		searcher:     searcher,
		newAssembler: NewContentAssembler,
	}
}

// Run executes one chat turn, emitting streamable output to sink.
func (s *ChatTurnService) Run(ctx context.Context, req *datatypes.ChatRequest, sink TurnEvents) (*TurnResult, error) {
	ctx, span := chatTurnTracer.Start(ctx, "ChatTurnService.Run")
	defer span.End()

	span.SetAttributes(
		attribute.Int("k", req.K),
		attribute.Bool("tool_calling_enabled", req.ToolCallingEnabled),
		attribute.String("reasoning_effort", string(req.ReasoningEffort)),
	)

	messages := []datatypes.Message{
		datatypes.TextMessage(datatypes.RoleSystem, systemPrompt(req.Summary)),
		datatypes.TextMessage(datatypes.RoleUser, req.Message),
	}

	if !req.ToolCallingEnabled {
		// Tool loop disabled: a single live stream is the whole turn.
		span.SetAttributes(attribute.String("turn.path", "direct"))
		result, err := s.provider.StreamCompletion(ctx, llm.CompletionRequest{
			Messages:        messages,
			ReasoningEffort: string(req.ReasoningEffort),
		}, sink.OnDelta)
		if err != nil {
			return nil, s.fatal(span, PhaseStreaming, err)
		}
		return &TurnResult{Answer: result.Text}, nil
	}

	// Phase: awaiting_decision. Buffer the stream; see the type comment.
	span.AddEvent("phase", phaseAttr(PhaseAwaitingDecision))
	var buffered []string
	decision, err := s.provider.StreamCompletion(ctx, llm.CompletionRequest{
		Messages:        messages,
		Tools:           []llm.ToolDefinition{documentSearchTool},
		ReasoningEffort: string(req.ReasoningEffort),
	}, func(delta string) error {
		buffered = append(buffered, delta)
		return nil
	})
	if err != nil {
		return nil, s.fatal(span, PhaseAwaitingDecision, err)
	}

	call := pickToolCall(decision.ToolCalls)
	if call == nil {
		// No tool: replay the buffered answer.
		span.SetAttributes(attribute.String("turn.path", "no_tool"))
		span.AddEvent("phase", phaseAttr(PhaseStreaming))
		for _, delta := range buffered {
			if err := sink.OnDelta(delta); err != nil {
				return nil, err
			}
		}
		span.AddEvent("phase", phaseAttr(PhaseDone))
		return &TurnResult{Answer: decision.Text}, nil
	}

	// Phase: executing_retrieval.
	span.SetAttributes(attribute.String("turn.path", "tool"))
	span.AddEvent("phase", phaseAttr(PhaseExecutingRetrieval))
	query := parseSearchQuery(call.Arguments, req.Message)
	docs, searchErr := s.searcher.Search(ctx, query, req.K, req.OCREnabled)

	// Phase: injecting_result.
	span.AddEvent("phase", phaseAttr(PhaseInjectingResult))
	messages = append(messages, datatypes.Message{
		Role:    datatypes.RoleAssistant,
		Content: []datatypes.ContentPart{datatypes.FunctionCallPart(call.ID, call.Name, call.Arguments)},
	})

	turnResult := &TurnResult{ToolUsed: true}
	if searchErr != nil {
		slog.Error("Document search failed, answering without context", "error", searchErr, "query", query)
		span.RecordError(searchErr)
		turnResult.RetrievalFailed = true
		messages = append(messages, datatypes.Message{
			Role:    datatypes.RoleUser,
			Content: []datatypes.ContentPart{datatypes.FunctionCallOutputPart(call.ID, toolFailureOutput(searchErr))},
		})
	} else {
		turnResult.Documents = docs
		if len(docs) > 0 {
			if err := sink.OnKbImages(docs); err != nil {
				return nil, err
			}
		}
		messages = append(messages,
			datatypes.Message{
				Role:    datatypes.RoleUser,
				Content: []datatypes.ContentPart{datatypes.FunctionCallOutputPart(call.ID, toolSuccessOutput(docs))},
			},
			s.contextMessage(ctx, req, docs),
		)
	}

	// Phase: streaming. No tools on the answer call so the model cannot
	// loop back into another search.
	span.AddEvent("phase", phaseAttr(PhaseStreaming))
	answer, err := s.provider.StreamCompletion(ctx, llm.CompletionRequest{
		Messages:        messages,
		ReasoningEffort: string(req.ReasoningEffort),
	}, sink.OnDelta)
	if err != nil {
		return nil, s.fatal(span, PhaseStreaming, err)
	}

	span.AddEvent("phase", phaseAttr(PhaseDone))
	turnResult.Answer = answer.Text
	return turnResult, nil
}

// contextMessage assembles the retrieved documents into one multimodal
// user message: a header naming each document by index and label, page
// images, then extracted text and region crops when the request asked
// for them. The indexed header is what the model cites pages by, so it
// travels with the images even when OCR text is disabled.
func (s *ChatTurnService) contextMessage(ctx context.Context, req *datatypes.ChatRequest, docs []datatypes.RetrievedDocument) datatypes.Message {
	assembler := s.newAssembler()

	header := "Retrieved document pages (" + strconv.Itoa(len(docs)) + " results):"
	if labels := documentIndex(docs); len(labels) > 0 {
		header += "\n" + strings.Join(labels, "\n")
	}
	parts := []datatypes.ContentPart{
		datatypes.TextPart(header),
	}
	parts = append(parts, assembler.BuildImageParts(ctx, docs)...)
	if req.OCREnabled {
		parts = append(parts, assembler.BuildTextParts(ctx, docs)...)
	}
	if req.OCRIncludeImages {
		parts = append(parts, assembler.BuildRegionParts(ctx, docs)...)
	}
	return datatypes.Message{Role: datatypes.RoleUser, Content: parts}
}

// fatal records a provider failure on the span and wraps it with its phase.
func (s *ChatTurnService) fatal(span trace.Span, phase TurnPhase, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(phase))
	return &UpstreamStreamError{Phase: phase, Err: err}
}

// phaseAttr tags a span event with the turn phase it marks.
func phaseAttr(phase TurnPhase) trace.EventOption {
	return trace.WithAttributes(attribute.String("phase", string(phase)))
}

// pickToolCall selects the document search call from the model's requests.
// Parallel calls are disabled upstream, so at most one is expected; any
// call with an unknown name is ignored.
func pickToolCall(calls []llm.ToolCall) *llm.ToolCall {
	for i := range calls {
		if calls[i].Name == documentSearchToolName {
			return &calls[i]
		}
	}
	return nil
}

// parseSearchQuery extracts the query from tool call arguments, falling
// back to the raw user message when the arguments do not parse or carry
// no query. The model occasionally emits malformed JSON under load; the
// user's own words are always a workable query.
func parseSearchQuery(arguments, fallback string) string {
	var args documentSearchArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil || args.Query == "" {
		return fallback
	}
	return args.Query
}

// documentIndex lists each retrieved document as "[n] label", the same
// citation form the context message header uses.
func documentIndex(docs []datatypes.RetrievedDocument) []string {
	if len(docs) == 0 {
		return nil
	}
	out := make([]string, len(docs))
	for i := range docs {
		out[i] = fmt.Sprintf("[%d] %s", i+1, docs[i].DisplayLabel(i))
	}
	return out
}

// toolSuccessOutput is the structured tool result the model reads before
// the document content itself arrives in the following message. It stays
// label-only so the tool channel never carries page content.
func toolSuccessOutput(docs []datatypes.RetrievedDocument) string {
	out, _ := json.Marshal(map[string]any{
		"success":   true,
		"count":     len(docs),
		"documents": documentIndex(docs),
	})
	return string(out)
}

// toolFailureOutput tells the model the search backend was unavailable.
func toolFailureOutput(err error) string {
	out, _ := json.Marshal(map[string]any{"success": false, "error": err.Error()})
	return string(out)
}

// systemPrompt builds the turn instructions. SYSTEM_PROMPT overrides the
// default; the summary preference appends a style instruction.
func systemPrompt(summary datatypes.SummaryPreference) string {
	prompt := os.Getenv("SYSTEM_PROMPT")
	if prompt == "" {
		prompt = "You are a document analysis assistant. Answer using the retrieved document pages when they are provided, and cite which page you drew each fact from. If the documents do not contain the answer, say so plainly."
	}
	switch summary {
	case datatypes.SummaryConcise:
		prompt += " Keep the answer brief, a short paragraph at most."
	case datatypes.SummaryDetailed:
		prompt += " Give a thorough answer with all relevant detail from the documents."
	}
	return prompt
}
