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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athrael-soju/Snappy-sub002/services/llm"
	"github.com/athrael-soju/Snappy-sub002/services/orchestrator/datatypes"
)

// =============================================================================
// Mocks
// =============================================================================

// scriptedCall is one canned provider response: deltas streamed to the
// handler, then the final result or error.
type scriptedCall struct {
	deltas []string
	result *llm.StreamResult
	err    error
}

// mockProvider implements llm.Provider, replaying scripted calls in order
// and recording each request for verification.
type mockProvider struct {
	script   []scriptedCall
	requests []llm.CompletionRequest
}

func (m *mockProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest, onDelta llm.DeltaHandler) (*llm.StreamResult, error) {
	call := m.script[len(m.requests)]
	m.requests = append(m.requests, req)
	for _, d := range call.deltas {
		if onDelta != nil {
			if err := onDelta(d); err != nil {
				return nil, err
			}
		}
	}
	return call.result, call.err
}

// mockSearcher implements DocumentSearcher with a fixed result.
type mockSearcher struct {
	docs      []datatypes.RetrievedDocument
	err       error
	callCount int
	lastQuery string
	lastK     int
	lastOCR   bool
}

func (m *mockSearcher) Search(ctx context.Context, query string, k int, includeOCR bool) ([]datatypes.RetrievedDocument, error) {
	m.callCount++
	m.lastQuery = query
	m.lastK = k
	m.lastOCR = includeOCR
	return m.docs, m.err
}

// sinkEvent records one emission for order verification.
type sinkEvent struct {
	kind  string // "kb.images" or "delta"
	delta string
	docs  int
}

// recordingSink implements TurnEvents, capturing emissions in order.
type recordingSink struct {
	events   []sinkEvent
	deltaErr error
}

func (r *recordingSink) OnKbImages(docs []datatypes.RetrievedDocument) error {
	r.events = append(r.events, sinkEvent{kind: "kb.images", docs: len(docs)})
	return nil
}

func (r *recordingSink) OnDelta(delta string) error {
	if r.deltaErr != nil {
		return r.deltaErr
	}
	r.events = append(r.events, sinkEvent{kind: "delta", delta: delta})
	return nil
}

func newTurnService(provider llm.Provider, searcher DocumentSearcher, client HTTPClient) *ChatTurnService {
	svc := NewChatTurnService(provider, searcher)
	svc.newAssembler = func() *ContentAssembler { return NewContentAssemblerWithClient(client) }
	return svc
}

func toolCallFor(query string) []llm.ToolCall {
	args, _ := json.Marshal(map[string]string{"query": query})
	return []llm.ToolCall{{ID: "call_1", Name: documentSearchToolName, Arguments: string(args)}}
}

func baseRequest() *datatypes.ChatRequest {
	return &datatypes.ChatRequest{
		Message:            "what was Q3 revenue?",
		K:                  5,
		ToolCallingEnabled: true,
		ReasoningEffort:    datatypes.ReasoningEffortMinimal,
	}
}

// =============================================================================
// Tool Path Tests
// =============================================================================

func TestRun_ToolPath_KbImagesBeforeFirstDelta(t *testing.T) {
	provider := &mockProvider{script: []scriptedCall{
		{result: &llm.StreamResult{ToolCalls: toolCallFor("Q3 revenue")}},
		{deltas: []string{"Revenue ", "was $4M."}, result: &llm.StreamResult{Text: "Revenue was $4M."}},
	}}
	searcher := &mockSearcher{docs: []datatypes.RetrievedDocument{
		{Label: strPtr("report.pdf - page 7")},
	}}
	sink := &recordingSink{}

	result, err := newTurnService(provider, searcher, newMockAssetClient()).
		Run(context.Background(), baseRequest(), sink)

	require.NoError(t, err)
	assert.True(t, result.ToolUsed)
	assert.Equal(t, "Revenue was $4M.", result.Answer)
	require.Len(t, result.Documents, 1)

	require.NotEmpty(t, sink.events)
	assert.Equal(t, "kb.images", sink.events[0].kind,
		"document frame must precede every answer delta")
	assert.Equal(t, 1, sink.events[0].docs)
	assert.Equal(t, "delta", sink.events[1].kind)
	assert.Equal(t, "Revenue ", sink.events[1].delta)
}

func TestRun_ToolPath_SearchUsesModelQueryAndRequestK(t *testing.T) {
	provider := &mockProvider{script: []scriptedCall{
		{result: &llm.StreamResult{ToolCalls: toolCallFor("refined revenue query")}},
		{result: &llm.StreamResult{Text: "done"}},
	}}
	searcher := &mockSearcher{}

	req := baseRequest()
	req.K = 9
	req.OCREnabled = true
	_, err := newTurnService(provider, searcher, newMockAssetClient()).
		Run(context.Background(), req, &recordingSink{})

	require.NoError(t, err)
	assert.Equal(t, 1, searcher.callCount)
	assert.Equal(t, "refined revenue query", searcher.lastQuery)
	assert.Equal(t, 9, searcher.lastK)
	assert.True(t, searcher.lastOCR)
}

func TestRun_ToolPath_MalformedArgumentsFallBackToUserMessage(t *testing.T) {
	provider := &mockProvider{script: []scriptedCall{
		{result: &llm.StreamResult{ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: documentSearchToolName, Arguments: `{"query": unterminated`},
		}}},
		{result: &llm.StreamResult{Text: "done"}},
	}}
	searcher := &mockSearcher{}

	_, err := newTurnService(provider, searcher, newMockAssetClient()).
		Run(context.Background(), baseRequest(), &recordingSink{})

	require.NoError(t, err)
	assert.Equal(t, "what was Q3 revenue?", searcher.lastQuery)
}

func TestRun_ToolPath_SecondCallCarriesNoTools(t *testing.T) {
	provider := &mockProvider{script: []scriptedCall{
		{result: &llm.StreamResult{ToolCalls: toolCallFor("q")}},
		{result: &llm.StreamResult{Text: "done"}},
	}}

	_, err := newTurnService(provider, &mockSearcher{}, newMockAssetClient()).
		Run(context.Background(), baseRequest(), &recordingSink{})

	require.NoError(t, err)
	require.Len(t, provider.requests, 2)
	assert.NotEmpty(t, provider.requests[0].Tools, "decision call offers the search tool")
	assert.Empty(t, provider.requests[1].Tools, "answer call must not offer tools")
}

func TestRun_ToolPath_ToolOutputNamesDocumentsByIndexAndLabel(t *testing.T) {
	provider := &mockProvider{script: []scriptedCall{
		{result: &llm.StreamResult{ToolCalls: toolCallFor("q")}},
		{result: &llm.StreamResult{Text: "done"}},
	}}
	searcher := &mockSearcher{docs: []datatypes.RetrievedDocument{
		{Label: strPtr("report.pdf - page 7")},
		{}, // unlabeled, falls back to its position
	}}

	_, err := newTurnService(provider, searcher, newMockAssetClient()).
		Run(context.Background(), baseRequest(), &recordingSink{})

	require.NoError(t, err)
	require.Len(t, provider.requests, 2)

	// The tool output carries label-only summaries, never page content.
	var toolOutput string
	for _, msg := range provider.requests[1].Messages {
		for _, part := range msg.Content {
			if part.Type == datatypes.ContentPartFunctionCallOutput {
				toolOutput = part.Output
			}
		}
	}
	var parsed struct {
		Success   bool     `json:"success"`
		Count     int      `json:"count"`
		Documents []string `json:"documents"`
	}
	require.NoError(t, json.Unmarshal([]byte(toolOutput), &parsed))
	assert.True(t, parsed.Success)
	assert.Equal(t, 2, parsed.Count)
	assert.Equal(t, []string{"[1] report.pdf - page 7", "[2] Document 2"}, parsed.Documents)
}

func TestRun_ToolPath_ContextHeaderNamesDocuments(t *testing.T) {
	provider := &mockProvider{script: []scriptedCall{
		{result: &llm.StreamResult{ToolCalls: toolCallFor("q")}},
		{result: &llm.StreamResult{Text: "done"}},
	}}
	searcher := &mockSearcher{docs: []datatypes.RetrievedDocument{
		{Label: strPtr("report.pdf - page 7")},
		{Label: strPtr("report.pdf - page 9")},
	}}

	// OCR disabled: the header is then the only place labels can reach
	// the model from.
	req := baseRequest()
	req.OCREnabled = false
	_, err := newTurnService(provider, searcher, newMockAssetClient()).
		Run(context.Background(), req, &recordingSink{})

	require.NoError(t, err)
	require.Len(t, provider.requests, 2)

	messages := provider.requests[1].Messages
	header := messages[len(messages)-1].Content[0]
	require.Equal(t, datatypes.ContentPartText, header.Type)
	assert.Contains(t, header.Text, "(2 results)")
	assert.Contains(t, header.Text, "[1] report.pdf - page 7")
	assert.Contains(t, header.Text, "[2] report.pdf - page 9")
}

func TestRun_ToolPath_EmptyResultEmitsNoDocumentFrame(t *testing.T) {
	provider := &mockProvider{script: []scriptedCall{
		{result: &llm.StreamResult{ToolCalls: toolCallFor("q")}},
		{deltas: []string{"nothing found"}, result: &llm.StreamResult{Text: "nothing found"}},
	}}
	searcher := &mockSearcher{} // succeeds with zero documents
	sink := &recordingSink{}

	result, err := newTurnService(provider, searcher, newMockAssetClient()).
		Run(context.Background(), baseRequest(), sink)

	require.NoError(t, err)
	assert.True(t, result.ToolUsed)
	assert.False(t, result.RetrievalFailed)

	for _, ev := range sink.events {
		assert.NotEqual(t, "kb.images", ev.kind,
			"an empty search must not produce a document frame")
	}
}

func TestRun_RetrievalFailureIsRecovered(t *testing.T) {
	provider := &mockProvider{script: []scriptedCall{
		{result: &llm.StreamResult{ToolCalls: toolCallFor("q")}},
		{deltas: []string{"From general knowledge..."}, result: &llm.StreamResult{Text: "From general knowledge..."}},
	}}
	searcher := &mockSearcher{err: errors.New("connection refused")}
	sink := &recordingSink{}

	result, err := newTurnService(provider, searcher, newMockAssetClient()).
		Run(context.Background(), baseRequest(), sink)

	require.NoError(t, err, "a failed search must not fail the turn")
	assert.True(t, result.ToolUsed)
	assert.True(t, result.RetrievalFailed)
	assert.Nil(t, result.Documents)

	// No document frame when retrieval failed.
	for _, ev := range sink.events {
		assert.NotEqual(t, "kb.images", ev.kind)
	}

	// The model must have been told via a structured failure output.
	require.Len(t, provider.requests, 2)
	var failureOutput string
	for _, msg := range provider.requests[1].Messages {
		for _, part := range msg.Content {
			if part.Type == datatypes.ContentPartFunctionCallOutput {
				failureOutput = part.Output
			}
		}
	}
	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(failureOutput), &parsed))
	assert.Equal(t, false, parsed["success"])
	assert.Contains(t, parsed["error"], "connection refused")
}

// =============================================================================
// No-Tool Path Tests
// =============================================================================

func TestRun_NoToolPath_ReplaysBufferedDeltas(t *testing.T) {
	provider := &mockProvider{script: []scriptedCall{
		{deltas: []string{"Hello", " there"}, result: &llm.StreamResult{Text: "Hello there"}},
	}}
	searcher := &mockSearcher{}
	sink := &recordingSink{}

	result, err := newTurnService(provider, searcher, newMockAssetClient()).
		Run(context.Background(), baseRequest(), sink)

	require.NoError(t, err)
	assert.False(t, result.ToolUsed)
	assert.Equal(t, "Hello there", result.Answer)
	assert.Zero(t, searcher.callCount)

	require.Len(t, sink.events, 2)
	assert.Equal(t, "Hello", sink.events[0].delta)
	assert.Equal(t, " there", sink.events[1].delta)
}

func TestRun_ToolCallingDisabled_SingleLiveStream(t *testing.T) {
	provider := &mockProvider{script: []scriptedCall{
		{deltas: []string{"direct"}, result: &llm.StreamResult{Text: "direct"}},
	}}
	searcher := &mockSearcher{}

	req := baseRequest()
	req.ToolCallingEnabled = false
	sink := &recordingSink{}
	result, err := newTurnService(provider, searcher, newMockAssetClient()).
		Run(context.Background(), req, sink)

	require.NoError(t, err)
	assert.Equal(t, "direct", result.Answer)
	require.Len(t, provider.requests, 1)
	assert.Empty(t, provider.requests[0].Tools)
	assert.Zero(t, searcher.callCount)
}

// =============================================================================
// Failure Tests
// =============================================================================

func TestRun_ProviderFailureIsFatal(t *testing.T) {
	provider := &mockProvider{script: []scriptedCall{
		{err: errors.New("upstream 500")},
	}}

	_, err := newTurnService(provider, &mockSearcher{}, newMockAssetClient()).
		Run(context.Background(), baseRequest(), &recordingSink{})

	require.Error(t, err)
	var use *UpstreamStreamError
	require.ErrorAs(t, err, &use)
	assert.Equal(t, PhaseAwaitingDecision, use.Phase)
}

func TestRun_ProviderFailureDuringAnswerStream(t *testing.T) {
	provider := &mockProvider{script: []scriptedCall{
		{result: &llm.StreamResult{ToolCalls: toolCallFor("q")}},
		{deltas: []string{"partial "}, err: errors.New("stream cut")},
	}}

	_, err := newTurnService(provider, &mockSearcher{}, newMockAssetClient()).
		Run(context.Background(), baseRequest(), &recordingSink{})

	require.Error(t, err)
	var use *UpstreamStreamError
	require.ErrorAs(t, err, &use)
	assert.Equal(t, PhaseStreaming, use.Phase)
}

func TestRun_SinkErrorAbortsTurn(t *testing.T) {
	provider := &mockProvider{script: []scriptedCall{
		{deltas: []string{"Hello"}, result: &llm.StreamResult{Text: "Hello"}},
	}}
	sink := &recordingSink{deltaErr: errors.New("client went away")}

	_, err := newTurnService(provider, &mockSearcher{}, newMockAssetClient()).
		Run(context.Background(), baseRequest(), sink)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "client went away")
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestParseSearchQuery(t *testing.T) {
	assert.Equal(t, "llamas", parseSearchQuery(`{"query": "llamas"}`, "fallback"))
	assert.Equal(t, "fallback", parseSearchQuery(`{}`, "fallback"))
	assert.Equal(t, "fallback", parseSearchQuery(`not json`, "fallback"))
	assert.Equal(t, "fallback", parseSearchQuery(``, "fallback"))
}

func TestPickToolCall(t *testing.T) {
	assert.Nil(t, pickToolCall(nil))
	assert.Nil(t, pickToolCall([]llm.ToolCall{{Name: "unknown_tool"}}))

	call := pickToolCall([]llm.ToolCall{
		{Name: "unknown_tool"},
		{ID: "c2", Name: documentSearchToolName},
	})
	require.NotNil(t, call)
	assert.Equal(t, "c2", call.ID)
}

func TestSystemPrompt_SummaryPreference(t *testing.T) {
	t.Setenv("SYSTEM_PROMPT", "Base prompt.")

	assert.Equal(t, "Base prompt.", systemPrompt(""))
	assert.Contains(t, systemPrompt(datatypes.SummaryConcise), "brief")
	assert.Contains(t, systemPrompt(datatypes.SummaryDetailed), "thorough")
	assert.Equal(t, "Base prompt.", systemPrompt(datatypes.SummaryAuto))
}
