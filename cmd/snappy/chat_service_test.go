// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/athrael-soju/Snappy-sub002/pkg/ux"
	"github.com/athrael-soju/Snappy-sub002/services/orchestrator/datatypes"
)

// =============================================================================
// Mock HTTP Client
// =============================================================================

// mockHTTPClient implements HTTPClient for testing.
type mockHTTPClient struct {
	response *http.Response
	err      error

	// Capture request details for assertions.
	lastURL         string
	lastBody        string
	lastContentType string
	lastAccept      string
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.lastURL = req.URL.String()
	m.lastContentType = req.Header.Get("Content-Type")
	m.lastAccept = req.Header.Get("Accept")
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		m.lastBody = string(raw)
	}
	return m.response, m.err
}

// sseResponse wraps an event-stream body in a 200 response.
func sseResponse(body io.Reader) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(body),
	}
}

// frame encodes one wire frame in the stream format.
func frame(event string, payload string) string {
	return fmt.Sprintf("data: {\"event\": %q, \"data\": %s}\n\n", event, payload)
}

// brokenReader yields its content, then fails like a reset socket.
type brokenReader struct {
	content string
	read    bool
}

func (b *brokenReader) Read(p []byte) (int, error) {
	if !b.read {
		b.read = true
		n := copy(p, b.content)
		return n, nil
	}
	return 0, errors.New("connection reset by peer")
}

func testChatRequest(message string) *datatypes.ChatRequest {
	return &datatypes.ChatRequest{
		Message:            message,
		K:                  datatypes.KDefault,
		ToolCallingEnabled: true,
		ReasoningEffort:    datatypes.ReasoningEffortMinimal,
		Summary:            datatypes.SummaryAuto,
	}
}

// =============================================================================
// Stream Tests
// =============================================================================

func TestStream_Success(t *testing.T) {
	body := frame(ux.EventKbImages, `{"items": [{"image_url": "http://img/1.png", "label": "report p.3", "score": 0.91}]}`) +
		frame(ux.EventDelta, `{"delta": "Hello"}`) +
		frame(ux.EventDelta, `{"delta": " world"}`) +
		frame(ux.EventCompleted, `{"text": "Hello world"}`)

	mock := &mockHTTPClient{response: sseResponse(strings.NewReader(body))}
	service := NewStreamingChatServiceWithClient("http://orchestrator:8080/", mock)

	var deltas []string
	var docCount int
	result, err := service.Stream(context.Background(), testChatRequest("hi"), ux.Callbacks{
		OnDelta: func(d string) error {
			deltas = append(deltas, d)
			return nil
		},
		OnKbImages: func(docs []ux.DocumentRef) error {
			docCount = len(docs)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	if result.Answer != "Hello world" {
		t.Errorf("expected answer 'Hello world', got %q", result.Answer)
	}
	if !result.Completed {
		t.Error("expected Completed to be true")
	}
	if docCount != 1 || len(result.Documents) != 1 {
		t.Errorf("expected 1 document, got callback=%d result=%d", docCount, len(result.Documents))
	}
	if len(deltas) != 2 {
		t.Errorf("expected 2 deltas, got %d", len(deltas))
	}

	if mock.lastURL != "http://orchestrator:8080/api/chat/stream" {
		t.Errorf("unexpected URL %q", mock.lastURL)
	}
	if mock.lastContentType != "application/json" {
		t.Errorf("unexpected Content-Type %q", mock.lastContentType)
	}
	if mock.lastAccept != "text/event-stream" {
		t.Errorf("unexpected Accept %q", mock.lastAccept)
	}
	if !strings.Contains(mock.lastBody, `"message":"hi"`) {
		t.Errorf("request body missing message: %s", mock.lastBody)
	}
}

func TestStream_ServerRejectsRequest(t *testing.T) {
	mock := &mockHTTPClient{response: &http.Response{
		StatusCode: http.StatusBadRequest,
		Body:       io.NopCloser(strings.NewReader(`{"error": "Message is required"}`)),
	}}
	service := NewStreamingChatServiceWithClient("http://orchestrator:8080", mock)

	_, err := service.Stream(context.Background(), testChatRequest(""), ux.Callbacks{})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "Message is required") {
		t.Errorf("expected server message in error, got %q", err.Error())
	}
}

func TestStream_NonJSONErrorBody(t *testing.T) {
	mock := &mockHTTPClient{response: &http.Response{
		StatusCode: http.StatusBadGateway,
		Body:       io.NopCloser(strings.NewReader("upstream exploded")),
	}}
	service := NewStreamingChatServiceWithClient("http://orchestrator:8080", mock)

	_, err := service.Stream(context.Background(), testChatRequest("hi"), ux.Callbacks{})
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("expected status code in error, got %q", err.Error())
	}
}

func TestStream_TransportFailure(t *testing.T) {
	mock := &mockHTTPClient{err: errors.New("dial tcp: connection refused")}
	service := NewStreamingChatServiceWithClient("http://orchestrator:8080", mock)

	_, err := service.Stream(context.Background(), testChatRequest("hi"), ux.Callbacks{})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected dial failure in error, got %q", err.Error())
	}
}

func TestStream_BreakBeforeText_SubstitutesApology(t *testing.T) {
	// Server sent only the stream-start comment before dying.
	mock := &mockHTTPClient{response: sseResponse(&brokenReader{content: ": stream-start\n\n"})}
	service := NewStreamingChatServiceWithClient("http://orchestrator:8080", mock)

	result, err := service.Stream(context.Background(), testChatRequest("hi"), ux.Callbacks{})
	if err == nil {
		t.Fatal("expected error for broken stream")
	}
	if result.Answer != apologyAnswer {
		t.Errorf("expected apology answer, got %q", result.Answer)
	}
}

func TestStream_BreakMidAnswer_KeepsPartialText(t *testing.T) {
	body := frame(ux.EventDelta, `{"delta": "The report says"}`)
	mock := &mockHTTPClient{response: sseResponse(&brokenReader{content: body})}
	service := NewStreamingChatServiceWithClient("http://orchestrator:8080", mock)

	result, err := service.Stream(context.Background(), testChatRequest("hi"), ux.Callbacks{})
	if err == nil {
		t.Fatal("expected error for broken stream")
	}
	if result.Answer != "The report says" {
		t.Errorf("expected partial answer preserved, got %q", result.Answer)
	}
	if result.Completed {
		t.Error("broken stream must not report Completed")
	}
}

func TestStream_ErrorFrame(t *testing.T) {
	body := frame(ux.EventDelta, `{"delta": "partial"}`) +
		frame(ux.EventError, `{"message": "The model stream failed. Please retry."}`)
	mock := &mockHTTPClient{response: sseResponse(&brokenReader{content: body})}
	service := NewStreamingChatServiceWithClient("http://orchestrator:8080", mock)

	result, err := service.Stream(context.Background(), testChatRequest("hi"), ux.Callbacks{})
	if err == nil {
		t.Fatal("expected error when stream carries an error frame")
	}
	if !strings.Contains(err.Error(), "model stream failed") {
		t.Errorf("expected server failure message in error, got %q", err.Error())
	}
	if result.Answer != "partial" {
		t.Errorf("expected partial answer preserved, got %q", result.Answer)
	}
}

func TestStream_CleanEOFWithoutCompleted(t *testing.T) {
	body := frame(ux.EventDelta, `{"delta": "half an ans"}`)
	mock := &mockHTTPClient{response: sseResponse(strings.NewReader(body))}
	service := NewStreamingChatServiceWithClient("http://orchestrator:8080", mock)

	result, err := service.Stream(context.Background(), testChatRequest("hi"), ux.Callbacks{})
	if err == nil {
		t.Fatal("expected error for stream that never completed")
	}
	if result.Answer != "half an ans" {
		t.Errorf("expected partial answer preserved, got %q", result.Answer)
	}
}

func TestStream_TrimsTrailingSlashOnBaseURL(t *testing.T) {
	mock := &mockHTTPClient{response: sseResponse(strings.NewReader(
		frame(ux.EventCompleted, `{"text": "ok"}`),
	))}
	service := NewStreamingChatServiceWithClient("http://host:8080///", mock)

	if _, err := service.Stream(context.Background(), testChatRequest("hi"), ux.Callbacks{}); err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	if mock.lastURL != "http://host:8080/api/chat/stream" {
		t.Errorf("unexpected URL %q", mock.lastURL)
	}
}
