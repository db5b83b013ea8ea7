// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"testing"
)

func drain(s *FrameScanner) []Frame {
	var frames []Frame
	for {
		frame, ok := s.Next()
		if !ok {
			return frames
		}
		frames = append(frames, frame)
	}
}

func TestFrameScanner_SingleFrame(t *testing.T) {
	var s FrameScanner
	s.Append([]byte("data: {\"event\": \"response.output_text.delta\", \"data\": {\"delta\": \"hi\"}}\n\n"))

	frames := drain(&s)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Event != EventDelta {
		t.Errorf("expected event %q, got %q", EventDelta, frames[0].Event)
	}
	if string(frames[0].Data) != `{"delta": "hi"}` {
		t.Errorf("unexpected data %s", frames[0].Data)
	}
}

func TestFrameScanner_IncompleteFrameIsHeldBack(t *testing.T) {
	var s FrameScanner
	s.Append([]byte("data: {\"event\": \"response.output_text.delta\", \"data\": {}}"))

	if frames := drain(&s); frames != nil {
		t.Fatalf("expected no frames before delimiter, got %d", len(frames))
	}

	s.Append([]byte("\n\n"))
	if frames := drain(&s); len(frames) != 1 {
		t.Fatalf("expected 1 frame after delimiter, got %d", len(frames))
	}
}

func TestFrameScanner_ChunkBoundariesDoNotMatter(t *testing.T) {
	// The same stream must decode identically no matter where the
	// network splits it, including mid-line and mid-delimiter.
	stream := "data: {\"event\": \"response.output_text.delta\", \"data\": {\"delta\": \"a\"}}\n\n" +
		": keepalive\n\n" +
		"data: {\"event\": \"kb.images\", \"data\": {\"items\": []}}\n\n" +
		"data: {\"event\": \"response.completed\", \"data\": {\"text\": \"a\"}}\n\n"

	var whole FrameScanner
	whole.Append([]byte(stream))
	want := drain(&whole)

	for split := 1; split < len(stream); split++ {
		var s FrameScanner
		s.Append([]byte(stream[:split]))
		got := drain(&s)
		s.Append([]byte(stream[split:]))
		got = append(got, drain(&s)...)

		if len(got) != len(want) {
			t.Fatalf("split at %d: expected %d frames, got %d", split, len(want), len(got))
		}
		for i := range want {
			if got[i].Event != want[i].Event || string(got[i].Data) != string(want[i].Data) {
				t.Fatalf("split at %d: frame %d differs: %+v vs %+v", split, i, got[i], want[i])
			}
		}
	}
}

func TestFrameScanner_CommentFramesIgnored(t *testing.T) {
	var s FrameScanner
	s.Append([]byte(": stream-start\n\n"))

	if frames := drain(&s); frames != nil {
		t.Errorf("expected comment frame to be ignored, got %v", frames)
	}
}

func TestFrameScanner_MalformedLineDroppedOthersKept(t *testing.T) {
	var s FrameScanner
	s.Append([]byte("data: {not json\ndata: {\"event\": \"response.completed\", \"data\": {}}\n\n"))

	frames := drain(&s)
	if len(frames) != 1 {
		t.Fatalf("expected malformed line dropped and valid line kept, got %d frames", len(frames))
	}
	if frames[0].Event != EventCompleted {
		t.Errorf("unexpected surviving frame %+v", frames[0])
	}
}

func TestFrameScanner_NonDataLinesIgnored(t *testing.T) {
	var s FrameScanner
	s.Append([]byte("event: custom\nretry: 500\ndata: {\"event\": \"x\", \"data\": null}\n\n"))

	frames := drain(&s)
	if len(frames) != 1 || frames[0].Event != "x" {
		t.Fatalf("expected only the data line decoded, got %v", frames)
	}
}

func TestFrameScanner_CRLFTolerated(t *testing.T) {
	var s FrameScanner
	s.Append([]byte("data: {\"event\": \"x\", \"data\": null}\r\n\n"))

	frames := drain(&s)
	if len(frames) != 1 || frames[0].Event != "x" {
		t.Fatalf("expected CRLF line decoded, got %v", frames)
	}
}

func TestFrameScanner_MultipleBlocksInOneChunk(t *testing.T) {
	var s FrameScanner
	s.Append([]byte("data: {\"event\": \"a\", \"data\": null}\n\ndata: {\"event\": \"b\", \"data\": null}\n\n"))

	frames := drain(&s)
	if len(frames) != 2 || frames[0].Event != "a" || frames[1].Event != "b" {
		t.Fatalf("expected frames a,b in order, got %v", frames)
	}
}
