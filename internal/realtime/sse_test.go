package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestEncodeShape(t *testing.T) {
	frame := string(Encode(Event{
		Type:      EventStageUpdate,
		Stage:     "Stage 1",
		Status:    StatusRunning,
		Detail:    "Phase 1/3",
		Elapsed:   12.345,
		Timestamp: 1700000000.5,
	}))
	if !strings.HasPrefix(frame, "data: ") || !strings.HasSuffix(frame, "\n\n") {
		t.Fatalf("bad framing: %q", frame)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(frame, "data: "), "\n\n")), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["event_type"] != "stage_update" || m["stage"] != "Stage 1" || m["status"] != "running" {
		t.Fatalf("fields: %v", m)
	}
	if m["elapsed"] != 12.3 {
		t.Fatalf("elapsed rounding: %v", m["elapsed"])
	}
	if _, ok := m["data"]; ok {
		t.Fatalf("data should be omitted when nil")
	}

	term := string(Encode(FailureEvent("nope")))
	if !strings.Contains(term, `"stage":null`) || !strings.Contains(term, `"event_type":"analysis_error"`) {
		t.Fatalf("failure frame: %q", term)
	}
}

func TestEncodeKeepalive(t *testing.T) {
	if got := string(Encode(KeepaliveEvent())); got != "data: {\"event_type\":\"keepalive\"}\n\n" {
		t.Fatalf("keepalive frame: %q", got)
	}
}

func TestStreamStopsAfterTerminal(t *testing.T) {
	ch := NewChannel(0, 0)
	_ = ch.Append(StageEvent("Stage 1", StatusRunning, ""))
	_ = ch.Append(CompleteEvent(map[string]any{"ticker": "AAPL"}))
	// Anything after the terminal event is not written.
	_ = ch.Append(StageEvent("after", StatusRunning, ""))

	r := ch.Subscribe()
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req := httptest.NewRequest("GET", "/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	if err := Stream(rec, req, r, time.Second); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}
	if rec.Header().Get("X-Accel-Buffering") != "no" {
		t.Fatalf("missing X-Accel-Buffering")
	}
	body := rec.Body.String()
	if n := strings.Count(body, "data: "); n != 2 {
		t.Fatalf("frames: got %d want 2\n%s", n, body)
	}
	if strings.Contains(body, "after") {
		t.Fatalf("wrote past terminal event")
	}
}

func TestStreamReturnsOnClose(t *testing.T) {
	ch := NewChannel(0, 0)
	r := ch.Subscribe()
	defer r.Close()
	ch.Close()

	req := httptest.NewRequest("GET", "/stream", nil)
	rec := httptest.NewRecorder()
	if err := Stream(rec, req, r, time.Second); err != nil {
		t.Fatalf("Stream: %v", err)
	}
}
