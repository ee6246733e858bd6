package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

const DefaultKeepalive = 30 * time.Second

var keepaliveFrame = []byte("data: {\"event_type\":\"keepalive\"}\n\n")

// Encode renders one SSE frame.
func Encode(e Event) []byte {
	if e.Type == EventKeepalive {
		return append([]byte(nil), keepaliveFrame...)
	}
	raw, err := json.Marshal(e)
	if err != nil {
		// Unencodable payloads still tell the client the run ended.
		raw, _ = json.Marshal(Event{Type: e.Type, Stage: e.Stage, Status: e.Status, Detail: e.Detail, Elapsed: e.Elapsed, Timestamp: e.Timestamp})
	}
	out := make([]byte, 0, len(raw)+8)
	out = append(out, "data: "...)
	out = append(out, raw...)
	out = append(out, "\n\n"...)
	return out
}

// Stream writes reader's events to w until a terminal event is sent, the
// channel ends, or the client goes away.
func Stream(w http.ResponseWriter, r *http.Request, reader *Reader, keepalive time.Duration) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return errors.New("response writer does not support flushing")
	}
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		e, err := reader.Read(ctx, keepalive)
		if errors.Is(err, ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := w.Write(Encode(e)); err != nil {
			return err
		}
		flusher.Flush()
		if e.IsTerminal() {
			return nil
		}
	}
}
