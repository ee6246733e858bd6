package realtime

import (
	"encoding/json"
	"math"
	"time"
)

type EventType string

const (
	EventStageUpdate EventType = "stage_update"
	EventComplete    EventType = "analysis_complete"
	EventFailure     EventType = "analysis_error"
	EventKeepalive   EventType = "keepalive"
)

type StageStatus string

const (
	StatusPending  StageStatus = "pending"
	StatusRunning  StageStatus = "running"
	StatusComplete StageStatus = "complete"
	StatusError    StageStatus = "error"
)

// Event is one entry of an analysis stream. Elapsed is seconds since the
// owning channel was created; Timestamp is unix seconds.
type Event struct {
	Type      EventType
	Stage     string
	Status    StageStatus
	Detail    string
	Elapsed   float64
	Timestamp float64
	Data      any
}

func (e Event) IsTerminal() bool {
	return e.Type == EventComplete || e.Type == EventFailure
}

func StageEvent(stage string, status StageStatus, detail string) Event {
	return Event{Type: EventStageUpdate, Stage: stage, Status: status, Detail: detail}
}

func CompleteEvent(data any) Event {
	return Event{Type: EventComplete, Data: data}
}

func FailureEvent(detail string) Event {
	return Event{Type: EventFailure, Detail: detail}
}

func KeepaliveEvent() Event {
	return Event{Type: EventKeepalive}
}

type wireEvent struct {
	EventType EventType `json:"event_type"`
	Stage     *string   `json:"stage"`
	Status    *string   `json:"status"`
	Detail    string    `json:"detail"`
	Elapsed   float64   `json:"elapsed"`
	Timestamp float64   `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// MarshalJSON renders the client-facing shape. Stage and status are null
// when unset so completion/failure events look the same as they always have.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Type == EventKeepalive {
		return []byte(`{"event_type":"keepalive"}`), nil
	}
	w := wireEvent{
		EventType: e.Type,
		Detail:    e.Detail,
		Elapsed:   math.Round(e.Elapsed*10) / 10,
		Timestamp: e.Timestamp,
		Data:      e.Data,
	}
	if e.Stage != "" {
		s := e.Stage
		w.Stage = &s
	}
	if e.Status != "" {
		s := string(e.Status)
		w.Status = &s
	}
	return json.Marshal(w)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
