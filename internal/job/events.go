package job

import (
	"encoding/json"
	"math"
)

// EventType identifies a progress channel message
type EventType string

const (
	EventState     EventType = "state"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
)

// Event is one message on a task's progress channel
type Event struct {
	Type     EventType
	TaskID   string
	State    State
	Progress float64
	Message  string
	Results  []ResultEntry
}

// Terminal reports whether this is the last event a task will publish
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventFailed || e.Type == EventCancelled
}

// Percentage is the progress scaled to 0..100, rounded to one decimal
func (e Event) Percentage() float64 {
	return math.Round(e.Progress*1000) / 10
}

// MarshalJSON writes the wire form of the event, whose fields depend on
// its type
func (e Event) MarshalJSON() ([]byte, error) {
	msg := map[string]any{
		"type":    e.Type,
		"task_id": e.TaskID,
	}
	switch e.Type {
	case EventProgress:
		msg["percentage"] = e.Percentage()
	case EventState:
		msg["state"] = e.State
		msg["percentage"] = e.Percentage()
	case EventCompleted:
		results := e.Results
		if results == nil {
			results = []ResultEntry{}
		}
		msg["results"] = results
		if e.Message != "" {
			msg["message"] = e.Message
		}
	case EventFailed, EventCancelled:
		msg["message"] = e.Message
	}
	return json.Marshal(msg)
}
