package stream

import (
	"time"

	"github.com/blueberrycongee/dinescout/pkg/errors"
	"github.com/blueberrycongee/dinescout/pkg/types"
)

// EventName is the wire name of a stream event.
type EventName string

const (
	EventMeta      EventName = "meta"
	EventNarration EventName = "narration"
	EventDelta     EventName = "delta"
	EventMessage   EventName = "message"
	EventPing      EventName = "ping"
	EventDone      EventName = "done"
	EventError     EventName = "error"
)

// Event is one typed output event of a stream. Data is JSON-encoded by the transport.
type Event struct {
	Name EventName
	Data any
}

// Terminal reports whether no event may follow e.
func (e Event) Terminal() bool {
	return e.Name == EventDone || e.Name == EventError
}

// MetaData is the payload of the meta event.
type MetaData struct {
	RequestID string    `json:"requestId"`
	Language  string    `json:"language"`
	StartedAt time.Time `json:"startedAt"`
}

// TextData is the payload of narration and delta events.
type TextData struct {
	Text string `json:"text"`
}

// MessageData is the payload of the message event.
type MessageData struct {
	Type         types.MessageType `json:"type"`
	Message      string            `json:"message"`
	Question     string            `json:"question,omitempty"`
	BlocksSearch bool              `json:"blocksSearch"`
	Language     string            `json:"language"`
}

// Empty is the payload of ping and done, encoded as {}.
type Empty struct{}

// Meta creates a meta event.
func Meta(requestID, language string, startedAt time.Time) Event {
	return Event{Name: EventMeta, Data: MetaData{RequestID: requestID, Language: language, StartedAt: startedAt}}
}

// Narration creates a narration event.
func Narration(text string) Event {
	return Event{Name: EventNarration, Data: TextData{Text: text}}
}

// Delta creates a delta event carrying one generated chunk.
func Delta(text string) Event {
	return Event{Name: EventDelta, Data: TextData{Text: text}}
}

// Message creates a message event.
func Message(m MessageData) Event {
	return Event{Name: EventMessage, Data: m}
}

// Ping creates a keep-alive event.
func Ping() Event {
	return Event{Name: EventPing, Data: Empty{}}
}

// Done creates the terminal done event.
func Done() Event {
	return Event{Name: EventDone, Data: Empty{}}
}

// Error creates the terminal error event.
func Error(err *errors.StreamError) Event {
	return Event{Name: EventError, Data: err}
}
