package analysis

import "encoding/json"

// EventStatus is the progress stage carried by an Event.
type EventStatus string

const (
	EventStart     EventStatus = "start"
	EventAnalyzing EventStatus = "analyzing"
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
)

// IsTerminal reports whether no further events follow.
func (s EventStatus) IsTerminal() bool {
	return s == EventCompleted || s == EventFailed
}

// Event is one progress update of a run.
type Event struct {
	DocumentIDs []int64     `json:"documentIds"`
	Status      EventStatus `json:"status"`
	Chunk       string      `json:"chunk,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// EncodeEvent returns the wire form of an event.
func EncodeEvent(evt Event) ([]byte, error) {
	if evt.DocumentIDs == nil {
		evt.DocumentIDs = []int64{}
	}
	return json.Marshal(evt)
}

func DecodeEvent(payload []byte) (Event, error) {
	var evt Event
	err := json.Unmarshal(payload, &evt)
	return evt, err
}
