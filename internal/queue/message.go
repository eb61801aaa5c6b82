package queue

import (
	"encoding/json"
	"errors"
)

const (
	// MessageVersion is bumped when Message changes incompatibly.
	MessageVersion = 1
	// TaskTypeAnalysis is the asynq task type for queued analysis runs.
	TaskTypeAnalysis = "analysis:run"
)

// Message is the payload sent to analysis workers.
type Message struct {
	RunID       string  `json:"runId"`
	OwnerID     int64   `json:"ownerId"`
	DocumentIDs []int64 `json:"documentIds,omitempty"`
	RequestID   string  `json:"requestId,omitempty"`
	EnqueuedAt  string  `json:"enqueuedAt"`
	Version     int     `json:"version"`
}

// Validate reports whether a worker can act on the message.
func (m Message) Validate() error {
	if m.RunID == "" {
		return errors.New("runId is required")
	}
	if m.OwnerID <= 0 {
		return errors.New("ownerId must be positive")
	}
	if m.Version > MessageVersion {
		return errors.New("unsupported message version")
	}
	return nil
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
