package models

import (
	"encoding/json"
	"errors"
)

// ErrMissingJobID is returned when a result payload has no job_id
var ErrMissingJobID = errors.New("result payload missing job_id")

// Control commands published on the crawler control channels
const (
	CommandPause     = "PAUSE"
	CommandResume    = "RESUME"
	CommandCancelJob = "CANCEL_JOB"
)

// ControlMessage is the payload of the pub/sub control channels.
// Delivery is best-effort; pause and cancel correctness also relies on
// the paused broker flag and the job status in the store.
type ControlMessage struct {
	Command string                 `json:"command"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// JobID extracts the job_id field from the payload, if present
func (m *ControlMessage) JobID() string {
	if m.Payload == nil {
		return ""
	}
	if id, ok := m.Payload["job_id"].(string); ok {
		return id
	}
	return ""
}

// ToJSON serializes the control message for publishing
func (m *ControlMessage) ToJSON() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ControlMessageFromJSON deserializes a control channel payload
func ControlMessageFromJSON(data string) (*ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
