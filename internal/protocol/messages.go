// Package protocol defines the wire types exchanged with clients: program
// submissions, HTTP responses and the websocket message envelope.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/graphery/executor/internal/controller"
	"github.com/graphery/executor/internal/recorder"
)

// MessageType identifies the kind of message in the websocket protocol.
type MessageType string

const (
	// Client → Server
	MsgRunSubmit MessageType = "run.submit"
	MsgPing      MessageType = "ping"

	// Server → Client
	MsgRunAccepted MessageType = "run.accepted"
	MsgRunResult   MessageType = "run.result"
	MsgPong        MessageType = "pong"

	// Bidirectional
	MsgError MessageType = "error"
)

// Envelope is the top-level message wrapper for all websocket communication.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`               // Message ID for correlation.
	RunID     string          `json:"run_id,omitempty"` // Set on every message about a run.
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope creates an Envelope with a fresh ID and current timestamp.
func NewEnvelope(msgType MessageType, payload any) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Envelope{
		Type:      msgType,
		ID:        uuid.New().String(),
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the Payload into the given target.
func (e *Envelope) Decode(target any) error {
	return json.Unmarshal(e.Payload, target)
}

// RunAcceptedPayload is sent with MsgRunAccepted once a submission passed
// validation.
type RunAcceptedPayload struct {
	RunID string `json:"run_id"`
}

// RunResultPayload is sent with MsgRunResult.
type RunResultPayload struct {
	RunID    string            `json:"run_id"`
	Changes  []recorder.Record `json:"changes,omitempty"`
	Error    *controller.Error `json:"error,omitempty"`
	Cached   bool              `json:"cached"`
	Duration string            `json:"duration"`
}

// ErrorPayload is sent with MsgError for protocol-level errors.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
