// Package protocol defines the message contract between the execution engine
// and its worker processes. All messages are JSON-encoded envelopes written as
// single NDJSON lines over the worker channel (a dedicated pipe for the Node
// worker, the standard streams for the Python worker).
package protocol

import (
	"encoding/json"
	"time"
)

// MessageType identifies the kind of message on the worker channel.
type MessageType string

const (
	// Worker → Engine
	MsgReady  MessageType = "worker.ready"
	MsgResult MessageType = "worker.result"

	// Engine → Worker
	MsgExecute MessageType = "worker.execute"
)

// Envelope is the top-level wrapper for every message crossing the worker
// channel. The ID correlates all messages of one execution.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope creates an Envelope for the given execution with the current
// timestamp. A nil payload produces an envelope with no payload field.
func NewEnvelope(msgType MessageType, executionID string, payload any) (*Envelope, error) {
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
		ID:        executionID,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the Payload into the given target.
func (e *Envelope) Decode(target any) error {
	return json.Unmarshal(e.Payload, target)
}

// --- Engine → Worker payloads ---

// ExecutePayload is sent with MsgExecute after the worker reports ready.
type ExecutePayload struct {
	Script  string        `json:"script"`
	Context ScriptContext `json:"context"`
}

// ScriptContext carries the resolved target the script runs against.
// Secret material is never embedded: workers resolve credentials from their
// own environment using CredentialsEnvPrefix.
type ScriptContext struct {
	DatabaseType         string `json:"databaseType"`
	DatabaseName         string `json:"databaseName"`
	InstanceID           string `json:"instanceId"`
	Host                 string `json:"host,omitempty"`
	Port                 int    `json:"port,omitempty"`
	User                 string `json:"user,omitempty"`
	URI                  string `json:"uri,omitempty"`
	CredentialsEnvPrefix string `json:"credentialsEnvPrefix,omitempty"`
	TimeoutMS            int64  `json:"timeoutMs,omitempty"`
}

// --- Worker → Engine payloads ---

// ResultPayload is the terminal message of an execution. The first result
// received settles the execution; anything after it is ignored.
type ResultPayload struct {
	Success     bool            `json:"success"`
	ReturnValue json.RawMessage `json:"result,omitempty"`
	Output      EventList       `json:"output"`
	Error       *ErrorInfo      `json:"error,omitempty"`
}

// ErrorInfo is the normalized error shape shared by worker results and engine
// results. Type is a free string so worker-reported types pass through
// unchanged.
type ErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
