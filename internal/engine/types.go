package engine

import (
	"encoding/json"
	"time"

	"github.com/okanya/scriptbox/internal/domain"
	"github.com/okanya/scriptbox/internal/protocol"
)

// Request is the immutable input to one execution.
type Request struct {
	// ExecutionID correlates logs and worker messages. Generated when empty.
	ExecutionID  string
	Script       string
	Language     domain.Language
	DatabaseKind domain.DatabaseKind
	// InstanceName is the opaque registry identifier of the target instance.
	InstanceName string
	DatabaseName string
	// Timeout overrides the engine default for this execution. 0 = default.
	Timeout time.Duration
}

// Metadata describes the execution target and start time.
type Metadata struct {
	DatabaseType string    `json:"databaseType"`
	DatabaseName string    `json:"databaseName"`
	InstanceID   string    `json:"instanceId"`
	ExecutedAt   time.Time `json:"executedAt"`
}

// Summary holds the aggregate statistics of one output stream.
type Summary struct {
	TotalQueries       int64 `json:"totalQueries"`
	RowsReturned       int64 `json:"rowsReturned"`
	RowsAffected       int64 `json:"rowsAffected"`
	TotalOperations    int64 `json:"totalOperations"`
	DocumentsProcessed int64 `json:"documentsProcessed"`
	Errors             int64 `json:"errors"`
	Warnings           int64 `json:"warnings"`
}

// Result is the normalized outcome of one execution. Execute always returns
// one: failures are encoded in Success and Error, never raised. A Result is
// built once per request and not mutated after Execute returns it.
type Result struct {
	Success     bool                `json:"success"`
	ReturnValue json.RawMessage     `json:"result,omitempty"`
	Output      protocol.EventList  `json:"output"`
	Error       *protocol.ErrorInfo `json:"error,omitempty"`
	Duration    Millis              `json:"duration"`
	Metadata    Metadata            `json:"metadata"`
	Summary     Summary             `json:"summary"`
}

// Millis is a duration carried as time.Duration in Go and serialized as
// integer milliseconds on the wire.
type Millis time.Duration

func (m Millis) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(m).Milliseconds())
}

func (m *Millis) UnmarshalJSON(data []byte) error {
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}
	*m = Millis(time.Duration(ms) * time.Millisecond)
	return nil
}

// Duration returns the value as a time.Duration.
func (m Millis) Duration() time.Duration { return time.Duration(m) }
