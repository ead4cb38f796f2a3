// Package domain defines cross-cutting entity types used across the system.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Language is the script language of a submitted script.
type Language string

const (
	LanguageJavaScript Language = "javascript"
	LanguagePython     Language = "python"
)

// Valid reports whether l is a supported script language.
func (l Language) Valid() bool {
	return l == LanguageJavaScript || l == LanguagePython
}

// DatabaseKind identifies the kind of database an instance serves.
type DatabaseKind string

const (
	DatabasePostgres DatabaseKind = "postgresql"
	DatabaseMongo    DatabaseKind = "mongodb"
)

// Valid reports whether k is a supported database kind.
func (k DatabaseKind) Valid() bool {
	return k == DatabasePostgres || k == DatabaseMongo
}

// Instance is a registered database instance that scripts can target.
// CredentialsEnvPrefix is an opaque reference into the worker's environment;
// secret material itself is never stored, logged, or sent over the worker
// channel.
type Instance struct {
	ID      uuid.UUID
	Name    string       // Canonical name (unique). Used as the instance identifier in requests.
	Kind    DatabaseKind // "postgresql" or "mongodb".
	Host    string       // Required for postgresql.
	Port    int          // 0 = driver default.
	User    string       // Default connection user.
	URI     string       // Required for mongodb. Stored without embedded secrets.
	// Env var prefix the worker resolves credentials from,
	// e.g. "PG_ANALYTICS" → PG_ANALYTICS_PASSWORD.
	CredentialsEnvPrefix string
	Enabled              bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// RequestStatus is the lifecycle state of a script request.
type RequestStatus int

const (
	StatusPending RequestStatus = iota
	StatusApproved
	StatusRejected
	StatusExecuted
	StatusFailed
	StatusExpired
)

// String returns the lowercase status name.
func (s RequestStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	case StatusExecuted:
		return "executed"
	case StatusFailed:
		return "failed"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// ParseRequestStatus maps a status name back to its enum value.
func ParseRequestStatus(s string) (RequestStatus, bool) {
	switch s {
	case "pending":
		return StatusPending, true
	case "approved":
		return StatusApproved, true
	case "rejected":
		return StatusRejected, true
	case "executed":
		return StatusExecuted, true
	case "failed":
		return StatusFailed, true
	case "expired":
		return StatusExpired, true
	default:
		return StatusPending, false
	}
}

// ScriptRequest is a submitted script moving through review and execution.
// The record is the audit trail: the script body, who asked, who decided,
// and the full execution result once the engine has run it.
type ScriptRequest struct {
	ID           uuid.UUID
	Title        string
	Script       string
	Language     Language
	DatabaseKind DatabaseKind
	InstanceName string // Registry identifier of the target instance.
	DatabaseName string
	RequestedBy  string
	ReviewedBy   string
	Reason       string // Reviewer note on approve/reject.
	Status       RequestStatus
	// Full ExecutionResult JSON once the request has been run.
	ExecutionResult json.RawMessage
	SubmittedAt     time.Time
	ExpiresAt       time.Time // Pending requests past this instant expire unreviewed.
	ReviewedAt      *time.Time
	ExecutedAt      *time.Time
	UpdatedAt       time.Time
}

// Resolved reports whether the request has left the pending state.
func (r *ScriptRequest) Resolved() bool {
	return r.Status != StatusPending
}
