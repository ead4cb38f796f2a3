package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JSONB stores raw JSON in a jsonb column (TEXT under SQLite).
type JSONB json.RawMessage

// InstanceModel maps to the "instances" table.
type InstanceModel struct {
	ID                   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name                 string    `gorm:"uniqueIndex;not null"`
	Kind                 string    `gorm:"not null"`
	Host                 string
	Port                 int
	User                 string `gorm:"column:db_user"` // "user" is reserved in PostgreSQL.
	URI                  string
	CredentialsEnvPrefix string
	Enabled              bool `gorm:"not null;default:true"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (InstanceModel) TableName() string { return "instances" }

// ScriptRequestModel maps to the "script_requests" table.
type ScriptRequestModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	Title           string    `gorm:"not null"`
	Script          string    `gorm:"type:text;not null"`
	Language        string    `gorm:"not null"`
	DatabaseKind    string    `gorm:"not null"`
	InstanceName    string    `gorm:"not null;index"`
	DatabaseName    string
	RequestedBy     string `gorm:"not null"`
	ReviewedBy      string
	Reason          string
	Status          int16     `gorm:"not null;default:0;index"`
	ExecutionResult JSONB     `gorm:"type:jsonb"`
	SubmittedAt     time.Time `gorm:"index"`
	ExpiresAt       time.Time `gorm:"index"`
	ReviewedAt      *time.Time
	ExecutedAt      *time.Time
	UpdatedAt       time.Time
}

func (ScriptRequestModel) TableName() string { return "script_requests" }
