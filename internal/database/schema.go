package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Run is one processor invocation tracked by the platform. State values
// mirror runner.RunState.
type Run struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Tool string `gorm:"size:100;not null"`

	// WorkspacePath is relative to the platform root.
	WorkspacePath string `gorm:"not null"`

	// Ancestry is the comma-joined sequence of snapshot identifiers.
	Ancestry string

	InputGroup  string
	OutputGroup string

	State string `gorm:"size:20;not null"`

	// CancelRequested is the cooperative cancellation flag polled by the
	// worker at the orchestrator's checkpoints.
	CancelRequested bool `gorm:"default:false"`

	Payload datatypes.JSON

	Progress float64 `gorm:"default:0"`

	Error sql.NullString

	CreationTime   time.Time
	CompletionTime sql.NullTime

	Logs []RunLog `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
}

// RunLog is one captured line of processor output.
type RunLog struct {
	RunId  uuid.UUID `gorm:"type:uuid;primaryKey"`
	Seq    int       `gorm:"primaryKey;autoIncrement:false"`
	Stream string    `gorm:"size:10;not null"`
	Line   string
}
