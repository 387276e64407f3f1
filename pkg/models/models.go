package models

import (
	"time"

	"github.com/google/uuid"
)

// ParameterValue is the wire form of one submitted argument value. Kind
// selects which payload field is meaningful.
type ParameterValue struct {
	Kind string `json:"kind"` // string | selection | integer | decimal | boolean

	String    *string  `json:"string,omitempty"`
	Selection []string `json:"selection,omitempty"`
	Integer   *int64   `json:"integer,omitempty"`
	Decimal   *float64 `json:"decimal,omitempty"`
	Boolean   *bool    `json:"boolean,omitempty"`
}

type SubmitRunRequest struct {
	Tool string `json:"tool"`

	// Workspace is the workspace path relative to the platform root.
	Workspace string `json:"workspace"`

	// Ancestry is the workspace's snapshot identifier sequence, oldest
	// first.
	Ancestry []string `json:"ancestry"`

	Parameters map[string]ParameterValue `json:"parameters,omitempty"`
}

type SubmitRunResponse struct {
	RunId uuid.UUID `json:"run_id"`
}

type Run struct {
	Id             uuid.UUID  `json:"id"`
	Tool           string     `json:"tool"`
	Workspace      string     `json:"workspace"`
	InputGroup     string     `json:"input_group,omitempty"`
	OutputGroup    string     `json:"output_group,omitempty"`
	State          string     `json:"state"`
	Progress       float64    `json:"progress"`
	Error          string     `json:"error,omitempty"`
	CreationTime   time.Time  `json:"creation_time"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
}

type ListRunsQuery struct {
	Tool  string `schema:"tool"`
	State string `schema:"state"`
	Limit int    `schema:"limit"`
}

type Processor struct {
	Tool     string `json:"tool"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Remote   bool   `json:"remote"`

	// Warning carries the remote pre-flight failure, if any. The
	// processor stays listed so the platform can show why it is
	// unavailable.
	Warning string `json:"warning,omitempty"`
}

type FormOption struct {
	Value    string `json:"value"`
	Selected bool   `json:"selected"`
}

type FormField struct {
	Argument    string       `json:"argument"`
	Kind        string       `json:"kind"`
	Description string       `json:"description,omitempty"`
	Default     any          `json:"default,omitempty"`
	Options     []FormOption `json:"options,omitempty"`
}
