package schema

import "encoding/json"

type FieldKind int

const (
	KindString FieldKind = iota
	KindSelection
	KindInteger
	KindDecimal
	KindBoolean
	KindObject
)

func (k FieldKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindSelection:
		return "selection"
	case KindInteger:
		return "integer"
	case KindDecimal:
		return "decimal"
	case KindBoolean:
		return "boolean"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Candidate is one selectable value of a selection field.
type Candidate struct {
	Value     string
	IsDefault bool
}

// FieldSchema describes one configurable argument of a processor. Built once
// at discovery time and immutable afterwards.
type FieldSchema struct {
	Argument    string
	Kind        FieldKind
	Description string

	// Default is the tool's own default, typed to match Kind. Nil if the
	// description declares none.
	Default any

	// Candidates is populated for selection fields, in declaration order.
	Candidates []Candidate

	// Optional numeric bounds.
	Minimum *float64
	Maximum *float64
	Step    *float64

	// RawDefault holds a pre-serialized JSON fragment for object fields.
	RawDefault json.RawMessage
}

// Description is the parsed form of a processor's self-description.
type Description struct {
	Summary    string
	Categories []string
	Steps      []string

	Fields []FieldSchema

	objectArgs map[string]struct{}
}

// IsObjectArg reports whether the named argument was declared with type
// "object", i.e. submitted strings for it must be re-parsed as JSON.
func (d *Description) IsObjectArg(name string) bool {
	_, ok := d.objectArgs[name]
	return ok
}

// Field returns the schema for the named argument, if present.
func (d *Description) Field(name string) (FieldSchema, bool) {
	for _, f := range d.Fields {
		if f.Argument == name {
			return f, true
		}
	}
	return FieldSchema{}, false
}
