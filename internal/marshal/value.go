package marshal

// ValueKind enumerates the wire kinds a submitted parameter value can have.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueSelection
	ValueInteger
	ValueDecimal
	ValueBoolean
)

func (k ValueKind) String() string {
	switch k {
	case ValueString:
		return "string"
	case ValueSelection:
		return "selection"
	case ValueInteger:
		return "integer"
	case ValueDecimal:
		return "decimal"
	case ValueBoolean:
		return "boolean"
	default:
		return "unknown"
	}
}

// Value is a typed parameter value bound to an argument name at submission
// time. Exactly one of the payload fields is meaningful, chosen by Kind.
type Value struct {
	Kind ValueKind

	Str       string
	Selection []string
	Int       int64
	Dec       float64
	Bool      bool
}

func String(s string) Value          { return Value{Kind: ValueString, Str: s} }
func Selection(vals ...string) Value { return Value{Kind: ValueSelection, Selection: vals} }
func Integer(i int64) Value          { return Value{Kind: ValueInteger, Int: i} }
func Decimal(f float64) Value        { return Value{Kind: ValueDecimal, Dec: f} }
func Boolean(b bool) Value           { return Value{Kind: ValueBoolean, Bool: b} }
