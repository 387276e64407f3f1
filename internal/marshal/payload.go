package marshal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"toolbridge/internal/schema"
)

// ErrMarshal indicates a submitted value that cannot be converted into the
// tool's invocation payload. Fatal for that run only, before dispatch.
var ErrMarshal = errors.New("cannot marshal argument")

// SubmitOverride intercepts one named argument before default conversion.
// The zero value is a no-op.
type SubmitOverride struct {
	// Drop discards the submitted value entirely.
	Drop bool

	// Replace substitutes the submitted value before conversion.
	Replace *Value

	// JoinWith enables multi-selection for a selection argument, joining
	// the chosen values with the given separator (e.g. "+").
	JoinWith string

	// FanOut expands the argument into several payload entries. Entries
	// whose key is not in the schema are dropped like any unknown argument.
	FanOut map[string]Value
}

// SubmitOverrides maps argument names to submission overrides.
type SubmitOverrides map[string]SubmitOverride

// Payload converts submitted values into the tool's invocation payload. The
// result never contains a key absent from the schema; schema arguments with
// no submitted value get no entry so the tool's own default applies.
func Payload(desc *schema.Description, values map[string]Value, overrides SubmitOverrides) (map[string]any, error) {
	payload := make(map[string]any)

	for name, value := range values {
		field, ok := desc.Field(name)
		if !ok {
			slog.Info("ignoring argument not present in processor schema", "argument", name)
			continue
		}

		ov := overrides[name]
		if ov.Drop {
			continue
		}
		if ov.FanOut != nil {
			for outName, outValue := range ov.FanOut {
				outField, ok := desc.Field(outName)
				if !ok {
					slog.Info("ignoring fan-out argument not present in processor schema", "argument", outName)
					continue
				}
				converted, err := convert(desc, outField, outValue, SubmitOverride{})
				if err != nil {
					return nil, err
				}
				payload[outName] = converted
			}
			continue
		}
		if ov.Replace != nil {
			value = *ov.Replace
		}

		converted, err := convert(desc, field, value, ov)
		if err != nil {
			return nil, err
		}
		payload[name] = converted
	}

	return payload, nil
}

func convert(desc *schema.Description, field schema.FieldSchema, value Value, ov SubmitOverride) (any, error) {
	switch field.Kind {
	case schema.KindSelection:
		if value.Kind != ValueSelection {
			return nil, kindError(field, value)
		}
		switch {
		case len(value.Selection) == 0:
			return nil, fmt.Errorf("%w %q: empty selection", ErrMarshal, field.Argument)
		case len(value.Selection) == 1:
			return value.Selection[0], nil
		case ov.JoinWith != "":
			return strings.Join(value.Selection, ov.JoinWith), nil
		default:
			return nil, fmt.Errorf("%w %q: multiple values submitted for single selection", ErrMarshal, field.Argument)
		}

	case schema.KindString, schema.KindObject:
		if value.Kind != ValueString {
			return nil, kindError(field, value)
		}
		if field.Kind == schema.KindObject || desc.IsObjectArg(field.Argument) {
			var fragment any
			if err := json.Unmarshal([]byte(value.Str), &fragment); err != nil {
				return nil, fmt.Errorf("%w %q: value is not valid JSON: %v", ErrMarshal, field.Argument, err)
			}
			return fragment, nil
		}
		return value.Str, nil

	case schema.KindInteger:
		if value.Kind != ValueInteger {
			return nil, kindError(field, value)
		}
		if err := checkBounds(field, float64(value.Int)); err != nil {
			return nil, err
		}
		return value.Int, nil

	case schema.KindDecimal:
		var f float64
		switch value.Kind {
		case ValueDecimal:
			f = value.Dec
		case ValueInteger:
			f = float64(value.Int)
		default:
			return nil, kindError(field, value)
		}
		if err := checkBounds(field, f); err != nil {
			return nil, err
		}
		return f, nil

	case schema.KindBoolean:
		if value.Kind != ValueBoolean {
			return nil, kindError(field, value)
		}
		return value.Bool, nil

	default:
		return nil, fmt.Errorf("%w %q: unsupported field kind %s", ErrMarshal, field.Argument, field.Kind)
	}
}

func kindError(field schema.FieldSchema, value Value) error {
	return fmt.Errorf("%w %q: submitted %s value for %s field", ErrMarshal, field.Argument, value.Kind, field.Kind)
}

func checkBounds(field schema.FieldSchema, v float64) error {
	if field.Minimum != nil && v < *field.Minimum {
		return fmt.Errorf("%w %q: value %v below minimum %v", ErrMarshal, field.Argument, v, *field.Minimum)
	}
	if field.Maximum != nil && v > *field.Maximum {
		return fmt.Errorf("%w %q: value %v above maximum %v", ErrMarshal, field.Argument, v, *field.Maximum)
	}
	return nil
}
