package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDescription indicates a malformed or unsupported processor
// self-description. Fatal at discovery time, the processor stays unusable
// until its description is fixed.
var ErrDescription = errors.New("invalid processor description")

type rawDescription struct {
	Description string          `json:"description"`
	Categories  []string        `json:"categories"`
	Steps       []string        `json:"steps"`
	Parameters  json.RawMessage `json:"parameters"`
}

type paramSpec struct {
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Default     json.RawMessage `json:"default"`
	Enum        json.RawMessage `json:"enum"`
	Format      string          `json:"format"`
	ContentType string          `json:"content-type"`
	Minimum     *float64        `json:"minimum"`
	Maximum     *float64        `json:"maximum"`
	Step        *float64        `json:"step"`
}

// Parse converts a processor self-description into a typed Description. The
// parameter fields come out in declaration order.
func Parse(raw []byte) (*Description, error) {
	var rd rawDescription
	if err := json.Unmarshal(raw, &rd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDescription, err)
	}

	desc := &Description{
		Summary:    rd.Description,
		Categories: rd.Categories,
		Steps:      rd.Steps,
		objectArgs: make(map[string]struct{}),
	}

	if len(rd.Parameters) == 0 || bytes.Equal(bytes.TrimSpace(rd.Parameters), []byte("null")) {
		return desc, nil
	}

	dec := json.NewDecoder(bytes.NewReader(rd.Parameters))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: reading parameters: %v", ErrDescription, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: parameters must be an object", ErrDescription)
	}

	seen := make(map[string]struct{})
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: reading parameter name: %v", ErrDescription, err)
		}
		name := keyTok.(string)

		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate parameter %q", ErrDescription, name)
		}
		seen[name] = struct{}{}

		var spec paramSpec
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("%w: parameter %q: %v", ErrDescription, name, err)
		}

		field, isObject, err := parseField(name, spec)
		if err != nil {
			return nil, err
		}
		if isObject {
			desc.objectArgs[name] = struct{}{}
		}
		desc.Fields = append(desc.Fields, field)
	}

	return desc, nil
}

func parseField(name string, spec paramSpec) (FieldSchema, bool, error) {
	field := FieldSchema{
		Argument:    name,
		Description: spec.Description,
		Minimum:     spec.Minimum,
		Maximum:     spec.Maximum,
		Step:        spec.Step,
	}

	switch spec.Type {
	case "string":
		if len(spec.Enum) > 0 {
			var values []string
			if err := json.Unmarshal(spec.Enum, &values); err != nil {
				return field, false, fmt.Errorf("%w: parameter %q: enum must be an array of strings", ErrDescription, name)
			}
			field.Kind = KindSelection
			var def string
			hasDefault := decodeDefault(spec.Default, &def)
			for _, v := range values {
				field.Candidates = append(field.Candidates, Candidate{Value: v, IsDefault: hasDefault && v == def})
			}
			if hasDefault {
				field.Default = def
			}
		} else {
			field.Kind = KindString
			var def string
			if decodeDefault(spec.Default, &def) {
				field.Default = def
			}
		}

	case "number":
		switch spec.Format {
		case "integer", "int":
			field.Kind = KindInteger
			var def int64
			if decodeDefault(spec.Default, &def) {
				field.Default = def
			}
		default:
			// Unknown or absent formats are not fatal, decimal is the
			// fallback.
			field.Kind = KindDecimal
			var def float64
			if decodeDefault(spec.Default, &def) {
				field.Default = def
			}
		}

	case "boolean":
		field.Kind = KindBoolean
		var def bool
		if decodeDefault(spec.Default, &def) {
			field.Default = def
		}

	case "object":
		field.Kind = KindObject
		if raw := compactObject(spec.Default); raw != nil {
			field.RawDefault = raw
		}
		return field, true, nil

	case "":
		return field, false, fmt.Errorf("%w: parameter %q: missing type", ErrDescription, name)

	default:
		return field, false, fmt.Errorf("%w: parameter %q: unsupported type %q", ErrDescription, name, spec.Type)
	}

	return field, false, nil
}

func decodeDefault[T any](raw json.RawMessage, out *T) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// compactObject returns the default as a compacted JSON fragment, or nil if
// the default is absent or the empty object, which counts as "no default".
func compactObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil
	}
	compacted := buf.Bytes()
	if bytes.Equal(compacted, []byte("{}")) || bytes.Equal(compacted, []byte("null")) {
		return nil
	}
	return json.RawMessage(compacted)
}
