package marshal

import "toolbridge/internal/schema"

// Option is one selectable choice of a rendered selection field.
type Option struct {
	Value    string
	Selected bool
}

// FormField is the renderable form of one FieldSchema, ready for the
// platform's configuration UI.
type FormField struct {
	Argument    string
	Kind        schema.FieldKind
	Description string
	Default     any
	Options     []Option
}

// FieldOverride adjusts how one named argument is rendered. Adapters pass
// these in as data instead of subclassing the engine: a field can be
// replaced, dropped, or have unrelated fields spliced in around it.
type FieldOverride struct {
	Replace *FormField
	Drop    bool
	Prepend []FormField
	Append  []FormField
}

// FormOverrides maps argument names to their render overrides.
type FormOverrides map[string]FieldOverride

// Form converts a parsed description into the ordered field list the
// platform renders, applying any per-argument overrides.
func Form(desc *schema.Description, overrides FormOverrides) []FormField {
	fields := make([]FormField, 0, len(desc.Fields))
	for _, fs := range desc.Fields {
		ov, hasOverride := overrides[fs.Argument]

		if hasOverride {
			fields = append(fields, ov.Prepend...)
		}

		switch {
		case hasOverride && ov.Drop:
		case hasOverride && ov.Replace != nil:
			fields = append(fields, *ov.Replace)
		default:
			fields = append(fields, fieldFromSchema(fs))
		}

		if hasOverride {
			fields = append(fields, ov.Append...)
		}
	}
	return fields
}

func fieldFromSchema(fs schema.FieldSchema) FormField {
	field := FormField{
		Argument:    fs.Argument,
		Kind:        fs.Kind,
		Description: fs.Description,
		Default:     fs.Default,
	}
	for _, c := range fs.Candidates {
		field.Options = append(field.Options, Option{Value: c.Value, Selected: c.IsDefault})
	}
	return field
}
