package marshal_test

import (
	"testing"

	"toolbridge/internal/marshal"
	"toolbridge/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseDescription(t *testing.T, raw string) *schema.Description {
	t.Helper()
	desc, err := schema.Parse([]byte(raw))
	require.NoError(t, err)
	return desc
}

func TestFormRendersSchemaFields(t *testing.T) {
	desc := parseDescription(t, `{"parameters": {
		"method": {"type": "string", "enum": ["otsu", "sauvola"], "default": "otsu", "description": "Binarization method"},
		"dpi": {"type": "number", "format": "integer", "default": 300}
	}}`)

	fields := marshal.Form(desc, nil)
	require.Len(t, fields, 2)

	assert.Equal(t, "method", fields[0].Argument)
	assert.Equal(t, schema.KindSelection, fields[0].Kind)
	assert.Equal(t, "Binarization method", fields[0].Description)
	assert.Equal(t, []marshal.Option{
		{Value: "otsu", Selected: true},
		{Value: "sauvola"},
	}, fields[0].Options)

	assert.Equal(t, "dpi", fields[1].Argument)
	assert.Equal(t, schema.KindInteger, fields[1].Kind)
	assert.Equal(t, int64(300), fields[1].Default)
}

func TestFormOverrideReplace(t *testing.T) {
	desc := parseDescription(t, `{"parameters": {"model": {"type": "string"}}}`)

	replacement := marshal.FormField{
		Argument: "model",
		Kind:     schema.KindSelection,
		Options:  []marshal.Option{{Value: "frak2021", Selected: true}, {Value: "german_print"}},
	}
	fields := marshal.Form(desc, marshal.FormOverrides{
		"model": {Replace: &replacement},
	})

	require.Len(t, fields, 1)
	assert.Equal(t, replacement, fields[0])
}

func TestFormOverrideDrop(t *testing.T) {
	desc := parseDescription(t, `{"parameters": {
		"method": {"type": "string"},
		"internal-flag": {"type": "boolean"}
	}}`)

	fields := marshal.Form(desc, marshal.FormOverrides{
		"internal-flag": {Drop: true},
	})

	require.Len(t, fields, 1)
	assert.Equal(t, "method", fields[0].Argument)
}

func TestFormOverridePrependAppend(t *testing.T) {
	desc := parseDescription(t, `{"parameters": {"method": {"type": "string"}}}`)

	fields := marshal.Form(desc, marshal.FormOverrides{
		"method": {
			Prepend: []marshal.FormField{{Argument: "before", Kind: schema.KindBoolean}},
			Append:  []marshal.FormField{{Argument: "after", Kind: schema.KindBoolean}},
		},
	})

	require.Len(t, fields, 3)
	assert.Equal(t, "before", fields[0].Argument)
	assert.Equal(t, "method", fields[1].Argument)
	assert.Equal(t, "after", fields[2].Argument)
}
