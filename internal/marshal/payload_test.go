package marshal_test

import (
	"encoding/json"
	"testing"

	"toolbridge/internal/marshal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cropDescription = `{"parameters": {
	"method": {"type": "string", "enum": ["default", "fast"], "default": "default"},
	"models": {"type": "string", "enum": ["frak2021", "german_print", "antiqua"]},
	"comment": {"type": "string"},
	"dpi": {"type": "number", "format": "integer", "default": 300, "minimum": 72, "maximum": 1200},
	"confidence": {"type": "number", "format": "float", "minimum": 0, "maximum": 1},
	"overwrite": {"type": "boolean", "default": false},
	"regions": {"type": "object"}
}}`

func TestPayloadOmitsUnsubmittedArguments(t *testing.T) {
	desc := parseDescription(t, cropDescription)

	payload, err := marshal.Payload(desc, map[string]marshal.Value{
		"dpi": marshal.Integer(600),
	}, nil)
	require.NoError(t, err)

	// A schema argument with no submitted value gets no entry; the
	// tool's own default applies.
	assert.Equal(t, map[string]any{"dpi": int64(600)}, payload)
}

func TestPayloadDropsUnknownArguments(t *testing.T) {
	desc := parseDescription(t, cropDescription)

	payload, err := marshal.Payload(desc, map[string]marshal.Value{
		"no-such-arg": marshal.String("ignored"),
		"comment":     marshal.String("run notes"),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"comment": "run notes"}, payload)
}

func TestPayloadSelection(t *testing.T) {
	desc := parseDescription(t, cropDescription)

	payload, err := marshal.Payload(desc, map[string]marshal.Value{
		"method": marshal.Selection("fast"),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "fast", payload["method"])
}

func TestPayloadMultiSelectionNeedsJoin(t *testing.T) {
	desc := parseDescription(t, cropDescription)
	values := map[string]marshal.Value{
		"models": marshal.Selection("frak2021", "german_print"),
	}

	_, err := marshal.Payload(desc, values, nil)
	require.ErrorIs(t, err, marshal.ErrMarshal)

	payload, err := marshal.Payload(desc, values, marshal.SubmitOverrides{
		"models": {JoinWith: "+"},
	})
	require.NoError(t, err)
	assert.Equal(t, "frak2021+german_print", payload["models"])
}

func TestPayloadEmptySelectionFails(t *testing.T) {
	desc := parseDescription(t, cropDescription)

	_, err := marshal.Payload(desc, map[string]marshal.Value{
		"method": marshal.Selection(),
	}, nil)
	assert.ErrorIs(t, err, marshal.ErrMarshal)
}

func TestPayloadKindMismatch(t *testing.T) {
	desc := parseDescription(t, cropDescription)

	_, err := marshal.Payload(desc, map[string]marshal.Value{
		"dpi": marshal.String("300"),
	}, nil)
	require.ErrorIs(t, err, marshal.ErrMarshal)
	assert.Contains(t, err.Error(), "dpi")
}

func TestPayloadObjectReparsesJSON(t *testing.T) {
	desc := parseDescription(t, cropDescription)

	payload, err := marshal.Payload(desc, map[string]marshal.Value{
		"regions": marshal.String(`{"x": 1, "w": 200}`),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1.0, "w": 200.0}, payload["regions"])

	_, err = marshal.Payload(desc, map[string]marshal.Value{
		"regions": marshal.String(`{"x": `),
	}, nil)
	assert.ErrorIs(t, err, marshal.ErrMarshal)
}

func TestPayloadNumericBounds(t *testing.T) {
	desc := parseDescription(t, cropDescription)

	_, err := marshal.Payload(desc, map[string]marshal.Value{
		"dpi": marshal.Integer(24),
	}, nil)
	assert.ErrorIs(t, err, marshal.ErrMarshal)

	_, err = marshal.Payload(desc, map[string]marshal.Value{
		"confidence": marshal.Decimal(1.5),
	}, nil)
	assert.ErrorIs(t, err, marshal.ErrMarshal)

	payload, err := marshal.Payload(desc, map[string]marshal.Value{
		"confidence": marshal.Decimal(0.9),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.9, payload["confidence"])
}

func TestPayloadDecimalAcceptsInteger(t *testing.T) {
	desc := parseDescription(t, cropDescription)

	payload, err := marshal.Payload(desc, map[string]marshal.Value{
		"confidence": marshal.Integer(1),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, payload["confidence"])
}

func TestPayloadSubmitOverrides(t *testing.T) {
	desc := parseDescription(t, cropDescription)

	replacement := marshal.String("replaced")
	payload, err := marshal.Payload(desc, map[string]marshal.Value{
		"comment":   marshal.String("original"),
		"overwrite": marshal.Boolean(true),
	}, marshal.SubmitOverrides{
		"comment":   {Replace: &replacement},
		"overwrite": {Drop: true},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"comment": "replaced"}, payload)
}

func TestPayloadFanOut(t *testing.T) {
	desc := parseDescription(t, cropDescription)

	payload, err := marshal.Payload(desc, map[string]marshal.Value{
		"comment": marshal.String("trigger"),
	}, marshal.SubmitOverrides{
		"comment": {FanOut: map[string]marshal.Value{
			"dpi":           marshal.Integer(600),
			"overwrite":     marshal.Boolean(true),
			"not-in-schema": marshal.String("dropped"),
		}},
	})
	require.NoError(t, err)

	// The fan-out replaces the original entry and never introduces keys
	// outside the schema.
	assert.Equal(t, map[string]any{"dpi": int64(600), "overwrite": true}, payload)
}

func TestPayloadSerializationIsStable(t *testing.T) {
	desc := parseDescription(t, cropDescription)

	values := map[string]marshal.Value{
		"method":     marshal.Selection("fast"),
		"dpi":        marshal.Integer(600),
		"confidence": marshal.Decimal(0.8),
		"overwrite":  marshal.Boolean(true),
	}

	first, err := marshal.Payload(desc, values, nil)
	require.NoError(t, err)
	second, err := marshal.Payload(desc, values, nil)
	require.NoError(t, err)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, firstJSON, secondJSON)
}
