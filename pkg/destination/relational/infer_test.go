package relational

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferType_Determinism(t *testing.T) {
	cases := []struct {
		name  string
		value any
		want  string
	}{
		{"nil", nil, typeString},
		{"bool", true, typeBoolean},
		{"int", 3, typeInt64},
		{"whole float", 12.0, typeInt64},
		{"fractional float", 12.5, typeFloat64},
		{"uuid string", "a1b2c3d4-e5f6-7788-9900-aabbccddeeff", typeUUID},
		{"json object string", `{"k":"v"}`, typeJSON},
		{"json array string", `[1,2,3]`, typeJSON},
		{"plain string", "urgent", typeString},
		{"map value", map[string]any{"k": "v"}, typeJSON},
		{"slice value", []any{1, 2}, typeJSON},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got1 := inferType(c.value)
			got2 := inferType(c.value)
			assert.Equal(t, c.want, got1)
			assert.Equal(t, got1, got2, "inferType must be a pure function")
		})
	}
}

func TestNormalizeDeclaredType(t *testing.T) {
	assert.Equal(t, typeInt64, normalizeDeclaredType("int64"))
	assert.Equal(t, typeInt64, normalizeDeclaredType("INT64"))
	assert.Equal(t, typeJSON, normalizeDeclaredType("struct"))
	assert.Equal(t, typeJSON, normalizeDeclaredType("array"))
	assert.Equal(t, typeString, normalizeDeclaredType("enum"))
	assert.Equal(t, typeString, normalizeDeclaredType("something-unknown"))
}

func TestCoerce_IntegerFamily(t *testing.T) {
	v, err := coerce(typeInt64, float64(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = coerce(typeInt64, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = coerce(typeInt64, "")
	require.NoError(t, err)
	assert.Nil(t, v, "empty string binds NULL for an integer column")

	v, err = coerce(typeInt64, "null")
	require.NoError(t, err)
	assert.Nil(t, v, "literal null string binds NULL for an integer column")

	_, err = coerce(typeInt64, "not-a-number")
	assert.Error(t, err)
}

func TestCoerce_FloatFamily(t *testing.T) {
	v, err := coerce(typeFloat64, "3.5")
	require.NoError(t, err)
	assert.Equal(t, 3.5, v)

	v, err = coerce(typeFloat64, "NULL")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestCoerce_Boolean(t *testing.T) {
	v, err := coerce(typeBoolean, "true")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = coerce(typeBoolean, "0")
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestCoerce_UUID(t *testing.T) {
	const id = "a1b2c3d4-e5f6-7788-9900-aabbccddeeff"
	v, err := coerce(typeUUID, id)
	require.NoError(t, err)
	assert.Equal(t, id, v)

	v, err = coerce(typeUUID, "not-a-uuid")
	require.NoError(t, err, "an invalid uuid fails soft to NULL rather than aborting the row")
	assert.Nil(t, v)
}

func TestCoerce_JSON(t *testing.T) {
	v, err := coerce(typeJSON, map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, v.(string))

	v, err = coerce(typeJSON, `{"already":"json"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"already":"json"}`, v)
}

func TestCoerce_Text(t *testing.T) {
	v, err := coerce(typeString, "")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = coerce(typeString, "null")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = coerce(typeString, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestCoerce_Nil(t *testing.T) {
	v, err := coerce(typeInt64, nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

// TestCoerce_TimestampEpochHeuristic exercises spec scenario S5: the same
// instant expressed in seconds, milliseconds, microseconds, and nanoseconds
// must all bind to the same wall-clock value.
func TestCoerce_TimestampEpochHeuristic(t *testing.T) {
	want := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

	cases := []any{
		float64(1700000000),
		float64(1700000000000),
		float64(1700000000000000),
		float64(1700000000000000000),
	}
	for _, raw := range cases {
		v, err := coerce(typeTimestamp, raw)
		require.NoError(t, err)
		got := v.(time.Time)
		assert.WithinDuration(t, want, got, time.Second, "epoch unit %v must resolve to the same instant", raw)
	}
}

func TestCoerce_TimestampRFC3339String(t *testing.T) {
	v, err := coerce(typeTimestamp, "2023-11-14T22:13:20Z")
	require.NoError(t, err)
	got := v.(time.Time)
	assert.Equal(t, 2023, got.Year())
}
