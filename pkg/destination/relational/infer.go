package relational

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Canonical type tokens, independent of destination dialect. Every
// declared-type -> relational-type mapping goes through one of these.
const (
	typeInt8           = "int8"
	typeInt16          = "int16"
	typeInt32          = "int32"
	typeInt64          = "int64"
	typeFloat32        = "float32"
	typeFloat64        = "float64"
	typeBoolean        = "boolean"
	typeString         = "string"
	typeBytes          = "bytes"
	typeDate           = "date"
	typeTime           = "time"
	typeTimestamp      = "timestamp"
	typeZonedTimestamp = "zoned-timestamp"
	typeDecimal        = "decimal"
	typeUUID           = "uuid"
	typeJSON           = "json"
)

// normalizeDeclaredType maps a source-reported declared type name (spec §6
// declared-type -> relational-type table) to one of the canonical tokens
// above, case-insensitively. Unrecognized names fall back to typeString so a
// sink never fails on a declared type it doesn't know: least-surprise is a
// TEXT column, not a rejected batch.
func normalizeDeclaredType(declared string) string {
	switch strings.ToLower(declared) {
	case "int8":
		return typeInt8
	case "int16":
		return typeInt16
	case "int32":
		return typeInt32
	case "int64":
		return typeInt64
	case "float32":
		return typeFloat32
	case "float64":
		return typeFloat64
	case "boolean", "bool":
		return typeBoolean
	case "string", "varchar", "text":
		return typeString
	case "bytes", "binary":
		return typeBytes
	case "date":
		return typeDate
	case "time":
		return typeTime
	case "timestamp", "timestamp(millis)", "timestamp(micros)", "timestamp(nanos)":
		return typeTimestamp
	case "zoned-timestamp":
		return typeZonedTimestamp
	case "decimal", "numeric":
		return typeDecimal
	case "uuid":
		return typeUUID
	case "json", "struct", "array":
		return typeJSON
	case "enum":
		return typeString
	default:
		return typeString
	}
}

// inferType is a pure function: identical (value) inputs always produce the
// identical canonical type token. It never sees the column name; the "id"
// primary-key special case is decided separately by isPrimaryKeyName.
func inferType(value any) string {
	switch v := value.(type) {
	case nil:
		return typeString
	case bool:
		return typeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return typeInt64
	case float32:
		return typeFloat32
	case float64:
		if v == float64(int64(v)) {
			return typeInt64
		}
		return typeFloat64
	case string:
		return inferStringType(v)
	case map[string]any, []any:
		return typeJSON
	default:
		return typeString
	}
}

func inferStringType(s string) string {
	if s == "" {
		return typeString
	}
	if _, err := uuid.Parse(s); err == nil {
		return typeUUID
	}
	trimmed := strings.TrimSpace(s)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var probe any
		if json.Unmarshal([]byte(trimmed), &probe) == nil {
			return typeJSON
		}
	}
	if _, err := time.Parse(time.RFC3339, s); err == nil {
		return typeTimestamp
	}
	return typeString
}

// coerce converts a raw decoded JSON value into the Go value appropriate for
// binding against a column declared with canonical type columnType.
func coerce(columnType string, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch columnType {
	case typeInt8, typeInt16, typeInt32, typeInt64:
		return coerceInt(raw)
	case typeFloat32, typeFloat64:
		return coerceFloat(raw)
	case typeBoolean:
		return coerceBool(raw)
	case typeUUID:
		s, ok := raw.(string)
		if !ok {
			log.Warn().Str("type", fmt.Sprintf("%T", raw)).Msg("relational: uuid column requires string value, binding NULL")
			return nil, nil
		}
		id, err := uuid.Parse(s)
		if err != nil {
			log.Warn().Str("value", s).Err(err).Msg("relational: invalid uuid, binding NULL")
			return nil, nil
		}
		return id.String(), nil
	case typeJSON:
		return coerceJSON(raw)
	case typeTimestamp, typeZonedTimestamp, typeDate, typeTime:
		return coerceTimestamp(raw)
	default:
		return coerceText(raw)
	}
}

// isNullish reports whether s is the empty string or a case-insensitive
// "null" literal, the two string spellings spec §4.E binds as SQL NULL for
// integer, float, and text columns.
func isNullish(s string) bool {
	return s == "" || strings.EqualFold(s, "null")
}

func coerceInt(raw any) (any, error) {
	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		if isNullish(v) {
			return nil, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("relational: invalid integer %q: %w", v, err)
		}
		return n, nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("relational: cannot coerce %T to integer", raw)
	}
}

func coerceFloat(raw any) (any, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case string:
		if isNullish(v) {
			return nil, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("relational: invalid float %q: %w", v, err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("relational: cannot coerce %T to float", raw)
	}
}

func coerceBool(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("relational: invalid bool %q: %w", v, err)
		}
		return b, nil
	case float64:
		return v != 0, nil
	default:
		return nil, fmt.Errorf("relational: cannot coerce %T to bool", raw)
	}
}

func coerceText(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		if isNullish(v) {
			return nil, nil
		}
		return v, nil
	case float64, int64, bool:
		return fmt.Sprintf("%v", v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("relational: cannot coerce %T to text: %w", raw, err)
		}
		return string(b), nil
	}
}

func coerceJSON(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("relational: marshal json column: %w", err)
		}
		return string(b), nil
	}
}

// coerceTimestamp applies the epoch-unit heuristic: a bare numeric value is
// classified by magnitude into nanoseconds, microseconds, milliseconds, or
// seconds since the epoch, since the wire format carries no unit tag.
func coerceTimestamp(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t, nil
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, nil
		}
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return epochToTime(n), nil
		}
		// Any other string (e.g. a bare "2024-01-15 10:30:00") passes
		// through as-is for the driver/server to parse, per spec: strings
		// are never rejected app-side.
		return v, nil
	case float64:
		return epochToTime(v), nil
	case int64:
		return epochToTime(float64(v)), nil
	case time.Time:
		return v, nil
	default:
		return nil, fmt.Errorf("relational: cannot coerce %T to timestamp", raw)
	}
}

func epochToTime(n float64) time.Time {
	switch {
	case n > 4e18:
		return time.Unix(0, int64(n)).UTC()
	case n > 4e15:
		return time.UnixMicro(int64(n)).UTC()
	case n > 4e12:
		return time.UnixMilli(int64(n)).UTC()
	default:
		return time.Unix(int64(n), 0).UTC()
	}
}
