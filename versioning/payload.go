package versioning

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Payload is a decoded snapshot of a live record.
type Payload map[string]any

// EncodePayload serialises a projected row. Temporal values are written as
// RFC 3339 timestamps with nanosecond precision.
func EncodePayload(row Row) ([]byte, error) {
	canonical := make(map[string]any, len(row))

	for k, v := range row {
		canonical[k] = canonicalValue(v)
	}

	data, err := json.Marshal(canonical)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	return data, nil
}

func canonicalValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case *time.Time:
		if val == nil {
			return nil
		}

		return val.Format(time.RFC3339Nano)
	case [16]byte:
		return uuid.UUID(val).String()
	}

	return v
}

// DecodePayload parses a serialised payload. Integral numbers are decoded
// as int64, other numbers as float64.
func DecodePayload(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	dec.UseNumber()

	var raw map[string]any

	err := dec.Decode(&raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if raw == nil {
		return nil, errors.New("payload is not an object")
	}

	return Payload(normalizeNumbers(raw).(map[string]any)), nil
}

// decodeData accepts the data column in the forms drivers return it: raw
// JSON text or an already decoded object.
func decodeData(v any) (Payload, error) {
	switch val := v.(type) {
	case []byte:
		return DecodePayload(val)
	case string:
		return DecodePayload([]byte(val))
	case map[string]any:
		return Payload(normalizeNumbers(val).(map[string]any)), nil
	case Payload:
		return val, nil
	case nil:
		return nil, errors.New("missing payload")
	}

	return nil, fmt.Errorf("unsupported payload type %T", v)
}

func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return i
		}

		f, err := val.Float64()
		if err == nil {
			return f
		}

		return val.String()
	case float64:
		if val == math.Trunc(val) &&
			val >= math.MinInt64 && val < math.MaxInt64 {
			return int64(val)
		}

		return val
	case float32:
		return normalizeNumbers(float64(val))
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case map[string]any:
		out := make(map[string]any, len(val))

		for k, item := range val {
			out[k] = normalizeNumbers(item)
		}

		return out
	case []any:
		out := make([]any, len(val))

		for i := range val {
			out[i] = normalizeNumbers(val[i])
		}

		return out
	}

	return v
}

// valuesEqual compares two payload values. Values of different JSON kinds
// are never equal, so true and 1 are different values.
func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(normalizeNumbers(a), normalizeNumbers(b))
}

// ParseColumnValue converts a decoded payload value back into the Go type
// used for the column on the live table.
func ParseColumnValue(col Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch col.Type {
	case TypeTimestamp, TypeDate:
		s, ok := v.(string)
		if !ok {
			return v, nil
		}

		t, err := parseTime(s)
		if err != nil {
			return nil, fmt.Errorf("parse %q value: %w", col.Name, err)
		}

		return t, nil
	case TypeUUID:
		s, ok := v.(string)
		if !ok {
			return v, nil
		}

		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse %q value: %w", col.Name, err)
		}

		return id, nil
	case TypeFloat:
		if i, ok := v.(int64); ok {
			return float64(i), nil
		}
	case TypeNumeric:
		return NumericText(col, v)
	case TypeBytes:
		s, ok := v.(string)
		if !ok {
			return v, nil
		}

		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decode %q value: %w", col.Name, err)
		}

		return b, nil
	}

	return v, nil
}

// NumericText renders an arbitrary precision numeric value as its exact
// decimal text, the form it's stored in snapshots.
func NumericText(col Column, v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		_, err := strconv.ParseFloat(val, 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return nil, fmt.Errorf("invalid numeric %q value: %w",
				col.Name, err)
		}

		return val, nil
	case json.Number:
		return val.String(), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case int:
		return strconv.Itoa(val), nil
	case float64:
		switch {
		case math.IsInf(val, 1):
			return "Infinity", nil
		case math.IsInf(val, -1):
			return "-Infinity", nil
		}

		return strconv.FormatFloat(val, 'f', -1, 64), nil
	}

	return nil, fmt.Errorf("unsupported numeric %q value of type %T",
		col.Name, v)
}

func parseTime(s string) (time.Time, error) {
	layouts := []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", time.DateOnly}

	var firstErr error

	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}

		if firstErr == nil {
			firstErr = err
		}
	}

	return time.Time{}, firstErr //nolint:wrapcheck
}
