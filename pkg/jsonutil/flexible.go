package jsonutil

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// FlexibleStringValue converts a json.RawMessage to a string, handling cases where
// a producer returns numbers or booleans instead of strings. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	// Try string first
	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	// Try number, keeping the literal when it is an exact integer
	var numVal json.Number
	if err := json.Unmarshal(raw, &numVal); err == nil {
		return flexibleNumber(numVal)
	}

	// Try boolean
	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return fmt.Sprintf("%t", boolVal)
	}

	// Fallback: return raw string representation
	return string(raw)
}

// FlexibleString converts a decoded scalar (from JSON or a database driver) to
// the string form used when comparing parameter values with option lists.
// Integral floats print without a fractional part so that 42.0 and "42" compare equal.
func FlexibleString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case json.RawMessage:
		return FlexibleStringValue(val)
	case json.Number:
		return flexibleNumber(val)
	case float64:
		return flexibleFloat(val)
	case float32:
		return flexibleFloat(float64(val))
	case bool:
		return fmt.Sprintf("%t", val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case [16]byte:
		// pgx decodes uuid columns to raw bytes
		return uuid.UUID(val).String()
	case driver.Valuer:
		// pgtype values such as Numeric render through their driver value
		inner, err := val.Value()
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		if _, same := inner.(driver.Valuer); same {
			return fmt.Sprintf("%v", inner)
		}
		return FlexibleString(inner)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func flexibleNumber(n json.Number) string {
	if _, err := n.Int64(); err == nil {
		return n.String()
	}
	if f, err := n.Float64(); err == nil {
		return flexibleFloat(f)
	}
	return n.String()
}

func flexibleFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
