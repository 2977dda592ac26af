package datasource

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/apperrors"
)

// ConfigError reports an invalid datasource config. The result matches
// apperrors.ErrInvalidDatasourceConfig with errors.Is.
func ConfigError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperrors.ErrInvalidDatasourceConfig, fmt.Sprintf(format, args...))
}

// StringOption returns the first non-empty string stored under any of keys.
// Later keys are accepted as legacy spellings of the first.
func StringOption(config map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if s, ok := config[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// IntOption reads an integer option. JSON numbers decode as float64 or
// json.Number, and hand-written configs sometimes quote ports, so all of
// those are accepted. A missing key returns ok=false with no error.
func IntOption(config map[string]any, key string) (int, bool, error) {
	raw, exists := config[key]
	if !exists || raw == nil {
		return 0, false, nil
	}

	switch v := raw.(type) {
	case int:
		return v, true, nil
	case int32:
		return int(v), true, nil
	case int64:
		return int(v), true, nil
	case float64:
		if v != float64(int(v)) {
			return 0, false, ConfigError("%s must be an integer, got %v", key, v)
		}
		return int(v), true, nil
	case json.Number:
		n, err := strconv.Atoi(v.String())
		if err != nil {
			return 0, false, ConfigError("%s must be an integer: %v", key, err)
		}
		return n, true, nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false, ConfigError("%s must be an integer: %v", key, err)
		}
		return n, true, nil
	}
	return 0, false, ConfigError("%s has unsupported type %T", key, raw)
}

// BoolOption reads a boolean option given as a bool or as "true"/"false".
func BoolOption(config map[string]any, key string) (bool, bool) {
	switch v := config[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, false
		}
		return b, true
	}
	return false, false
}
