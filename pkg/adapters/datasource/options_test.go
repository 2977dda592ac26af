package datasource

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/apperrors"
)

func TestStringOption_LegacySpellings(t *testing.T) {
	config := map[string]any{"name": "legacy", "database": ""}

	v, ok := StringOption(config, "database", "name")
	assert.True(t, ok)
	assert.Equal(t, "legacy", v, "empty preferred key falls through to the legacy spelling")

	_, ok = StringOption(config, "host")
	assert.False(t, ok)
}

func TestIntOption(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		want    int
		ok      bool
		wantErr bool
	}{
		{"int", 5433, 5433, true, false},
		{"float64 from JSON", float64(5432), 5432, true, false},
		{"json.Number", json.Number("1433"), 1433, true, false},
		{"quoted", "3306", 3306, true, false},
		{"fractional", 12.5, 0, false, true},
		{"garbage", "abc", 0, false, true},
		{"unsupported", []string{"1"}, 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := IntOption(map[string]any{"port": tt.raw}, "port")
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperrors.ErrInvalidDatasourceConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok, err := IntOption(map[string]any{}, "port")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBoolOption(t *testing.T) {
	v, ok := BoolOption(map[string]any{"encrypt": true}, "encrypt")
	assert.True(t, ok)
	assert.True(t, v)

	v, ok = BoolOption(map[string]any{"encrypt": "false"}, "encrypt")
	assert.True(t, ok)
	assert.False(t, v)

	_, ok = BoolOption(map[string]any{"encrypt": "strict"}, "encrypt")
	assert.False(t, ok)
}
