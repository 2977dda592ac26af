package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/apperrors"
)

func TestFromMap_ValidConfig(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"host":     "localhost",
		"port":     float64(5432), // JSON numbers are float64
		"user":     "testuser",
		"password": "testpass",
		"database": "testdb",
		"ssl_mode": "disable",
	})
	require.NoError(t, err)

	assert.Equal(t, &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		Database: "testdb",
		SSLMode:  "disable",
	}, cfg)
}

func TestFromMap_Defaults(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"host": "localhost",
		"user": "testuser",
		"name": "legacy_db",
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultPort(), cfg.Port)
	assert.Equal(t, DefaultSSLMode(), cfg.SSLMode)
	assert.Equal(t, "legacy_db", cfg.Database)
}

func TestFromMap_MissingRequiredFields(t *testing.T) {
	base := func() map[string]any {
		return map[string]any{"host": "localhost", "user": "u", "database": "d"}
	}

	for _, field := range []string{"host", "user", "database"} {
		t.Run(field, func(t *testing.T) {
			config := base()
			delete(config, field)

			_, err := FromMap(config)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidDatasourceConfig)
			assert.Contains(t, err.Error(), field)
		})
	}
}

func TestFromMap_BadPort(t *testing.T) {
	_, err := FromMap(map[string]any{"host": "h", "user": "u", "database": "d", "port": "abc"})
	require.Error(t, err)
}
