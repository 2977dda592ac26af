package models

import (
	"time"

	"github.com/google/uuid"
)

// Datasource is an external data connection a query runs against.
// Config holds connection details whose structure varies by DatasourceType.
type Datasource struct {
	ID             uuid.UUID      `json:"id"`
	OrgID          uuid.UUID      `json:"org_id"`
	Name           string         `json:"name"`
	DatasourceType string         `json:"datasource_type"` // "postgres", "mssql", "mysql", "sqlite"
	Config         map[string]any `json:"config"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
