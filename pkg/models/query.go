package models

import (
	"time"

	"github.com/google/uuid"
)

// Query is a stored query template together with its parameter schema.
type Query struct {
	ID        uuid.UUID `json:"id"`
	OrgID     uuid.UUID `json:"org_id"`
	Name      string    `json:"name"`
	QueryText string    `json:"query_text"`
	Schema    Schema    `json:"schema,omitempty"`

	// Datasource is nil when the query is detached from any data source.
	Datasource *Datasource `json:"datasource,omitempty"`

	// LatestResultID points at the most recently persisted result snapshot.
	LatestResultID *uuid.UUID `json:"latest_result_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDetached reports whether the query has no data source attached.
func (q *Query) IsDetached() bool {
	return q.Datasource == nil
}

// ResultColumn describes one column of a stored result.
type ResultColumn struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// QueryResult is a persisted result snapshot of a query execution.
type QueryResult struct {
	ID          uuid.UUID        `json:"id"`
	OrgID       uuid.UUID        `json:"org_id"`
	QueryID     uuid.UUID        `json:"query_id"`
	Columns     []ResultColumn   `json:"columns"`
	Rows        []map[string]any `json:"rows"`
	RetrievedAt time.Time        `json:"retrieved_at"`
}
