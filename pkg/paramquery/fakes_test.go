package paramquery

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/models"
)

var testOrgID = uuid.MustParse("00000000-0000-0000-0000-0000000000aa")

// memStore is an in-memory QueryStore.
type memStore struct {
	mu      sync.Mutex
	queries map[uuid.UUID]*models.Query
	results map[uuid.UUID]*models.QueryResult
}

func newMemStore() *memStore {
	return &memStore{
		queries: make(map[uuid.UUID]*models.Query),
		results: make(map[uuid.UUID]*models.QueryResult),
	}
}

func (s *memStore) GetQuery(ctx context.Context, orgID, queryID uuid.UUID) (*models.Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queries[queryID]
	if !ok || q.OrgID != orgID {
		return nil, fmt.Errorf("query %s: %w", queryID, apperrors.ErrNotFound)
	}
	return q, nil
}

func (s *memStore) GetResult(ctx context.Context, orgID, resultID uuid.UUID) (*models.QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[resultID]
	if !ok || r.OrgID != orgID {
		return nil, fmt.Errorf("result %s: %w", resultID, apperrors.ErrNotFound)
	}
	return r, nil
}

// addQuery stores an attached query with the given text.
func (s *memStore) addQuery(text string) *models.Query {
	q := &models.Query{
		ID:         uuid.New(),
		OrgID:      testOrgID,
		QueryText:  text,
		Datasource: &models.Datasource{ID: uuid.New(), OrgID: testOrgID, DatasourceType: "fake"},
	}
	s.mu.Lock()
	s.queries[q.ID] = q
	s.mu.Unlock()
	return q
}

// addDetachedQuery stores a query with no data source.
func (s *memStore) addDetachedQuery() *models.Query {
	q := &models.Query{ID: uuid.New(), OrgID: testOrgID, QueryText: "SELECT 1"}
	s.mu.Lock()
	s.queries[q.ID] = q
	s.mu.Unlock()
	return q
}

// setLatestResult attaches a stored result with a single "value" column.
func (s *memStore) setLatestResult(q *models.Query, values ...string) {
	rows := make([]map[string]any, len(values))
	for i, v := range values {
		rows[i] = map[string]any{"value": v}
	}
	result := &models.QueryResult{
		ID:      uuid.New(),
		OrgID:   testOrgID,
		QueryID: q.ID,
		Columns: []models.ResultColumn{{Name: "value"}},
		Rows:    rows,
	}
	s.mu.Lock()
	s.results[result.ID] = result
	q.LatestResultID = &result.ID
	s.mu.Unlock()
}

// scriptedRunner answers Run from a function and records the texts it ran.
type scriptedRunner struct {
	mu     sync.Mutex
	run    func(text string) (any, error)
	texts  []string
	closed int
}

func (r *scriptedRunner) Run(ctx context.Context, text string) (any, error) {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.run(text)
}

func (r *scriptedRunner) Ping(ctx context.Context) error { return nil }

func (r *scriptedRunner) Close() error {
	r.mu.Lock()
	r.closed++
	r.mu.Unlock()
	return nil
}

func (r *scriptedRunner) ranTexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

// staticRunners hands out the same runner for every data source.
type staticRunners struct {
	runner datasource.QueryRunner
	err    error
}

func (p *staticRunners) RunnerFor(ctx context.Context, orgID uuid.UUID, ds *models.Datasource) (datasource.QueryRunner, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.runner, nil
}

// valuesResult builds a runner result with one column named column.
func valuesResult(column string, values ...any) *datasource.QueryExecutionResult {
	rows := make([]map[string]any, len(values))
	for i, v := range values {
		rows[i] = map[string]any{column: v}
	}
	return &datasource.QueryExecutionResult{
		Columns:  []datasource.ColumnInfo{{Name: column, Type: "TEXT"}},
		Rows:     rows,
		RowCount: len(rows),
	}
}

// fixedResolver returns canned options and records the bindings it saw.
type fixedResolver struct {
	mu       sync.Mutex
	options  map[uuid.UUID][]DropdownOption
	err      error
	bindings []map[string]any
}

func (r *fixedResolver) Resolve(ctx context.Context, orgID, queryID uuid.UUID, bound map[string]any) ([]DropdownOption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = append(r.bindings, bound)
	if r.err != nil {
		return nil, r.err
	}
	return r.options[queryID], nil
}

func optionsOf(values ...string) []DropdownOption {
	opts := make([]DropdownOption, len(values))
	for i, v := range values {
		opts[i] = DropdownOption{Name: v, Value: v}
	}
	return opts
}
