package paramquery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/logging"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/models"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/retry"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/sql"
)

var (
	errMalformedResult = errors.New("result has no columns and rows")
	errNoColumns       = errors.New("result has no columns")
	errNoLatestResult  = errors.New("query has no stored result")
)

// QueryStore loads stored queries and their persisted result snapshots,
// scoped to an organization.
type QueryStore interface {
	GetQuery(ctx context.Context, orgID, queryID uuid.UUID) (*models.Query, error)
	GetResult(ctx context.Context, orgID, resultID uuid.UUID) (*models.QueryResult, error)
}

// RunnerProvider hands out a runner for a query's data source.
// datasource.RunnerPool implements it.
type RunnerProvider interface {
	RunnerFor(ctx context.Context, orgID uuid.UUID, ds *models.Datasource) (datasource.QueryRunner, error)
}

// DropdownOption is one selectable {name, value} pair produced from a
// query-backed dropdown.
type DropdownOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// OptionsResolver produces the dropdown options of a stored query, with
// bound rendered into the query's template first.
type OptionsResolver interface {
	Resolve(ctx context.Context, orgID, queryID uuid.UUID, bound map[string]any) ([]DropdownOption, error)
}

// ResolverOptions tunes child query execution.
type ResolverOptions struct {
	// RetryAttempts is the number of retries for transient runner errors.
	RetryAttempts int
	// Timeout bounds a single child query run. Zero means no extra bound.
	Timeout time.Duration
}

// Resolver executes the query behind a dropdown parameter and projects its
// rows into options. When execution fails for any reason the latest stored
// result of the query is used instead.
type Resolver struct {
	store   QueryStore
	runners RunnerProvider
	retry   *retry.Config
	timeout time.Duration
	logger  *zap.Logger
}

var _ OptionsResolver = (*Resolver)(nil)

// NewResolver creates a resolver backed by store and runners.
func NewResolver(store QueryStore, runners RunnerProvider, opts ResolverOptions, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:   store,
		runners: runners,
		retry:   retry.WithMaxRetries(opts.RetryAttempts),
		timeout: opts.Timeout,
		logger:  logger.Named("resolver"),
	}
}

// Resolve returns the options of queryID in result row order. Duplicates are
// kept. A query without a data source yields *QueryDetachedError.
func (r *Resolver) Resolve(ctx context.Context, orgID, queryID uuid.UUID, bound map[string]any) ([]DropdownOption, error) {
	query, err := r.store.GetQuery(ctx, orgID, queryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load query %s: %w", queryID, err)
	}
	if query.IsDetached() {
		return nil, &QueryDetachedError{QueryID: queryID}
	}

	options, err := r.execute(ctx, orgID, query, bound)
	if err != nil {
		r.logger.Debug("Dependent query execution failed, using latest stored result",
			zap.String("query_id", queryID.String()),
			zap.String("error", logging.SanitizeError(err)))

		options, err = r.latestOptions(ctx, orgID, query)
		if err != nil {
			return nil, fmt.Errorf("no options for query %s: %w", queryID, err)
		}
	}
	return options, nil
}

// RenderChild renders query's template with bound, coercing list values by
// the query's own schema. Bound values are not validated.
func RenderChild(query *models.Query, bound map[string]any) string {
	if bound == nil {
		bound = map[string]any{}
	}
	joined := sql.JoinListValues(bound, query.Schema)
	return sql.RenderTemplate(query.QueryText, sql.BuildRenderContext(joined))
}

func (r *Resolver) execute(ctx context.Context, orgID uuid.UUID, query *models.Query, bound map[string]any) ([]DropdownOption, error) {
	text, err := sql.NormalizeStatement(RenderChild(query, bound))
	if err != nil {
		return nil, err
	}

	runner, err := r.runners.RunnerFor(ctx, orgID, query.Datasource)
	if err != nil {
		return nil, fmt.Errorf("failed to get runner: %w", err)
	}
	defer func() {
		if cerr := runner.Close(); cerr != nil {
			r.logger.Warn("Failed to close runner", zap.Error(cerr))
		}
	}()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.logger.Debug("Running dependent query",
		zap.String("query_id", query.ID.String()),
		zap.String("sql", logging.SanitizeQuery(text)))

	var raw any
	err = retry.DoIfRetryable(ctx, r.retry, func() error {
		var runErr error
		raw, runErr = runner.Run(ctx, text)
		return runErr
	})
	if err != nil {
		return nil, err
	}

	rs, err := decodeResult(raw)
	if err != nil {
		return nil, err
	}
	return projectOptions(rs)
}

func (r *Resolver) latestOptions(ctx context.Context, orgID uuid.UUID, query *models.Query) ([]DropdownOption, error) {
	if query.LatestResultID == nil {
		return nil, errNoLatestResult
	}
	stored, err := r.store.GetResult(ctx, orgID, *query.LatestResultID)
	if err != nil {
		return nil, fmt.Errorf("failed to load result %s: %w", *query.LatestResultID, err)
	}
	rs, err := decodeResult(stored)
	if err != nil {
		return nil, err
	}
	return projectOptions(rs)
}

// resultSet is the shape every raw result is decoded into.
type resultSet struct {
	Columns []models.ResultColumn `json:"columns"`
	Rows    []map[string]any      `json:"rows"`
}

// decodeResult accepts JSON text or any value that marshals to an object
// with columns and rows.
func decodeResult(raw any) (*resultSet, error) {
	var data []byte
	switch v := raw.(type) {
	case nil:
		return nil, errMalformedResult
	case *models.QueryResult:
		if v == nil || v.Columns == nil || v.Rows == nil {
			return nil, errMalformedResult
		}
		return &resultSet{Columns: v.Columns, Rows: v.Rows}, nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode result: %w", err)
		}
		data = encoded
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rs resultSet
	if err := dec.Decode(&rs); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	if rs.Columns == nil || rs.Rows == nil {
		return nil, errMalformedResult
	}
	return &rs, nil
}

// ToQueryResult converts raw runner output into a result snapshot ready to
// be persisted as a query's latest result.
func ToQueryResult(raw any) (*models.QueryResult, error) {
	rs, err := decodeResult(raw)
	if err != nil {
		return nil, err
	}
	return &models.QueryResult{Columns: rs.Columns, Rows: rs.Rows}, nil
}

// projectOptions maps every row to an option. A "name" or "value" column is
// used when present (case-insensitive); otherwise both come from the first
// column.
func projectOptions(rs *resultSet) ([]DropdownOption, error) {
	if len(rs.Columns) == 0 {
		return nil, errNoColumns
	}
	first := strings.ToLower(rs.Columns[0].Name)

	options := make([]DropdownOption, 0, len(rs.Rows))
	for i, row := range rs.Rows {
		lowered := make(map[string]any, len(row))
		for k, v := range row {
			lowered[strings.ToLower(k)] = v
		}

		name, ok := pick(lowered, "name", first)
		if !ok {
			return nil, fmt.Errorf("row %d has no %q column", i, first)
		}
		value, ok := pick(lowered, "value", first)
		if !ok {
			return nil, fmt.Errorf("row %d has no %q column", i, first)
		}
		options = append(options, DropdownOption{
			Name:  jsonutil.FlexibleString(name),
			Value: jsonutil.FlexibleString(value),
		})
	}
	return options, nil
}

func pick(row map[string]any, preferred, fallback string) (any, bool) {
	if v, ok := row[preferred]; ok {
		return v, true
	}
	v, ok := row[fallback]
	return v, ok
}
