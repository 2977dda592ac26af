package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/config"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/logging"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/models"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/paramquery"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/repositories"
	sqlpkg "github.com/ekaya-inc/ekaya-paramquery/pkg/sql"
)

// QueryRenderService renders stored query templates and serves the options of
// query-backed dropdowns.
type QueryRenderService interface {
	// Render applies params to a stored query and returns the rendered text.
	Render(ctx context.Context, orgID, queryID uuid.UUID, params map[string]any) (*RenderResult, error)

	// DropdownOptions returns the options a query-backed dropdown offers.
	DropdownOptions(ctx context.Context, orgID, queryID uuid.UUID, bindings map[string]any) ([]paramquery.DropdownOption, error)

	// AssociatedDropdownOptions returns dropdown options only when the parent
	// query's schema draws a definition from dropdownQueryID.
	AssociatedDropdownOptions(ctx context.Context, orgID, parentQueryID, dropdownQueryID uuid.UUID, bindings map[string]any) ([]paramquery.DropdownOption, error)

	// RefreshResult executes a query with its default values and stores the
	// output as the query's latest result.
	RefreshResult(ctx context.Context, orgID, queryID uuid.UUID) (*models.QueryResult, error)
}

// RenderResult is the outcome of rendering a stored query.
type RenderResult struct {
	QueryID           uuid.UUID      `json:"query_id"`
	Text              string         `json:"text"`
	MissingParameters []string       `json:"missing_parameters"`
	IsSafe            bool           `json:"is_safe"`
	Parameters        map[string]any `json:"parameters"`
}

type queryRenderService struct {
	repo     repositories.QueryRepository
	runners  paramquery.RunnerProvider
	resolver *paramquery.Resolver
	cfg      config.EngineConfig
	logger   *zap.Logger
}

// NewQueryRenderService creates a render service. The repository doubles as
// the store dependent dropdowns are resolved from.
func NewQueryRenderService(
	repo repositories.QueryRepository,
	runners paramquery.RunnerProvider,
	cfg *config.EngineConfig,
	logger *zap.Logger,
) QueryRenderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	var engineCfg config.EngineConfig
	if cfg != nil {
		engineCfg = *cfg
	}
	resolver := paramquery.NewResolver(repo, runners, paramquery.ResolverOptions{
		RetryAttempts: engineCfg.ResolverRetryAttempts,
		Timeout:       engineCfg.ResolverTimeout,
	}, logger)

	return &queryRenderService{
		repo:     repo,
		runners:  runners,
		resolver: resolver,
		cfg:      engineCfg,
		logger:   logger.Named("query-render"),
	}
}

var _ QueryRenderService = (*queryRenderService)(nil)

func (s *queryRenderService) Render(ctx context.Context, orgID, queryID uuid.UUID, params map[string]any) (*RenderResult, error) {
	query, err := s.repo.GetQuery(ctx, orgID, queryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get query: %w", err)
	}

	if !query.Schema.IsSafe() && s.cfg.ScreenTextParameters {
		if detected := sqlpkg.CheckTextParameters(query.Schema, params); len(detected) > 0 {
			first := detected[0]
			s.logger.Warn("Rejected parameter value",
				zap.String("query_id", queryID.String()),
				zap.String("param", first.ParamName),
				zap.String("fingerprint", first.Fingerprint),
				zap.String("value", logging.SanitizeValue(first.ParamValue)),
			)
			return nil, fmt.Errorf("parameter %q: %w", first.ParamName, apperrors.ErrInjectionDetected)
		}
	}

	s.warnQuotedListParameters(query)

	validator := paramquery.NewValidator(s.resolver, orgID, s.logger)
	engine := paramquery.NewEngine(query.QueryText, query.Schema, validator, s.cfg.MaxParallelValidations, s.logger)
	if err := engine.Apply(ctx, params); err != nil {
		return nil, err
	}

	missing, err := engine.MissingParameters()
	if err != nil {
		return nil, err
	}

	return &RenderResult{
		QueryID:           queryID,
		Text:              engine.Text(),
		MissingParameters: missing,
		IsSafe:            engine.IsSafe(),
		Parameters:        engine.Parameters(),
	}, nil
}

// warnQuotedListParameters logs list parameters that carry their own quotes
// and also sit inside a string literal of the template; their rendered
// values would be quoted twice.
func (s *queryRenderService) warnQuotedListParameters(query *models.Query) {
	for _, name := range sqlpkg.FindParametersInStringLiterals(query.QueryText) {
		def, ok := query.Schema.Lookup(name)
		if !ok || !def.AllowsMultipleValues() {
			continue
		}
		if def.MultiValuesOptions.Prefix == "" && def.MultiValuesOptions.Suffix == "" {
			continue
		}
		s.logger.Warn("List parameter with quoting appears inside a string literal",
			zap.String("query_id", query.ID.String()),
			zap.String("param", name),
		)
	}
}

func (s *queryRenderService) DropdownOptions(ctx context.Context, orgID, queryID uuid.UUID, bindings map[string]any) ([]paramquery.DropdownOption, error) {
	return s.resolver.Resolve(ctx, orgID, queryID, bindings)
}

func (s *queryRenderService) AssociatedDropdownOptions(ctx context.Context, orgID, parentQueryID, dropdownQueryID uuid.UUID, bindings map[string]any) ([]paramquery.DropdownOption, error) {
	parent, err := s.repo.GetQuery(ctx, orgID, parentQueryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get query: %w", err)
	}
	if !parent.Schema.ReferencesQuery(dropdownQueryID) {
		return nil, fmt.Errorf("query %s is not associated with query %s: %w",
			dropdownQueryID, parentQueryID, apperrors.ErrNotFound)
	}
	return s.resolver.Resolve(ctx, orgID, dropdownQueryID, bindings)
}

func (s *queryRenderService) RefreshResult(ctx context.Context, orgID, queryID uuid.UUID) (*models.QueryResult, error) {
	query, err := s.repo.GetQuery(ctx, orgID, queryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get query: %w", err)
	}
	if query.IsDetached() {
		return nil, &paramquery.QueryDetachedError{QueryID: queryID}
	}

	defaults := make(map[string]any)
	for _, def := range query.Schema {
		if def.Value != nil {
			defaults[def.Name] = def.Value
		}
	}

	text, err := sqlpkg.NormalizeStatement(paramquery.RenderChild(query, defaults))
	if err != nil {
		return nil, err
	}

	runner, err := s.runners.RunnerFor(ctx, orgID, query.Datasource)
	if err != nil {
		return nil, fmt.Errorf("failed to open runner: %w", err)
	}
	defer func() {
		if err := runner.Close(); err != nil {
			s.logger.Warn("Failed to release runner", zap.Error(err))
		}
	}()

	raw, err := runner.Run(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	result, err := paramquery.ToQueryResult(raw)
	if err != nil {
		return nil, err
	}
	result.OrgID = orgID
	result.QueryID = queryID

	if err := s.repo.SaveResult(ctx, result); err != nil {
		return nil, err
	}

	s.logger.Info("Refreshed query result",
		zap.String("query_id", queryID.String()),
		zap.Int("rows", len(result.Rows)),
	)
	return result, nil
}
