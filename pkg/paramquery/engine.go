package paramquery

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/models"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/sql"
)

// DefaultMaxParallelValidations bounds concurrent validations when the
// engine is created with a non-positive limit.
const DefaultMaxParallelValidations = 8

// Engine binds parameter values to one query template. It is not safe for
// concurrent use; create one per rendering request.
//
// Until the first successful Apply, Text returns the raw template.
type Engine struct {
	template    string
	schema      models.Schema
	validator   *Validator
	parallelism int
	logger      *zap.Logger

	parameters map[string]any
	text       string
}

// NewEngine creates an engine for template governed by schema.
func NewEngine(template string, schema models.Schema, validator *Validator, parallelism int, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validator == nil {
		validator = NewValidator(nil, uuid.Nil, logger)
	}
	if parallelism < 1 {
		parallelism = DefaultMaxParallelValidations
	}
	return &Engine{
		template:    template,
		schema:      schema,
		validator:   validator,
		parallelism: parallelism,
		logger:      logger.Named("engine"),
		parameters:  make(map[string]any),
		text:        template,
	}
}

// Apply validates params and, when every value is valid, merges them into the
// accumulated parameters and re-renders the text. Invalid values produce one
// *InvalidParameterError naming all of them. On any error the engine is left
// unchanged.
func (e *Engine) Apply(ctx context.Context, params map[string]any) error {
	invalid, err := e.validateAll(ctx, params)
	if err != nil {
		return err
	}
	if len(invalid) > 0 {
		e.logger.Debug("Rejected parameter values", zap.Strings("parameters", invalid))
		return &InvalidParameterError{Names: invalid}
	}

	merged := maps.Clone(e.parameters)
	maps.Copy(merged, params)

	e.parameters = merged
	e.text = sql.RenderTemplate(e.template, sql.BuildRenderContext(sql.JoinListValues(merged, e.schema)))
	return nil
}

// validateAll returns the sorted names of invalid values. Dependent lookups
// run concurrently, bounded by the engine's parallelism.
func (e *Engine) validateAll(ctx context.Context, params map[string]any) ([]string, error) {
	if len(e.schema) == 0 || len(params) == 0 {
		return nil, nil
	}

	names := slices.Sorted(maps.Keys(params))
	valid := make([]bool, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, name := range names {
		def, ok := e.schema.Lookup(name)
		if !ok {
			continue
		}
		g.Go(func() error {
			ok, err := e.validator.Validate(gctx, def, params[name], params)
			if err != nil {
				return err
			}
			valid[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// A cancelled caller must not see cancellation as bad values.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var invalid []string
	for i, name := range names {
		if !valid[i] {
			invalid = append(invalid, name)
		}
	}
	return invalid, nil
}

// MissingParameters returns the placeholders of the template not satisfied by
// the accumulated parameters, in order of first appearance. An object value
// such as a date range satisfies its dotted component names (name.start,
// name.end) rather than its own name.
func (e *Engine) MissingParameters() ([]string, error) {
	names, err := sql.ExtractParameters(e.template)
	if err != nil {
		return nil, &TemplateParseError{Err: err}
	}

	satisfied := make(map[string]bool, len(e.parameters))
	for name, value := range e.parameters {
		if obj, ok := value.(map[string]any); ok {
			for key := range obj {
				satisfied[fmt.Sprintf("%s.%s", name, key)] = true
			}
			continue
		}
		satisfied[name] = true
	}

	missing := make([]string, 0)
	for _, name := range names {
		if !satisfied[name] {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// IsSafe reports whether the schema has no free-text parameters.
func (e *Engine) IsSafe() bool {
	return e.schema.IsSafe()
}

// Text returns the current rendered text.
func (e *Engine) Text() string {
	return e.text
}

// Parameters returns a copy of the accumulated parameters.
func (e *Engine) Parameters() map[string]any {
	return maps.Clone(e.parameters)
}

// Schema returns the schema the engine validates against.
func (e *Engine) Schema() models.Schema {
	return e.schema
}
