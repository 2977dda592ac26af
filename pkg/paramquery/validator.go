package paramquery

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/models"
)

// Validator checks one supplied value against its parameter definition.
// Query-backed definitions draw their allowed values from an OptionsResolver.
type Validator struct {
	resolver OptionsResolver
	orgID    uuid.UUID
	logger   *zap.Logger
}

// NewValidator creates a validator resolving dropdown options within orgID.
// A nil resolver makes every query-typed value invalid.
func NewValidator(resolver OptionsResolver, orgID uuid.UUID, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		resolver: resolver,
		orgID:    orgID,
		logger:   logger.Named("validator"),
	}
}

// Validate reports whether value satisfies def. supplied is the full set of
// parameters being applied, used to bind a legacy parent parameter.
//
// The only error returned is *QueryDetachedError. Every other failure,
// including resolver and store errors, is logged and reported as invalid.
func (v *Validator) Validate(ctx context.Context, def *models.ParameterDefinition, value any, supplied map[string]any) (bool, error) {
	switch def.Type {
	case models.ParameterTypeText:
		_, ok := value.(string)
		return ok, nil
	case models.ParameterTypeTextPattern:
		return isPatternMatch(value, def.Regex), nil
	case models.ParameterTypeNumber:
		return isNumber(value), nil
	case models.ParameterTypeEnum:
		return isWithinOptions(value, def.EnumOptions, def.AllowsMultipleValues()), nil
	case models.ParameterTypeQuery:
		return v.validateQuery(ctx, def, value, supplied)
	case models.ParameterTypeDependentFilters:
		return true, nil
	case models.ParameterTypeDate, models.ParameterTypeDatetimeLocal, models.ParameterTypeDatetimeWithSeconds:
		return isDate(value), nil
	case models.ParameterTypeDateRange, models.ParameterTypeDatetimeRange, models.ParameterTypeDatetimeRangeWithSeconds:
		return isDateRange(value), nil
	default:
		return false, nil
	}
}

func (v *Validator) validateQuery(ctx context.Context, def *models.ParameterDefinition, value any, supplied map[string]any) (bool, error) {
	if v.resolver == nil || def.QueryID == nil {
		return false, nil
	}

	options, err := v.resolver.Resolve(ctx, v.orgID, *def.QueryID, parentBindings(def, supplied))
	if err != nil {
		var detached *QueryDetachedError
		if errors.As(err, &detached) {
			return false, err
		}
		v.logger.Debug("Dropdown options unavailable, rejecting value",
			zap.String("parameter", def.Name),
			zap.String("query_id", def.QueryID.String()),
			zap.Error(err))
		return false, nil
	}

	values := make([]string, len(options))
	for i, opt := range options {
		values[i] = opt.Value
	}
	return isWithinOptions(value, values, def.AllowsMultipleValues()), nil
}

// parentBindings prefers the materialized binding list; otherwise the legacy
// parent name is bound when it was supplied alongside.
func parentBindings(def *models.ParameterDefinition, supplied map[string]any) map[string]any {
	if def.HasParentBindings() {
		bound := make(map[string]any, len(def.ParentBindings))
		for _, b := range def.ParentBindings {
			if b.Name != "" {
				bound[b.Name] = b.Value
			}
		}
		return bound
	}
	if def.ParentName != "" {
		if value, ok := supplied[def.ParentName]; ok {
			return map[string]any{def.ParentName: value}
		}
	}
	return nil
}

// isWithinOptions requires a list value to be entirely contained in options,
// and only when lists are allowed at all.
func isWithinOptions(value any, options []string, allowList bool) bool {
	if options == nil {
		return false
	}
	set := make(map[string]struct{}, len(options))
	for _, o := range options {
		set[o] = struct{}{}
	}

	if list, ok := jsonutil.AsSlice(value); ok {
		if !allowList {
			return false
		}
		for _, item := range list {
			if _, ok := set[jsonutil.FlexibleString(item)]; !ok {
				return false
			}
		}
		return true
	}

	_, ok := set[jsonutil.FlexibleString(value)]
	return ok
}

func isPatternMatch(value any, pattern string) bool {
	s, ok := value.(string)
	if !ok || pattern == "" {
		return false
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func isNumber(value any) bool {
	switch n := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		return isFinite(float64(n))
	case float64:
		return isFinite(n)
	case decimal.Decimal:
		return true
	case json.Number:
		_, err := decimal.NewFromString(n.String())
		return err == nil
	case string:
		_, err := decimal.NewFromString(strings.TrimSpace(n))
		return err == nil
	}
	return false
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func isDate(value any) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	_, err := dateparse.ParseAny(strings.TrimSpace(s))
	return err == nil
}

func isDateRange(value any) bool {
	obj, ok := value.(map[string]any)
	if !ok {
		return false
	}
	start, hasStart := obj["start"]
	end, hasEnd := obj["end"]
	return hasStart && hasEnd && isDate(start) && isDate(end)
}
