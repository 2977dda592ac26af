package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/jsonutil"
)

// ParameterType is the type tag of a parameter definition. The tag decides
// which of the definition's other fields are meaningful.
type ParameterType string

const (
	ParameterTypeText                     ParameterType = "text"
	ParameterTypeTextPattern              ParameterType = "text-pattern"
	ParameterTypeNumber                   ParameterType = "number"
	ParameterTypeEnum                     ParameterType = "enum"
	ParameterTypeQuery                    ParameterType = "query"
	ParameterTypeDependentFilters         ParameterType = "dependent-filters"
	ParameterTypeDate                     ParameterType = "date"
	ParameterTypeDatetimeLocal            ParameterType = "datetime-local"
	ParameterTypeDatetimeWithSeconds      ParameterType = "datetime-with-seconds"
	ParameterTypeDateRange                ParameterType = "date-range"
	ParameterTypeDatetimeRange            ParameterType = "datetime-range"
	ParameterTypeDatetimeRangeWithSeconds ParameterType = "datetime-range-with-seconds"
)

// IsRange reports whether values of this type are {start, end} objects.
func (t ParameterType) IsRange() bool {
	switch t {
	case ParameterTypeDateRange, ParameterTypeDatetimeRange, ParameterTypeDatetimeRangeWithSeconds:
		return true
	}
	return false
}

// EnumOptions holds the allowed values of an enum parameter. It accepts either
// a JSON array or a single newline-delimited string. Numbers and booleans in
// the array are kept as their text.
type EnumOptions []string

func (o *EnumOptions) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*o = nil
		return nil
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*o = strings.Split(s, "\n")
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return fmt.Errorf("enumOptions must be a string or a list of strings: %w", err)
	}
	list := make([]string, len(items))
	for i, item := range items {
		list[i] = jsonutil.FlexibleStringValue(item)
	}
	*o = list
	return nil
}

// MultiValuesOptions marks a parameter as list-valued and describes how a list
// is joined into one substitutable string.
type MultiValuesOptions struct {
	Separator string `json:"separator"`
	Prefix    string `json:"prefix"`
	Suffix    string `json:"suffix"`
}

// DefaultMultiValuesOptions returns options with the default "," separator
// and no quoting.
func DefaultMultiValuesOptions() *MultiValuesOptions {
	return &MultiValuesOptions{Separator: ","}
}

func (o *MultiValuesOptions) UnmarshalJSON(data []byte) error {
	type plain MultiValuesOptions
	p := plain(*DefaultMultiValuesOptions())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*o = MultiValuesOptions(p)
	return nil
}

// ParentBinding is one materialized {name, value} pair used to parameterize
// the query behind a dependent dropdown.
type ParentBinding struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// ParameterDefinition is one entry of a query's parameter schema.
type ParameterDefinition struct {
	Name               string              `json:"name"`
	Title              string              `json:"title,omitempty"`
	Type               ParameterType       `json:"type"`
	EnumOptions        EnumOptions         `json:"enumOptions,omitempty"`
	Regex              string              `json:"regex,omitempty"`
	QueryID            *uuid.UUID          `json:"queryId,omitempty"`
	MultiValuesOptions *MultiValuesOptions `json:"multiValuesOptions,omitempty"`
	Value              any                 `json:"value,omitempty"`

	// ParentName is the canonical parent parameter name. On input it is read
	// from "parent", "parentParameter", "parentParameterName" or a string
	// "parent_parameter", in that order of preference.
	ParentName string `json:"parent,omitempty"`

	// ParentBindings is the materialized "parent_parameter" list.
	ParentBindings []ParentBinding `json:"parent_parameter,omitempty"`
}

func (d *ParameterDefinition) UnmarshalJSON(data []byte) error {
	type plain ParameterDefinition
	aux := struct {
		*plain
		Parent              string          `json:"parent"`
		ParentParameter     string          `json:"parentParameter"`
		ParentParameterName string          `json:"parentParameterName"`
		ParentParameterRaw  json.RawMessage `json:"parent_parameter"`
	}{plain: (*plain)(d)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	d.ParentName = firstNonEmpty(aux.Parent, aux.ParentParameter, aux.ParentParameterName)
	d.ParentBindings = nil

	raw := bytes.TrimSpace(aux.ParentParameterRaw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	switch raw[0] {
	case '[':
		var bindings []ParentBinding
		if err := json.Unmarshal(raw, &bindings); err != nil {
			return fmt.Errorf("parameter %q: invalid parent_parameter list: %w", d.Name, err)
		}
		d.ParentBindings = bindings
	case '"':
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return err
		}
		if d.ParentName == "" {
			d.ParentName = name
		}
	}

	return nil
}

// AllowsMultipleValues reports whether the definition accepts a list value.
func (d *ParameterDefinition) AllowsMultipleValues() bool {
	return d.MultiValuesOptions != nil
}

// HasParentBindings reports whether a materialized parent_parameter list was supplied.
func (d *ParameterDefinition) HasParentBindings() bool {
	return d.ParentBindings != nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Schema is the set of parameter definitions governing a query template.
type Schema []ParameterDefinition

// Lookup returns the definition with the given name.
func (s Schema) Lookup(name string) (*ParameterDefinition, bool) {
	for i := range s {
		if s[i].Name == name {
			return &s[i], true
		}
	}
	return nil, false
}

// IsSafe reports whether the schema has no free-text parameters. Rendered
// output of a safe schema never carries arbitrary user-supplied text.
func (s Schema) IsSafe() bool {
	for _, def := range s {
		if def.Type == ParameterTypeText {
			return false
		}
	}
	return true
}

// ReferencesQuery reports whether any query-backed definition in the schema
// draws its options from queryID.
func (s Schema) ReferencesQuery(queryID uuid.UUID) bool {
	for _, def := range s {
		if def.QueryID == nil || *def.QueryID != queryID {
			continue
		}
		if def.Type == ParameterTypeQuery || def.Type == ParameterTypeDependentFilters {
			return true
		}
	}
	return false
}
