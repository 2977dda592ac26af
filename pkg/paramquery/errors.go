package paramquery

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// InvalidParameterError reports every supplied parameter whose value failed
// validation. Names are sorted.
type InvalidParameterError struct {
	Names []string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("The following parameter values are incompatible with their definitions: %s",
		strings.Join(e.Names, ", "))
}

// QueryDetachedError is returned when a dropdown's source query has no data
// source attached. It is the only failure that escapes validation.
type QueryDetachedError struct {
	QueryID uuid.UUID
}

func (e *QueryDetachedError) Error() string {
	return "This query is detached from any data source. Please select a different query."
}

// TemplateParseError wraps a failure to parse a query template for
// placeholder names.
type TemplateParseError struct {
	Err error
}

func (e *TemplateParseError) Error() string {
	return fmt.Sprintf("failed to parse query template: %v", e.Err)
}

func (e *TemplateParseError) Unwrap() error {
	return e.Err
}
