package sql

import (
	"errors"
	"strings"
)

var (
	// ErrMultipleStatements indicates the rendered query contains more than one statement.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")

	// ErrEmptyStatement indicates the rendered query is blank.
	ErrEmptyStatement = errors.New("query text is empty")
)

// NormalizeStatement prepares rendered query text for a runner: surrounding
// whitespace and one trailing semicolon are stripped, and any semicolon left
// outside string literals is rejected as a second statement.
func NormalizeStatement(sqlQuery string) (string, error) {
	normalized := strings.TrimSpace(sqlQuery)
	normalized = strings.TrimSpace(strings.TrimSuffix(normalized, ";"))
	if normalized == "" {
		return "", ErrEmptyStatement
	}
	if hasSemicolonOutsideStrings(normalized) {
		return "", ErrMultipleStatements
	}
	return normalized, nil
}

// hasSemicolonOutsideStrings scans with a quote state machine. Both doubled
// quotes ('') and backslash escapes keep the scanner inside the literal.
func hasSemicolonOutsideStrings(sqlQuery string) bool {
	var quote rune
	prev := rune(0)

	for _, ch := range sqlQuery {
		switch {
		case quote == 0 && ch == ';':
			return true
		case quote == 0 && (ch == '\'' || ch == '"'):
			quote = ch
		case quote != 0 && ch == quote && prev != '\\':
			quote = 0
		}
		prev = ch
	}
	return false
}
