// Package sql validates model-generated SQL before it reaches DuckDB.
package sql

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
	// ErrEmptyQuery indicates a blank candidate.
	ErrEmptyQuery = errors.New("empty SQL query")
	// ErrNotReadOnly indicates the query does not start with a read-only keyword.
	ErrNotReadOnly = errors.New("query must start with SELECT, WITH, SHOW, DESCRIBE or EXPLAIN")
	// ErrMissingFrom indicates a SELECT without a FROM clause that is not a scalar expression.
	ErrMissingFrom = errors.New("SELECT query has no FROM clause")
	// ErrUnbalancedParentheses indicates mismatched parentheses.
	ErrUnbalancedParentheses = errors.New("unbalanced parentheses")
	// ErrUnbalancedQuotes indicates an odd number of quote characters.
	ErrUnbalancedQuotes = errors.New("unbalanced quotes")
)

// readOnlyPrefixes are the statement keywords accepted from the SQL generator.
var readOnlyPrefixes = []string{"SELECT", "WITH", "SHOW", "DESCRIBE", "EXPLAIN"}

// scalarMarkers let a SELECT without FROM through (SELECT 1, SELECT NOW(), VALUES lists).
var scalarMarkers = []string{"DUAL", "VALUES", "1", "NOW()", "CURRENT_"}

// ValidationResult contains the normalized SQL and any validation errors.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateAndNormalize checks SQL for multiple statements and strips the trailing semicolon.
//
// The validation order is:
// 1. Strip trailing semicolon and whitespace (normalize)
// 2. Check for multiple statements (any remaining semicolons outside string literals)
func ValidateAndNormalize(sqlQuery string) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)

	if sqlQuery == "" {
		return ValidationResult{NormalizedSQL: sqlQuery}
	}

	normalized := stripTrailingSemicolon(sqlQuery)

	if hasSemicolonOutsideStrings(normalized) {
		return ValidationResult{Error: ErrMultipleStatements}
	}

	return ValidationResult{NormalizedSQL: normalized}
}

// ValidateReadOnly applies the conservative allow-list used for generated
// queries: a single statement, a read-only leading keyword, a FROM clause
// unless the query is a trivial scalar, and balanced parentheses and quotes.
// It is a syntactic sanity check, not a security boundary; sessions open
// database files read-only.
func ValidateReadOnly(sqlQuery string) ValidationResult {
	result := ValidateAndNormalize(sqlQuery)
	if result.Error != nil {
		return result
	}
	query := result.NormalizedSQL
	if query == "" {
		return ValidationResult{Error: ErrEmptyQuery}
	}

	upper := strings.ToUpper(query)
	if !hasAnyPrefix(upper, readOnlyPrefixes) {
		return ValidationResult{Error: ErrNotReadOnly}
	}

	if strings.Contains(upper, "SELECT") && !strings.Contains(upper, "FROM") && !containsAny(upper, scalarMarkers) {
		return ValidationResult{Error: ErrMissingFrom}
	}

	if strings.Count(query, "(") != strings.Count(query, ")") {
		return ValidationResult{Error: ErrUnbalancedParentheses}
	}

	if strings.Count(query, "'")%2 != 0 || strings.Count(query, `"`)%2 != 0 {
		return ValidationResult{Error: ErrUnbalancedQuotes}
	}

	return result
}

// FilterReadOnly validates each candidate and returns the accepted,
// normalized queries in order together with one reason per rejected query.
func FilterReadOnly(candidates []string) (accepted []string, rejected []string) {
	for i, candidate := range candidates {
		result := ValidateReadOnly(candidate)
		if result.Error != nil {
			rejected = append(rejected, fmt.Sprintf("query %d: %v", i+1, result.Error))
			continue
		}
		accepted = append(accepted, result.NormalizedSQL)
	}
	return accepted, rejected
}

// hasSemicolonOutsideStrings returns true if the SQL contains any semicolon
// outside of string literals.
func hasSemicolonOutsideStrings(sqlQuery string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prevChar := rune(0)

	for _, char := range sqlQuery {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			// A doubled quote ('') exits and immediately re-enters the literal.
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			}
		}
		prevChar = char
	}

	return false
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace after it.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}
	return sqlQuery
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
