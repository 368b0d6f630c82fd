package sql

import "regexp"

// nestedWindowPatterns match shapes of window functions nested inside
// aggregates or other window clauses, which DuckDB rejects and which the
// SQL generator produces often enough to filter up front.
var nestedWindowPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)OVER\s*\([^)]*OVER\s*\(`),
	regexp.MustCompile(`(?is)COUNT\s*\([^)]*OVER`),
	regexp.MustCompile(`(?is)SUM\s*\([^)]*OVER`),
	regexp.MustCompile(`(?is)AVG\s*\([^)]*OVER`),
	regexp.MustCompile(`(?is)PARTITION\s+BY\s+[^)]*\bOVER\b`),
	regexp.MustCompile(`(?is)ROW_NUMBER\s*\(\s*\)\s*OVER\s*\([^)]*OVER`),
	regexp.MustCompile(`(?is)OVER\s*\([^)]*ROW_NUMBER\s*\(`),
	regexp.MustCompile(`(?is)COUNT\s*\([^)]*SUM\s*\([^)]*OVER`),
	regexp.MustCompile(`(?is)COUNT\s*\(\s*SUM\s*\([^)]*\)\s*OVER`),
}

// HasNestedWindowFunction reports whether the query matches a known nested
// window function shape. It is advisory: a false result does not mean the
// query is valid.
func HasNestedWindowFunction(sqlQuery string) bool {
	for _, p := range nestedWindowPatterns {
		if p.MatchString(sqlQuery) {
			return true
		}
	}
	return false
}
