package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckArgumentForInjection(t *testing.T) {
	tests := []struct {
		name            string
		argName         string
		value           any
		expectInjection bool
	}{
		{name: "registered file name", argName: "db_path", value: "sales.duckdb", expectInjection: false},
		{name: "registry id", argName: "db_path", value: "1700000000_sales.duckdb", expectInjection: false},
		{name: "absolute path", argName: "db_path", value: "/tmp/ekaya-datachat-uploads/1700000000_sales.duckdb", expectInjection: false},
		{name: "uuid session id", argName: "session_id", value: "550e8400-e29b-41d4-a716-446655440000", expectInjection: false},
		{name: "non-string value", argName: "limit", value: 10, expectInjection: false},
		{name: "tautology", argName: "db_path", value: "x' OR '1'='1", expectInjection: true},
		{name: "stacked statement", argName: "session_id", value: "1; DROP TABLE sales--", expectInjection: true},
		{name: "union select", argName: "db_path", value: "' UNION SELECT password FROM users--", expectInjection: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckArgumentForInjection(tt.argName, tt.value)
			if !tt.expectInjection {
				assert.Nil(t, result)
				return
			}
			require.NotNil(t, result)
			assert.True(t, result.IsSQLi)
			assert.Equal(t, tt.argName, result.ArgName)
			assert.NotEmpty(t, result.Fingerprint)
			assert.Contains(t, result.Error(), tt.argName)
		})
	}
}

func TestCheckArguments_OnlyNamedArguments(t *testing.T) {
	args := map[string]any{
		"question":   "which region sold the most? ' OR 1=1 --",
		"db_path":    "sales.duckdb",
		"session_id": "1; DROP TABLE sales--",
	}

	results := CheckArguments(args, "db_path", "session_id", "missing")

	require.Len(t, results, 1)
	assert.Equal(t, "session_id", results[0].ArgName)
}
