package sql

import "testing"

func TestHasNestedWindowFunction(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected bool
	}{
		{
			name:     "plain aggregate",
			query:    "SELECT region, SUM(amount) FROM sales GROUP BY region",
			expected: false,
		},
		{
			name:     "running total",
			query:    "SELECT month, SUM(amount) OVER (ORDER BY month) FROM sales",
			expected: false,
		},
		{
			name:     "row number",
			query:    "SELECT ROW_NUMBER() OVER (PARTITION BY region ORDER BY amount DESC) AS rn FROM sales",
			expected: false,
		},
		{
			name:     "window inside aggregate",
			query:    "SELECT COUNT(amount OVER (PARTITION BY region)) FROM sales",
			expected: true,
		},
		{
			name:     "aggregate of windowed sum",
			query:    "SELECT COUNT(SUM(amount) OVER (PARTITION BY region)) FROM sales",
			expected: true,
		},
		{
			name:     "window inside window clause",
			query:    "SELECT SUM(x) OVER (ORDER BY ROW_NUMBER() OVER (ORDER BY y)) FROM t",
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasNestedWindowFunction(tt.query); got != tt.expected {
				t.Errorf("HasNestedWindowFunction(%q) = %v, want %v", tt.query, got, tt.expected)
			}
		})
	}
}
