package prompts

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-datachat/pkg/adapters/duckdb"
)

// BuildInsightQueriesPrompt asks for 2-3 queries that surface outliers
// relevant to an already answered question.
func BuildInsightQueriesPrompt(question, answer, schemaText, questionType string, focusAreas []string) string {
	var prompt strings.Builder

	prompt.WriteString(fmt.Sprintf("Generate 2-3 targeted SQL queries for a %s analysis that SPECIFICALLY identify outliers and notable datapoints.\n\n", questionType))
	prompt.WriteString(fmt.Sprintf("User's Question: %s\n", question))
	prompt.WriteString(fmt.Sprintf("Model's Response: %s\n\n", answer))

	prompt.WriteString("Database Schema:\n")
	prompt.WriteString(schemaText)
	prompt.WriteString("\n\n")

	prompt.WriteString(fmt.Sprintf("Question Type: %s\n", questionType))
	prompt.WriteString(fmt.Sprintf("Focus Areas: %s\n\n", strings.Join(focusAreas, ", ")))

	prompt.WriteString("Generate queries that SPECIFICALLY target:\n")
	prompt.WriteString("1. **Outlier Detection**: Find unusually high/low values, statistical anomalies\n")
	prompt.WriteString("2. **Notable Individual Records**: Identify specific leads, companies, or events that stand out\n")
	prompt.WriteString("3. **Concentration Analysis**: Find where activity is clustered (dates, sources, industries)\n")
	prompt.WriteString("4. **Deviation Analysis**: Compare top performers vs averages to show what's exceptional\n\n")

	prompt.WriteString("CRITICAL DuckDB SQL Requirements:\n")
	prompt.WriteString("- Each query MUST be designed to surface outliers or notable datapoints\n")
	prompt.WriteString("- Use ONLY simple window functions without nested window functions\n")
	prompt.WriteString("- Use basic aggregations like COUNT, SUM, AVG, MIN, MAX\n")
	prompt.WriteString("- Use PERCENTILE_CONT for percentile calculations\n")
	prompt.WriteString("- Use ROW_NUMBER() OVER (ORDER BY column) for ranking (no complex window definitions)\n")
	prompt.WriteString("- Use GROUP BY and HAVING for filtering aggregated results\n")
	prompt.WriteString("- AVOID: Complex window function expressions, nested window functions, or window functions in window definitions\n\n")

	prompt.WriteString("SAFE Example query patterns:\n")
	prompt.WriteString("- Find top performers: SELECT *, ROW_NUMBER() OVER (ORDER BY metric DESC) as rank FROM table ORDER BY metric DESC LIMIT 10\n")
	prompt.WriteString("- Find high-volume periods: SELECT date, COUNT(*) as count FROM table GROUP BY date HAVING COUNT(*) > 5 ORDER BY count DESC\n")
	prompt.WriteString("- Find percentile thresholds: WITH stats AS (SELECT PERCENTILE_CONT(0.9) WITHIN GROUP (ORDER BY value) as p90 FROM table) SELECT * FROM table, stats WHERE value > p90\n")
	prompt.WriteString("- Basic clustering: SELECT category, COUNT(*) as count FROM table GROUP BY category ORDER BY count DESC\n\n")

	prompt.WriteString("IMPORTANT: Keep window functions simple and avoid nesting them or using them in complex expressions.\n\n")
	prompt.WriteString("Return as JSON array of query strings:\n")
	prompt.WriteString(`["SELECT query1...", "SELECT query2...", "SELECT query3..."]`)

	return prompt.String()
}

// BuildFootnotePrompt asks for a short bulleted footnote highlighting the
// outliers found by the insight queries.
func BuildFootnotePrompt(question, answer, questionType string, results []*duckdb.QueryResult) string {
	var prompt strings.Builder

	prompt.WriteString(fmt.Sprintf("Create a CONCISE footnote for this %s question that highlights OUTLIERS and NOTABLE DATAPOINTS.\n\n", questionType))
	prompt.WriteString(fmt.Sprintf("User's Question: %s\n", question))
	prompt.WriteString(fmt.Sprintf("Main Response: %s\n\n", answer))

	prompt.WriteString("Supporting Data (contains outliers and notable datapoints):\n")
	prompt.WriteString(FormatResultsConcisely(results))
	prompt.WriteString("\n\n")

	prompt.WriteString("Generate a brief footnote that SPECIFICALLY highlights:\n")
	prompt.WriteString("1. **Statistical outliers** - values significantly above/below average\n")
	prompt.WriteString("2. **Notable individual records** - specific companies, dates, or events that stand out\n")
	prompt.WriteString("3. **Concentration patterns** - where activity is clustered or unusually concentrated\n")
	prompt.WriteString("4. **Deviation insights** - how much top performers differ from typical patterns\n\n")

	prompt.WriteString("Format as:\n")
	prompt.WriteString("**Notable insights:**\n")
	prompt.WriteString("• [Specific outlier with exact numbers and context]\n")
	prompt.WriteString("• [Individual record or event that stands out]\n")
	prompt.WriteString("• [Pattern or concentration that's unusual]\n\n")

	prompt.WriteString("Requirements:\n")
	prompt.WriteString("- Use EXACT numbers from the supporting data\n")
	prompt.WriteString("- Highlight what makes these datapoints exceptional\n")
	prompt.WriteString("- Focus on anomalies, not just general statistics\n")
	prompt.WriteString("- Keep it concise - maximum 3 bullet points\n")
	prompt.WriteString("- DO NOT include follow-up questions")

	return prompt.String()
}

// FormatResultsConcisely lists the top rows of each non-empty result.
func FormatResultsConcisely(results []*duckdb.QueryResult) string {
	if len(results) == 0 {
		return "No data available"
	}

	blocks := make([]string, 0, len(results))
	for i, res := range results {
		if len(res.Rows) == 0 || res.RowCount == 0 {
			continue
		}
		var b strings.Builder
		b.WriteString(fmt.Sprintf("Query %d - %d rows:", i+1, res.RowCount))
		for _, row := range res.Rows[:min(sampleRows, len(res.Rows))] {
			b.WriteString(fmt.Sprintf("\n  {%s}", formatRow(res.Columns, row, 0)))
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}
